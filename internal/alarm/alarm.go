// Package alarm schedules spoken reminders at a time of day.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/homespeak/internal/backend"
)

var (
	// ErrInvalid is returned for alarms that cannot be scheduled.
	ErrInvalid = errors.New("invalid alarm")

	// ErrNotFound is returned when no alarm has the given id.
	ErrNotFound = errors.New("alarm not found")
)

// maxWait bounds how long Run sleeps, so wall clock changes are noticed.
const maxWait = time.Minute

var clockLayouts = []string{"15:04", "15:04:05", "3:04PM", "3:04:05PM"}

// Alarm speaks Message every day at Time. After the daily run it repeats
// RepeatCount more times, RepeatDelay minutes apart.
type Alarm struct {
	ID          string    `json:"id" yaml:"id"`
	Time        string    `json:"time" yaml:"time"`
	RepeatDelay int       `json:"repeat_delay" yaml:"repeat_delay,omitempty"`
	RepeatCount int       `json:"repeat_count" yaml:"repeat_count,omitempty"`
	Message     string    `json:"message" yaml:"message"`
	Style       string    `json:"style,omitempty" yaml:"style,omitempty"`
	Voice       string    `json:"voice,omitempty" yaml:"voice,omitempty"`
	Template    bool      `json:"template,omitempty" yaml:"template,omitempty"`
	Next        time.Time `json:"next" yaml:"-"`
}

// Announcer speaks a firing alarm. *ingest.Adapter implements it.
type Announcer interface {
	Announce(ctx context.Context, a Alarm) error
}

// Options configures a Scheduler.
type Options struct {
	// File persists the alarms as YAML. Empty keeps them in memory.
	File string

	Logger *log.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	alarm     Alarm
	clock     time.Duration // offset from midnight
	next      time.Time
	remaining int // repeats left in the current run
}

// Scheduler holds the alarms and fires them when due.
type Scheduler struct {
	file   string
	logger *log.Logger
	now    func() time.Time
	wake   chan struct{}

	mu      sync.Mutex
	entries map[string]*entry
}

type fileFormat struct {
	Alarms []Alarm `yaml:"alarms"`
}

// NewScheduler returns a Scheduler, loading opts.File when it exists.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		file:    opts.File,
		logger:  opts.Logger,
		now:     opts.Now,
		wake:    make(chan struct{}, 1),
		entries: make(map[string]*entry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add validates a, gives it a fresh id and schedules it.
func (s *Scheduler) Add(a Alarm) (Alarm, error) {
	a.Message = strings.TrimSpace(a.Message)
	e, err := s.newEntry(a)
	if err != nil {
		return Alarm{}, err
	}
	e.alarm.ID = uuid.NewString()

	s.mu.Lock()
	s.entries[e.alarm.ID] = e
	err = s.saveLocked()
	if err != nil {
		delete(s.entries, e.alarm.ID)
	}
	out := e.snapshot()
	s.mu.Unlock()

	if err != nil {
		return Alarm{}, err
	}
	s.logger.Info("alarm added", "id", out.ID, "time", out.Time, "next", out.Next.Format(time.DateTime))
	s.notify()
	return out, nil
}

// List returns every alarm ordered by its next run.
func (s *Scheduler) List() []Alarm {
	s.mu.Lock()
	out := make([]Alarm, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Alarm) int {
		if c := a.Next.Compare(b.Next); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Remove deletes the alarm with id.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.entries, id)
	err := s.saveLocked()
	if err != nil {
		s.entries[id] = e
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.logger.Info("alarm removed", "id", id)
	s.notify()
	return nil
}

// Run announces due alarms until ctx is done.
func (s *Scheduler) Run(ctx context.Context, an Announcer) error {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		timer.Reset(s.fire(ctx, an))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// fire announces every due alarm and returns the time until the next one.
func (s *Scheduler) fire(ctx context.Context, an Announcer) time.Duration {
	now := s.now()

	var due []Alarm
	wait := maxWait
	s.mu.Lock()
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e.snapshot())
			e.advance()
			// Runs missed while asleep are skipped.
			for !e.next.After(now) {
				e.advance()
			}
		}
		wait = min(wait, e.next.Sub(now))
	}
	s.mu.Unlock()

	slices.SortFunc(due, func(a, b Alarm) int { return a.Next.Compare(b.Next) })
	for _, a := range due {
		s.logger.Info("alarm firing", "id", a.ID, "time", a.Time)
		if err := an.Announce(ctx, a); err != nil {
			s.logger.Error("alarm failed", "id", a.ID, "err", err)
		}
	}
	return max(wait, 0)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) newEntry(a Alarm) (*entry, error) {
	if a.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalid)
	}
	clock, err := ParseClock(a.Time)
	if err != nil {
		return nil, err
	}
	if a.RepeatCount < 0 || a.RepeatDelay < 0 {
		return nil, fmt.Errorf("%w: repeats must not be negative", ErrInvalid)
	}
	if a.RepeatCount > 0 && a.RepeatDelay == 0 {
		return nil, fmt.Errorf("%w: repeat_count needs a repeat_delay", ErrInvalid)
	}
	if a.Style != "" {
		if _, err := backend.ParseStyle(a.Style); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	e := &entry{alarm: a, clock: clock, remaining: a.RepeatCount}
	e.next = nextDaily(s.now(), clock)
	return e, nil
}

func (e *entry) snapshot() Alarm {
	a := e.alarm
	a.Next = e.next
	return a
}

// advance moves next to the following repeat, or to the next day.
func (e *entry) advance() {
	if e.remaining > 0 {
		e.remaining--
		e.next = e.next.Add(time.Duration(e.alarm.RepeatDelay) * time.Minute)
		return
	}
	e.remaining = e.alarm.RepeatCount
	e.next = nextDaily(e.next, e.clock)
}

// ParseClock parses a time of day like "07:30", "19:05:30" or "7:30 pm"
// into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, norm)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%w: time %q, want HH:MM", ErrInvalid, s)
}

// nextDaily returns the first instant after t at wall clock time clock in
// t's location.
func nextDaily(t time.Time, clock time.Duration) time.Time {
	h, mi, sec := int(clock/time.Hour), int(clock%time.Hour/time.Minute), int(clock%time.Minute/time.Second)
	y, m, d := t.Date()
	next := time.Date(y, m, d, h, mi, sec, 0, t.Location())
	if !next.After(t) {
		next = time.Date(y, m, d+1, h, mi, sec, 0, t.Location())
	}
	return next
}

func (s *Scheduler) load() error {
	if s.file == "" {
		return nil
	}
	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading alarms: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing alarms %s: %w", s.file, err)
	}
	for _, a := range f.Alarms {
		e, err := s.newEntry(a)
		if err != nil {
			s.logger.Warn("skipping stored alarm", "id", a.ID, "err", err)
			continue
		}
		if e.alarm.ID == "" {
			e.alarm.ID = uuid.NewString()
		}
		s.entries[e.alarm.ID] = e
	}
	s.logger.Debug("alarms loaded", "file", s.file, "count", len(s.entries))
	return nil
}

// saveLocked writes the alarms file; s.mu must be held.
func (s *Scheduler) saveLocked() error {
	if s.file == "" {
		return nil
	}
	f := fileFormat{Alarms: make([]Alarm, 0, len(s.entries))}
	for _, e := range s.entries {
		f.Alarms = append(f.Alarms, e.alarm)
	}
	slices.SortFunc(f.Alarms, func(a, b Alarm) int { return strings.Compare(a.ID, b.ID) })

	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return fmt.Errorf("saving alarms: %w", err)
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("saving alarms: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("saving alarms: %w", err)
	}
	return nil
}
