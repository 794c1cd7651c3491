// Package ingest receives phrases and sound requests from the outside world
// (NATS subjects, HTTP routes) and turns them into ordered playback.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/playback"
	"github.com/dgnsrekt/homespeak/internal/sounds"
	"github.com/dgnsrekt/homespeak/internal/speech"
)

var (
	// ErrUnknownCommand is returned for player commands the adapter does
	// not know.
	ErrUnknownCommand = errors.New("unknown player command")

	// ErrInvalidArgument is returned for malformed player command
	// arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoSounds is returned for sound requests when no library is
	// configured.
	ErrNoSounds = errors.New("no sound library configured")

	// ErrNoAlarms is returned for alarm requests when no scheduler is
	// configured.
	ErrNoAlarms = errors.New("no alarm scheduler configured")
)

// Player commands.
const (
	CommandRestart = "restart"
	CommandPause   = "pause"
	CommandResume  = "resume"
	CommandStop    = "stop"
	CommandSkip    = "skip"
	CommandVolume  = "volume"
)

// Commands lists every player command.
var Commands = []string{CommandRestart, CommandPause, CommandResume, CommandStop, CommandSkip, CommandVolume}

// Phrase is an inbound speech request.
type Phrase struct {
	Text     string
	Voice    string
	Backend  string
	Style    string
	Source   string
	Template bool
}

// SoundRequest selects a pre-recorded sound. Name wins over Dir.
type SoundRequest struct {
	Name      string `json:"name,omitempty"`
	Dir       string `json:"dir,omitempty"`
	Random    bool   `json:"random,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

// Receipt reports what happened to a request. It is the reply body on
// both NATS and HTTP.
type Receipt struct {
	Seq         uint64   `json:"seq,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Backend     string   `json:"backend,omitempty"`
	Cached      bool     `json:"cached"`
	File        string   `json:"file,omitempty"`
	Dropped     int      `json:"dropped,omitempty"`
	Volume      *float64 `json:"volume,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Speaker synthesizes and queues phrases. *speech.Service implements it.
type Speaker interface {
	Say(ctx context.Context, req speech.Request, seq uint64) (speech.Result, error)
	Voices(ctx context.Context, id string) ([]backend.Voice, error)
	Usage(ctx context.Context, id string) (backend.Usage, error)
}

// Player is the playback queue as seen by the adapter. *playback.Queue
// implements it.
type Player interface {
	NextSeq() uint64
	Enqueue(msg playback.Message) error
	Pause()
	Resume()
	Stop() int
	SkipCurrent() bool
	SetVolume(volume float64) error
	Volume() float64
	Restart() error
	State() playback.State
	Len() int
}

// Options are the collaborators of an Adapter.
type Options struct {
	Speaker Speaker
	Player  Player
	Sounds  *sounds.Library  // optional
	Alarms  *alarm.Scheduler // optional
	Logger  *log.Logger

	// Now is used for template expansion. Defaults to time.Now.
	Now func() time.Time
}

// Adapter assigns arrival sequences and hands requests to the core.
type Adapter struct {
	speaker Speaker
	player  Player
	sounds  *sounds.Library
	alarms  *alarm.Scheduler
	logger  *log.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewAdapter returns an Adapter.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Speaker == nil || opts.Player == nil {
		return nil, errors.New("ingest: speaker and player are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Adapter{
		speaker: opts.Speaker,
		player:  opts.Player,
		sounds:  opts.Sounds,
		alarms:  opts.Alarms,
		logger:  opts.Logger,
		now:     opts.Now,
	}, nil
}

// Submit assigns p the next arrival sequence and speaks it in the
// background. The returned sequence fixes its playback position.
func (a *Adapter) Submit(ctx context.Context, p Phrase) (uint64, error) {
	return a.submit(ctx, p, nil)
}

// SubmitWait is Submit that waits for synthesis and reports the outcome.
// Playback itself is not awaited.
func (a *Adapter) SubmitWait(ctx context.Context, p Phrase) (Receipt, error) {
	done := make(chan Receipt, 1)
	var sayErr error
	seq, err := a.submit(ctx, p, func(r Receipt, err error) {
		sayErr = err
		done <- r
	})
	if err != nil {
		return Receipt{Error: err.Error()}, err
	}

	select {
	case r := <-done:
		return r, sayErr
	case <-ctx.Done():
		return Receipt{Seq: seq, Error: ctx.Err().Error()}, ctx.Err()
	}
}

func (a *Adapter) submit(ctx context.Context, p Phrase, done func(Receipt, error)) (uint64, error) {
	req, err := a.request(p)
	if err != nil {
		return 0, err
	}

	seq := a.player.NextSeq()
	a.logger.Debug("phrase accepted", "seq", seq, "source", req.Source, "backend", req.Backend, "voice", req.Voice)

	// The phrase outlives the caller's request but not the adapter.
	sayCtx := context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res, err := a.speaker.Say(sayCtx, req, seq)
		r := Receipt{Seq: seq}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Fingerprint = res.Fingerprint.String()
			r.Backend = res.Backend
			r.Cached = res.Cached
		}
		if done != nil {
			done(r, err)
		}
	}()
	return seq, nil
}

func (a *Adapter) request(p Phrase) (speech.Request, error) {
	text := p.Text
	if p.Template {
		text = Expand(text, a.now())
	}
	if strings.TrimSpace(text) == "" {
		return speech.Request{}, backend.ErrEmptyText
	}

	var style backend.Style
	if p.Style != "" {
		s, err := backend.ParseStyle(p.Style)
		if err != nil {
			return speech.Request{}, err
		}
		style = s
	}

	return speech.Request{
		Text:    text,
		Voice:   p.Voice,
		Backend: p.Backend,
		Style:   style,
		Source:  p.Source,
	}, nil
}

// PlayAudio queues raw MP3 audio as-is. It is not cached.
func (a *Adapter) PlayAudio(data []byte, source string) (Receipt, error) {
	if len(data) == 0 {
		return Receipt{}, playback.ErrEmptyAudio
	}
	msg := playback.NewMessage(a.player.NextSeq(), data, "audio/mpeg")
	msg.Source = source
	if err := a.player.Enqueue(msg); err != nil {
		return Receipt{}, err
	}
	a.logger.Info("queued audio", "seq", msg.Seq, "source", source, "size", humanize.Bytes(uint64(len(data))))
	return Receipt{Seq: msg.Seq}, nil
}

// PlaySound queues a file from the sound library.
func (a *Adapter) PlaySound(req SoundRequest, source string) (Receipt, error) {
	if a.sounds == nil {
		return Receipt{}, ErrNoSounds
	}

	var (
		file string
		err  error
	)
	switch {
	case req.Name != "":
		file, err = a.sounds.Find(req.Name)
	case req.Recursive:
		file, err = a.sounds.RandomRecursive()
	case req.Random || req.Dir != "":
		file, err = a.sounds.Random(req.Dir)
	default:
		err = fmt.Errorf("name or dir required: %w", sounds.ErrNotFound)
	}
	if err != nil {
		return Receipt{}, err
	}

	data, err := a.sounds.Read(file)
	if err != nil {
		return Receipt{}, err
	}
	r, err := a.PlayAudio(data, source)
	if err != nil {
		return Receipt{}, err
	}
	r.File = file
	return r, nil
}

// Control runs a player command. Volume takes its level from arg.
func (a *Adapter) Control(command, arg string) (Receipt, error) {
	command = strings.ToLower(strings.TrimSpace(command))
	a.logger.Info("player command", "command", command, "arg", arg)

	switch command {
	case CommandRestart:
		return Receipt{}, a.player.Restart()
	case CommandPause:
		a.player.Pause()
	case CommandResume:
		a.player.Resume()
	case CommandStop:
		return Receipt{Dropped: a.player.Stop()}, nil
	case CommandSkip:
		a.player.SkipCurrent()
	case CommandVolume:
		level, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil || level < 0 || level > 1 {
			return Receipt{}, fmt.Errorf("%w: volume %q, want 0.0 to 1.0", ErrInvalidArgument, arg)
		}
		if err := a.player.SetVolume(level); err != nil {
			return Receipt{}, err
		}
		v := a.player.Volume()
		return Receipt{Volume: &v}, nil
	default:
		return Receipt{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return Receipt{}, nil
}

// Voices lists the voices of a backend.
func (a *Adapter) Voices(ctx context.Context, id string) ([]backend.Voice, error) {
	return a.speaker.Voices(ctx, id)
}

// Usage reports account usage of a backend.
func (a *Adapter) Usage(ctx context.Context, id string) (backend.Usage, error) {
	return a.speaker.Usage(ctx, id)
}

// AddAlarm schedules a.
func (a *Adapter) AddAlarm(al alarm.Alarm) (alarm.Alarm, error) {
	if a.alarms == nil {
		return alarm.Alarm{}, ErrNoAlarms
	}
	return a.alarms.Add(al)
}

// Alarms lists the scheduled alarms.
func (a *Adapter) Alarms() ([]alarm.Alarm, error) {
	if a.alarms == nil {
		return nil, ErrNoAlarms
	}
	return a.alarms.List(), nil
}

// RemoveAlarm deletes the alarm with id.
func (a *Adapter) RemoveAlarm(id string) error {
	if a.alarms == nil {
		return ErrNoAlarms
	}
	return a.alarms.Remove(id)
}

// Announce implements alarm.Announcer by queueing the alarm message like
// any other phrase.
func (a *Adapter) Announce(ctx context.Context, al alarm.Alarm) error {
	_, err := a.Submit(ctx, Phrase{
		Text:     al.Message,
		Voice:    al.Voice,
		Style:    al.Style,
		Template: al.Template,
		Source:   "alarm:" + al.ID,
	})
	return err
}

// Wait blocks until every background phrase has been handed to the
// player or failed.
func (a *Adapter) Wait() {
	a.wg.Wait()
}
