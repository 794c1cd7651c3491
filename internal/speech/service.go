// Package speech turns phrase requests into audio. It picks a backend,
// consults the cache around the backend call and hands finished audio to
// the playback queue in arrival order.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/cache"
	"github.com/dgnsrekt/homespeak/internal/playback"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 20 * time.Second

// previewWidth is how many cells of a phrase go into log lines.
const previewWidth = 48

// Request is one phrase to speak. Requests are values and never mutated.
type Request struct {
	Text string

	// Voice is a voice identity: an alias from the configuration, a
	// provider voice id, or a provider voice name. Empty selects the
	// backend default.
	Voice string

	// Backend is an explicit backend id. It overrides the alias backend.
	Backend string

	Style  backend.Style
	Format string

	// Source identifies the requester in logs.
	Source string
}

// Alias maps a voice identity to a concrete backend voice.
type Alias struct {
	Backend string
	Voice   string
	Style   backend.Style
}

// Config holds the speech service settings.
type Config struct {
	DefaultBackend string
	Aliases        map[string]Alias

	// DefaultVoices overrides the provider default voice per backend id.
	DefaultVoices map[string]string

	Timeout time.Duration
}

// Result is the outcome of a successful Speak.
type Result struct {
	Audio       backend.Audio
	Backend     string
	Voice       string
	Fingerprint cache.Fingerprint
	Cached      bool
}

// Player receives audio for playback. *playback.Queue implements it.
type Player interface {
	Enqueue(msg playback.Message) error
	Skip(seq uint64)
}

// Options are the collaborators of a Service.
type Options struct {
	Config   Config
	Registry *backend.Registry
	Cache    *cache.Flight
	Player   Player                  // optional; required by Say
	Fallback *backend.FallbackPolicy // optional
	Metrics  *Metrics                // optional
	Logger   *log.Logger
}

// Service is the speech orchestrator.
type Service struct {
	config   Config
	registry *backend.Registry
	cache    *cache.Flight
	player   Player
	fallback *backend.FallbackPolicy
	metrics  *Metrics
	logger   *log.Logger
}

// NewService validates opts and returns a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("speech: registry is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("speech: cache is required")
	}
	if opts.Config.Timeout <= 0 {
		opts.Config.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	if id := opts.Config.DefaultBackend; id != "" {
		if _, err := opts.Registry.Get(id); err != nil {
			return nil, fmt.Errorf("default backend: %w", err)
		}
	}
	for name, a := range opts.Config.Aliases {
		if _, err := opts.Registry.Get(a.Backend); err != nil {
			return nil, fmt.Errorf("voice alias %q: %w", name, err)
		}
	}

	return &Service{
		config:   opts.Config,
		registry: opts.Registry,
		cache:    opts.Cache,
		player:   opts.Player,
		fallback: opts.Fallback,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}, nil
}

// target is a request resolved against aliases and defaults.
type target struct {
	backend string
	voice   string
	style   backend.Style
}

func (s *Service) resolve(req Request) (target, error) {
	t := target{backend: req.Backend, voice: req.Voice, style: req.Style}

	if a, ok := s.config.Aliases[req.Voice]; ok {
		t.voice = a.Voice
		if t.backend == "" {
			t.backend = a.Backend
		}
		if t.style == "" {
			t.style = a.Style
		}
	}
	if t.backend == "" {
		t.backend = s.config.DefaultBackend
	}
	if t.backend == "" {
		return target{}, ErrNoBackend
	}
	if t.style == "" {
		t.style = backend.StylePlain
	}
	return t, nil
}

// Speak returns audio for req, from the cache when possible. Identical
// concurrent requests share one backend call. When the selected backend
// fails and a fallback order is configured, the fallbacks are tried in
// order with their default voices.
func (s *Service) Speak(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, backend.ErrEmptyText
	}

	t, err := s.resolve(req)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for i, id := range s.fallback.Candidates(t.backend) {
		voice := t.voice
		if i > 0 {
			voice = ""
		}

		res, err := s.speakOn(ctx, id, voice, t.style, req)
		if err == nil {
			s.fallback.RecordSuccess(id, i > 0)
			if i > 0 {
				s.metrics.fellBack(t.backend, id)
				s.logger.Warn("served by fallback backend", "primary", t.backend, "backend", id)
			}
			return res, nil
		}

		lastErr = err
		s.metrics.failed(id)
		s.fallback.RecordFailure(id, err)
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, lastErr
}

func (s *Service) speakOn(ctx context.Context, id, voice string, style backend.Style, req Request) (Result, error) {
	b, err := s.registry.Get(id)
	if err != nil {
		return Result{}, &SynthesisFailed{Backend: id, Err: err}
	}
	desc := b.Descriptor()

	if voice == "" {
		voice = s.config.DefaultVoices[id]
	}
	if voice == "" {
		voice = desc.DefaultVoice
	}
	// Styles a backend ignores must not split the cache.
	if !desc.SupportsStyle(style) {
		style = backend.StylePlain
	}
	format := req.Format
	if format == "" {
		format = desc.DefaultFormat
	}

	fp := cache.Key{
		Backend: id,
		Voice:   voice,
		Style:   string(style),
		Format:  format,
		Text:    req.Text,
		Version: desc.FormatVersion,
	}.Fingerprint()

	start := time.Now()

	// The fingerprint keys on the requested voice, so cached phrases never
	// need the voice catalog.
	entry, hit, err := s.cache.GetOrSynthesize(ctx, fp, func(ctx context.Context) (cache.Entry, error) {
		ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()

		params := backend.VoiceParams{Voice: voice, Style: style, Format: format}
		if r, ok := backend.AsVoiceResolver(b); ok {
			resolved, err := r.ResolveVoice(ctx, voice)
			if err != nil {
				return cache.Entry{}, fmt.Errorf("resolve voice %q: %w", voice, err)
			}
			params.Voice = resolved
		}

		s.logger.Info("synthesizing", "backend", id, "voice", params.Voice, "style", style, "text", preview(req.Text))
		audio, err := b.Synthesize(ctx, req.Text, params)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{Audio: audio.Data, ContentType: audio.ContentType}, nil
	})
	if err != nil {
		return Result{}, &SynthesisFailed{Backend: id, Fingerprint: fp, Err: err}
	}

	elapsed := time.Since(start)
	s.metrics.observe(id, hit, len(entry.Audio), elapsed)
	s.logger.Debug("speak", "backend", id, "fingerprint", fp, "cached", hit, "elapsed", elapsed, "source", req.Source)

	return Result{
		Audio:       backend.Audio{Data: entry.Audio, ContentType: entry.ContentType},
		Backend:     id,
		Voice:       voice,
		Fingerprint: fp,
		Cached:      hit,
	}, nil
}

// Say speaks req and queues the audio for playback under seq. If synthesis
// fails the slot is released so later phrases are not held back.
func (s *Service) Say(ctx context.Context, req Request, seq uint64) (Result, error) {
	if s.player == nil {
		return Result{}, ErrNoPlayer
	}

	res, err := s.Speak(ctx, req)
	if err != nil {
		s.player.Skip(seq)
		s.logger.Error("speak failed", "seq", seq, "source", req.Source, "err", err)
		return Result{}, err
	}

	// Each message owns its bytes; cached audio is shared between callers.
	audio := make([]byte, len(res.Audio.Data))
	copy(audio, res.Audio.Data)

	msg := playback.Message{
		ID:          uuid.New(),
		Seq:         seq,
		Audio:       audio,
		ContentType: res.Audio.ContentType,
		Source:      req.Source,
		Text:        req.Text,
	}
	if err := s.player.Enqueue(msg); err != nil {
		return res, fmt.Errorf("enqueue seq %d: %w", seq, err)
	}
	return res, nil
}

// Registry exposes the backends for catalog and usage queries.
func (s *Service) Registry() *backend.Registry {
	return s.registry
}

// Voices lists the voices of a backend.
func (s *Service) Voices(ctx context.Context, id string) ([]backend.Voice, error) {
	b, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	c, ok := backend.AsVoiceCatalog(b)
	if !ok {
		return nil, fmt.Errorf("backend %q has no voice catalog: %w", id, errors.ErrUnsupported)
	}
	return c.Voices(ctx)
}

// Usage reports account usage of a backend.
func (s *Service) Usage(ctx context.Context, id string) (backend.Usage, error) {
	b, err := s.registry.Get(id)
	if err != nil {
		return backend.Usage{}, err
	}
	r, ok := backend.AsUsageReporter(b)
	if !ok {
		return backend.Usage{}, fmt.Errorf("backend %q does not report usage: %w", id, errors.ErrUnsupported)
	}
	return r.Usage(ctx)
}

// preview shortens text for log lines.
func preview(text string) string {
	return runewidth.Truncate(strings.Join(strings.Fields(text), " "), previewWidth, "…")
}
