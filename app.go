package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/cache"
	"github.com/dgnsrekt/homespeak/internal/config"
	"github.com/dgnsrekt/homespeak/internal/ingest"
	"github.com/dgnsrekt/homespeak/internal/playback"
	"github.com/dgnsrekt/homespeak/internal/sounds"
	"github.com/dgnsrekt/homespeak/internal/speech"
)

// app is the wired service.
type app struct {
	cfg     config.Config
	metrics *prometheus.Registry

	backends *backend.Registry
	cache    *cache.Tiered
	sink     playback.Sink
	queue    *playback.Queue
	hub      *ingest.Hub
	speech   *speech.Service
	sounds   *sounds.Library
	alarms   *alarm.Scheduler
	adapter  *ingest.Adapter

	nats     *nats.Conn
	embedded *server.Server
	redis    io.Closer
}

// newApp builds every component cfg asks for. sink may be nil to build
// the configured one.
func newApp(cfg config.Config, sink playback.Sink) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.NATS.Enabled {
		if err := a.connectNATS(); err != nil {
			return nil, err
		}
	}

	if a.backends, err = buildBackends(cfg); err != nil {
		return nil, err
	}

	durable, redisClient, err := buildDurable(cfg, a.nats)
	a.redis = redisClient
	if err != nil {
		return nil, err
	}
	a.cache = cache.NewTiered(durable, cache.TieredConfig{
		MemoryCapacity:  cfg.Cache.MemoryMB << 20,
		TTL:             cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, log.WithPrefix("cache"))

	if sink == nil {
		if sink, err = buildSink(cfg.Playback); err != nil {
			return nil, err
		}
	}
	a.sink = sink
	a.hub = ingest.NewHub(log.WithPrefix("ws"))
	a.queue = playback.NewQueue(sink,
		playback.WithLogger(log.WithPrefix("playback")),
		playback.WithBroadcaster(a.hub),
		playback.WithMetrics(playback.NewMetrics(a.metrics)),
		playback.WithSlotTimeout(cfg.Playback.SlotTimeout),
	)
	if _, ok := sink.(playback.Controller); ok {
		if err := a.queue.SetVolume(cfg.Playback.Volume); err != nil {
			return nil, err
		}
	}

	a.speech, err = speech.NewService(speech.Options{
		Config:   speechConfig(cfg),
		Registry: a.backends,
		Cache:    cache.NewFlight(a.cache, cfg.Cache.Strict, log.WithPrefix("cache")),
		Player:   a.queue,
		Fallback: backend.NewFallbackPolicy(cfg.Speech.Fallback, log.WithPrefix("backend")),
		Metrics:  speech.NewMetrics(a.metrics),
		Logger:   log.WithPrefix("speech"),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Sounds.Dir != "" {
		a.sounds, err = sounds.NewLibrary(cfg.Sounds.Dir, sounds.Options{
			Exclude: cfg.Sounds.Exclude,
			Logger:  log.WithPrefix("sounds"),
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Alarms.Enabled {
		a.alarms, err = alarm.NewScheduler(alarm.Options{
			File:   cfg.Alarms.File,
			Logger: log.WithPrefix("alarm"),
		})
		if err != nil {
			return nil, err
		}
	}

	a.adapter, err = ingest.NewAdapter(ingest.Options{
		Speaker: a.speech,
		Player:  a.queue,
		Sounds:  a.sounds,
		Alarms:  a.alarms,
		Logger:  log.WithPrefix("ingest"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) connectNATS() error {
	if a.cfg.NATS.Embedded {
		ns, err := ingest.StartEmbeddedNATS(a.cfg.NATS.URL, a.cfg.NATS.StoreDir, log.WithPrefix("nats"))
		if err != nil {
			return err
		}
		a.embedded = ns
	}

	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name(config.AppName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", a.cfg.NATS.URL, err)
	}
	a.nats = nc
	log.Info("connected to nats", "url", nc.ConnectedUrl())
	return nil
}

// close releases everything newApp opened, in reverse order.
func (a *app) close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	} else if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Drain())
	}
	if a.embedded != nil {
		a.embedded.Shutdown()
	}
	return errors.Join(errs...)
}

// buildBackends registers every backend that has credentials, each behind
// its rate limit.
func buildBackends(cfg config.Config) (*backend.Registry, error) {
	b := cfg.Backends
	reg, err := backend.NewRegistry()
	if err != nil {
		return nil, err
	}

	add := func(be backend.Backend, rpm int) error {
		return reg.Register(backend.WithRateLimit(be, rpm))
	}

	if b.ElevenLabs.APIKey != "" {
		var opts []backend.ElevenLabsOption
		if b.ElevenLabs.BaseURL != "" {
			opts = append(opts, backend.WithElevenLabsBaseURL(b.ElevenLabs.BaseURL))
		}
		if b.ElevenLabs.Model != "" {
			opts = append(opts, backend.WithElevenLabsModel(b.ElevenLabs.Model))
		}
		if err := add(backend.NewElevenLabs(b.ElevenLabs.APIKey, opts...), b.ElevenLabs.RequestsPerMinute); err != nil {
			return nil, err
		}
	}
	if b.Google.APIKey != "" {
		var opts []backend.GoogleOption
		if b.Google.BaseURL != "" {
			opts = append(opts, backend.WithGoogleBaseURL(b.Google.BaseURL))
		}
		if err := add(backend.NewGoogle(b.Google.APIKey, opts...), b.Google.RequestsPerMinute); err != nil {
			return nil, err
		}
	}
	if b.Azure.Key != "" {
		opts := []backend.AzureOption{backend.WithAzureRegion(b.Azure.Region)}
		if b.Azure.BaseURL != "" {
			opts = append(opts, backend.WithAzureBaseURL(b.Azure.BaseURL))
		}
		if err := add(backend.NewAzure(b.Azure.Key, opts...), b.Azure.RequestsPerMinute); err != nil {
			return nil, err
		}
	}
	if b.OpenAI.APIKey != "" {
		var opts []backend.OpenAIOption
		if b.OpenAI.BaseURL != "" {
			opts = append(opts, backend.WithOpenAIBaseURL(b.OpenAI.BaseURL))
		}
		if b.OpenAI.Model != "" {
			opts = append(opts, backend.WithOpenAIModel(b.OpenAI.Model))
		}
		if err := add(backend.NewOpenAI(b.OpenAI.APIKey, opts...), b.OpenAI.RequestsPerMinute); err != nil {
			return nil, err
		}
	}
	if b.Mock.Enabled {
		if err := reg.Register(backend.NewMock(backend.IDMock)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildDurable opens the configured durable cache tier. It returns a nil
// store for memory-only operation. The closer is the redis client, which
// the store does not own.
func buildDurable(cfg config.Config, nc *nats.Conn) (cache.Store, io.Closer, error) {
	c := cfg.Cache
	switch c.Durable {
	case config.DurableDisk:
		store, err := cache.NewDiskStore(c.Dir, cache.DiskOptions{
			Capacity:         c.DiskMB << 20,
			CompressionLevel: c.CompressionLevel,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.DurableRedis:
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return cache.NewRedisStore(client,
			cache.WithRedisPrefix(c.RedisPrefix),
			cache.WithRedisTTL(c.TTL),
		), client, nil
	case config.DurableNATS:
		if nc == nil {
			return nil, nil, errors.New("nats cache tier needs a nats connection")
		}
		js, err := nc.JetStream()
		if err != nil {
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		store, err := cache.NewObjectStore(js, c.Bucket, c.TTL)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, nil
	}
}

func buildSink(cfg config.PlaybackConfig) (playback.Sink, error) {
	if cfg.Sink == config.SinkNone {
		return playback.NewMockSink(0), nil
	}
	dc := playback.DefaultDeviceConfig()
	dc.SampleRate = cfg.SampleRate
	dc.Channels = cfg.Channels
	return playback.NewDeviceSink(dc, log.WithPrefix("device"))
}

func speechConfig(cfg config.Config) speech.Config {
	sc := speech.Config{
		DefaultBackend: cfg.Speech.DefaultBackend,
		Aliases:        make(map[string]speech.Alias, len(cfg.Voices)),
		DefaultVoices:  map[string]string{},
		Timeout:        cfg.Speech.Timeout,
	}
	for name, v := range cfg.Voices {
		style, _ := backend.ParseStyle(v.Style)
		sc.Aliases[name] = speech.Alias{Backend: v.Backend, Voice: v.Voice, Style: style}
	}

	b := cfg.Backends
	for id, voice := range map[string]string{
		backend.IDElevenLabs: b.ElevenLabs.Voice,
		backend.IDGoogle:     b.Google.Voice,
		backend.IDAzure:      b.Azure.Voice,
	} {
		if voice != "" {
			sc.DefaultVoices[id] = voice
		}
	}
	return sc
}
