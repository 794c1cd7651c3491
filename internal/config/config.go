// Package config holds the homespeak configuration: defaults, file and
// environment loading, and validation.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/homespeak/internal/backend"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HOMESPEAK_"

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Error describes one invalid setting.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalidConfig
}

// Config is the complete service configuration.
type Config struct {
	Speech   SpeechConfig           `yaml:"speech"   envPrefix:"SPEECH_"`
	Backends BackendsConfig         `yaml:"backends"`
	Voices   map[string]VoiceConfig `yaml:"voices"`
	Cache    CacheConfig            `yaml:"cache"    envPrefix:"CACHE_"`
	Playback PlaybackConfig         `yaml:"playback" envPrefix:"PLAYBACK_"`
	NATS     NATSConfig             `yaml:"nats"     envPrefix:"NATS_"`
	HTTP     HTTPConfig             `yaml:"http"     envPrefix:"HTTP_"`
	Sounds   SoundsConfig           `yaml:"sounds"   envPrefix:"SOUNDS_"`
	Alarms   AlarmsConfig           `yaml:"alarms"   envPrefix:"ALARMS_"`
	Log      LogConfig              `yaml:"log"      envPrefix:"LOG_"`
}

// SpeechConfig selects backends.
type SpeechConfig struct {
	DefaultBackend string        `yaml:"default_backend" env:"DEFAULT_BACKEND"`
	Fallback       []string      `yaml:"fallback"        env:"FALLBACK" envSeparator:","`
	Timeout        time.Duration `yaml:"timeout"         env:"TIMEOUT"`
}

// BackendsConfig holds per-provider credentials and defaults. A provider
// without credentials is not registered.
type BackendsConfig struct {
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs" envPrefix:"ELEVENLABS_"`
	Google     GoogleConfig     `yaml:"google"     envPrefix:"GOOGLE_"`
	Azure      AzureConfig      `yaml:"azure"      envPrefix:"AZURE_"`
	OpenAI     OpenAIConfig     `yaml:"openai"     envPrefix:"OPENAI_"`
	Mock       MockConfig       `yaml:"mock"       envPrefix:"MOCK_"`
}

type ElevenLabsConfig struct {
	APIKey            string `yaml:"api_key"             env:"API_KEY"`
	Voice             string `yaml:"voice"               env:"VOICE"`
	Model             string `yaml:"model"               env:"MODEL"`
	BaseURL           string `yaml:"base_url"            env:"BASE_URL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

type GoogleConfig struct {
	APIKey            string `yaml:"api_key"             env:"API_KEY"`
	Voice             string `yaml:"voice"               env:"VOICE"`
	BaseURL           string `yaml:"base_url"            env:"BASE_URL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

type AzureConfig struct {
	Key               string `yaml:"key"                 env:"KEY"`
	Region            string `yaml:"region"              env:"REGION"`
	Voice             string `yaml:"voice"               env:"VOICE"`
	BaseURL           string `yaml:"base_url"            env:"BASE_URL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

type OpenAIConfig struct {
	APIKey            string `yaml:"api_key"             env:"API_KEY"`
	Model             string `yaml:"model"               env:"MODEL"`
	BaseURL           string `yaml:"base_url"            env:"BASE_URL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

type MockConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// VoiceConfig maps a voice alias to a backend voice.
type VoiceConfig struct {
	Backend string `yaml:"backend"`
	Voice   string `yaml:"voice"`
	Style   string `yaml:"style,omitempty"`
}

// Durable cache tiers.
const (
	DurableNone  = "none"
	DurableDisk  = "disk"
	DurableRedis = "redis"
	DurableNATS  = "nats"
)

type CacheConfig struct {
	Dir              string        `yaml:"dir"               env:"DIR"`
	Durable          string        `yaml:"durable"           env:"DURABLE"`
	MemoryMB         int64         `yaml:"memory_mb"         env:"MEMORY_MB"`
	DiskMB           int64         `yaml:"disk_mb"           env:"DISK_MB"`
	TTL              time.Duration `yaml:"ttl"               env:"TTL"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"  env:"CLEANUP_INTERVAL"`
	CompressionLevel int           `yaml:"compression_level" env:"COMPRESSION_LEVEL"`
	Strict           bool          `yaml:"strict"            env:"STRICT"`
	RedisURL         string        `yaml:"redis_url"         env:"REDIS_URL"`
	RedisPrefix      string        `yaml:"redis_prefix"      env:"REDIS_PREFIX"`
	Bucket           string        `yaml:"bucket"            env:"BUCKET"`
}

// Playback sinks.
const (
	SinkDevice = "device"
	SinkNone   = "none"
)

type PlaybackConfig struct {
	Sink        string        `yaml:"sink"         env:"SINK"`
	SampleRate  int           `yaml:"sample_rate"  env:"SAMPLE_RATE"`
	Channels    int           `yaml:"channels"     env:"CHANNELS"`
	Volume      float64       `yaml:"volume"       env:"VOLUME"`
	SlotTimeout time.Duration `yaml:"slot_timeout" env:"SLOT_TIMEOUT"`
}

type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"  env:"ENABLED"`
	URL      string `yaml:"url"      env:"URL"`
	Subject  string `yaml:"subject"  env:"SUBJECT"`
	Embedded bool   `yaml:"embedded" env:"EMBEDDED"`
	StoreDir string `yaml:"store_dir" env:"STORE_DIR"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr"    env:"ADDR"`
}

type SoundsConfig struct {
	Dir     string   `yaml:"dir"     env:"DIR"`
	Exclude []string `yaml:"exclude" env:"EXCLUDE" envSeparator:","`
	Watch   bool     `yaml:"watch"   env:"WATCH"`
}

// AlarmsConfig enables the alarm scheduler. File persists alarms across
// restarts; empty keeps them in memory.
type AlarmsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	File    string `yaml:"file"    env:"FILE"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	File  string `yaml:"file"  env:"FILE"`
}

// DefaultConfig returns a configuration that runs with the mock backend and
// no external services.
func DefaultConfig() Config {
	return Config{
		Speech: SpeechConfig{
			DefaultBackend: backend.IDMock,
			Timeout:        20 * time.Second,
		},
		Backends: BackendsConfig{
			ElevenLabs: ElevenLabsConfig{RequestsPerMinute: 60},
			Google:     GoogleConfig{RequestsPerMinute: 300},
			Azure:      AzureConfig{Region: "uksouth", RequestsPerMinute: 200},
			OpenAI:     OpenAIConfig{RequestsPerMinute: 50},
			Mock:       MockConfig{Enabled: true},
		},
		Voices: map[string]VoiceConfig{},
		Cache: CacheConfig{
			Dir:              "~/.cache/homespeak/audio",
			Durable:          DurableDisk,
			MemoryMB:         64,
			DiskMB:           1024,
			TTL:              30 * 24 * time.Hour,
			CleanupInterval:  time.Hour,
			CompressionLevel: 3,
			RedisPrefix:      "homespeak:audio:",
			Bucket:           "homespeak-audio",
		},
		Playback: PlaybackConfig{
			Sink:        SinkDevice,
			SampleRate:  44100,
			Channels:    2,
			Volume:      1,
			SlotTimeout: time.Minute,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "home.speak",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Sounds: SoundsConfig{
			Dir:     "~/.local/share/homespeak/sounds",
			Exclude: []string{"astromech"},
			Watch:   true,
		},
		Alarms: AlarmsConfig{
			Enabled: true,
			File:    "~/.local/share/homespeak/alarms.yml",
		},
		Log: LogConfig{Level: "info"},
	}
}

// EnabledBackends lists the ids of backends that have what they need to run.
func (c Config) EnabledBackends() []string {
	var ids []string
	b := c.Backends
	if b.Azure.Key != "" {
		ids = append(ids, backend.IDAzure)
	}
	if b.ElevenLabs.APIKey != "" {
		ids = append(ids, backend.IDElevenLabs)
	}
	if b.Google.APIKey != "" {
		ids = append(ids, backend.IDGoogle)
	}
	if b.Mock.Enabled {
		ids = append(ids, backend.IDMock)
	}
	if b.OpenAI.APIKey != "" {
		ids = append(ids, backend.IDOpenAI)
	}
	return ids
}

// ExpandPaths resolves ~ in path settings.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Cache.Dir, &c.Sounds.Dir, &c.Alarms.File, &c.Log.File, &c.NATS.StoreDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &Error{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	enabled := c.EnabledBackends()
	if len(enabled) == 0 {
		fail("backends", "no backend has credentials and the mock backend is disabled")
	}
	if c.Speech.DefaultBackend == "" {
		fail("speech.default_backend", "must be set")
	} else if !slices.Contains(enabled, c.Speech.DefaultBackend) {
		fail("speech.default_backend", "backend %q is not configured", c.Speech.DefaultBackend)
	}
	for _, id := range c.Speech.Fallback {
		if !slices.Contains(enabled, id) {
			fail("speech.fallback", "backend %q is not configured", id)
		}
	}
	if c.Speech.Timeout <= 0 {
		fail("speech.timeout", "must be positive")
	}

	for name, v := range c.Voices {
		field := "voices." + name
		if strings.TrimSpace(name) == "" {
			fail("voices", "alias name must not be empty")
		}
		if !slices.Contains(enabled, v.Backend) {
			fail(field, "backend %q is not configured", v.Backend)
		}
		if _, err := backend.ParseStyle(v.Style); err != nil {
			fail(field, "%v", err)
		}
	}

	switch c.Cache.Durable {
	case DurableNone, DurableDisk:
	case DurableRedis:
		if c.Cache.RedisURL == "" {
			fail("cache.redis_url", "required when cache.durable is redis")
		}
	case DurableNATS:
		if !c.NATS.Enabled {
			fail("cache.durable", "nats tier requires nats.enabled")
		}
		if c.Cache.Bucket == "" {
			fail("cache.bucket", "required when cache.durable is nats")
		}
	default:
		fail("cache.durable", "unknown tier %q", c.Cache.Durable)
	}
	if c.Cache.Durable == DurableDisk && c.Cache.Dir == "" {
		fail("cache.dir", "required when cache.durable is disk")
	}
	if c.Cache.MemoryMB < 0 || c.Cache.DiskMB < 0 {
		fail("cache", "sizes must not be negative")
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		fail("cache.compression_level", "must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}

	switch c.Playback.Sink {
	case SinkDevice:
		if c.Playback.SampleRate != 44100 && c.Playback.SampleRate != 48000 {
			fail("playback.sample_rate", "must be 44100 or 48000, got %d", c.Playback.SampleRate)
		}
		if c.Playback.Channels != 1 && c.Playback.Channels != 2 {
			fail("playback.channels", "must be 1 or 2, got %d", c.Playback.Channels)
		}
	case SinkNone:
	default:
		fail("playback.sink", "unknown sink %q", c.Playback.Sink)
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		fail("playback.volume", "must be between 0.0 and 1.0, got %g", c.Playback.Volume)
	}

	if c.NATS.Enabled {
		if c.NATS.Subject == "" || strings.ContainsAny(c.NATS.Subject, "*> ") {
			fail("nats.subject", "must be a literal subject, got %q", c.NATS.Subject)
		}
		if c.NATS.URL == "" && !c.NATS.Embedded {
			fail("nats.url", "required unless nats.embedded is set")
		}
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		fail("http.addr", "required when http is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		fail("log.level", "unknown level %q", c.Log.Level)
	}

	return errors.Join(errs...)
}
