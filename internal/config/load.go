package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName names the config file and the application directories.
const AppName = "homespeak"

// ConfigDirs returns the directories searched for homespeak.yml, most
// specific first.
func ConfigDirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, err
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("HOMESPEAK_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// SetupViper points v at the default config locations and the HOMESPEAK_
// environment.
func SetupViper(v *viper.Viper) error {
	dirs, err := ConfigDirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// DefaultPath returns where a new config file is created.
func DefaultPath() (string, error) {
	dirs, err := ConfigDirs()
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", errors.New("no configuration directory")
	}
	return filepath.Join(dirs[0], AppName+".yml"), nil
}

// Load builds the configuration: defaults, then the file viper found, then
// HOMESPEAK_ environment variables, then flags bound in v. The result is
// validated.
//
// Only string settings can be bound to flags: speech.default_backend,
// http.addr, nats.url, nats.subject, playback.sink, log.level and log.file.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}
	if path := v.ConfigFileUsed(); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}

	applyFlags(v, &cfg)

	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML config file over cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyFlags copies values viper knows from bound flags. Viper only
// reports flags that were changed on the command line.
func applyFlags(v *viper.Viper, cfg *Config) {
	set := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	set("speech.default_backend", &cfg.Speech.DefaultBackend)
	set("http.addr", &cfg.HTTP.Addr)
	set("nats.url", &cfg.NATS.URL)
	set("nats.subject", &cfg.NATS.Subject)
	set("playback.sink", &cfg.Playback.Sink)
	set("log.level", &cfg.Log.Level)
	set("log.file", &cfg.Log.File)
}

// Render returns cfg as YAML.
func Render(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
