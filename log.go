package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"golang.org/x/term"

	"github.com/dgnsrekt/homespeak/internal/config"
)

// logFilePath resolves name against the user data directory unless it is
// already absolute.
func logFilePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	dirs, err := gap.NewScope(gap.User, config.AppName).DataDirs()
	if err != nil {
		return "", fmt.Errorf("could not get data directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no data directory for %s", config.AppName)
	}
	return filepath.Join(dirs[0], name), nil
}

// setupLog configures the default logger from cfg. Logs go to stderr, or
// to cfg.File when set. The returned func closes the log file.
func setupLog(cfg config.LogConfig) (func() error, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.DateTime)

	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.File != "" {
		path, err := logFilePath(cfg.File)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		out = f
		closer = f.Close
	}
	log.SetOutput(out)

	// Structured output for journald and friends.
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		log.SetFormatter(log.LogfmtFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
	return closer, nil
}
