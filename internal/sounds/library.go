// Package sounds serves pre-recorded sound files from a directory tree.
package sounds

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/gitcha"
	"github.com/sahilm/fuzzy"
)

var (
	// ErrNotFound is returned when no sound matches a request.
	ErrNotFound = errors.New("sound not found")

	// ErrOutsideLibrary is returned for names that escape the library root.
	ErrOutsideLibrary = errors.New("path escapes sound library")
)

var soundExtensions = []string{"*.mp3", "*.MP3"}

const rescanDelay = 250 * time.Millisecond

// Options configures a Library.
type Options struct {
	// Exclude drops files whose relative path contains any of these
	// substrings from recursive random picks.
	Exclude []string

	Logger *log.Logger
}

// Library indexes the sound files under a root directory.
type Library struct {
	root    string
	exclude []string
	logger  *log.Logger

	mu    sync.RWMutex
	files []string // relative, slash separated, sorted
}

// NewLibrary creates root if needed and indexes it.
func NewLibrary(root string, opts Options) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sound directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	l := &Library{root: abs, exclude: opts.Exclude, logger: opts.Logger}
	if err := l.Rescan(); err != nil {
		return nil, err
	}
	return l, nil
}

// Root returns the absolute library directory.
func (l *Library) Root() string {
	return l.root
}

// Rescan rebuilds the file index.
func (l *Library) Rescan() error {
	ch, err := gitcha.FindAllFilesExcept(l.root, soundExtensions, nil)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", l.root, err)
	}

	var files []string
	for res := range ch {
		rel, err := filepath.Rel(l.root, res.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	files = slices.Compact(files)

	l.mu.Lock()
	l.files = files
	l.mu.Unlock()

	l.logger.Debug("sound library indexed", "root", l.root, "files", len(files))
	return nil
}

// Files returns the indexed sound files.
func (l *Library) Files() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.files))
	copy(out, l.files)
	return out
}

// Find resolves name to an indexed file. Exact relative paths win; a name
// without extension matches its .mp3 file; otherwise the best fuzzy match
// is used.
func (l *Library) Find(name string) (string, error) {
	name = filepath.ToSlash(strings.TrimSpace(name))
	if name == "" {
		return "", ErrNotFound
	}
	if err := l.checkInside(name); err != nil {
		return "", err
	}

	files := l.Files()
	for _, f := range files {
		if f == name || strings.TrimSuffix(f, filepath.Ext(f)) == name {
			return f, nil
		}
	}

	matches := fuzzy.Find(name, files)
	if len(matches) == 0 {
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	l.logger.Debug("fuzzy sound match", "name", name, "file", matches[0].Str, "score", matches[0].Score)
	return matches[0].Str, nil
}

// Random picks a file directly inside dir.
func (l *Library) Random(dir string) (string, error) {
	dir = strings.Trim(filepath.ToSlash(dir), "/")
	if err := l.checkInside(dir); err != nil {
		return "", err
	}

	var candidates []string
	for _, f := range l.Files() {
		if parent := filepath.ToSlash(filepath.Dir(f)); parent == dir || (dir == "" && parent == ".") {
			candidates = append(candidates, f)
		}
	}
	return pick(candidates, dir)
}

// RandomRecursive picks any file in the library except excluded ones.
func (l *Library) RandomRecursive() (string, error) {
	var candidates []string
	for _, f := range l.Files() {
		if !l.excluded(f) {
			candidates = append(candidates, f)
		}
	}
	return pick(candidates, "")
}

// Read returns the contents of an indexed file.
func (l *Library) Read(rel string) ([]byte, error) {
	if err := l.checkInside(rel); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(l.root, filepath.FromSlash(rel)))
}

// Watch rescans the library when files are added, removed or renamed. It
// blocks until ctx is cancelled.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.watchTree(watcher); err != nil {
		return err
	}
	l.logger.Info("fsnotify watching sound library", "dir", l.root)

	var rescan <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			l.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			rescan = time.After(rescanDelay)

		case <-rescan:
			rescan = nil
			if err := l.Rescan(); err != nil {
				l.logger.Error("sound library rescan failed", "err", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Debug("fsnotify error", "dir", l.root, "error", err)
		}
	}
}

func (l *Library) watchTree(w *fsnotify.Watcher) error {
	return filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
		}
		return nil
	})
}

func (l *Library) excluded(rel string) bool {
	for _, pattern := range l.exclude {
		if pattern != "" && strings.Contains(rel, pattern) {
			return true
		}
	}
	return false
}

func (l *Library) checkInside(rel string) error {
	if filepath.IsAbs(rel) {
		return fmt.Errorf("%q: %w", rel, ErrOutsideLibrary)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%q: %w", rel, ErrOutsideLibrary)
	}
	return nil
}

func pick(candidates []string, dir string) (string, error) {
	if len(candidates) == 0 {
		if dir == "" {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("directory %q: %w", dir, ErrNotFound)
	}
	return candidates[rand.IntN(len(candidates))], nil
}
