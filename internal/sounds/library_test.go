package sounds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeSound(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ID3"+rel), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	root := t.TempDir()
	for _, rel := range []string{
		"doorbell.mp3",
		"chime.mp3",
		"notes.txt",
		"r2d2/happy.mp3",
		"r2d2/sad.mp3",
		"astromech/beep.mp3",
	} {
		writeSound(t, root, rel)
	}

	l, err := NewLibrary(root, Options{Exclude: []string{"astromech"}})
	if err != nil {
		t.Fatalf("NewLibrary() error = %v", err)
	}
	return l
}

func TestLibrary_Index(t *testing.T) {
	l := newTestLibrary(t)

	want := []string{"astromech/beep.mp3", "chime.mp3", "doorbell.mp3", "r2d2/happy.mp3", "r2d2/sad.mp3"}
	if got := l.Files(); !reflect.DeepEqual(got, want) {
		t.Errorf("Files() = %v, want %v", got, want)
	}
}

func TestLibrary_Find(t *testing.T) {
	l := newTestLibrary(t)

	tests := []struct {
		name string
		want string
	}{
		{"doorbell.mp3", "doorbell.mp3"},
		{"doorbell", "doorbell.mp3"},
		{"r2d2/sad", "r2d2/sad.mp3"},
		{"dorbel", "doorbell.mp3"},
	}
	for _, tt := range tests {
		got, err := l.Find(tt.name)
		if err != nil {
			t.Errorf("Find(%q) error = %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Find(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	if _, err := l.Find("zzzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(zzzz) error = %v", err)
	}
	if _, err := l.Find("../etc/passwd"); !errors.Is(err, ErrOutsideLibrary) {
		t.Errorf("traversal error = %v", err)
	}
	if _, err := l.Read("../secret"); !errors.Is(err, ErrOutsideLibrary) {
		t.Errorf("Read traversal error = %v", err)
	}

	data, err := l.Read("chime.mp3")
	if err != nil || string(data) != "ID3chime.mp3" {
		t.Errorf("Read() = %q, %v", data, err)
	}
}

func TestLibrary_Random(t *testing.T) {
	l := newTestLibrary(t)

	for i := 0; i < 20; i++ {
		got, err := l.Random("r2d2")
		if err != nil {
			t.Fatal(err)
		}
		if got != "r2d2/happy.mp3" && got != "r2d2/sad.mp3" {
			t.Fatalf("Random(r2d2) = %s", got)
		}

		top, err := l.Random("")
		if err != nil {
			t.Fatal(err)
		}
		if top != "chime.mp3" && top != "doorbell.mp3" {
			t.Fatalf("Random(\"\") = %s", top)
		}

		picked, err := l.RandomRecursive()
		if err != nil {
			t.Fatal(err)
		}
		if picked == "astromech/beep.mp3" {
			t.Fatal("excluded file picked")
		}
	}

	if _, err := l.Random("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Random(missing) error = %v", err)
	}
}

func TestLibrary_EmptyRandom(t *testing.T) {
	l, err := NewLibrary(filepath.Join(t.TempDir(), "new"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.RandomRecursive(); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty library error = %v", err)
	}
}

func TestLibrary_Watch(t *testing.T) {
	l := newTestLibrary(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	writeSound(t, l.Root(), "alarm.mp3")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, err := l.Find("alarm.mp3"); err == nil && got == "alarm.mp3" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("new file was not indexed")
}
