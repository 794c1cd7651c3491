package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/cache"
	"github.com/dgnsrekt/homespeak/internal/playback"
	"github.com/dgnsrekt/homespeak/internal/sounds"
	"github.com/dgnsrekt/homespeak/internal/speech"
)

// fixedNow is 7:05 PM on a Friday.
var fixedNow = time.Date(2026, time.October, 16, 19, 5, 0, 0, time.UTC)

type fixture struct {
	adapter  *Adapter
	mock     *backend.Mock
	eleven   *backend.Mock
	queue    *playback.Queue
	sink     *playback.MockSink
	hub      *Hub
	library  *sounds.Library
	alarms   *alarm.Scheduler
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		mock:     backend.NewMock(""),
		eleven:   backend.NewMock(backend.IDElevenLabs),
		sink:     playback.NewMockSink(0),
		hub:      NewHub(nil),
		registry: prometheus.NewRegistry(),
	}
	f.queue = playback.NewQueue(f.sink,
		playback.WithBroadcaster(f.hub),
		playback.WithMetrics(playback.NewMetrics(f.registry)),
	)

	reg, err := backend.NewRegistry(f.mock, f.eleven)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := speech.NewService(speech.Options{
		Config:   speech.Config{DefaultBackend: backend.IDMock, Timeout: time.Second},
		Registry: reg,
		Cache:    cache.NewFlight(cache.NewMemoryStore(1<<20), false, nil),
		Player:   f.queue,
		Metrics:  speech.NewMetrics(f.registry),
	})
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	for _, rel := range []string{"doorbell.mp3", "chimes/low.mp3", "chimes/high.mp3"} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("ID3"+rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	f.library, err = sounds.NewLibrary(root, sounds.Options{})
	if err != nil {
		t.Fatal(err)
	}

	f.alarms, err = alarm.NewScheduler(alarm.Options{Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatal(err)
	}

	f.adapter, err = NewAdapter(Options{
		Speaker: svc,
		Player:  f.queue,
		Sounds:  f.library,
		Alarms:  f.alarms,
		Now:     func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.queue.Run(ctx)
	}()
	t.Cleanup(func() {
		f.adapter.Wait()
		cancel()
		<-done
		f.hub.Close()
	})
	return f
}

// playedTexts returns the phrase of every played mock payload, or the raw
// audio for anything else.
func (f *fixture) playedTexts() []string {
	var out []string
	for _, msg := range f.sink.Played() {
		audio := string(msg.Audio)
		if strings.HasPrefix(audio, "MOCK|") {
			parts := strings.SplitN(audio, "|", 5)
			audio = parts[4]
		}
		out = append(out, audio)
	}
	return out
}

func (f *fixture) waitPlayed(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.playedTexts(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d played messages, have %v", n, f.playedTexts())
	return nil
}
