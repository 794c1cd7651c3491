package playback

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockSink records messages instead of producing sound.
type MockSink struct {
	mu       sync.Mutex
	played   []Message
	delay    time.Duration
	failures map[uint64]error
	failAll  error
	paused   bool
	volume   float64
	restarts int
	closed   bool

	// OnPlay is called when a message starts playing.
	OnPlay func(msg Message)
}

// NewMockSink creates a sink that finishes each message after delay.
func NewMockSink(delay time.Duration) *MockSink {
	return &MockSink{delay: delay, volume: 1, failures: make(map[uint64]error)}
}

// Play implements Sink.
func (m *MockSink) Play(ctx context.Context, msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("sink is closed")
	}
	err := m.failAll
	if e, ok := m.failures[msg.Seq]; ok {
		err = e
	}
	delay := m.delay
	onPlay := m.OnPlay
	m.mu.Unlock()

	if onPlay != nil {
		onPlay(msg)
	}
	if err != nil {
		return err
	}
	if len(msg.Audio) == 0 {
		return ErrEmptyAudio
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, msg)
	return nil
}

// Played returns the messages that finished playing, in order.
func (m *MockSink) Played() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.played))
	copy(out, m.played)
	return out
}

// PlayedSeqs returns the sequences of finished messages, in order.
func (m *MockSink) PlayedSeqs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs := make([]uint64, len(m.played))
	for i, msg := range m.played {
		seqs[i] = msg.Seq
	}
	return seqs
}

// FailSeq makes playback of seq fail with err.
func (m *MockSink) FailSeq(seq uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[seq] = err
}

// SetFailure makes every playback fail until cleared with nil.
func (m *MockSink) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// Pause implements Controller.
func (m *MockSink) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// Resume implements Controller.
func (m *MockSink) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

// Paused reports whether Pause was called without a matching Resume.
func (m *MockSink) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// SetVolume implements Controller.
func (m *MockSink) SetVolume(volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
	return nil
}

// Volume returns the last volume set.
func (m *MockSink) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Restart implements Restarter. It clears injected failures.
func (m *MockSink) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	m.failAll = nil
	return nil
}

// Restarts returns how often Restart was called.
func (m *MockSink) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// Close implements Sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
