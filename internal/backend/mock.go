package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Mock is a deterministic backend for development and tests. It renders a
// fake MP3 payload derived from the request.
type Mock struct {
	id string

	// Control for testing
	mu       sync.Mutex
	delay    time.Duration
	failures []error // consumed one per call, front first
	failAll  error
	delays   map[string]time.Duration

	calls atomic.Int64
}

// NewMock creates a mock backend registered under id ("mock" if empty).
func NewMock(id string) *Mock {
	if id == "" {
		id = IDMock
	}
	return &Mock{id: id, delays: make(map[string]time.Duration)}
}

// Descriptor implements Backend.
func (m *Mock) Descriptor() Descriptor {
	return Descriptor{
		ID:            m.id,
		DefaultVoice:  "mock-voice-1",
		DefaultFormat: "mp3",
		FormatVersion: 1,
		Capabilities: Capabilities{
			Styles:        Styles,
			Formats:       []string{"mp3"},
			MaxTextLength: 10000,
			VoiceCatalog:  true,
		},
	}
}

// Synthesize implements Backend.
func (m *Mock) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	m.calls.Add(1)

	m.mu.Lock()
	delay := m.delay
	if d, ok := m.delays[text]; ok {
		delay = d
	}
	var err error
	if len(m.failures) > 0 {
		err, m.failures = m.failures[0], m.failures[1:]
	} else if m.failAll != nil {
		err = m.failAll
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Audio{}, transportError(m.id, ctx.Err())
		}
	}
	if err != nil {
		return Audio{}, err
	}
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	payload := fmt.Sprintf("MOCK|%s|%s|%s|%s", m.id, params.Voice, params.Style, text)
	return Audio{Data: []byte(payload), ContentType: "audio/mpeg"}, nil
}

// Voices implements VoiceCatalog.
func (m *Mock) Voices(context.Context) ([]Voice, error) {
	return []Voice{
		{ID: "mock-voice-1", Name: "Mock Voice 1", Language: "en-US", Gender: "neutral"},
		{ID: "mock-voice-2", Name: "Mock Voice 2", Language: "en-GB", Gender: "female"},
		{ID: "mock-voice-3", Name: "Mock Voice 3", Language: "en-US", Gender: "male"},
	}, nil
}

// Test control methods

// SetDelay sets the simulated synthesis latency.
func (m *Mock) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// SetDelayFor overrides the latency for one phrase.
func (m *Mock) SetDelayFor(text string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[text] = delay
}

// SetFailure makes every call fail with err until ClearFailure.
func (m *Mock) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// FailNext makes the next len(errs) calls fail in order.
func (m *Mock) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// ClearFailure resets the backend to normal operation.
func (m *Mock) ClearFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = nil
	m.failures = nil
}

// Calls returns the number of Synthesize calls.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}
