package speech

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/cache"
)

var (
	// ErrNoBackend is returned when a request selects no backend and no
	// default is configured.
	ErrNoBackend = errors.New("no backend selected")

	// ErrNoPlayer is returned by Say when the service has no playback queue.
	ErrNoPlayer = errors.New("no playback queue configured")
)

// SynthesisFailed is the single error callers of Speak see for backend and
// strict cache failures.
type SynthesisFailed struct {
	Backend     string
	Fingerprint cache.Fingerprint
	Err         error
}

func (e *SynthesisFailed) Error() string {
	if e.Fingerprint == "" {
		return fmt.Sprintf("synthesis failed on %s: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("synthesis failed on %s for %s: %v", e.Backend, e.Fingerprint, e.Err)
}

func (e *SynthesisFailed) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the request later may succeed.
func (e *SynthesisFailed) Retryable() bool {
	var be *backend.Error
	if errors.As(e.Err, &be) {
		return be.Retryable()
	}
	var ce *cache.Error
	return errors.As(e.Err, &ce)
}
