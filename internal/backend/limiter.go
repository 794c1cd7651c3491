package backend

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a Backend with a token bucket enforced before each call.
type Limited struct {
	next    Backend
	limiter *rate.Limiter
}

// WithRateLimit limits b to requestsPerMinute calls. A non-positive rate
// returns b unchanged.
func WithRateLimit(b Backend, requestsPerMinute int) Backend {
	if requestsPerMinute <= 0 {
		return b
	}
	return &Limited{
		next:    b,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Descriptor implements Backend.
func (l *Limited) Descriptor() Descriptor {
	return l.next.Descriptor()
}

// Synthesize waits for a token, then calls the wrapped backend. A wait that
// would outlast ctx fails as a rate limit error without touching the
// network.
func (l *Limited) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Audio{}, &Error{
			Backend: l.next.Descriptor().ID,
			Kind:    KindRateLimit,
			Message: "rate limit wait cancelled",
			Err:     err,
		}
	}
	return l.next.Synthesize(ctx, text, params)
}

// Unwrap implements Unwrapper.
func (l *Limited) Unwrap() Backend {
	return l.next
}
