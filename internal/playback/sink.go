package playback

import (
	"context"
)

// Sink renders one message. Play blocks until the audio has drained or ctx
// is cancelled.
type Sink interface {
	Play(ctx context.Context, msg Message) error
	Close() error
}

// Controller is implemented by sinks that can pause and change volume while
// a message is playing.
type Controller interface {
	Pause()
	Resume()
	SetVolume(volume float64) error
}

// Restarter is implemented by sinks that can reset their device after
// failures.
type Restarter interface {
	Restart() error
}
