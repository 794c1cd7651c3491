package playback

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned when operations are attempted on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrSlotReleased is returned by Enqueue when the message's sequence slot
	// was already cancelled, skipped or passed by the cursor.
	ErrSlotReleased = errors.New("sequence slot already released")

	// ErrDuplicateSeq is returned by Enqueue when a message with the same
	// sequence is already pending.
	ErrDuplicateSeq = errors.New("sequence already pending")

	// ErrEmptyAudio is returned by sinks asked to play nothing.
	ErrEmptyAudio = errors.New("audio data is empty")
)

// Message is a unit of playable audio tagged with its arrival sequence.
type Message struct {
	ID          uuid.UUID
	Seq         uint64
	Audio       []byte
	ContentType string

	// Source and Text are informational and only used for logging and
	// broadcast.
	Source string
	Text   string
}

// NewMessage wraps audio in a Message with a fresh id. A zero seq is
// assigned by the queue on Enqueue.
func NewMessage(seq uint64, audio []byte, contentType string) Message {
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Message{ID: uuid.New(), Seq: seq, Audio: audio, ContentType: contentType}
}

// DeviceError reports a failure to render one message. It is logged and
// counted by the queue and never reaches producers.
type DeviceError struct {
	Seq uint64
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("playback of seq %d failed: %v", e.Seq, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Broadcaster receives every message as its playback starts.
type Broadcaster interface {
	Broadcast(msg Message)
}
