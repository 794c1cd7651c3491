package playback

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is the lifecycle state of a Queue.
type State int32

const (
	StateEmpty State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats tracks queue activity.
type Stats struct {
	Enqueued  int64
	Played    int64
	Failed    int64
	Released  int64 // slots skipped or cancelled
	Abandoned int64 // stopped or skipped while playing
	Pending   int
	Next      uint64
	LastPlay  time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithBroadcaster registers b to receive every message as it starts playing.
func WithBroadcaster(b Broadcaster) Option {
	return func(q *Queue) { q.broadcaster = b }
}

// WithMetrics records playback outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithSlotTimeout makes the consumer give up on a missing sequence after d
// once a later message is waiting. Zero waits forever.
func WithSlotTimeout(d time.Duration) Option {
	return func(q *Queue) { q.slotTimeout = d }
}

// Queue releases messages to a single consumer strictly by increasing
// sequence. Producers never block: they push into a min-heap and the
// consumer waits until the message at the cursor arrives or its slot is
// released.
type Queue struct {
	sink        Sink
	logger      *log.Logger
	broadcaster Broadcaster
	metrics     *Metrics
	slotTimeout time.Duration

	mu       sync.Mutex
	items    messageHeap
	pending  map[uint64]*item
	released map[uint64]struct{}
	seq      uint64 // last assigned
	next     uint64 // cursor
	wake     chan struct{}
	closed   bool
	paused   bool
	volume   float64

	current *Message
	abandon context.CancelFunc

	stats Stats
}

// NewQueue creates a queue that renders to sink.
func NewQueue(sink Sink, opts ...Option) *Queue {
	q := &Queue{
		sink:     sink,
		logger:   log.Default(),
		pending:  make(map[uint64]*item),
		released: make(map[uint64]struct{}),
		next:     1,
		wake:     make(chan struct{}),
		volume:   1,
	}
	for _, opt := range opts {
		opt(q)
	}
	heap.Init(&q.items)
	return q
}

// NextSeq hands out the next arrival sequence. Sequences start at 1.
func (q *Queue) NextSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// Enqueue adds msg to the queue. A zero Seq takes the next sequence from
// the shared counter.
func (q *Queue) Enqueue(msg Message) error {
	if len(msg.Audio) == 0 {
		return ErrEmptyAudio
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if msg.Seq == 0 {
		q.seq++
		msg.Seq = q.seq
	}
	if msg.Seq > q.seq {
		q.seq = msg.Seq
	}

	if msg.Seq < q.next {
		return fmt.Errorf("seq %d: %w", msg.Seq, ErrSlotReleased)
	}
	if _, ok := q.released[msg.Seq]; ok {
		return fmt.Errorf("seq %d: %w", msg.Seq, ErrSlotReleased)
	}
	if _, ok := q.pending[msg.Seq]; ok {
		return fmt.Errorf("seq %d: %w", msg.Seq, ErrDuplicateSeq)
	}

	it := &item{msg: msg, arrived: time.Now()}
	heap.Push(&q.items, it)
	q.pending[msg.Seq] = it
	q.stats.Enqueued++
	q.metrics.setPending(len(q.pending))
	q.signal()

	q.logger.Debug("enqueued", "seq", msg.Seq, "next", q.next, "pending", len(q.pending))
	return nil
}

// Cancel withdraws a pending message or pre-cancels a slot whose message has
// not arrived yet. It reports false when the slot is already playing, played
// or released. Playback in progress is never interrupted.
func (q *Queue) Cancel(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.release(seq, "cancelled")
}

// Skip releases the slot of a message that will never arrive, typically
// because its synthesis failed.
func (q *Queue) Skip(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.release(seq, "skipped")
}

func (q *Queue) release(seq uint64, why string) bool {
	if q.closed || seq == 0 || seq < q.next || seq > q.seq {
		return false
	}
	if _, ok := q.released[seq]; ok {
		return false
	}

	if it, ok := q.pending[seq]; ok {
		heap.Remove(&q.items, it.index)
		delete(q.pending, seq)
		q.metrics.setPending(len(q.pending))
	}
	q.released[seq] = struct{}{}
	q.stats.Released++
	q.signal()

	q.logger.Debug("slot "+why, "seq", seq, "next", q.next)
	return true
}

// signal wakes the consumer. Callers hold mu.
func (q *Queue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// advance moves the cursor past released slots. Callers hold mu.
func (q *Queue) advance() {
	for {
		if _, ok := q.released[q.next]; ok {
			delete(q.released, q.next)
			q.next++
			continue
		}
		return
	}
}

// Run drains the queue until ctx is cancelled or the queue is closed. It
// must be called from exactly one goroutine.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("playback started")
	defer q.logger.Info("playback stopped")

	for {
		msg, err := q.take(ctx)
		if errors.Is(err, ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		q.play(ctx, msg)
	}
}

// take blocks until the message at the cursor is available.
func (q *Queue) take(ctx context.Context) (Message, error) {
	var (
		gap    <-chan time.Time
		gapSeq uint64
	)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrQueueClosed
		}

		q.advance()
		if q.next != gapSeq {
			gap = nil
		}
		if !q.paused && q.items.Len() > 0 {
			head := q.items[0]
			if head.msg.Seq == q.next {
				heap.Pop(&q.items)
				delete(q.pending, head.msg.Seq)
				q.next++
				q.metrics.setPending(len(q.pending))
				q.mu.Unlock()
				return head.msg, nil
			}

			// A later message is waiting on a missing slot.
			if q.slotTimeout > 0 && gap == nil {
				gap = time.After(q.slotTimeout)
				gapSeq = q.next
			}
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-gap:
			gap = nil
			q.mu.Lock()
			if q.next == gapSeq {
				q.logger.Warn("giving up on missing slot", "seq", gapSeq, "timeout", q.slotTimeout)
				q.released[gapSeq] = struct{}{}
				q.stats.Released++
			}
			q.mu.Unlock()
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (q *Queue) play(ctx context.Context, msg Message) {
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	q.current = &msg
	q.abandon = cancel
	q.mu.Unlock()

	if q.broadcaster != nil {
		q.broadcaster.Broadcast(msg)
	}

	start := time.Now()
	q.logger.Info("playing", "seq", msg.Seq, "source", msg.Source, "bytes", len(msg.Audio))
	err := q.sink.Play(playCtx, msg)
	elapsed := time.Since(start)

	q.mu.Lock()
	q.current = nil
	q.abandon = nil
	q.stats.LastPlay = time.Now()
	switch {
	case err == nil:
		q.stats.Played++
	case playCtx.Err() != nil:
		q.stats.Abandoned++
	default:
		q.stats.Failed++
	}
	q.mu.Unlock()

	switch {
	case err == nil:
		q.metrics.played(elapsed)
	case playCtx.Err() != nil:
		q.logger.Info("playback abandoned", "seq", msg.Seq)
		q.metrics.abandoned()
	default:
		q.logger.Error("playback failed", "err", &DeviceError{Seq: msg.Seq, Err: err})
		q.metrics.failed()
	}
}

// Pause holds playback. The current message is paused when the sink
// supports it; otherwise pausing takes effect before the next message.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()

	if c, ok := q.sink.(Controller); ok {
		c.Pause()
	}
	q.logger.Info("playback paused")
}

// Resume continues after Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.signal()
	q.mu.Unlock()

	if c, ok := q.sink.(Controller); ok {
		c.Resume()
	}
	q.logger.Info("playback resumed")
}

// SkipCurrent abandons the message that is playing. It reports false when
// nothing is playing.
func (q *Queue) SkipCurrent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandon == nil {
		return false
	}
	q.logger.Info("skipping current message", "seq", q.current.Seq)
	q.abandon()
	return true
}

// Stop abandons the current message and drops every message that has
// already arrived. Slots still being synthesized play when they arrive.
func (q *Queue) Stop() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandon != nil {
		q.abandon()
	}
	dropped := 0
	for seq := range q.pending {
		if q.release(seq, "stopped") {
			dropped++
		}
	}
	q.logger.Info("playback stopped", "dropped", dropped)
	return dropped
}

// SetVolume sets the sink volume in the range [0, 1].
func (q *Queue) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %g", volume)
	}
	c, ok := q.sink.(Controller)
	if !ok {
		return errors.New("sink does not support volume")
	}
	if err := c.SetVolume(volume); err != nil {
		return err
	}

	q.mu.Lock()
	q.volume = volume
	q.mu.Unlock()
	q.logger.Info("volume set", "volume", volume)
	return nil
}

// Volume returns the last volume set.
func (q *Queue) Volume() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

// Restart abandons the current message and resets the sink.
func (q *Queue) Restart() error {
	q.SkipCurrent()

	r, ok := q.sink.(Restarter)
	if !ok {
		return nil
	}
	q.logger.Info("restarting audio sink")
	return r.Restart()
}

// State reports the queue lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.closed:
		return StateClosed
	case q.current != nil || len(q.pending) > 0:
		return StateDraining
	default:
		return StateEmpty
	}
}

// Len returns the number of messages waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of queue activity.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Pending = len(q.pending)
	s.Next = q.next
	return s
}

// Close stops the consumer, drops pending messages and closes the sink.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.abandon != nil {
		q.abandon()
	}
	q.items = nil
	q.pending = make(map[uint64]*item)
	q.signal()
	q.mu.Unlock()

	return q.sink.Close()
}

type item struct {
	msg     Message
	arrived time.Time
	index   int
}

// messageHeap is a min-heap of pending messages ordered by sequence.
type messageHeap []*item

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].msg.Seq < h[j].msg.Seq }

func (h messageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *messageHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
