// Package audit keeps an append-only trail of ledger events in an external
// sink. The trail is write-only; nothing reads it back into the ledger.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
)

const defaultBuffer = 256

// Event is one ledger mutation as written to the trail.
type Event struct {
	ActionID string           `json:"action_id"`
	Kind     ledger.EventKind `json:"kind"`
	Type     ledger.Type      `json:"type"`
	Status   ledger.Status    `json:"status"`
	Details  string           `json:"details"`
	At       time.Time        `json:"at"`
}

// FromLedger converts a ledger event observed at time at.
func FromLedger(ev ledger.Event, at time.Time) Event {
	return Event{
		ActionID: ev.Action.ID,
		Kind:     ev.Kind,
		Type:     ev.Action.Type,
		Status:   ev.Action.Status,
		Details:  ev.Action.Details,
		At:       at.UTC(),
	}
}

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Recorder copies ledger events to a Sink on its own goroutine. Events are
// dropped with a warning when the buffer is full.
type Recorder struct {
	sink   Sink
	logger log.Logger
	events chan Event
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder creates a recorder with the given buffer size (0 for default).
func NewRecorder(sink Sink, logger log.Logger, buffer int) *Recorder {
	if logger == nil {
		logger = log.Nop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Recorder{
		sink:   sink,
		logger: logger,
		events: make(chan Event, buffer),
		now:    time.Now,
	}
}

// Attach subscribes the recorder to l and returns the unsubscribe function.
func (r *Recorder) Attach(l *ledger.Ledger) func() {
	return l.Subscribe(func(ev ledger.Event) {
		r.Enqueue(FromLedger(ev, r.now()))
	})
}

// Enqueue queues ev without blocking. Returns false if it was dropped.
func (r *Recorder) Enqueue(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.events <- ev:
		return true
	default:
		r.dropped++
		r.logger.Warn(context.Background(), "audit buffer full, event dropped",
			"action_id", ev.ActionID, "dropped_total", r.dropped)
		return false
	}
}

// Dropped reports how many events were discarded.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run writes queued events until Close is called and the queue is drained.
// ctx is passed to the sink; cancelling it does not stop the loop.
func (r *Recorder) Run(ctx context.Context) {
	for ev := range r.events {
		if err := r.sink.Write(ctx, ev); err != nil {
			r.logger.Error(ctx, err, "audit write failed", "action_id", ev.ActionID, "kind", ev.Kind)
		}
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.events)
}
