// Package ledger provides the session's action ledger: a newest-first log of
// security actions that can only grow, and whose entries change only through
// status transitions.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when an action ID is not in the ledger.
var ErrNotFound = errors.New("action not found")

// Type is the kind of security action.
type Type string

const (
	TypeLock      Type = "LOCK"
	TypeRotate    Type = "ROTATE"
	TypeVoiceCall Type = "VOICE_CALL"
	TypeAnalysis  Type = "ANALYSIS"
)

// Status tracks where an action is in its lifecycle.
type Status string

const (
	// StatusPending means announced, not yet resolved
	StatusPending Status = "PENDING"

	// StatusConsulting means awaiting an explicit human decision
	StatusConsulting Status = "CONSULTING"

	// StatusExecuted is terminal
	StatusExecuted Status = "EXECUTED"

	// StatusFailed is terminal
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// Action is a single ledger entry.
type Action struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// EventKind says what happened to an action.
type EventKind string

const (
	EventAppended EventKind = "appended"
	EventUpdated  EventKind = "updated"
)

// Event is delivered to subscribers after each mutation.
type Event struct {
	Kind   EventKind `json:"kind"`
	Action Action    `json:"action"`
}

// Ledger is safe for concurrent use. Subscribers run synchronously on the
// mutating goroutine, after the lock is released.
type Ledger struct {
	mu      sync.RWMutex
	actions []*Action
	clock   func() time.Time
	newID   func() string

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		clock: time.Now,
		newID: func() string { return "act_" + ulid.Make().String() },
		subs:  make(map[int]func(Event)),
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append creates a new action at the head of the ledger and returns its ID.
func (l *Ledger) Append(typ Type, status Status, details string) string {
	l.mu.Lock()
	a := &Action{
		ID:        l.newID(),
		Type:      typ,
		Status:    status,
		Details:   details,
		Timestamp: l.clock().UTC(),
	}
	l.actions = append(l.actions, a)
	ev := Event{Kind: EventAppended, Action: *a}
	l.mu.Unlock()

	l.publish(ev)
	return a.ID
}

// UpdateStatus replaces the status of an existing action, and its details when
// details is non-empty. ID, type and timestamp are preserved.
func (l *Ledger) UpdateStatus(id string, status Status, details string) error {
	return l.Transition(id, func(Action) (Status, string, error) {
		return status, details, nil
	})
}

// Transition applies decide to the current state of an action and writes the
// result, all under the ledger lock. If decide returns an error nothing is
// written.
func (l *Ledger) Transition(id string, decide func(cur Action) (Status, string, error)) error {
	l.mu.Lock()
	a := l.find(id)
	if a == nil {
		l.mu.Unlock()
		return ErrNotFound
	}
	status, details, err := decide(*a)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	a.Status = status
	if details != "" {
		a.Details = details
	}
	ev := Event{Kind: EventUpdated, Action: *a}
	l.mu.Unlock()

	l.publish(ev)
	return nil
}

// Get returns a copy of the action with the given ID.
func (l *Ledger) Get(id string) (Action, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a := l.find(id)
	if a == nil {
		return Action{}, false
	}
	return *a, true
}

// List returns a copy of all actions, newest first.
func (l *Ledger) List() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Action, 0, len(l.actions))
	for i := len(l.actions) - 1; i >= 0; i-- {
		out = append(out, *l.actions[i])
	}
	return out
}

// Len reports the number of actions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.actions)
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it.
func (l *Ledger) Subscribe(fn func(Event)) (unsubscribe func()) {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *Ledger) publish(ev Event) {
	l.subMu.RLock()
	fns := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// find must be called with l.mu held.
func (l *Ledger) find(id string) *Action {
	for i := len(l.actions) - 1; i >= 0; i-- {
		if l.actions[i].ID == id {
			return l.actions[i]
		}
	}
	return nil
}
