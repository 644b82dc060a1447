package alert

import "sync"

// Feed is the session's alert list, newest first. Alerts are only ever added.
type Feed struct {
	mu     sync.RWMutex
	alerts []Alert
	seen   map[string]struct{}
}

// NewFeed creates a feed pre-populated with the given alerts, kept in the
// order supplied.
func NewFeed(initial ...Alert) *Feed {
	f := &Feed{seen: make(map[string]struct{})}
	for i := len(initial) - 1; i >= 0; i-- {
		f.add(initial[i])
	}
	return f
}

// Add inserts an alert at the head of the feed.
func (f *Feed) Add(a Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(a)
}

// AddIfAbsent inserts the alert unless one with the same ID exists. Returns
// true when the alert was added.
func (f *Feed) AddIfAbsent(a Alert) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[a.ID]; ok {
		return false
	}
	f.add(a)
	return true
}

func (f *Feed) add(a Alert) {
	f.alerts = append([]Alert{a}, f.alerts...)
	f.seen[a.ID] = struct{}{}
}

// Get returns the alert with the given ID. When IDs collide the newest wins.
func (f *Feed) Get(id string) (Alert, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, a := range f.alerts {
		if a.ID == id {
			return a, true
		}
	}
	return Alert{}, false
}

// List returns a copy of the feed, newest first.
func (f *Feed) List() []Alert {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Alert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

// Len reports the number of alerts in the feed.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.alerts)
}
