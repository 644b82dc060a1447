package triage

import (
	"context"
	"sync"
	"time"
)

// TaskStatus is the lifecycle of one ProcessAlert run.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a handle on an in-flight ProcessAlert run. A failed analysis is
// recorded in the ledger; Err reports it for callers that want to wait.
type Task struct {
	ID      string
	AlertID string

	done chan struct{}

	mu          sync.Mutex
	status      TaskStatus
	err         error
	startedAt   time.Time
	completedAt time.Time
	actionIDs   []string
}

// TaskInfo is a point-in-time snapshot of a Task.
type TaskInfo struct {
	ID          string     `json:"id"`
	AlertID     string     `json:"alert_id"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	ActionIDs   []string   `json:"action_ids"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newTask(id, alertID string, now time.Time) *Task {
	return &Task{
		ID:        id,
		AlertID:   alertID,
		done:      make(chan struct{}),
		status:    TaskRunning,
		startedAt: now,
	}
}

// Done is closed when the run finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes or ctx is done. It returns the context
// error only; the run's own outcome is available from Err.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the analysis error of a finished run, nil otherwise.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Status returns the current status.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Info returns a snapshot of the task.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		ID:        t.ID,
		AlertID:   t.AlertID,
		Status:    t.status,
		ActionIDs: append([]string(nil), t.actionIDs...),
		StartedAt: t.startedAt,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	if !t.completedAt.IsZero() {
		at := t.completedAt
		info.CompletedAt = &at
	}
	return info
}

func (t *Task) addAction(id string) {
	t.mu.Lock()
	t.actionIDs = append(t.actionIDs, id)
	t.mu.Unlock()
}

func (t *Task) finish(err error, now time.Time) {
	t.mu.Lock()
	t.err = err
	t.status = TaskCompleted
	if err != nil {
		t.status = TaskFailed
	}
	t.completedAt = now
	t.mu.Unlock()
	close(t.done)
}
