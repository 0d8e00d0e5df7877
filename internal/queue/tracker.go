package queue

import (
	"sync"
	"time"
)

// Task lifecycle states as reported by the execution channel. These are
// distinct from the durable job record statuses: a task handle is ephemeral
// and its state is lost on process restart, while the job record survives.
const (
	TaskPending    = "PENDING"
	TaskProcessing = "PROCESSING"
	TaskSuccess    = "SUCCESS"
	TaskFailure    = "FAILURE"
)

const taskRetention = time.Hour

// TaskSnapshot is the channel-level status view returned to pollers.
type TaskSnapshot struct {
	TaskID string
	Status string
	Ready  bool
	Result any
	Error  string
}

// Tracker is the execution channel's in-process bookkeeping of dispatched
// tasks. It is best-effort by design; callers needing the durable outcome
// must read the job record instead.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

type taskEntry struct {
	status string
	result any
	errMsg string
	doneAt time.Time
}

func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*taskEntry)}
}

func (t *Tracker) Register(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	t.tasks[taskID] = &taskEntry{status: TaskPending}
}

func (t *Tracker) Started(taskID string) {
	t.setState(taskID, TaskProcessing, nil, "")
}

func (t *Tracker) Succeeded(taskID string, result any) {
	t.setState(taskID, TaskSuccess, result, "")
}

func (t *Tracker) Failed(taskID, errMsg string) {
	t.setState(taskID, TaskFailure, nil, errMsg)
}

// Snapshot reports the current state of a task handle. An unregistered
// handle reads as PENDING: the channel cannot distinguish a task it has not
// seen yet from one that never existed.
func (t *Tracker) Snapshot(taskID string) TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.tasks[taskID]
	if !ok {
		return TaskSnapshot{TaskID: taskID, Status: TaskPending}
	}

	snap := TaskSnapshot{
		TaskID: taskID,
		Status: entry.status,
		Ready:  entry.status == TaskSuccess || entry.status == TaskFailure,
		Result: entry.result,
		Error:  entry.errMsg,
	}
	return snap
}

func (t *Tracker) setState(taskID, status string, result any, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tasks[taskID]
	if !ok {
		entry = &taskEntry{}
		t.tasks[taskID] = entry
	}
	entry.status = status
	entry.result = result
	entry.errMsg = errMsg
	if status == TaskSuccess || status == TaskFailure {
		entry.doneAt = time.Now()
	}
}

// prune drops terminal entries past retention. Callers hold the write lock.
func (t *Tracker) prune() {
	cutoff := time.Now().Add(-taskRetention)
	for id, entry := range t.tasks {
		if !entry.doneAt.IsZero() && entry.doneAt.Before(cutoff) {
			delete(t.tasks, id)
		}
	}
}
