package app

import (
	"sort"
	"sync"
	"time"

	"aide/internal/agent/ports"
)

// taskTracker is the in-memory registry of task records. Access is
// copy-in/copy-out: callers never hold a pointer into the registry, so
// a record returned from one method stays stable while the task moves
// on.
type taskTracker struct {
	mu    sync.RWMutex
	tasks map[string]*ports.Task
}

func newTaskTracker() *taskTracker {
	return &taskTracker{tasks: make(map[string]*ports.Task)}
}

func (t *taskTracker) create(id, goal, workspace string, opts ports.SubmitOptions, now time.Time) *ports.Task {
	task := &ports.Task{
		ID:             id,
		Goal:           goal,
		Owner:          opts.Owner,
		Status:         ports.TaskPending,
		IterationLimit: opts.IterationLimit,
		WorkspacePath:  workspace,
		Metadata:       cloneMetadata(opts.Metadata),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[id] = task
	return copyTask(task)
}

// adopt registers a record rebuilt from persisted state, typically a
// checkpoint surviving a process restart. An existing record wins.
func (t *taskTracker) adopt(task *ports.Task) *ports.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.tasks[task.ID]; ok {
		return copyTask(existing)
	}
	stored := copyTask(task)
	t.tasks[task.ID] = stored
	return copyTask(stored)
}

func (t *taskTracker) get(id string) (*ports.Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return nil, false
	}
	return copyTask(task), true
}

// list returns every record, newest first.
func (t *taskTracker) list() []*ports.Task {
	t.mu.RLock()
	out := make([]*ports.Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, copyTask(task))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (t *taskTracker) setRunning(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return
	}
	task.Status = ports.TaskRunning
	task.Message = ""
	task.UpdatedAt = now
}

// finish records the run's own terminal verdict. Only the goroutine
// driving the task calls it, so it overwrites unconditionally.
func (t *taskTracker) finish(id string, status ports.TaskStatus, message string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return
	}
	task.Status = status
	task.Message = message
	task.UpdatedAt = now
}

// markInterrupted records a shutdown-preserved interruption. A task that
// reached its own terminal status during the drain window keeps it.
func (t *taskTracker) markInterrupted(id, checkpointID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return
	}
	if task.Status == ports.TaskCompleted || task.Status == ports.TaskFailed {
		return
	}
	task.Status = ports.TaskInterrupted
	task.Message = "interrupted: progress checkpointed"
	task.LastCheckpointID = checkpointID
	task.UpdatedAt = now
}

// markFailed records that progress could not be preserved. A completed
// task keeps its result.
func (t *taskTracker) markFailed(id, reason string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return
	}
	if task.Status == ports.TaskCompleted {
		return
	}
	task.Status = ports.TaskFailed
	task.Message = reason
	task.UpdatedAt = now
}

func (t *taskTracker) setCheckpointID(id, checkpointID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return
	}
	task.LastCheckpointID = checkpointID
	task.UpdatedAt = now
}

func (t *taskTracker) attachVerification(id string, verified bool, confidence string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return
	}
	if task.Metadata == nil {
		task.Metadata = make(map[string]string, 2)
	}
	if verified {
		task.Metadata["verified"] = "true"
	} else {
		task.Metadata["verified"] = "false"
	}
	task.Metadata["verification_confidence"] = confidence
	task.UpdatedAt = now
}

func copyTask(task *ports.Task) *ports.Task {
	dup := *task
	dup.Metadata = cloneMetadata(task.Metadata)
	return &dup
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	dup := make(map[string]string, len(metadata))
	for k, v := range metadata {
		dup[k] = v
	}
	return dup
}
