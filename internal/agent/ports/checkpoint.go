package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNoCheckpoint is returned when a task has no stored checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// ErrNoInterruption is returned when a task has no interruption record.
var ErrNoInterruption = errors.New("no interruption found")

// Checkpoint is a durable snapshot of task progress. Sequence is
// monotonic and gap-free per task; the transcript may be stored in
// truncated form.
type Checkpoint struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	Sequence      int            `json:"sequence"`
	Phase         string         `json:"phase"`
	Iteration     int            `json:"iteration"`
	ToolCalls     int            `json:"tool_calls"`
	Transcript    []Message      `json:"transcript"`
	WorkspacePath string         `json:"workspace_path,omitempty"`
	Discoveries   []string       `json:"discoveries,omitempty"`
	Artifacts     Artifacts      `json:"artifacts"`
	Memory        map[string]any `json:"memory,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Artifacts tracks concrete outputs produced so far.
type Artifacts struct {
	FilesCreated []string `json:"files_created,omitempty"`
	URLsDeployed []string `json:"urls_deployed,omitempty"`
	ReposCreated []string `json:"repos_created,omitempty"`
}

// Interruption records why a task stopped and whether it can come back.
type Interruption struct {
	TaskID          string    `json:"task_id"`
	Reason          string    `json:"reason"`
	Signal          string    `json:"signal,omitempty"`
	CheckpointID    string    `json:"checkpoint_id,omitempty"`
	Resumable       bool      `json:"resumable"`
	ResumeAttempted bool      `json:"resume_attempted"`
	ResumeSucceeded bool      `json:"resume_succeeded"`
	CreatedAt       time.Time `json:"created_at"`
}

// CheckpointStore persists checkpoints and interruption records.
// Semantics are append-only: Append never overwrites an existing
// (task, sequence) pair.
type CheckpointStore interface {
	// Append persists a checkpoint. Appending a sequence that already
	// exists for the task is an error.
	Append(ctx context.Context, cp *Checkpoint) error

	// Latest returns the highest-sequence checkpoint for the task,
	// or ErrNoCheckpoint.
	Latest(ctx context.Context, taskID string) (*Checkpoint, error)

	// History returns up to limit checkpoints for the task, newest
	// first. limit <= 0 means all.
	History(ctx context.Context, taskID string, limit int) ([]*Checkpoint, error)

	// Prune removes all but the newest keep checkpoints for the task.
	Prune(ctx context.Context, taskID string, keep int) error

	// TaskIDs lists every task with at least one checkpoint.
	TaskIDs(ctx context.Context) ([]string, error)

	// RecordInterruption stores or replaces the interruption record
	// for intr.TaskID.
	RecordInterruption(ctx context.Context, intr *Interruption) error

	// Interruption returns the interruption record for the task, or
	// ErrNoInterruption.
	Interruption(ctx context.Context, taskID string) (*Interruption, error)

	// MarkResumeAttempt flags that a resume was tried and how it went.
	MarkResumeAttempt(ctx context.Context, taskID string, succeeded bool) error
}
