package ports

import (
	"errors"
	"time"
)

// ErrDraining is returned for submissions that arrive while the process
// is shutting down.
var ErrDraining = errors.New("not accepting new tasks: shutting down")

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskInterrupted TaskStatus = "interrupted"
	TaskFailed      TaskStatus = "failed"
	TaskCompleted   TaskStatus = "completed"
)

// Task is the unit of work the coordinator tracks.
type Task struct {
	ID               string            `json:"id"`
	Goal             string            `json:"goal"`
	Owner            string            `json:"owner,omitempty"`
	Status           TaskStatus        `json:"status"`
	Message          string            `json:"message,omitempty"`
	IterationLimit   int               `json:"iteration_limit"`
	LastCheckpointID string            `json:"last_checkpoint_id,omitempty"`
	WorkspacePath    string            `json:"workspace_path,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Terminal reports whether the status is a final one.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskInterrupted:
		return true
	}
	return false
}

// SubmitOptions carries per-task overrides accepted at submission.
type SubmitOptions struct {
	Owner          string               `json:"owner,omitempty"`
	IterationLimit int                  `json:"iteration_limit,omitempty"`
	WorkspacePath  string               `json:"workspace_path,omitempty"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	Verification   *VerificationRequest `json:"verification,omitempty"`
}

// VerificationRequest asks for outcome verification once the task
// completes. The workspace comes from the task itself.
type VerificationRequest struct {
	DeploymentURL string   `json:"deployment_url,omitempty"`
	ExpectedFiles []string `json:"expected_files,omitempty"`
	BuildCommand  string   `json:"build_command,omitempty"`
	TestCommand   string   `json:"test_command,omitempty"`
}

// TaskResult represents the result of an execution run
type TaskResult struct {
	Answer     string        `json:"answer"`
	Messages   []Message     `json:"messages"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
	TokensUsed int           `json:"tokens_used"`
	StopReason string        `json:"stop_reason"`
	// Failure carries the captured error message when the run did not
	// complete normally. Failures are results, not Go errors.
	Failure  string        `json:"failure,omitempty"`
	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration"`
}

// Stop reasons reported by TaskResult.StopReason.
const (
	StopFinalAnswer     = "final_answer"
	StopBudgetExhausted = "budget_exhausted"
	StopInterrupted     = "interrupted"
	StopErrored         = "error"
)
