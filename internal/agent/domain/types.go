package domain

import "aide/internal/agent/ports"

// Tier buckets goals by expected effort.
type Tier string

const (
	TierSimple      Tier = "simple"
	TierModerate    Tier = "moderate"
	TierComplex     Tier = "complex"
	TierVeryComplex Tier = "very_complex"
)

// Confidence expresses how sure the estimator is about its tier choice.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ComplexityEstimate is the estimator's verdict for a goal. Values are
// never mutated after construction.
type ComplexityEstimate struct {
	Tier                  Tier       `json:"tier"`
	RecommendedIterations int        `json:"recommended_iterations"`
	MinIterations         int        `json:"min_iterations"`
	MaxIterations         int        `json:"max_iterations"`
	Confidence            Confidence `json:"confidence"`
	Reasoning             string     `json:"reasoning"`
	RequiresDecomposition bool       `json:"requires_decomposition"`
}

// ExecutionMode tells the planner how sibling subtasks may run.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// SubTask is one decomposed unit of a larger goal.
type SubTask struct {
	ID                  string        `json:"id"`
	Description         string        `json:"description"`
	EstimatedIterations int           `json:"estimated_iterations"`
	DependsOn           []string      `json:"depends_on,omitempty"`
	Priority            int           `json:"priority"`
	Mode                ExecutionMode `json:"mode"`
}

// ExecutionBatch is an ordered group of subtasks whose dependencies are
// all satisfied by earlier batches.
type ExecutionBatch struct {
	SubTasks []SubTask `json:"subtasks"`
}

// Parallel reports whether the batch should fan out. A batch runs in
// parallel only when its members asked for it and there is more than one.
func (b ExecutionBatch) Parallel() bool {
	return len(b.SubTasks) > 1 && b.SubTasks[0].Mode == ModeParallel
}

// Phase is the execution loop state.
type Phase string

const (
	PhaseStart            Phase = "start"
	PhaseAwaitingResponse Phase = "awaiting_response"
	PhaseExecutingTools   Phase = "executing_tools"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether the phase ends the loop.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Re-export port DTOs the domain works with so call sites stay short.
type Message = ports.Message
type ToolCall = ports.ToolCall
type ToolResult = ports.ToolResult
type TaskResult = ports.TaskResult

// TaskState tracks execution state during the loop.
type TaskState struct {
	TaskID        string
	Goal          string
	SystemPrompt  string
	WorkspacePath string
	Messages      []Message
	Iterations    int
	ToolCallCount int
	TokenCount    int
	Phase         Phase
	FinalAnswer   string
	Discoveries   []string
	Artifacts     ports.Artifacts
}
