package domain

import (
	"time"

	"aide/internal/agent/ports"
)

// Re-export the event listener contract defined at the port layer.
type AgentEvent = ports.AgentEvent
type EventListener = ports.EventListener

// BaseEvent provides common fields for all events
type BaseEvent struct {
	timestamp time.Time
	taskID    string
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e *BaseEvent) GetTaskID() string {
	return e.taskID
}

func newBaseEvent(taskID string, ts time.Time) BaseEvent {
	return BaseEvent{
		timestamp: ts,
		taskID:    taskID,
	}
}

// NewBaseEvent builds the common header shared by all events.
func NewBaseEvent(taskID string, ts time.Time) BaseEvent {
	return newBaseEvent(taskID, ts)
}

// TaskStartEvent - emitted when the loop begins working a goal
type TaskStartEvent struct {
	BaseEvent
	Goal            string
	IterationBudget int
}

func (e *TaskStartEvent) EventType() string { return "task_start" }

// IterationStartEvent - emitted at start of each loop iteration
type IterationStartEvent struct {
	BaseEvent
	Iteration  int
	TotalIters int
}

func (e *IterationStartEvent) EventType() string { return "iteration_start" }

// ThinkingEvent - emitted when the reasoning service is generating a response
type ThinkingEvent struct {
	BaseEvent
	Iteration    int
	MessageCount int
}

func (e *ThinkingEvent) EventType() string { return "thinking" }

// ToolCallStartEvent - emitted when tool execution begins
type ToolCallStartEvent struct {
	BaseEvent
	Iteration int
	CallID    string
	ToolName  string
	Arguments map[string]interface{}
}

func (e *ToolCallStartEvent) EventType() string { return "tool_call_start" }

// ToolCallCompleteEvent - emitted when tool execution finishes
type ToolCallCompleteEvent struct {
	BaseEvent
	CallID   string
	ToolName string
	Result   string
	Success  bool
	Error    string
	Duration time.Duration
}

func (e *ToolCallCompleteEvent) EventType() string { return "tool_call_complete" }

// IterationCompleteEvent - emitted at end of iteration
type IterationCompleteEvent struct {
	BaseEvent
	Iteration  int
	TokensUsed int
	ToolsRun   int
}

func (e *IterationCompleteEvent) EventType() string { return "iteration_complete" }

// CheckpointEvent - emitted after a checkpoint write attempt
type CheckpointEvent struct {
	BaseEvent
	Sequence  int
	Iteration int
	Persisted bool
}

func (e *CheckpointEvent) EventType() string { return "checkpoint" }

// TaskCompleteEvent - emitted when the loop reaches a terminal phase
type TaskCompleteEvent struct {
	BaseEvent
	FinalAnswer     string
	TotalIterations int
	TotalTokens     int
	StopReason      string
	Duration        time.Duration
}

func (e *TaskCompleteEvent) EventType() string { return "task_complete" }

// ErrorEvent - emitted on recoverable and fatal errors
type ErrorEvent struct {
	BaseEvent
	Iteration   int
	Phase       string
	Error       error
	Recoverable bool
}

func (e *ErrorEvent) EventType() string { return "error" }
