package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/agent/ports/mocks"
	"aide/internal/checkpoint"
)

// seedCheckpoint writes a restorable checkpoint with enough progress to
// clear the resume gate.
func seedCheckpoint(t *testing.T, manager *checkpoint.Manager, taskID, workspace string) *ports.Checkpoint {
	t.Helper()
	state := &domain.TaskState{
		TaskID:        taskID,
		Goal:          "migrate the billing tables",
		SystemPrompt:  "You are a careful operator.",
		WorkspacePath: workspace,
		Messages: []domain.Message{
			{Role: ports.RoleSystem, Content: "You are a careful operator."},
			{Role: ports.RoleUser, Content: "migrate the billing tables"},
			{Role: ports.RoleAssistant, Content: "Working through the tables."},
		},
		Iterations:    5,
		ToolCallCount: 3,
		TokenCount:    512,
		Phase:         domain.PhaseAwaitingResponse,
	}
	cp, err := manager.Checkpoint(context.Background(), state)
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	return cp
}

func TestResumeCompletesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	manager := checkpoint.New(mocks.NewMemoryCheckpointStore(), checkpoint.Config{})
	cp := seedCheckpoint(t, manager, "task-resume", t.TempDir())
	err := manager.RecordInterruption(ctx, &ports.Interruption{
		TaskID:       "task-resume",
		Reason:       "shutdown",
		CheckpointID: cp.ID,
		Resumable:    true,
	})
	if err != nil {
		t.Fatalf("RecordInterruption() error = %v", err)
	}

	script := &mocks.ScriptedReasoningClient{
		Responses: []*ports.CompletionResponse{finalResponse("migration finished")},
	}
	c := newTestCoordinator(t, Config{}, Deps{Reasoning: script, Checkpoints: manager})

	task, err := c.Resume(ctx, "task-resume")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if task.Status != ports.TaskCompleted {
		t.Fatalf("Status = %s (message %q)", task.Status, task.Message)
	}
	if task.Message != "migration finished" {
		t.Errorf("Message = %q", task.Message)
	}
	if task.Goal != "migrate the billing tables" {
		t.Errorf("Goal = %q, record was not rebuilt from the checkpoint", task.Goal)
	}
	if task.LastCheckpointID != cp.ID {
		t.Errorf("LastCheckpointID = %q, want %q", task.LastCheckpointID, cp.ID)
	}

	if len(script.Requests) == 0 {
		t.Fatal("reasoning client never called")
	}
	req := script.Requests[0]
	if len(req.Messages) != 3 {
		t.Fatalf("restored transcript has %d messages, want 3", len(req.Messages))
	}
	goalMessages := 0
	for _, msg := range req.Messages {
		if msg.Role == ports.RoleUser && msg.Content == "migrate the billing tables" {
			goalMessages++
		}
	}
	if goalMessages != 1 {
		t.Errorf("goal appears %d times in the transcript, want 1", goalMessages)
	}

	intr, err := manager.Interruption(ctx, "task-resume")
	if err != nil {
		t.Fatalf("Interruption() error = %v", err)
	}
	if !intr.ResumeAttempted || !intr.ResumeSucceeded {
		t.Errorf("interruption record = attempted %t succeeded %t, want both true",
			intr.ResumeAttempted, intr.ResumeSucceeded)
	}
}

func TestResumeRefusesNonResumableInterruption(t *testing.T) {
	ctx := context.Background()
	manager := checkpoint.New(mocks.NewMemoryCheckpointStore(), checkpoint.Config{})
	seedCheckpoint(t, manager, "task-dead", t.TempDir())
	err := manager.RecordInterruption(ctx, &ports.Interruption{
		TaskID:    "task-dead",
		Reason:    "checkpoint write failed",
		Resumable: false,
	})
	if err != nil {
		t.Fatalf("RecordInterruption() error = %v", err)
	}

	c := newTestCoordinator(t, Config{}, Deps{
		Reasoning:   &mocks.ScriptedReasoningClient{},
		Checkpoints: manager,
	})

	_, err = c.Resume(ctx, "task-dead")
	if err == nil {
		t.Fatal("Resume() accepted a non-resumable task")
	}
	if !strings.Contains(err.Error(), "not resumable") || !strings.Contains(err.Error(), "checkpoint write failed") {
		t.Errorf("error = %v, want the recorded reason", err)
	}
	if _, ok := c.Task("task-dead"); ok {
		t.Error("refused resume still tracked a record")
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	manager := checkpoint.New(mocks.NewMemoryCheckpointStore(), checkpoint.Config{})
	c := newTestCoordinator(t, Config{}, Deps{
		Reasoning:   &mocks.ScriptedReasoningClient{},
		Checkpoints: manager,
	})

	_, err := c.Resume(context.Background(), "ghost")
	if err == nil {
		t.Fatal("Resume() accepted a task with no checkpoint")
	}
	if !strings.Contains(err.Error(), "cannot resume") {
		t.Errorf("error = %v", err)
	}
}

func TestResumeRequiresCheckpointing(t *testing.T) {
	c := newTestCoordinator(t, Config{}, Deps{Reasoning: &mocks.ScriptedReasoningClient{}})

	_, err := c.Resume(context.Background(), "task-1")
	if err == nil {
		t.Fatal("Resume() worked without a checkpoint manager")
	}
	if !strings.Contains(err.Error(), "resume unavailable") {
		t.Errorf("error = %v", err)
	}
}

func TestResumeWhileDraining(t *testing.T) {
	ctx := context.Background()
	manager := checkpoint.New(mocks.NewMemoryCheckpointStore(), checkpoint.Config{})
	seedCheckpoint(t, manager, "task-late", t.TempDir())

	c := newTestCoordinator(t, Config{}, Deps{
		Reasoning:   &mocks.ScriptedReasoningClient{},
		Checkpoints: manager,
	})
	c.Drain()

	if _, err := c.Resume(ctx, "task-late"); !errors.Is(err, ports.ErrDraining) {
		t.Errorf("Resume() error = %v, want ErrDraining", err)
	}
}

func TestStateFromCheckpointHandlesJSONNumbers(t *testing.T) {
	cp := &ports.Checkpoint{
		ID:            "cp-1",
		TaskID:        "task-9",
		Iteration:     7,
		ToolCalls:     4,
		WorkspacePath: "/tmp/ws",
		Transcript: []ports.Message{
			{Role: ports.RoleSystem, Content: "prompt"},
		},
		Memory: map[string]any{
			"goal":          "rebuild the index",
			"system_prompt": "prompt",
			// Round-tripping through JSON widens the count to float64.
			"token_count": float64(2048),
		},
	}

	state := stateFromCheckpoint(cp)
	if state.Goal != "rebuild the index" {
		t.Errorf("Goal = %q", state.Goal)
	}
	if state.SystemPrompt != "prompt" {
		t.Errorf("SystemPrompt = %q", state.SystemPrompt)
	}
	if state.TokenCount != 2048 {
		t.Errorf("TokenCount = %d, want 2048", state.TokenCount)
	}
	if state.Iterations != 7 || state.ToolCallCount != 4 {
		t.Errorf("progress = %d/%d, want 7/4", state.Iterations, state.ToolCallCount)
	}
	if state.Phase != domain.PhaseStart {
		t.Errorf("Phase = %s, want %s for an unset phase", state.Phase, domain.PhaseStart)
	}

	// Mutating the restored transcript must not touch the checkpoint.
	state.Messages[0].Content = "mutated"
	if cp.Transcript[0].Content != "prompt" {
		t.Error("restored state shares the checkpoint's transcript slice")
	}
}
