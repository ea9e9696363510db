package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/internal/agent/ports"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func checkpointFixture(taskID string, seq int) *ports.Checkpoint {
	return &ports.Checkpoint{
		ID:        fmt.Sprintf("ckpt-%s-%d", taskID, seq),
		TaskID:    taskID,
		Sequence:  seq,
		Phase:     "executing_tools",
		Iteration: seq * 10,
		ToolCalls: seq * 2,
		Transcript: []ports.Message{
			{Role: ports.RoleUser, Content: "migrate the billing tables"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_AppendRoundTripsThroughReopen(t *testing.T) {
	store, dbPath := newTestStore(t)
	ctx := context.Background()

	cp := checkpointFixture("task-1", 1)
	cp.WorkspacePath = "/tmp/task-1"
	cp.Discoveries = []string{"billing schema is v3"}
	cp.Artifacts = ports.Artifacts{FilesCreated: []string{"migrations/0042.sql"}}
	cp.Memory = map[string]any{"goal": "migrate the billing tables"}

	if err := store.Append(ctx, cp); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Reopen to prove the data and schema survive a process restart.
	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	reloaded, err := reopened.Latest(ctx, "task-1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if reloaded.ID != cp.ID || reloaded.Sequence != 1 || reloaded.Phase != "executing_tools" {
		t.Errorf("identity lost: %+v", reloaded)
	}
	if len(reloaded.Transcript) != 1 || reloaded.Transcript[0].Content != "migrate the billing tables" {
		t.Errorf("transcript lost: %+v", reloaded.Transcript)
	}
	if len(reloaded.Discoveries) != 1 || reloaded.Discoveries[0] != "billing schema is v3" {
		t.Errorf("discoveries lost: %v", reloaded.Discoveries)
	}
	if reloaded.Memory["goal"] != "migrate the billing tables" {
		t.Errorf("memory lost: %v", reloaded.Memory)
	}
	if reloaded.WorkspacePath != "/tmp/task-1" {
		t.Errorf("workspace lost: %q", reloaded.WorkspacePath)
	}
}

func TestStore_AppendRejectsDuplicateSequence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, checkpointFixture("task-1", 1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	dup := checkpointFixture("task-1", 1)
	dup.ID = "ckpt-task-1-1b"
	err := store.Append(ctx, dup)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate sequence error, got %v", err)
	}

	// The same sequence under a different task is fine.
	if err := store.Append(ctx, checkpointFixture("task-2", 1)); err != nil {
		t.Fatalf("Append() for second task error = %v", err)
	}
}

func TestStore_HistoryNewestFirstWithLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for seq := 1; seq <= 4; seq++ {
		if err := store.Append(ctx, checkpointFixture("task-1", seq)); err != nil {
			t.Fatalf("Append() seq %d error = %v", seq, err)
		}
	}

	history, err := store.History(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 || history[0].Sequence != 4 || history[3].Sequence != 1 {
		t.Fatalf("history = %+v", history)
	}

	limited, err := store.History(ctx, "task-1", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 2 || limited[0].Sequence != 4 || limited[1].Sequence != 3 {
		t.Errorf("limited history = %+v", limited)
	}
}

func TestStore_PruneKeepsNewest(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for seq := 1; seq <= 5; seq++ {
		if err := store.Append(ctx, checkpointFixture("task-1", seq)); err != nil {
			t.Fatalf("Append() seq %d error = %v", seq, err)
		}
	}
	// Another task's rows must survive the prune untouched.
	if err := store.Append(ctx, checkpointFixture("task-2", 1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := store.Prune(ctx, "task-1", 2); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	history, err := store.History(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Sequence != 5 || history[1].Sequence != 4 {
		t.Fatalf("post-prune history = %+v", history)
	}

	other, err := store.Latest(ctx, "task-2")
	if err != nil || other.Sequence != 1 {
		t.Errorf("other task affected: %+v, %v", other, err)
	}
}

func TestStore_LatestMissingTask(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Latest(context.Background(), "task-none"); !errors.Is(err, ports.ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestStore_TaskIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// task-b gets two checkpoints so DISTINCT matters.
	for _, cp := range []*ports.Checkpoint{
		checkpointFixture("task-b", 1),
		checkpointFixture("task-b", 2),
		checkpointFixture("task-a", 1),
	} {
		if err := store.Append(ctx, cp); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	ids, err := store.TaskIDs(ctx)
	if err != nil {
		t.Fatalf("TaskIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "task-a" || ids[1] != "task-b" {
		t.Errorf("TaskIDs = %v, want [task-a task-b]", ids)
	}
}

func TestStore_InterruptionLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Interruption(ctx, "task-1"); !errors.Is(err, ports.ErrNoInterruption) {
		t.Fatalf("expected ErrNoInterruption, got %v", err)
	}
	if err := store.MarkResumeAttempt(ctx, "task-1", true); !errors.Is(err, ports.ErrNoInterruption) {
		t.Fatalf("expected ErrNoInterruption from MarkResumeAttempt, got %v", err)
	}

	first := &ports.Interruption{
		TaskID:    "task-1",
		Reason:    "budget exhausted",
		Resumable: false,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.RecordInterruption(ctx, first); err != nil {
		t.Fatalf("RecordInterruption() error = %v", err)
	}

	// Recording again replaces the row.
	second := &ports.Interruption{
		TaskID:       "task-1",
		Reason:       "shutdown signal received",
		Signal:       "SIGTERM",
		CheckpointID: "ckpt-task-1-3",
		Resumable:    true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.RecordInterruption(ctx, second); err != nil {
		t.Fatalf("RecordInterruption() replace error = %v", err)
	}
	if err := store.MarkResumeAttempt(ctx, "task-1", true); err != nil {
		t.Fatalf("MarkResumeAttempt() error = %v", err)
	}

	stored, err := store.Interruption(ctx, "task-1")
	if err != nil {
		t.Fatalf("Interruption() error = %v", err)
	}
	if stored.Reason != "shutdown signal received" || stored.Signal != "SIGTERM" {
		t.Errorf("replace lost fields: %+v", stored)
	}
	if !stored.Resumable || !stored.ResumeAttempted || !stored.ResumeSucceeded {
		t.Errorf("resume flags = %+v", stored)
	}
	if stored.CheckpointID != "ckpt-task-1-3" {
		t.Errorf("CheckpointID = %q", stored.CheckpointID)
	}
}
