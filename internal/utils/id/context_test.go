package id

import (
	"context"
	"strings"
	"testing"
)

func TestTaskIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TaskIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty task id, got %q", got)
	}

	ctx = WithTaskID(ctx, "task-123")
	if got := TaskIDFromContext(ctx); got != "task-123" {
		t.Fatalf("expected task-123, got %q", got)
	}
}

func TestWithTaskIDIgnoresEmpty(t *testing.T) {
	ctx := WithTaskID(context.Background(), "")
	if got := TaskIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty task id, got %q", got)
	}
}

func TestIDsFromContext(t *testing.T) {
	ctx := WithOwner(WithTaskID(context.Background(), "task-9"), "ops")
	ids := IDsFromContext(ctx)
	if ids.TaskID != "task-9" || ids.Owner != "ops" {
		t.Fatalf("unexpected ids: %+v", ids)
	}
}

func TestGeneratorPrefixes(t *testing.T) {
	cases := map[string]func() string{
		"task-":  NewTaskID,
		"ckpt-":  NewCheckpointID,
		"sub-":   NewSubTaskID,
		"notif-": NewNotificationID,
	}
	for prefix, gen := range cases {
		id := gen()
		if !strings.HasPrefix(id, prefix) {
			t.Errorf("expected prefix %q, got %q", prefix, id)
		}
		if len(id) <= len(prefix) {
			t.Errorf("identifier %q has empty body", id)
		}
	}
}

func TestGeneratorStrategies(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	id := NewTaskID()
	body := strings.TrimPrefix(id, "task-")
	if strings.Count(body, "-") != 4 {
		t.Fatalf("expected uuid-shaped body, got %q", body)
	}
}

func TestNewULIDSortable(t *testing.T) {
	a := NewULID()
	b := NewULID()
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected ulid lengths: %q %q", a, b)
	}
	if a > b {
		t.Fatalf("expected %q <= %q", a, b)
	}
}
