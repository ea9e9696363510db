package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"aide/internal/agent/ports"
)

// MemoryCheckpointStore is an in-memory ports.CheckpointStore for tests.
type MemoryCheckpointStore struct {
	mu            sync.Mutex
	checkpoints   map[string][]*ports.Checkpoint
	interruptions map[string]*ports.Interruption

	AppendErr error
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints:   make(map[string][]*ports.Checkpoint),
		interruptions: make(map[string]*ports.Interruption),
	}
}

func (s *MemoryCheckpointStore) Append(ctx context.Context, cp *ports.Checkpoint) error {
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	s.checkpoints[cp.TaskID] = append(s.checkpoints[cp.TaskID], &clone)
	return nil
}

func (s *MemoryCheckpointStore) Latest(ctx context.Context, taskID string) (*ports.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.checkpoints[taskID]
	if len(cps) == 0 {
		return nil, ports.ErrNoCheckpoint
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Sequence > latest.Sequence {
			latest = cp
		}
	}
	clone := *latest
	return &clone, nil
}

func (s *MemoryCheckpointStore) History(ctx context.Context, taskID string, limit int) ([]*ports.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := append([]*ports.Checkpoint(nil), s.checkpoints[taskID]...)
	sort.Slice(cps, func(i, j int) bool { return cps[i].Sequence > cps[j].Sequence })
	if limit > 0 && len(cps) > limit {
		cps = cps[:limit]
	}
	return cps, nil
}

func (s *MemoryCheckpointStore) Prune(ctx context.Context, taskID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.checkpoints[taskID]
	if keep <= 0 || len(cps) <= keep {
		return nil
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].Sequence > cps[j].Sequence })
	s.checkpoints[taskID] = cps[:keep]
	return nil
}

func (s *MemoryCheckpointStore) TaskIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryCheckpointStore) RecordInterruption(ctx context.Context, intr *ports.Interruption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *intr
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.interruptions[intr.TaskID] = &clone
	return nil
}

func (s *MemoryCheckpointStore) Interruption(ctx context.Context, taskID string) (*ports.Interruption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intr, ok := s.interruptions[taskID]
	if !ok {
		return nil, ports.ErrNoInterruption
	}
	clone := *intr
	return &clone, nil
}

func (s *MemoryCheckpointStore) MarkResumeAttempt(ctx context.Context, taskID string, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intr, ok := s.interruptions[taskID]
	if !ok {
		return ports.ErrNoInterruption
	}
	intr.ResumeAttempted = true
	intr.ResumeSucceeded = succeeded
	return nil
}

// CollectingListener records every event it sees.
type CollectingListener struct {
	mu     sync.Mutex
	events []ports.AgentEvent
}

func (l *CollectingListener) OnEvent(event ports.AgentEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *CollectingListener) Events() []ports.AgentEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.AgentEvent(nil), l.events...)
}

func (l *CollectingListener) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		types = append(types, ev.EventType())
	}
	return types
}

// FixedClock returns a constant time, advanceable by tests.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
