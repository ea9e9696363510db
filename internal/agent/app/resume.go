package app

import (
	"context"
	"errors"
	"fmt"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
)

// Resume restores an interrupted task from its latest checkpoint and
// drives the loop to a terminal status on whatever budget remains.
// Refusals come back as errors; the run outcome lands on the record the
// same way Submit's does.
func (c *Coordinator) Resume(ctx context.Context, taskID string) (*ports.Task, error) {
	manager := c.checkpoints
	if manager == nil {
		return nil, fmt.Errorf("resume unavailable: checkpointing is disabled")
	}

	if intr, err := manager.Interruption(ctx, taskID); err == nil && !intr.Resumable {
		return nil, fmt.Errorf("task %s is not resumable: %s", taskID, intr.Reason)
	}
	ok, reason := manager.CanResume(ctx, taskID)
	if !ok {
		return nil, fmt.Errorf("cannot resume task %s: %s", taskID, reason)
	}
	cp, err := manager.Latest(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	state := stateFromCheckpoint(cp)
	runCtx, cancel := context.WithCancelCause(ctx)
	rt := &runningTask{state: state, cancel: cancel, settled: make(chan struct{})}

	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		cancel(ports.ErrDraining)
		return nil, ports.ErrDraining
	}
	if _, active := c.running[taskID]; active {
		c.mu.Unlock()
		cancel(nil)
		return nil, fmt.Errorf("task %s is already running", taskID)
	}
	rec, found := c.tracker.get(taskID)
	if !found {
		// The record did not survive a process restart; rebuild it from
		// what the checkpoint preserved.
		rec = c.tracker.adopt(&ports.Task{
			ID:               taskID,
			Goal:             state.Goal,
			Status:           ports.TaskPending,
			WorkspacePath:    state.WorkspacePath,
			LastCheckpointID: cp.ID,
			CreatedAt:        cp.CreatedAt,
			UpdatedAt:        c.clock.Now(),
		})
	}
	c.running[taskID] = rt
	c.mu.Unlock()

	if err := manager.MarkResumeAttempt(ctx, taskID, false); err != nil && !errors.Is(err, ports.ErrNoInterruption) {
		c.logger.Warn("Recording resume attempt for task %s: %v", taskID, err)
	}

	budget := c.resolveBudget(rec.IterationLimit, c.estimate(state.Goal, ""))
	c.logger.Info("Resuming task %s from checkpoint %s at iteration %d (budget %d)",
		taskID, cp.ID, cp.Iteration, budget)

	c.tracker.setRunning(taskID, c.clock.Now())
	c.tracker.setCheckpointID(taskID, cp.ID, c.clock.Now())

	res, err := c.runResumed(runCtx, taskID, rt, budget)
	if err != nil {
		c.tracker.finish(taskID, ports.TaskFailed, err.Error(), c.clock.Now())
		return nil, err
	}
	c.settleResult(ctx, taskID, rt, nil, res)

	if task, ok := c.tracker.get(taskID); ok {
		switch task.Status {
		case ports.TaskCompleted:
			if err := manager.MarkResumeAttempt(ctx, taskID, true); err != nil && !errors.Is(err, ports.ErrNoInterruption) {
				c.logger.Warn("Recording resume success for task %s: %v", taskID, err)
			}
			manager.Forget(taskID)
		case ports.TaskFailed:
			manager.Forget(taskID)
		}
	}

	task, _ := c.tracker.get(taskID)
	return task, nil
}

func (c *Coordinator) runResumed(ctx context.Context, taskID string, rt *runningTask, budget int) (res *domain.TaskResult, err error) {
	defer c.settle(taskID, rt)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic while resuming task %s: %v", taskID, r)
			res, err = nil, fmt.Errorf("internal panic: %v", r)
		}
	}()

	// The goal already leads the restored transcript; passing it again
	// would duplicate the user message.
	eng := c.newEngine(budget, c.checkpointer())
	return eng.Run(ctx, "", rt.state, c.services())
}

// stateFromCheckpoint rebuilds loop state from a stored checkpoint. The
// extended memory block carries goal, prompt and token count because
// the truncated transcript cannot be trusted to retain them.
func stateFromCheckpoint(cp *ports.Checkpoint) *domain.TaskState {
	state := &domain.TaskState{
		TaskID:        cp.TaskID,
		WorkspacePath: cp.WorkspacePath,
		Messages:      append([]domain.Message(nil), cp.Transcript...),
		Iterations:    cp.Iteration,
		ToolCallCount: cp.ToolCalls,
		Phase:         domain.Phase(cp.Phase),
		Discoveries:   append([]string(nil), cp.Discoveries...),
		Artifacts: ports.Artifacts{
			FilesCreated: append([]string(nil), cp.Artifacts.FilesCreated...),
			URLsDeployed: append([]string(nil), cp.Artifacts.URLsDeployed...),
			ReposCreated: append([]string(nil), cp.Artifacts.ReposCreated...),
		},
	}
	if state.Phase == "" {
		state.Phase = domain.PhaseStart
	}

	if goal, ok := cp.Memory["goal"].(string); ok {
		state.Goal = goal
	}
	if prompt, ok := cp.Memory["system_prompt"].(string); ok {
		state.SystemPrompt = prompt
	}
	// A JSON round-trip stores the count back as float64.
	switch v := cp.Memory["token_count"].(type) {
	case float64:
		state.TokenCount = int(v)
	case int:
		state.TokenCount = v
	}
	return state
}
