package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/verify"

	"golang.org/x/sync/errgroup"
)

// runTask drives one admitted task to a terminal status. Every outcome,
// including a panic below the engine boundary, lands on the record.
func (c *Coordinator) runTask(ctx context.Context, taskID string, rt *runningTask, opts ports.SubmitOptions) {
	defer c.settle(taskID, rt)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic while running task %s: %v\n%s", taskID, r, debug.Stack())
			c.tracker.finish(taskID, ports.TaskFailed, fmt.Sprintf("internal panic: %v", r), c.clock.Now())
			c.metrics.RecordTaskFinished(ctx, string(ports.TaskFailed))
		}
	}()

	c.tracker.setRunning(taskID, c.clock.Now())

	est := c.estimate(rt.state.Goal, opts.Metadata[MetadataComplexityHint])
	budget := c.resolveBudget(opts.IterationLimit, est)
	c.logger.Info("Task %s estimated %s, budget %d iterations (confidence %s)",
		taskID, est.Tier, budget, est.Confidence)

	var res *domain.TaskResult
	var err error
	if domain.ShouldDecompose(est, c.cfg.DirectThreshold) {
		res, err = c.runPlan(ctx, rt.state, est, budget)
	} else {
		eng := c.newEngine(budget, c.checkpointer())
		res, err = eng.Run(ctx, rt.state.Goal, rt.state, c.services())
	}
	if err != nil {
		c.tracker.finish(taskID, ports.TaskFailed, err.Error(), c.clock.Now())
		c.metrics.RecordTaskFinished(ctx, string(ports.TaskFailed))
		return
	}

	c.settleResult(ctx, taskID, rt, opts.Verification, res)
}

// settleResult maps a run result onto the record's terminal status and
// triggers verification for completed tasks that asked for it.
func (c *Coordinator) settleResult(ctx context.Context, taskID string, rt *runningTask, request *ports.VerificationRequest, res *domain.TaskResult) {
	var status ports.TaskStatus
	var message string
	switch res.StopReason {
	case ports.StopFinalAnswer:
		status = ports.TaskCompleted
		message = res.Answer
	case ports.StopInterrupted:
		status = ports.TaskInterrupted
		message = "interrupted before completion"
	default:
		status = ports.TaskFailed
		message = res.Failure
		if message == "" {
			message = fmt.Sprintf("stopped: %s", res.StopReason)
		}
	}

	if status == ports.TaskCompleted && request != nil && c.verifier != nil {
		c.runVerification(ctx, taskID, rt.state, request)
	}

	c.tracker.finish(taskID, status, message, c.clock.Now())
	c.metrics.RecordTaskFinished(ctx, string(status))
	c.logger.Info("Task %s finished %s after %d iterations, %d tool calls",
		taskID, status, res.Iterations, res.ToolCalls)
}

// runPlan decomposes the goal and executes the resulting batches in
// dependency order. Sequential batches share the task's state and
// continue past individual failures; parallel batches fan out over
// scratch states that are merged back afterwards.
func (c *Coordinator) runPlan(ctx context.Context, state *domain.TaskState, est domain.ComplexityEstimate, budget int) (*domain.TaskResult, error) {
	start := c.clock.Now()

	subtasks := c.decomposer.Decompose(ctx, state.Goal, est)
	batches, planErr := domain.BuildBatches(subtasks)
	if planErr != nil {
		if !c.cfg.AllowDegraded {
			return c.planResult(state, start, ports.StopErrored, "",
				fmt.Sprintf("execution plan rejected: %v", planErr)), nil
		}
		c.logger.Warn("Task %s running a degraded plan: %v", state.TaskID, planErr)
	}
	c.logger.Info("Task %s decomposed into %d subtasks across %d batches",
		state.TaskID, len(subtasks), len(batches))

	var done, failed int
	var lastAnswer string

	for _, batch := range batches {
		results, err := c.runBatch(ctx, state, batch, budget)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			if res == nil {
				continue
			}
			switch res.StopReason {
			case ports.StopFinalAnswer:
				done++
				if res.Answer != "" {
					lastAnswer = res.Answer
				}
			case ports.StopInterrupted:
				return c.planResult(state, start, ports.StopInterrupted, "",
					"interrupted while executing subtasks"), nil
			default:
				failed++
			}
		}
		if state.Iterations >= budget && done+failed < len(subtasks) {
			return c.planResult(state, start, ports.StopBudgetExhausted, "",
				fmt.Sprintf("iteration budget (%d) exhausted after %d of %d subtasks",
					budget, done+failed, len(subtasks))), nil
		}
	}

	if done == 0 {
		return c.planResult(state, start, ports.StopErrored, "",
			fmt.Sprintf("all %d subtasks failed", len(subtasks))), nil
	}

	answer := lastAnswer
	if answer == "" {
		answer = fmt.Sprintf("completed %d of %d subtasks", done, len(subtasks))
	}
	if failed > 0 {
		answer = fmt.Sprintf("%s (%d of %d subtasks failed)", answer, failed, len(subtasks))
	}
	state.FinalAnswer = answer
	return c.planResult(state, start, ports.StopFinalAnswer, answer, ""), nil
}

func (c *Coordinator) runBatch(ctx context.Context, state *domain.TaskState, batch domain.ExecutionBatch, budget int) ([]*domain.TaskResult, error) {
	if batch.Parallel() {
		return c.runParallelBatch(ctx, state, batch, budget)
	}

	results := make([]*domain.TaskResult, 0, len(batch.SubTasks))
	for _, sub := range batch.SubTasks {
		if state.Iterations >= budget {
			break
		}
		share := state.Iterations + max(sub.EstimatedIterations, 1)
		if share > budget {
			share = budget
		}

		eng := c.newEngine(share, c.checkpointer())
		res, err := eng.Run(ctx, sub.Description, state, c.services())
		if err != nil {
			return nil, err
		}
		results = append(results, res)

		if res.StopReason == ports.StopInterrupted {
			break
		}
		if res.StopReason != ports.StopFinalAnswer {
			c.logger.Warn("Subtask %s of task %s did not complete: %s",
				sub.ID, state.TaskID, res.Failure)
		}
	}
	return results, nil
}

// runParallelBatch fans the batch out over scratch states so sibling
// loops never share a transcript, then merges progress back into the
// parent. Scratch runs carry no checkpointer: a checkpoint written
// under the parent's identity mid-batch would not be restorable.
func (c *Coordinator) runParallelBatch(ctx context.Context, state *domain.TaskState, batch domain.ExecutionBatch, budget int) ([]*domain.TaskResult, error) {
	remaining := budget - state.Iterations
	if remaining < 1 {
		remaining = 1
	}

	scratch := make([]*domain.TaskState, len(batch.SubTasks))
	results := make([]*domain.TaskResult, len(batch.SubTasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallel)
	for i, sub := range batch.SubTasks {
		share := max(sub.EstimatedIterations, 1)
		if share > remaining {
			share = remaining
		}
		sstate := &domain.TaskState{
			TaskID:        state.TaskID + ":" + sub.ID,
			Goal:          sub.Description,
			SystemPrompt:  state.SystemPrompt,
			WorkspacePath: state.WorkspacePath,
			Phase:         domain.PhaseStart,
		}
		scratch[i] = sstate

		g.Go(func() error {
			eng := c.newEngine(share, nil)
			res, err := eng.Run(gctx, sstate.Goal, sstate, c.services())
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, sstate := range scratch {
		state.Iterations += sstate.Iterations
		state.ToolCallCount += sstate.ToolCallCount
		state.TokenCount += sstate.TokenCount
		state.Discoveries = append(state.Discoveries, sstate.Discoveries...)
		state.Artifacts.FilesCreated = append(state.Artifacts.FilesCreated, sstate.Artifacts.FilesCreated...)
		state.Artifacts.URLsDeployed = append(state.Artifacts.URLsDeployed, sstate.Artifacts.URLsDeployed...)
		state.Artifacts.ReposCreated = append(state.Artifacts.ReposCreated, sstate.Artifacts.ReposCreated...)

		if res := results[i]; res != nil && res.Answer != "" {
			state.Messages = append(state.Messages, domain.Message{
				Role:    ports.RoleUser,
				Content: fmt.Sprintf("Result of subtask %s: %s", batch.SubTasks[i].ID, res.Answer),
			})
		}
	}
	return results, nil
}

func (c *Coordinator) planResult(state *domain.TaskState, start time.Time, stopReason, answer, failure string) *domain.TaskResult {
	return &domain.TaskResult{
		TaskID:     state.TaskID,
		Answer:     answer,
		Messages:   state.Messages,
		Iterations: state.Iterations,
		ToolCalls:  state.ToolCallCount,
		TokensUsed: state.TokenCount,
		StopReason: stopReason,
		Failure:    failure,
		Duration:   c.clock.Now().Sub(start),
	}
}

func (c *Coordinator) runVerification(ctx context.Context, taskID string, state *domain.TaskState, request *ports.VerificationRequest) {
	result := c.verifier.Verify(ctx, taskID, verify.VerificationContext{
		WorkspacePath: state.WorkspacePath,
		DeploymentURL: request.DeploymentURL,
		ExpectedFiles: request.ExpectedFiles,
		BuildCommand:  request.BuildCommand,
		TestCommand:   request.TestCommand,
	})

	c.vmu.Lock()
	c.verifications[taskID] = result
	c.vmu.Unlock()

	confidence := strconv.FormatFloat(result.Confidence, 'f', 2, 64)
	c.tracker.attachVerification(taskID, result.Verified, confidence, c.clock.Now())
	c.metrics.RecordVerification(ctx, result.Verified, result.Confidence)
	c.logger.Info("Task %s verification: verified=%t confidence=%s",
		taskID, result.Verified, confidence)
}
