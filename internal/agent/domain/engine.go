package domain

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/observability"
	"aide/internal/token"
	id "aide/internal/utils/id"
)

// Checkpointer persists loop progress at its own cadence. The engine
// consults it at every iteration boundary; a write failure degrades
// resumability but never stops the loop.
type Checkpointer interface {
	ShouldCheckpoint(taskID string, iteration int) bool
	Checkpoint(ctx context.Context, state *TaskState) (*ports.Checkpoint, error)
}

// Services bundles the external dependencies one run needs.
type Services struct {
	Reasoning ports.ReasoningClient
	Tools     ports.ToolRegistry
}

// Engine drives the request/act/observe loop for a single task. Phase
// transitions are computed by Decide; the engine executes their effects.
type Engine struct {
	budget        int
	logger        ports.Logger
	clock         ports.Clock
	eventListener EventListener
	metrics       *observability.MetricsCollector
	tracer        *observability.TracerProvider
	checkpointer  Checkpointer
	completion    completionConfig
}

type completionConfig struct {
	temperature   float64
	maxTokens     int
	topP          float64
	stopSequences []string
}

// CompletionDefaults defines optional overrides for completion behaviour.
type CompletionDefaults struct {
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	StopSequences []string
}

// EngineConfig captures the dependencies required to construct an Engine.
type EngineConfig struct {
	IterationBudget    int
	Logger             ports.Logger
	Clock              ports.Clock
	EventListener      EventListener
	Metrics            *observability.MetricsCollector
	Tracer             *observability.TracerProvider
	Checkpointer       Checkpointer
	CompletionDefaults CompletionDefaults
}

// NewEngine creates an engine with injected infrastructure dependencies.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = ports.NoopLogger{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}

	budget := cfg.IterationBudget
	if budget <= 0 {
		budget = 1
	}

	return &Engine{
		budget:        budget,
		logger:        logger,
		clock:         clock,
		eventListener: cfg.EventListener,
		metrics:       metrics,
		tracer:        tracer,
		checkpointer:  cfg.Checkpointer,
		completion:    buildCompletionDefaults(cfg.CompletionDefaults),
	}
}

func buildCompletionDefaults(cfg CompletionDefaults) completionConfig {
	temperature := 0.7
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	maxTokens := 8192
	if cfg.MaxTokens != nil && *cfg.MaxTokens > 0 {
		maxTokens = *cfg.MaxTokens
	}

	topP := 1.0
	if cfg.TopP != nil {
		topP = *cfg.TopP
	}

	stopSequences := make([]string, len(cfg.StopSequences))
	copy(stopSequences, cfg.StopSequences)

	return completionConfig{
		temperature:   temperature,
		maxTokens:     maxTokens,
		topP:          topP,
		stopSequences: stopSequences,
	}
}

// SetEventListener configures event emission for streaming consumers.
func (e *Engine) SetEventListener(listener EventListener) {
	e.eventListener = listener
}

// GetEventListener returns the current event listener.
func (e *Engine) GetEventListener() EventListener {
	return e.eventListener
}

func (e *Engine) emitEvent(event AgentEvent) {
	if e.eventListener == nil {
		return
	}
	e.eventListener.OnEvent(event)
}

func (e *Engine) baseEvent(state *TaskState) BaseEvent {
	return newBaseEvent(state.TaskID, e.clock.Now())
}

// Run drives the loop until a terminal phase. Every outcome, including
// cancellation and internal panics, comes back as a TaskResult; the
// error return is reserved for unusable wiring.
func (e *Engine) Run(ctx context.Context, goal string, state *TaskState, services Services) (result *TaskResult, err error) {
	startTime := e.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic in execution loop: %v\n%s", r, debug.Stack())
			e.emitEvent(&ErrorEvent{
				BaseEvent: e.baseEvent(state),
				Iteration: state.Iterations,
				Phase:     "loop",
				Error:     fmt.Errorf("panic: %v", r),
			})
			state.Phase = PhaseFailed
			res := e.finalize(state, ports.StopErrored, e.clock.Now().Sub(startTime))
			res.Failure = fmt.Sprintf("internal panic: %v", r)
			e.emitTaskComplete(state, res)
			result, err = res, nil
		}
	}()

	if services.Reasoning == nil {
		return nil, fmt.Errorf("engine requires a reasoning client")
	}
	if services.Tools == nil {
		return nil, fmt.Errorf("engine requires a tool registry")
	}

	e.logger.Info("Starting execution loop for goal: %s", goal)

	e.ensureSystemPromptMessage(state)
	if goal != "" {
		state.Messages = append(state.Messages, Message{Role: ports.RoleUser, Content: goal})
		e.logger.Debug("Added user goal to messages. Total messages: %d", len(state.Messages))
	}

	// A restored state may arrive mid-phase; every run begins by asking
	// the reasoning service what comes next.
	state.Phase = Decide(PhaseStart, nil, state.Iterations, e.budget).Next

	e.metrics.IncrementActiveTasks(ctx)
	defer e.metrics.DecrementActiveTasks(ctx)

	e.emitEvent(&TaskStartEvent{
		BaseEvent:       e.baseEvent(state),
		Goal:            goal,
		IterationBudget: e.budget,
	})

	for {
		if ctx.Err() != nil {
			e.logger.Info("Context cancelled, stopping execution: %v", ctx.Err())
			res := e.finalize(state, ports.StopInterrupted, e.clock.Now().Sub(startTime))
			e.emitTaskComplete(state, res)
			e.metrics.RecordTaskFinished(ctx, ports.StopInterrupted)
			return res, nil
		}

		state.Iterations++
		e.logger.Info("=== Iteration %d/%d ===", state.Iterations, e.budget)

		iterCtx, iterSpan := e.tracer.StartSpan(ctx, observability.SpanLoopIteration, observability.IterationAttrs(state.Iterations)...)
		e.metrics.RecordIteration(iterCtx, state.TaskID)

		e.emitEvent(&IterationStartEvent{
			BaseEvent:  e.baseEvent(state),
			Iteration:  state.Iterations,
			TotalIters: e.budget,
		})
		e.emitEvent(&ThinkingEvent{
			BaseEvent:    e.baseEvent(state),
			Iteration:    state.Iterations,
			MessageCount: len(state.Messages),
		})

		resp, thinkErr := e.think(iterCtx, state, services)
		if thinkErr != nil {
			iterSpan.End()
			e.logger.Error("Think step failed: %v", thinkErr)
			e.emitEvent(&ErrorEvent{
				BaseEvent: e.baseEvent(state),
				Iteration: state.Iterations,
				Phase:     "think",
				Error:     thinkErr,
			})
			state.Phase = PhaseFailed
			res := e.finalize(state, ports.StopErrored, e.clock.Now().Sub(startTime))
			res.Failure = fmt.Sprintf("reasoning request failed: %v", thinkErr)
			e.emitTaskComplete(state, res)
			e.metrics.RecordTaskFinished(ctx, string(ports.TaskFailed))
			return res, nil
		}

		decision := Decide(state.Phase, resp, state.Iterations, e.budget)
		state.Messages = append(state.Messages, decision.Append...)
		state.Phase = decision.Next

		switch decision.Next {
		case PhaseExecutingTools:
			results := e.executeTools(iterCtx, state, decision.RunCalls, services.Tools)
			state.ToolCallCount += len(results)
			e.observeResults(state, results)

			toolMessages := e.buildToolMessages(results)
			state.Messages = append(state.Messages, toolMessages...)
			e.logger.Debug("Added %d tool message(s) to state", len(toolMessages))

			state.Phase = Decide(PhaseExecutingTools, nil, state.Iterations, e.budget).Next

		case PhaseCompleted:
			iterSpan.End()
			e.logger.Info("No tool calls with content - treating response as final answer")
			state.FinalAnswer = decision.FinalAnswer
			res := e.finalize(state, decision.StopReason, e.clock.Now().Sub(startTime))
			e.emitTaskComplete(state, res)
			e.metrics.RecordTaskFinished(ctx, string(ports.TaskCompleted))
			return res, nil

		case PhaseFailed:
			iterSpan.End()
			res := e.failed(ctx, state, services, decision, startTime)
			e.emitTaskComplete(state, res)
			e.metrics.RecordTaskFinished(ctx, string(ports.TaskFailed))
			return res, nil

		default:
			e.logger.Warn("No tool calls and empty content - continuing loop")
		}

		state.TokenCount = token.CountMessages(state.Messages)
		e.logger.Debug("Current token count: %d", state.TokenCount)

		e.emitEvent(&IterationCompleteEvent{
			BaseEvent:  e.baseEvent(state),
			Iteration:  state.Iterations,
			TokensUsed: state.TokenCount,
			ToolsRun:   len(decision.RunCalls),
		})
		iterSpan.End()

		e.maybeCheckpoint(ctx, state)
	}
}

// think sends the current transcript to the reasoning service.
func (e *Engine) think(ctx context.Context, state *TaskState, services Services) (*ports.CompletionResponse, error) {
	tools := services.Tools.List()
	requestID := id.NewRequestID()

	e.logger.Debug("Preparing completion request (request_id=%s): messages=%d, tools=%d",
		requestID, len(state.Messages), len(tools))

	req := ports.CompletionRequest{
		Messages:    state.Messages,
		Tools:       tools,
		Temperature: e.completion.temperature,
		MaxTokens:   e.completion.maxTokens,
		TopP:        e.completion.topP,
		Metadata: map[string]any{
			"request_id": requestID,
			"task_id":    state.TaskID,
		},
	}
	if len(e.completion.stopSequences) > 0 {
		req.StopSequences = append([]string(nil), e.completion.stopSequences...)
	}

	spanCtx, span := e.tracer.StartSpan(ctx, observability.SpanReasoningCall)
	defer span.End()

	start := e.clock.Now()
	resp, err := services.Reasoning.Complete(spanCtx, req)
	latency := e.clock.Now().Sub(start)

	model := services.Reasoning.Model()
	if err != nil {
		e.metrics.RecordReasoningRequest(ctx, model, "error", latency, 0, 0)
		e.logger.Error("Reasoning call failed (request_id=%s): %v", requestID, err)
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	e.metrics.RecordReasoningRequest(ctx, model, "ok", latency, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	e.logger.Debug("Response received (request_id=%s): content=%d bytes, tool_calls=%d",
		requestID, len(resp.Content), len(resp.ToolCalls))

	return resp, nil
}

// executeTools dispatches calls one at a time in request order. A
// missing tool or a failed execution becomes a structured result.
func (e *Engine) executeTools(ctx context.Context, state *TaskState, calls []ToolCall, registry ports.ToolRegistry) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	e.logger.Debug("Executing %d tool call(s) in request order", len(calls))

	for idx, call := range calls {
		call.TaskID = state.TaskID

		e.emitEvent(&ToolCallStartEvent{
			BaseEvent: e.baseEvent(state),
			Iteration: state.Iterations,
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		})

		startTime := e.clock.Now()
		toolCtx, span := e.tracer.StartSpan(ctx, observability.SpanToolExecute, observability.ToolAttrs(call.Name)...)

		var result *ports.ToolResult
		tool, err := registry.Get(call.Name)
		if err != nil {
			e.logger.Error("Tool %d: '%s' not found in registry", idx, call.Name)
			result = ports.FailedResult(call, fmt.Sprintf("tool not found: %s", call.Name))
		} else {
			e.logger.Debug("Tool %d: Executing '%s'", idx, call.Name)
			var execErr error
			result, execErr = tool.Execute(toolCtx, call)
			if execErr != nil {
				e.logger.Error("Tool %d: Execution failed: %v", idx, execErr)
				result = ports.FailedResult(call, execErr.Error())
			} else if result == nil {
				result = ports.FailedResult(call, "tool returned no result")
			}
		}
		span.End()

		if result.CallID == "" {
			result.CallID = call.ID
		}
		if result.TaskID == "" {
			result.TaskID = state.TaskID
		}

		duration := e.clock.Now().Sub(startTime)
		status := "ok"
		if !result.Success {
			status = "error"
		} else {
			e.logger.Debug("Tool %d: Success, result=%d bytes", idx, len(result.Content))
		}
		e.metrics.RecordToolExecution(ctx, call.Name, status, duration)

		e.emitEvent(&ToolCallCompleteEvent{
			BaseEvent: e.baseEvent(state),
			CallID:    result.CallID,
			ToolName:  call.Name,
			Result:    result.Content,
			Success:   result.Success,
			Error:     result.Error,
			Duration:  duration,
		})

		results = append(results, *result)
	}

	e.logger.Debug("All %d tool call(s) completed", len(calls))
	return results
}

// buildToolMessages converts tool results into transcript messages.
func (e *Engine) buildToolMessages(results []ToolResult) []Message {
	messages := make([]Message, 0, len(results))

	for _, result := range results {
		var content string
		if !result.Success {
			content = fmt.Sprintf("Tool %s failed: %s", result.CallID, result.Error)
		} else if trimmed := strings.TrimSpace(result.Content); trimmed != "" {
			content = trimmed
		} else {
			content = fmt.Sprintf("Tool %s completed successfully.", result.CallID)
		}

		messages = append(messages, Message{
			Role:        ports.RoleTool,
			Content:     content,
			ToolResults: []ToolResult{result},
		})
	}

	return messages
}

// observeResults mines result metadata for discoveries and artifacts so
// checkpoints and verification see what the tools produced.
func (e *Engine) observeResults(state *TaskState, results []ToolResult) {
	for _, result := range results {
		if !result.Success || result.Metadata == nil {
			continue
		}
		if v, ok := result.Metadata["discovery"].(string); ok && v != "" {
			state.Discoveries = append(state.Discoveries, v)
		}
		if v, ok := result.Metadata["file_created"].(string); ok && v != "" {
			state.Artifacts.FilesCreated = append(state.Artifacts.FilesCreated, v)
		}
		if v, ok := result.Metadata["url_deployed"].(string); ok && v != "" {
			state.Artifacts.URLsDeployed = append(state.Artifacts.URLsDeployed, v)
		}
		if v, ok := result.Metadata["repo_created"].(string); ok && v != "" {
			state.Artifacts.ReposCreated = append(state.Artifacts.ReposCreated, v)
		}
	}
}

func (e *Engine) maybeCheckpoint(ctx context.Context, state *TaskState) {
	if e.checkpointer == nil || !e.checkpointer.ShouldCheckpoint(state.TaskID, state.Iterations) {
		return
	}

	spanCtx, span := e.tracer.StartSpan(ctx, observability.SpanCheckpointWrite, observability.TaskAttrs(state.TaskID)...)
	cp, err := e.checkpointer.Checkpoint(spanCtx, state)
	span.End()

	if err != nil {
		e.logger.Warn("Checkpoint write failed, resumability degraded: %v", err)
		e.metrics.RecordCheckpointWrite(ctx, false)
		e.emitEvent(&CheckpointEvent{
			BaseEvent: e.baseEvent(state),
			Iteration: state.Iterations,
		})
		return
	}

	e.logger.Debug("Checkpoint %d written at iteration %d", cp.Sequence, state.Iterations)
	e.metrics.RecordCheckpointWrite(ctx, true)
	e.emitEvent(&CheckpointEvent{
		BaseEvent: e.baseEvent(state),
		Sequence:  cp.Sequence,
		Iteration: state.Iterations,
		Persisted: true,
	})
}

// failed builds the result for a failed run. Budget exhaustion gets one
// last chance to surface an answer before the failure is reported.
func (e *Engine) failed(ctx context.Context, state *TaskState, services Services, decision Decision, startTime time.Time) *TaskResult {
	res := e.finalize(state, decision.StopReason, e.clock.Now().Sub(startTime))
	res.Failure = decision.FailureMsg

	if decision.StopReason != ports.StopBudgetExhausted {
		return res
	}

	e.logger.Warn("Iteration budget (%d) exhausted, requesting final answer", e.budget)
	if strings.TrimSpace(res.Answer) != "" {
		return res
	}

	e.logger.Info("No final answer found, requesting explicit answer")
	state.Messages = append(state.Messages, Message{
		Role:    ports.RoleUser,
		Content: "Please provide your final answer to the user's question now.",
	})

	finalResp, err := e.think(ctx, state, services)
	if err == nil && finalResp != nil && finalResp.Content != "" {
		state.Messages = append(state.Messages, assistantMessage(finalResp))
		res.Answer = finalResp.Content
		res.Messages = state.Messages
		e.logger.Info("Got final answer from retry: %d chars", len(res.Answer))
	}

	return res
}

func (e *Engine) emitTaskComplete(state *TaskState, res *TaskResult) {
	e.emitEvent(&TaskCompleteEvent{
		BaseEvent:       e.baseEvent(state),
		FinalAnswer:     res.Answer,
		TotalIterations: res.Iterations,
		TotalTokens:     res.TokensUsed,
		StopReason:      res.StopReason,
		Duration:        res.Duration,
	})
}

func (e *Engine) ensureSystemPromptMessage(state *TaskState) {
	if state.SystemPrompt == "" {
		return
	}
	for _, msg := range state.Messages {
		if msg.Role == ports.RoleSystem {
			return
		}
	}
	state.Messages = append([]Message{{Role: ports.RoleSystem, Content: state.SystemPrompt}}, state.Messages...)
}

// finalize creates the final task result.
func (e *Engine) finalize(state *TaskState, stopReason string, duration time.Duration) *TaskResult {
	finalAnswer := strings.TrimSpace(state.FinalAnswer)
	if finalAnswer == "" {
		for i := len(state.Messages) - 1; i >= 0; i-- {
			if state.Messages[i].Role == ports.RoleAssistant {
				finalAnswer = state.Messages[i].Content
				break
			}
		}
	}

	if state.TokenCount == 0 {
		state.TokenCount = token.CountMessages(state.Messages)
	}

	return &TaskResult{
		Answer:     finalAnswer,
		Messages:   state.Messages,
		Iterations: state.Iterations,
		ToolCalls:  state.ToolCallCount,
		TokensUsed: state.TokenCount,
		StopReason: stopReason,
		TaskID:     state.TaskID,
		Duration:   duration,
	}
}
