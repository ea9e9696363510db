// Package app wires the agent domain to its infrastructure and drives
// whole tasks from submission to a terminal status. The Coordinator is
// built once in cmd with every collaborator injected; nothing here
// reaches for package-level state.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/async"
	"aide/internal/checkpoint"
	"aide/internal/observability"
	"aide/internal/shutdown"
	id "aide/internal/utils/id"
	"aide/internal/verify"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMaxIterations     = 50
	defaultMaxParallel       = 4
	defaultEstimateCacheSize = 128
)

// MetadataComplexityHint names the submission metadata key carrying a
// task-type hint for the estimator.
const MetadataComplexityHint = "complexity_hint"

var errShutdownRequested = errors.New("shutdown requested")

// Config carries the tuning knobs the coordinator applies to every task.
type Config struct {
	// MaxIterations caps a task's budget regardless of the estimate or
	// the caller's override.
	MaxIterations int

	// DirectThreshold is the recommended-iteration count above which a
	// goal is decomposed instead of run in a single loop.
	DirectThreshold int

	// AllowDegraded lets a plan whose dependency graph has a cycle run
	// anyway, with the stuck subtasks flattened into a final batch.
	AllowDegraded bool

	// MaxParallel bounds fan-out inside a parallel batch.
	MaxParallel int

	// Workspace is the workspace path for tasks that do not bring their
	// own.
	Workspace string

	// SystemPrompt seeds every fresh task transcript.
	SystemPrompt string

	// EstimateCacheSize bounds the memoized estimate cache.
	EstimateCacheSize int

	// Completion carries completion parameter overrides for every run.
	Completion domain.CompletionDefaults
}

// Deps are the injected collaborators. Reasoning and Tools are
// mandatory; everything else degrades to a no-op when absent.
type Deps struct {
	Reasoning   ports.ReasoningClient
	Tools       ports.ToolRegistry
	Analyzer    domain.Analyzer
	Checkpoints *checkpoint.Manager
	Verifier    *verify.Verifier
	Events      domain.EventListener
	Metrics     *observability.MetricsCollector
	Tracer      *observability.TracerProvider
	Logger      ports.Logger
	Clock       ports.Clock
}

// Coordinator owns the task lifecycle: admission, estimation, planning,
// loop execution, verification and the record a caller can query.
type Coordinator struct {
	cfg Config

	reasoning   ports.ReasoningClient
	tools       ports.ToolRegistry
	checkpoints *checkpoint.Manager
	verifier    *verify.Verifier
	events      domain.EventListener
	metrics     *observability.MetricsCollector
	tracer      *observability.TracerProvider
	logger      ports.Logger
	clock       ports.Clock

	estimator  *domain.Estimator
	decomposer *domain.Decomposer
	estimates  *lru.Cache[string, domain.ComplexityEstimate]

	tracker *taskTracker

	// mu guards draining and the running map so a submission can never
	// slip past a drain that already snapshotted the running set.
	mu       sync.Mutex
	draining bool
	running  map[string]*runningTask

	vmu           sync.RWMutex
	verifications map[string]*verify.VerificationResult
}

// runningTask pairs a live loop with the handle shutdown needs to stop
// and checkpoint it.
type runningTask struct {
	state   *domain.TaskState
	cancel  context.CancelCauseFunc
	settled chan struct{}
}

// New builds a coordinator. It fails only on unusable wiring.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Reasoning == nil {
		return nil, fmt.Errorf("coordinator requires a reasoning client")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("coordinator requires a tool registry")
	}

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.DirectThreshold <= 0 {
		cfg.DirectThreshold = domain.DefaultDirectThreshold
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.EstimateCacheSize <= 0 {
		cfg.EstimateCacheSize = defaultEstimateCacheSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}

	estimates, err := lru.New[string, domain.ComplexityEstimate](cfg.EstimateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("estimate cache: %w", err)
	}

	return &Coordinator{
		cfg:           cfg,
		reasoning:     deps.Reasoning,
		tools:         deps.Tools,
		checkpoints:   deps.Checkpoints,
		verifier:      deps.Verifier,
		events:        deps.Events,
		metrics:       metrics,
		tracer:        deps.Tracer,
		logger:        logger,
		clock:         clock,
		estimator:     domain.NewEstimator(),
		decomposer:    domain.NewDecomposer(deps.Analyzer, logger),
		estimates:     estimates,
		tracker:       newTaskTracker(),
		running:       make(map[string]*runningTask),
		verifications: make(map[string]*verify.VerificationResult),
	}, nil
}

// Submit runs a goal to a terminal status and returns the finished
// record. Interruption and failure are statuses on the record, not
// errors; the error return covers admission and wiring problems only.
func (c *Coordinator) Submit(ctx context.Context, goal string, opts ports.SubmitOptions) (*ports.Task, error) {
	runCtx, rec, rt, err := c.admit(ctx, goal, opts)
	if err != nil {
		return nil, err
	}

	c.runTask(runCtx, rec.ID, rt, opts)

	task, _ := c.tracker.get(rec.ID)
	return task, nil
}

// SubmitAsync admits a goal and returns its pending record immediately.
// The run continues on a background goroutine detached from the
// caller's context; progress lands on the tracked record.
func (c *Coordinator) SubmitAsync(ctx context.Context, goal string, opts ports.SubmitOptions) (*ports.Task, error) {
	runCtx, rec, rt, err := c.admit(context.WithoutCancel(ctx), goal, opts)
	if err != nil {
		return nil, err
	}

	async.Go(c.logger, "task."+rec.ID, func() {
		c.runTask(runCtx, rec.ID, rt, opts)
	})

	return rec, nil
}

// admit validates the goal, creates the pending record and registers
// the run so shutdown can see it from the first instant.
func (c *Coordinator) admit(base context.Context, goal string, opts ports.SubmitOptions) (context.Context, *ports.Task, *runningTask, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, nil, nil, fmt.Errorf("goal must not be empty")
	}

	workspace := opts.WorkspacePath
	if workspace == "" {
		workspace = c.cfg.Workspace
	}

	runCtx, cancel := context.WithCancelCause(base)
	state := &domain.TaskState{
		TaskID:        id.NewTaskID(),
		Goal:          goal,
		SystemPrompt:  c.cfg.SystemPrompt,
		WorkspacePath: workspace,
		Phase:         domain.PhaseStart,
	}
	rt := &runningTask{state: state, cancel: cancel, settled: make(chan struct{})}

	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		cancel(ports.ErrDraining)
		return nil, nil, nil, ports.ErrDraining
	}
	rec := c.tracker.create(state.TaskID, goal, workspace, opts, c.clock.Now())
	c.running[rec.ID] = rt
	c.mu.Unlock()

	c.logger.Info("Task %s admitted: %s", rec.ID, truncateGoal(goal, 80))
	return runCtx, rec, rt, nil
}

// settle removes the run from the running set and releases its context.
// After settled closes the state is safe for shutdown to read.
func (c *Coordinator) settle(taskID string, rt *runningTask) {
	c.mu.Lock()
	delete(c.running, taskID)
	c.mu.Unlock()
	rt.cancel(nil)
	close(rt.settled)
}

// Tasks returns every tracked task, newest first.
func (c *Coordinator) Tasks() []*ports.Task {
	return c.tracker.list()
}

// Task returns one tracked task by ID.
func (c *Coordinator) Task(id string) (*ports.Task, bool) {
	return c.tracker.get(id)
}

// Verification returns the verifier's outcome for a task, when one ran.
func (c *Coordinator) Verification(taskID string) (*verify.VerificationResult, bool) {
	c.vmu.RLock()
	defer c.vmu.RUnlock()
	result, ok := c.verifications[taskID]
	return result, ok
}

// Drain stops admissions. Running tasks keep going until interrupted.
func (c *Coordinator) Drain() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
	c.logger.Info("Coordinator draining: new submissions rejected")
}

// RunningSnapshot returns a shutdown handle for every in-flight task.
func (c *Coordinator) RunningSnapshot() []shutdown.RunningTask {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]shutdown.RunningTask, 0, len(c.running))
	for taskID, rt := range c.running {
		out = append(out, shutdown.RunningTask{
			TaskID:    taskID,
			Interrupt: func() { rt.cancel(errShutdownRequested) },
			Settled:   rt.settled,
			State:     rt.state,
		})
	}
	return out
}

// MarkInterrupted records a checkpointed interruption on the record.
func (c *Coordinator) MarkInterrupted(taskID, checkpointID string) {
	c.tracker.markInterrupted(taskID, checkpointID, c.clock.Now())
}

// MarkFailed records that a task's progress could not be preserved.
func (c *Coordinator) MarkFailed(taskID, reason string) {
	c.tracker.markFailed(taskID, reason, c.clock.Now())
}

// estimate memoizes the pure estimator behind an LRU so repeated goals
// skip the scan. The cache is an optimization only.
func (c *Coordinator) estimate(goal, hint string) domain.ComplexityEstimate {
	key := goal
	if hint != "" {
		key = hint + "\x00" + goal
	}
	if est, ok := c.estimates.Get(key); ok {
		return est
	}
	est := c.estimator.Estimate(goal, hint)
	c.estimates.Add(key, est)
	return est
}

func (c *Coordinator) resolveBudget(override int, est domain.ComplexityEstimate) int {
	budget := est.RecommendedIterations
	if override > 0 {
		budget = override
	}
	if budget < 1 {
		budget = 1
	}
	if budget > c.cfg.MaxIterations {
		budget = c.cfg.MaxIterations
	}
	return budget
}

func (c *Coordinator) services() domain.Services {
	return domain.Services{Reasoning: c.reasoning, Tools: c.tools}
}

// newEngine builds the per-run engine. The checkpointer is passed
// explicitly because scratch runs inside a parallel batch must not
// write checkpoints under the parent task's identity.
func (c *Coordinator) newEngine(budget int, checkpointer domain.Checkpointer) *domain.Engine {
	return domain.NewEngine(domain.EngineConfig{
		IterationBudget:    budget,
		Logger:             c.logger,
		Clock:              c.clock,
		EventListener:      c.events,
		Metrics:            c.metrics,
		Tracer:             c.tracer,
		Checkpointer:       checkpointer,
		CompletionDefaults: c.cfg.Completion,
	})
}

// checkpointer returns the manager as the engine-facing interface, or a
// nil interface when checkpointing is disabled.
func (c *Coordinator) checkpointer() domain.Checkpointer {
	if c.checkpoints == nil {
		return nil
	}
	return c.checkpoints
}

func truncateGoal(goal string, max int) string {
	if len(goal) <= max {
		return goal
	}
	return goal[:max] + "..."
}
