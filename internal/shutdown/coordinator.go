// Package shutdown preserves in-flight work when the process is asked to
// stop. The coordinator drains new submissions, interrupts every running
// loop, checkpoints whatever settles inside one bounded window, and then
// runs the registered cleanups so the process can exit.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/async"
	"aide/internal/logging"
	"aide/internal/notification"
)

const defaultTimeout = 30 * time.Second

// RunningTask is the shutdown-facing view of one in-flight execution.
type RunningTask struct {
	TaskID string

	// Interrupt asks the task's loop to stop at its next iteration
	// boundary. A dispatched tool call finishes on its own terms.
	Interrupt func()

	// Settled is closed once the loop has returned and State is safe to
	// read. A nil Settled means the state is already quiescent.
	Settled <-chan struct{}

	// State is the loop state to checkpoint. Read it only after Settled.
	State *domain.TaskState
}

// TaskSource hands the coordinator's live tasks to the shutdown sequence
// and takes their terminal status back.
type TaskSource interface {
	// Drain stops the source from accepting new submissions.
	Drain()

	// RunningSnapshot returns every task whose loop is still running.
	RunningSnapshot() []RunningTask

	// MarkInterrupted records that the task stopped with a resumable
	// checkpoint.
	MarkInterrupted(taskID, checkpointID string)

	// MarkFailed records that the task's progress could not be preserved.
	MarkFailed(taskID, reason string)
}

// Checkpointer is the subset of the checkpoint manager the shutdown
// sequence needs.
type Checkpointer interface {
	Checkpoint(ctx context.Context, state *domain.TaskState) (*ports.Checkpoint, error)
	RecordInterruption(ctx context.Context, intr *ports.Interruption) error
}

// Config tunes the coordinator. Zero values select the defaults.
type Config struct {
	// Timeout bounds the whole checkpoint phase, not each task.
	Timeout time.Duration

	// Notifier, when set, receives a best-effort notice per preserved
	// task.
	Notifier notification.Notifier

	Logger logging.Logger
}

// Coordinator owns the shutdown sequence. It runs at most once; signals
// and direct Shutdown calls beyond the first are ignored.
type Coordinator struct {
	tasks       TaskSource
	checkpoints Checkpointer
	notifier    notification.Notifier
	timeout     time.Duration
	logger      logging.Logger

	mu       sync.Mutex
	cleanups []cleanup

	once sync.Once
	done chan struct{}
}

type cleanup struct {
	name string
	fn   func() error
}

// New creates a coordinator over the given task source and checkpointer.
func New(tasks TaskSource, checkpoints Checkpointer, config Config) *Coordinator {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewComponentLogger("Shutdown")
	}

	return &Coordinator{
		tasks:       tasks,
		checkpoints: checkpoints,
		notifier:    config.Notifier,
		timeout:     timeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// RegisterCleanup appends a callback to run after the checkpoint phase.
// Cleanups run in registration order; an error stops nothing.
func (c *Coordinator) RegisterCleanup(name string, fn func() error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.cleanups = append(c.cleanups, cleanup{name: name, fn: fn})
	c.mu.Unlock()
}

// Watch installs the SIGINT/SIGTERM handler. The first signal starts the
// shutdown sequence; the returned stop function uninstalls the handler
// without shutting down. Signals arriving while a shutdown is already in
// progress are ignored.
func (c *Coordinator) Watch(ctx context.Context) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	stopCh := make(chan struct{})
	var stopOnce sync.Once

	async.Go(c.logger, "shutdown.watch", func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			c.logger.Info("Received %s", sig)
			c.Shutdown(sig.String())
		case <-ctx.Done():
		case <-stopCh:
		}
	})

	return func() { stopOnce.Do(func() { close(stopCh) }) }
}

// Done is closed once the shutdown sequence has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Shutdown runs the full sequence: drain, checkpoint every running task
// concurrently against one timeout timer, then cleanups. Callable
// directly; only the first call does anything.
func (c *Coordinator) Shutdown(signalName string) {
	c.once.Do(func() {
		defer close(c.done)
		start := time.Now()
		c.logger.Info("Shutdown started, draining new submissions")

		var running []RunningTask
		if c.tasks != nil {
			c.tasks.Drain()
			running = c.tasks.RunningSnapshot()
		}

		if len(running) > 0 && c.checkpoints != nil {
			c.preserveAll(signalName, running)
		}

		c.runCleanups()
		c.logger.Info("Shutdown finished in %s", time.Since(start).Round(time.Millisecond))
	})
}

// preserveAll checkpoints every running task concurrently. The phase ends
// when all tasks are resolved or the timer fires, whichever comes first;
// the slowest single task bounds the latency, not the sum.
func (c *Coordinator) preserveAll(signalName string, running []RunningTask) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.logger.Info("Checkpointing %d running task(s) within %s", len(running), c.timeout)

	var preserved, failed atomic.Int32
	var g errgroup.Group
	for _, rt := range running {
		rt := rt
		g.Go(func() error {
			if c.preserve(ctx, signalName, rt) {
				preserved.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}

	finished := make(chan struct{})
	async.Go(c.logger, "shutdown.checkpoints", func() {
		g.Wait()
		close(finished)
	})

	select {
	case <-finished:
		c.logger.Info("Preserved %d task(s), lost %d", preserved.Load(), failed.Load())
	case <-ctx.Done():
		unresolved := int32(len(running)) - preserved.Load() - failed.Load()
		c.logger.Warn("Checkpoint phase hit the %s deadline with %d task(s) unresolved", c.timeout, unresolved)
	}
}

// preserve settles one task and writes its shutdown checkpoint. It
// reports whether the task ended up resumable.
func (c *Coordinator) preserve(ctx context.Context, signalName string, rt RunningTask) bool {
	if rt.Interrupt != nil {
		rt.Interrupt()
	}

	if rt.Settled != nil {
		select {
		case <-rt.Settled:
		case <-ctx.Done():
			// The loop is still inside a tool call; its state cannot be
			// read. The record write skips the expired deadline so the
			// loss is still durable.
			c.failTask(context.WithoutCancel(ctx), rt.TaskID,
				fmt.Sprintf("shutdown checkpoint failed: loop still running at the %s deadline", c.timeout))
			return false
		}
	}

	if rt.State == nil {
		c.failTask(ctx, rt.TaskID, "shutdown checkpoint failed: no loop state to preserve")
		return false
	}

	cp, err := c.checkpoints.Checkpoint(ctx, rt.State)
	if err != nil {
		c.failTask(ctx, rt.TaskID, fmt.Sprintf("shutdown checkpoint failed: %v", err))
		return false
	}

	intr := &ports.Interruption{
		TaskID:       rt.TaskID,
		Reason:       shutdownReason(signalName),
		Signal:       signalName,
		CheckpointID: cp.ID,
		Resumable:    true,
	}
	if err := c.checkpoints.RecordInterruption(ctx, intr); err != nil {
		c.logger.Warn("Recording interruption for %s failed: %v", rt.TaskID, err)
	}

	c.tasks.MarkInterrupted(rt.TaskID, cp.ID)
	c.notify(ctx, rt.TaskID, cp)
	c.logger.Info("Task %s checkpointed at iteration %d (%s)", rt.TaskID, cp.Iteration, cp.ID)
	return true
}

// failTask marks a task as lost. A failed shutdown checkpoint is
// fail-safe: the task does not come back on resume.
func (c *Coordinator) failTask(ctx context.Context, taskID, reason string) {
	c.logger.Error("Task %s lost during shutdown: %s", taskID, reason)

	intr := &ports.Interruption{
		TaskID:    taskID,
		Reason:    reason,
		Resumable: false,
	}
	if err := c.checkpoints.RecordInterruption(ctx, intr); err != nil {
		c.logger.Warn("Recording interruption for %s failed: %v", taskID, err)
	}
	c.tasks.MarkFailed(taskID, reason)
}

func (c *Coordinator) notify(ctx context.Context, taskID string, cp *ports.Checkpoint) {
	if c.notifier == nil {
		return
	}
	n := notification.Notification{
		TaskID:   taskID,
		Title:    "Task progress saved",
		Body:     fmt.Sprintf("Interrupted by shutdown at iteration %d. Resume with: aide resume %s", cp.Iteration, taskID),
		Priority: notification.PriorityHigh,
		Metadata: map[string]string{"checkpoint_id": cp.ID},
	}
	if _, err := c.notifier.Send(ctx, n); err != nil {
		c.logger.Warn("Interruption notice for %s failed: %v", taskID, err)
	}
}

func (c *Coordinator) runCleanups() {
	c.mu.Lock()
	cleanups := append([]cleanup(nil), c.cleanups...)
	c.mu.Unlock()

	for _, cl := range cleanups {
		c.runCleanup(cl)
	}
}

// runCleanup isolates one callback so neither its error nor a panic
// stops the remaining cleanups.
func (c *Coordinator) runCleanup(cl cleanup) {
	defer async.Recover(c.logger, "shutdown.cleanup."+cl.name)
	if err := cl.fn(); err != nil {
		c.logger.Warn("Cleanup %s failed: %v", cl.name, err)
	}
}

func shutdownReason(signalName string) string {
	if signalName == "" {
		return "process shutdown"
	}
	return fmt.Sprintf("process shutdown on %s", signalName)
}
