package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/config"
	"aide/internal/logging"
	"aide/internal/shutdown"
)

// oneShot guards a single foreground task with the shutdown
// coordinator: SIGINT or SIGTERM triggers drain, checkpoint and
// interruption records instead of killing the process mid-write.
type oneShot struct {
	rt      *runtime
	shut    *shutdown.Coordinator
	sigCh   chan os.Signal
	done    chan struct{}
	sigSeen atomic.Bool
}

func newOneShot(rt *runtime, cfg *config.Config) *oneShot {
	shut := shutdown.New(rt.coordinator, rt.checkpoints, shutdown.Config{
		Timeout:  cfg.Shutdown.Timeout(),
		Notifier: rt.notifierOrNil(),
		Logger:   logging.NewComponentLogger("Shutdown"),
	})
	shut.RegisterCleanup("runtime", rt.Close)
	return &oneShot{rt: rt, shut: shut}
}

// start installs the signal handler. The run itself keeps the
// foreground; only the watcher goroutine runs on the side.
func (o *oneShot) start() {
	o.sigCh = make(chan os.Signal, 1)
	o.done = make(chan struct{})
	signal.Notify(o.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-o.sigCh:
			o.sigSeen.Store(true)
			o.shut.Shutdown(sig.String())
		case <-o.done:
		}
	}()
}

// finish tears the handler down. When a signal already fired the
// shutdown sequence owns cleanup; wait for it so checkpoints land
// before the process exits.
func (o *oneShot) finish() {
	signal.Stop(o.sigCh)
	close(o.done)
	if o.sigSeen.Load() {
		<-o.shut.Done()
	}
	o.rt.Close()
}

// reportTask prints the task outcome. A failed task returns an error so
// the process exits non-zero.
func reportTask(rt *runtime, task *ports.Task, elapsed time.Duration, detailed bool) error {
	if task == nil {
		return fmt.Errorf("no task record produced")
	}
	switch task.Status {
	case ports.TaskCompleted:
		if answer := strings.TrimSpace(task.Message); answer != "" {
			fmt.Println(renderAnswer(answer))
		}
		fmt.Printf("\n%s in %s\n", green("completed"), formatDuration(elapsed))
		if result, ok := rt.coordinator.Verification(task.ID); ok {
			printVerification(result, detailed)
		}
		return nil
	case ports.TaskInterrupted:
		fmt.Printf("\n%s after %s\n", yellow("interrupted"), formatDuration(elapsed))
		if task.LastCheckpointID != "" {
			fmt.Printf("%s\n", gray("checkpoint "+task.LastCheckpointID))
		}
		fmt.Printf("resume with: %s\n", cyan("aide resume "+task.ID))
		return nil
	case ports.TaskFailed:
		fmt.Printf("\n%s after %s\n", red("failed"), formatDuration(elapsed))
		if task.Message != "" {
			fmt.Printf("%s\n", task.Message)
		}
		return fmt.Errorf("task %s failed", task.ID)
	default:
		fmt.Printf("\ntask %s ended in state %s\n", task.ID, task.Status)
		return nil
	}
}

// verificationRequest builds the optional outcome checks from flags.
func verificationRequest(files []string, deployURL, buildCmd, testCmd string) *ports.VerificationRequest {
	if len(files) == 0 && deployURL == "" && buildCmd == "" && testCmd == "" {
		return nil
	}
	return &ports.VerificationRequest{
		DeploymentURL: deployURL,
		ExpectedFiles: files,
		BuildCommand:  buildCmd,
		TestCommand:   testCmd,
	}
}
