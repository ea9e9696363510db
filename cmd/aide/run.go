package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aide/internal/agent/app"
	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
)

func newRunCommand() *cobra.Command {
	var (
		iterations  int
		owner       string
		workspace   string
		hint        string
		timeout     time.Duration
		verbose     bool
		expectFiles []string
		deployURL   string
		buildCmd    string
		testCmd     string
	)

	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Execute a goal to completion",
		Long: `Run submits a goal, drives it to a terminal state and prints the final
answer. Interrupting the run (Ctrl-C) checkpoints progress first so the
task can be picked up again with "aide resume".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.TrimSpace(args[0])
			if goal == "" {
				return fmt.Errorf("goal is empty")
			}

			cfg, err := loadConfigFile(cmd)
			if err != nil {
				return err
			}
			announceWarnings(cfg)

			var listeners []ports.EventListener
			if verbose {
				listeners = append(listeners, &progressListener{out: os.Stderr})
			}
			rt, err := buildRuntime(cfg, listeners...)
			if err != nil {
				return err
			}

			shot := newOneShot(rt, cfg)
			shot.start()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			opts := ports.SubmitOptions{
				Owner:          owner,
				IterationLimit: iterations,
				Verification:   verificationRequest(expectFiles, deployURL, buildCmd, testCmd),
			}
			if workspace != "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return fmt.Errorf("workspace: %w", err)
				}
				opts.WorkspacePath = abs
			}
			if hint != "" {
				opts.Metadata = map[string]string{app.MetadataComplexityHint: hint}
			}

			started := time.Now()
			task, err := rt.coordinator.Submit(ctx, goal, opts)
			elapsed := time.Since(started)
			shot.finish()
			if err != nil {
				return err
			}
			return reportTask(rt, task, elapsed, verbose || opts.Verification != nil)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&iterations, "iterations", "n", 0, "iteration budget override")
	flags.StringVar(&owner, "owner", "", "owner recorded on the task")
	flags.StringVarP(&workspace, "workspace", "w", "", "workspace directory for tools")
	flags.StringVar(&hint, "hint", "", "task-type hint (quick_lookup, bugfix, deployment, research, migration)")
	flags.DurationVar(&timeout, "timeout", 0, "abort the run after this long")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print loop progress while running")
	flags.StringArrayVar(&expectFiles, "expect-file", nil, "file the task must produce (repeatable)")
	flags.StringVar(&deployURL, "deployment-url", "", "URL to probe when verifying the outcome")
	flags.StringVar(&buildCmd, "build-command", "", "build command to run when verifying")
	flags.StringVar(&testCmd, "test-command", "", "test command to run when verifying")

	return cmd
}

// progressListener prints loop progress to stderr so the final answer
// on stdout stays clean for pipes.
type progressListener struct {
	out io.Writer
}

func (p *progressListener) OnEvent(event ports.AgentEvent) {
	switch e := event.(type) {
	case *domain.TaskStartEvent:
		fmt.Fprintln(p.out, gray(fmt.Sprintf("task %s started, budget %d iterations", e.GetTaskID(), e.IterationBudget)))
	case *domain.IterationStartEvent:
		fmt.Fprintln(p.out, gray(fmt.Sprintf("iteration %d/%d", e.Iteration, e.TotalIters)))
	case *domain.ToolCallStartEvent:
		fmt.Fprintln(p.out, cyan("  tool "+e.ToolName))
	case *domain.ToolCallCompleteEvent:
		if e.Success {
			fmt.Fprintln(p.out, gray(fmt.Sprintf("  tool %s finished in %s", e.ToolName, formatDuration(e.Duration))))
		} else {
			fmt.Fprintln(p.out, red(fmt.Sprintf("  tool %s failed: %s", e.ToolName, e.Error)))
		}
	case *domain.CheckpointEvent:
		if e.Persisted {
			fmt.Fprintln(p.out, gray(fmt.Sprintf("checkpoint %d written at iteration %d", e.Sequence, e.Iteration)))
		} else {
			fmt.Fprintln(p.out, yellow(fmt.Sprintf("checkpoint write failed at iteration %d", e.Iteration)))
		}
	case *domain.ErrorEvent:
		if !e.Recoverable {
			fmt.Fprintln(p.out, red(fmt.Sprintf("error in %s at iteration %d: %v", e.Phase, e.Iteration, e.Error)))
		}
	}
}
