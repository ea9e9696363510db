package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"aide/internal/agent/ports"
)

func newResumeCommand() *cobra.Command {
	var (
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "resume [task-id]",
		Short: "Pick an interrupted task up from its last checkpoint",
		Long: `Resume restores the newest checkpoint for the task, replays the
preserved transcript tail and continues the loop with the remaining
iteration budget. Tasks outside the resume window or without a
checkpoint are rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]

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

			started := time.Now()
			task, err := rt.coordinator.Resume(ctx, taskID)
			elapsed := time.Since(started)
			shot.finish()
			if err != nil {
				return err
			}
			return reportTask(rt, task, elapsed, verbose)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&timeout, "timeout", 0, "abort the resumed run after this long")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print loop progress while running")

	return cmd
}
