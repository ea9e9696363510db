package verify

import (
	"context"
	"fmt"
	"os/exec"

	"mvdan.cc/sh/v3/shell"
)

// CommandExecutor abstracts command execution so checks can be tested without
// spawning processes.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

type cliExecutor struct{}

func (cliExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// splitCommand breaks a command string into argv using shell field splitting,
// without invoking a shell.
func splitCommand(command string) ([]string, error) {
	fields, err := shell.Fields(command, nil)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return fields, nil
}
