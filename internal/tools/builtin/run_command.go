package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"aide/internal/agent/ports"

	"mvdan.cc/sh/v3/shell"
)

const (
	defaultCommandTimeout = 60 * time.Second
	defaultMaxOutputBytes = 256 * 1024
)

// RunCommandConfig configures the run_command tool.
type RunCommandConfig struct {
	// Workdir is the directory commands execute in. Empty means the process
	// working directory.
	Workdir string
	// Timeout bounds a single command execution.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int
}

type runCommand struct {
	workdir string
	timeout time.Duration
	maxOut  int
}

// NewRunCommand builds the command execution tool.
func NewRunCommand(cfg RunCommandConfig) ports.ToolExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &runCommand{workdir: cfg.Workdir, timeout: cfg.Timeout, maxOut: cfg.MaxOutputBytes}
}

func (t *runCommand) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	command, ok := call.Arguments["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return ports.FailedResult(call, "missing 'command'"), nil
	}

	// Split into argv following shell quoting rules. The command runs
	// directly, not through a shell: pipes and redirections are rejected
	// here by the parser.
	fields, err := shell.Fields(command, nil)
	if err != nil {
		return ports.FailedResult(call, fmt.Sprintf("unparseable command: %v", err)), nil
	}
	if len(fields) == 0 {
		return ports.FailedResult(call, "empty command"), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	cmd.Dir = t.workdir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stdout, stdoutTruncated := capOutput(stdoutBuf.String(), t.maxOut)
	stderr, stderrTruncated := capOutput(stderrBuf.String(), t.maxOut)

	payload := map[string]any{
		"command":     command,
		"stdout":      stdout,
		"stderr":      stderr,
		"exit_code":   exitCode,
		"duration_ms": elapsed.Milliseconds(),
	}
	contentBytes, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		contentBytes = []byte(strings.TrimSpace(stdout + "\n" + stderr))
	}

	var errMsg string
	switch {
	case timedOut:
		errMsg = fmt.Sprintf("command timed out after %s", t.timeout)
	case runErr != nil:
		if _, ok := runErr.(*exec.ExitError); ok {
			errMsg = fmt.Sprintf("exit code %d", exitCode)
		} else {
			errMsg = runErr.Error()
		}
	}

	metadata := map[string]any{
		"command":      command,
		"exit_code":    exitCode,
		"duration_ms":  elapsed.Milliseconds(),
		"stdout_bytes": stdoutBuf.Len(),
		"stderr_bytes": stderrBuf.Len(),
		"stdout_lines": countLines(stdout),
		"stderr_lines": countLines(stderr),
	}
	if timedOut {
		metadata["timed_out"] = true
	}
	if stdoutTruncated || stderrTruncated {
		metadata["output_truncated"] = true
	}

	return &ports.ToolResult{
		CallID:   call.ID,
		TaskID:   call.TaskID,
		Content:  string(contentBytes),
		Success:  errMsg == "",
		Error:    errMsg,
		Metadata: metadata,
	}, nil
}

func (t *runCommand) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "run_command",
		Description: "Execute a command and return stdout, stderr and the exit code as JSON. " +
			"The command line is split into words following shell quoting rules; " +
			"pipes, redirections and variable expansion are not supported.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"command": {Type: "string", Description: "Command line to execute"},
			},
			Required: []string{"command"},
		},
	}
}

func (t *runCommand) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:      "run_command",
		Version:   "1.0.0",
		Category:  "execution",
		Tags:      []string{"shell", "execution"},
		Dangerous: true,
	}
}

func capOutput(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[:max] + "\n[output truncated]", true
}

func countLines(output string) int {
	if output == "" {
		return 0
	}
	return strings.Count(output, "\n") + 1
}
