package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/internal/agent/ports"
)

type commandPayload struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func decodePayload(t *testing.T, content string) commandPayload {
	t.Helper()
	var payload commandPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("content is not a JSON payload: %v\n%s", err, content)
	}
	return payload
}

func TestRunCommandCapturesOutput(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{})

	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-1",
		Name:      "run_command",
		Arguments: map[string]any{"command": "echo hello world"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	payload := decodePayload(t, result.Content)
	if !strings.Contains(payload.Stdout, "hello world") {
		t.Errorf("expected stdout to contain greeting, got %q", payload.Stdout)
	}
	if payload.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", payload.ExitCode)
	}
	if result.Metadata["exit_code"] != 0 {
		t.Errorf("expected exit_code metadata 0, got %v", result.Metadata["exit_code"])
	}
	if result.CallID != "call-1" {
		t.Errorf("expected call id preserved, got %q", result.CallID)
	}
}

func TestRunCommandHonorsQuoting(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{})

	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-quote",
		Arguments: map[string]any{"command": "echo 'a b'"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// One quoted argument: echo prints "a b", not two separate words
	// produced by naive whitespace splitting of the quoted form.
	payload := decodePayload(t, result.Content)
	if !strings.Contains(payload.Stdout, "a b") {
		t.Errorf("expected quoted argument kept whole, got %q", payload.Stdout)
	}
	if strings.Contains(payload.Stdout, "'") {
		t.Errorf("expected quotes stripped by field splitting, got %q", payload.Stdout)
	}
}

func TestRunCommandNonZeroExitIsStructuredFailure(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{})

	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-fail",
		Arguments: map[string]any{"command": "false"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for nonzero exit")
	}
	if !strings.Contains(result.Error, "exit code") {
		t.Errorf("expected exit code in error, got %q", result.Error)
	}
	payload := decodePayload(t, result.Content)
	if payload.ExitCode == 0 {
		t.Error("expected nonzero exit code in payload")
	}
}

func TestRunCommandMissingBinary(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{})

	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-missing",
		Arguments: map[string]any{"command": "aide-test-no-such-binary"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for missing binary")
	}
	if result.Error == "" {
		t.Error("expected error message for missing binary")
	}
	payload := decodePayload(t, result.Content)
	if payload.ExitCode != -1 {
		t.Errorf("expected exit code -1 for start failure, got %d", payload.ExitCode)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{Timeout: 50 * time.Millisecond})

	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-slow",
		Arguments: map[string]any{"command": "sleep 2"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected timeout error, got %q", result.Error)
	}
	if result.Metadata["timed_out"] != true {
		t.Errorf("expected timed_out metadata, got %v", result.Metadata["timed_out"])
	}
}

func TestRunCommandMissingArgument(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{})

	result, err := tool.Execute(context.Background(), ports.ToolCall{ID: "call-empty", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure without command argument")
	}
	if !strings.Contains(result.Error, "command") {
		t.Errorf("expected error to name the missing argument, got %q", result.Error)
	}
}

func TestRunCommandRunsInWorkdir(t *testing.T) {
	workdir := t.TempDir()
	marker := filepath.Join(workdir, "marker.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	tool := NewRunCommand(RunCommandConfig{Workdir: workdir})
	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-ls",
		Arguments: map[string]any{"command": "ls"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	payload := decodePayload(t, result.Content)
	if !strings.Contains(payload.Stdout, "marker.txt") {
		t.Errorf("expected listing of workdir, got %q", payload.Stdout)
	}
}

func TestRunCommandTruncatesLongOutput(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{MaxOutputBytes: 8})

	result, err := tool.Execute(context.Background(), ports.ToolCall{
		ID:        "call-long",
		Arguments: map[string]any{"command": "echo 0123456789abcdef"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	payload := decodePayload(t, result.Content)
	if !strings.Contains(payload.Stdout, "[output truncated]") {
		t.Errorf("expected truncation marker, got %q", payload.Stdout)
	}
	if result.Metadata["output_truncated"] != true {
		t.Errorf("expected output_truncated metadata, got %v", result.Metadata["output_truncated"])
	}
}

func TestRunCommandDefinition(t *testing.T) {
	tool := NewRunCommand(RunCommandConfig{})

	def := tool.Definition()
	if def.Name != "run_command" {
		t.Errorf("unexpected tool name %q", def.Name)
	}
	if len(def.Parameters.Required) != 1 || def.Parameters.Required[0] != "command" {
		t.Errorf("expected command to be required, got %v", def.Parameters.Required)
	}
	if !tool.Metadata().Dangerous {
		t.Error("run_command must be flagged dangerous")
	}
}
