package toolregistry

import (
	"context"
	"fmt"

	"aide/internal/agent/ports"
)

// guardedExecutor refuses execution of a dangerous tool while keeping it
// listed. The refusal is a structured failure result, so the loop keeps
// running and the model learns the tool is off rather than missing.
type guardedExecutor struct {
	delegate ports.ToolExecutor
}

// NewGuardedExecutor wraps delegate with an always-refusing executor.
// Definition and Metadata pass through unchanged.
func NewGuardedExecutor(delegate ports.ToolExecutor) ports.ToolExecutor {
	if delegate == nil {
		return nil
	}
	return &guardedExecutor{delegate: delegate}
}

func (g *guardedExecutor) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name := g.delegate.Metadata().Name
	msg := fmt.Sprintf("tool %q is disabled: dangerous tools are not allowed in this run", name)
	return ports.FailedResult(call, msg), nil
}

func (g *guardedExecutor) Definition() ports.ToolDefinition {
	return g.delegate.Definition()
}

func (g *guardedExecutor) Metadata() ports.ToolMetadata {
	return g.delegate.Metadata()
}

var _ ports.ToolExecutor = (*guardedExecutor)(nil)
