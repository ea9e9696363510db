package mocks

import (
	"aide/internal/agent/ports"
	"context"
)

type MockToolRegistry struct {
	GetFunc      func(name string) (ports.ToolExecutor, error)
	ListFunc     func() []ports.ToolDefinition
	RegisterFunc func(tool ports.ToolExecutor) error
}

func (m *MockToolRegistry) Get(name string) (ports.ToolExecutor, error) {
	if m.GetFunc != nil {
		return m.GetFunc(name)
	}
	return &MockToolExecutor{}, nil
}

func (m *MockToolRegistry) List() []ports.ToolDefinition {
	if m.ListFunc != nil {
		return m.ListFunc()
	}
	return []ports.ToolDefinition{}
}

func (m *MockToolRegistry) Register(tool ports.ToolExecutor) error {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(tool)
	}
	return nil
}

func (m *MockToolRegistry) Unregister(name string) error {
	return nil
}

type MockToolExecutor struct {
	ExecuteFunc    func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error)
	DefinitionFunc func() ports.ToolDefinition
	MetadataFunc   func() ports.ToolMetadata
}

func (m *MockToolExecutor) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, call)
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: "Mock tool result",
		Success: true,
	}, nil
}

func (m *MockToolExecutor) Definition() ports.ToolDefinition {
	if m.DefinitionFunc != nil {
		return m.DefinitionFunc()
	}
	return ports.ToolDefinition{Name: "mock_tool"}
}

func (m *MockToolExecutor) Metadata() ports.ToolMetadata {
	if m.MetadataFunc != nil {
		return m.MetadataFunc()
	}
	return ports.ToolMetadata{Name: "mock_tool"}
}
