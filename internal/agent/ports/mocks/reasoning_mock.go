package mocks

import (
	"aide/internal/agent/ports"
	"context"
)

type MockReasoningClient struct {
	CompleteFunc func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
	ModelFunc    func() string
}

func (m *MockReasoningClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &ports.CompletionResponse{
		Content:    "Mock response",
		StopReason: ports.StopEndTurn,
		Usage:      ports.TokenUsage{TotalTokens: 100},
	}, nil
}

func (m *MockReasoningClient) Model() string {
	if m.ModelFunc != nil {
		return m.ModelFunc()
	}
	return "mock-model"
}

// ScriptedReasoningClient replays a fixed sequence of responses. After
// the script runs out it keeps returning the last response.
type ScriptedReasoningClient struct {
	Responses []*ports.CompletionResponse
	Requests  []ports.CompletionRequest
	cursor    int
}

func (s *ScriptedReasoningClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	s.Requests = append(s.Requests, req)
	if len(s.Responses) == 0 {
		return &ports.CompletionResponse{StopReason: ports.StopEndTurn}, nil
	}
	idx := s.cursor
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.cursor++
	return s.Responses[idx], nil
}

func (s *ScriptedReasoningClient) Model() string { return "scripted-model" }
