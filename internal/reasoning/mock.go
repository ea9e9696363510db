package reasoning

import (
	"context"
	"fmt"
	"sync"

	"aide/internal/agent/ports"
)

// ScriptedClient replays a fixed sequence of responses. It backs the
// "mock" provider for offline runs and deterministic end-to-end tests:
// no network, no model, same transcript every time.
type ScriptedClient struct {
	mu       sync.Mutex
	model    string
	script   []*ports.CompletionResponse
	cursor   int
	loop     bool
	requests []ports.CompletionRequest
}

// NewScriptedClient builds a client that returns the given responses in
// order. A call past the end of the script is an error: a loop that asks
// more often than scripted is a bug worth surfacing, not papering over.
func NewScriptedClient(model string, script ...*ports.CompletionResponse) *ScriptedClient {
	if model == "" {
		model = "scripted"
	}
	return &ScriptedClient{model: model, script: script}
}

// NewLoopingClient is a ScriptedClient that rewinds instead of erroring
// when the script runs out. The "mock" provider uses it so offline runs
// get an answer no matter how many completions the loop asks for.
func NewLoopingClient(model string, script ...*ports.CompletionResponse) *ScriptedClient {
	c := NewScriptedClient(model, script...)
	c.loop = true
	return c
}

func (s *ScriptedClient) Complete(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.cursor >= len(s.script) {
		if !s.loop || len(s.script) == 0 {
			return nil, fmt.Errorf("script exhausted after %d responses", len(s.script))
		}
		s.cursor = 0
	}
	resp := s.script[s.cursor]
	s.cursor++
	return copyResponse(resp), nil
}

func (s *ScriptedClient) Model() string {
	return s.model
}

// Requests returns a snapshot of every request seen so far.
func (s *ScriptedClient) Requests() []ports.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.CompletionRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount reports how many completions have been requested.
func (s *ScriptedClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// FinalStep builds a terminal response with content only.
func FinalStep(content string) *ports.CompletionResponse {
	return &ports.CompletionResponse{
		Content:    content,
		StopReason: ports.StopEndTurn,
	}
}

// ToolUseStep builds a response requesting the given tool calls.
func ToolUseStep(calls ...ports.ToolCall) *ports.CompletionResponse {
	return &ports.CompletionResponse{
		ToolCalls:  calls,
		StopReason: ports.StopToolUse,
	}
}

var _ ports.ReasoningClient = (*ScriptedClient)(nil)
