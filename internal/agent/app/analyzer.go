package app

import (
	"context"
	"fmt"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
)

const analyzerSystemPrompt = `You are a planning assistant. Decompose the user's goal into ` +
	`subtasks and respond with JSON only, no prose, in this shape:
{
  "tier": "simple|moderate|complex|very_complex",
  "estimated_iterations": <int>,
  "subtasks": [
    {
      "id": "<short-id>",
      "description": "<what to do>",
      "iterations": <int>,
      "depends_on": ["<id>", ...],
      "priority": <int, higher runs earlier>,
      "mode": "sequential|parallel"
    }
  ]
}
Subtask ids must be unique and every depends_on entry must name another subtask in the list.`

const analyzerMaxTokens = 1024

// reasoningAnalyzer adapts the reasoning client into the decomposer's
// Analyzer port. The response goes back raw; parsing and repair stay
// with the decomposer.
type reasoningAnalyzer struct {
	client ports.ReasoningClient
}

// NewReasoningAnalyzer wraps the client for remote decomposition. A nil
// client yields a nil analyzer, which keeps the decomposer heuristic.
func NewReasoningAnalyzer(client ports.ReasoningClient) domain.Analyzer {
	if client == nil {
		return nil
	}
	return &reasoningAnalyzer{client: client}
}

func (a *reasoningAnalyzer) Analyze(ctx context.Context, goal string, est domain.ComplexityEstimate) (string, error) {
	prompt := fmt.Sprintf(
		"Goal: %s\n\nLocal estimate: tier=%s, recommended_iterations=%d, confidence=%s.\n"+
			"Produce the subtask decomposition.",
		goal, est.Tier, est.RecommendedIterations, est.Confidence)

	resp, err := a.client.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: analyzerSystemPrompt},
			{Role: ports.RoleUser, Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   analyzerMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("decomposition request: %w", err)
	}
	return resp.Content, nil
}
