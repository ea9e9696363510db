package domain

import (
	"aide/internal/agent/ports"
)

// Decision is the outcome of one pure transition step. The engine
// executes its effects (tool dispatch, transcript writes) and feeds the
// next response back in; Decide itself performs no I/O.
type Decision struct {
	Next        Phase
	RunCalls    []ToolCall
	Append      []Message
	FinalAnswer string
	StopReason  string
	FailureMsg  string
}

// Terminal reports whether the decision ends the task.
func (d Decision) Terminal() bool {
	return d.Next.Terminal()
}

// Decide maps the current phase and reasoning response to the next
// phase. iteration is the count of completed reasoning requests; budget
// is the hard iteration ceiling.
func Decide(phase Phase, resp *ports.CompletionResponse, iteration, budget int) Decision {
	switch phase {
	case PhaseStart:
		return Decision{Next: PhaseAwaitingResponse}

	case PhaseExecutingTools:
		// Results are already on the transcript; go ask for the next step.
		return Decision{Next: PhaseAwaitingResponse}

	case PhaseCompleted, PhaseFailed:
		return Decision{Next: phase}
	}

	// AwaitingResponse: the response drives everything below.
	if resp == nil {
		return Decision{
			Next:       PhaseFailed,
			StopReason: ports.StopErrored,
			FailureMsg: "reasoning service returned no response",
		}
	}

	if resp.StopReason == ports.StopLengthLimit {
		return Decision{
			Next:       PhaseFailed,
			StopReason: ports.StopErrored,
			FailureMsg: "response hit the output length limit",
		}
	}

	if len(resp.ToolCalls) > 0 {
		if iteration >= budget {
			return budgetExhausted()
		}
		return Decision{
			Next:     PhaseExecutingTools,
			RunCalls: resp.ToolCalls,
			Append:   []Message{assistantMessage(resp)},
		}
	}

	if resp.Content != "" {
		return Decision{
			Next:        PhaseCompleted,
			Append:      []Message{assistantMessage(resp)},
			FinalAnswer: resp.Content,
			StopReason:  ports.StopFinalAnswer,
		}
	}

	// Neither content nor tool requests: re-ask, unless the budget is gone.
	if iteration >= budget {
		return budgetExhausted()
	}
	return Decision{Next: PhaseAwaitingResponse}
}

func budgetExhausted() Decision {
	return Decision{
		Next:       PhaseFailed,
		StopReason: ports.StopBudgetExhausted,
		FailureMsg: "iteration budget exhausted",
	}
}

func assistantMessage(resp *ports.CompletionResponse) Message {
	return Message{
		Role:      ports.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
}
