package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/agent/textutil"
	"aide/internal/async"
	"aide/internal/logging"
)

const bridgeSendTimeout = 10 * time.Second

// Notifier is the slice of Center the bridge needs.
type Notifier interface {
	Send(ctx context.Context, n Notification) (DeliveryResult, error)
}

// EventBridge turns engine events into notifications. Only terminal and
// attention-worthy events are forwarded; per-iteration chatter stays in logs.
// Dispatch is asynchronous so a slow channel never stalls the execution loop.
type EventBridge struct {
	notifier Notifier
	logger   logging.Logger
	wg       sync.WaitGroup
}

// NewEventBridge creates a bridge forwarding onto the given notifier.
func NewEventBridge(notifier Notifier, logger logging.Logger) *EventBridge {
	return &EventBridge{
		notifier: notifier,
		logger:   logging.OrNop(logger),
	}
}

// OnEvent implements ports.EventListener. It never blocks the caller.
func (b *EventBridge) OnEvent(event ports.AgentEvent) {
	if b.notifier == nil {
		return
	}
	n, ok := b.translate(event)
	if !ok {
		return
	}

	b.wg.Add(1)
	async.Go(b.logger, "notification-bridge", func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bridgeSendTimeout)
		defer cancel()
		if _, err := b.notifier.Send(ctx, n); err != nil {
			b.logger.Warn("Notification for %s event dropped: %v", event.EventType(), err)
		}
	})
}

// Flush waits for in-flight deliveries. Call before process exit.
func (b *EventBridge) Flush() {
	b.wg.Wait()
}

// translate maps an event to a notification, reporting false for events that
// do not warrant one.
func (b *EventBridge) translate(event ports.AgentEvent) (Notification, bool) {
	switch e := event.(type) {
	case *domain.TaskCompleteEvent:
		return b.taskComplete(e), true
	case *domain.ErrorEvent:
		if e.Recoverable {
			return Notification{}, false
		}
		return Notification{
			TaskID:   e.GetTaskID(),
			Title:    "Task error",
			Body:     fmt.Sprintf("%v (iteration %d, phase %s)", e.Error, e.Iteration, e.Phase),
			Priority: PriorityHigh,
		}, true
	case *domain.CheckpointEvent:
		if e.Persisted {
			return Notification{}, false
		}
		return Notification{
			TaskID:   e.GetTaskID(),
			Title:    "Checkpoint write failed",
			Body:     fmt.Sprintf("iteration %d: the task keeps running but cannot be resumed past this point", e.Iteration),
			Priority: PriorityHigh,
		}, true
	default:
		return Notification{}, false
	}
}

func (b *EventBridge) taskComplete(e *domain.TaskCompleteEvent) Notification {
	n := Notification{
		TaskID:   e.GetTaskID(),
		Priority: PriorityNormal,
		Metadata: map[string]string{
			"stop_reason": e.StopReason,
			"iterations":  fmt.Sprintf("%d", e.TotalIterations),
		},
	}

	switch e.StopReason {
	case ports.StopInterrupted:
		n.Title = "Task interrupted"
		n.Body = fmt.Sprintf("stopped after %d iterations; resume to continue", e.TotalIterations)
		n.Priority = PriorityCritical
	case ports.StopErrored:
		n.Title = "Task failed"
		n.Body = textutil.TruncateWithEllipsis(e.FinalAnswer, 200)
		n.Priority = PriorityHigh
	case ports.StopLengthLimit:
		n.Title = "Task stopped at response length limit"
		n.Body = fmt.Sprintf("reasoning output truncated after %d iterations", e.TotalIterations)
		n.Priority = PriorityHigh
	case ports.StopBudgetExhausted:
		n.Title = "Task ran out of iterations"
		n.Body = fmt.Sprintf("iteration budget exhausted after %d iterations", e.TotalIterations)
		n.Priority = PriorityHigh
	default:
		n.Title = "Task completed"
		n.Body = textutil.TruncateWithEllipsis(e.FinalAnswer, 200)
	}
	return n
}

var _ ports.EventListener = (*EventBridge)(nil)
