package scheduler

import (
	"context"
	"fmt"

	"aide/internal/agent/ports"
	"aide/internal/notification"
)

// Coordinator is the subset of the task coordinator the scheduler needs.
type Coordinator interface {
	Submit(ctx context.Context, goal string, opts ports.SubmitOptions) (*ports.Task, error)
}

// executeTrigger submits a trigger's goal and waits for the run to end.
// Cron invokes it on its own goroutine; the skip policy keeps one entry
// from overlapping itself.
func (s *Scheduler) executeTrigger(trigger Trigger) {
	ctx := context.Background()
	if s.config.TriggerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TriggerTimeout)
		defer cancel()
	}

	s.logger.Info("Scheduler: trigger %q firing (schedule=%s)", trigger.Name, trigger.Schedule)

	task, err := s.coordinator.Submit(ctx, trigger.Goal, ports.SubmitOptions{
		Owner: trigger.Owner,
		Metadata: map[string]string{
			"trigger":  trigger.Name,
			"schedule": trigger.Schedule,
		},
	})
	if err != nil {
		s.logger.Warn("Scheduler: trigger %q submission failed: %v", trigger.Name, err)
		s.notifySubmitFailure(ctx, trigger, err)
		return
	}

	s.logger.Info("Scheduler: trigger %q finished task %s (%s)", trigger.Name, task.ID, task.Status)
}

// notifySubmitFailure reports a trigger that never became a task. Runs
// that did start are covered by the task's own lifecycle notifications.
func (s *Scheduler) notifySubmitFailure(ctx context.Context, trigger Trigger, submitErr error) {
	if s.notifier == nil {
		return
	}
	n := notification.Notification{
		Title:    "Scheduled goal did not run",
		Body:     fmt.Sprintf("Trigger %q failed to submit: %v", trigger.Name, submitErr),
		Priority: notification.PriorityNormal,
		Metadata: map[string]string{"trigger": trigger.Name},
	}
	if _, err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Warn("Scheduler: failure notice for %q not delivered: %v", trigger.Name, err)
	}
}
