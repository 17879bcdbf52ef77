package executor

import (
	"context"
	"fmt"

	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/events"
)

type notificationExecutor struct {
	notifications NotificationService
	publisher     events.Publisher
}

func (e *notificationExecutor) Type() core.StepType { return core.StepTypeNotification }

func (e *notificationExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	n := Notification{
		Message:   stringParam(step.Parameters, "message", fmt.Sprintf("Notification from workflow %s", workflow.Name)),
		Recipient: stringParam(step.Parameters, "recipient", ""),
		Channel:   stringParam(step.Parameters, "channel", "system"),
	}

	if e.notifications != nil {
		if err := e.notifications.Send(ctx, n); err != nil {
			return nil, fmt.Errorf("sending notification: %w", err)
		}
	}

	// fire-and-forget; publish errors don't fail the step
	_ = e.publisher.Publish(ctx, events.New(events.NotificationSent, workflow.ID, step.ID, map[string]any{
		"message":   n.Message,
		"recipient": n.Recipient,
		"channel":   n.Channel,
	}))

	return map[string]any{"notification_sent": true}, nil
}

func stringParam(params map[string]any, key, fallback string) string {
	if s, ok := params[key].(string); ok {
		return s
	}

	return fallback
}
