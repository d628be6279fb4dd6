package builtin

import (
	"context"
	"log/slog"

	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/plugin"
)

// LogNotifier writes notifications to the structured log. It is the
// default notifier when no chat integration is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates the builtin log notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.With("component", "notifier")}
}

func (n *LogNotifier) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        "log",
		Slot:        plugin.SlotNotifier,
		Version:     "1.0.0",
		Description: "writes notifications to the structured log",
	}
}

func (n *LogNotifier) Notify(ctx context.Context, event events.Event) error {
	n.log(event, nil)
	return nil
}

func (n *LogNotifier) NotifyWithActions(ctx context.Context, event events.Event, actions []plugin.Action) error {
	n.log(event, actions)
	return nil
}

// Post logs the message. Threading is not supported, so the returned
// message id is empty.
func (n *LogNotifier) Post(ctx context.Context, message string, context map[string]string) (string, error) {
	args := make([]any, 0, 2*len(context))
	for k, v := range context {
		args = append(args, k, v)
	}
	n.logger.Info(message, args...)
	return "", nil
}

func (n *LogNotifier) log(event events.Event, actions []plugin.Action) {
	args := []any{
		"type", event.Type,
		"priority", event.Priority,
		"session_id", event.SessionID,
	}
	for i, a := range actions {
		args = append(args, slog.Group("action",
			"index", i, "label", a.Label, "command", a.Command))
	}

	switch event.Priority {
	case events.PriorityUrgent, events.PriorityAction:
		n.logger.Warn("Notification", args...)
	default:
		n.logger.Info("Notification", args...)
	}
}
