package reaction

import (
	"fmt"

	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/plugin"
)

// Instruction renders the canonical corrective message for an event, the
// text a send-to-agent reaction delivers to the session.
func Instruction(evt events.Event) string {
	switch evt.Type {
	case events.TypePRCIFailed:
		if url, ok := evt.Data["run_url"].(string); ok && url != "" {
			return fmt.Sprintf("CI failed on %s; please inspect the failing checks and fix them.", url)
		}
		return "CI is failing on your pull request; please inspect the failing checks and fix them."

	case events.TypePRChangesRequested:
		return "A reviewer requested changes on your pull request; please address the review comments and push an update."

	case events.TypePRMergeable:
		return "Your pull request is approved and mergeable; please do a final self-review and merge it."

	case events.TypeSessionCycle:
		if action, ok := evt.Data["suggested_action"].(string); ok && action != "" {
			return fmt.Sprintf("You appear to be going in circles. %s", action)
		}
		return "You appear to be going in circles; step back, summarize where you are stuck, and try a different approach."

	default:
		if evt.Message != "" {
			return evt.Message
		}
		return fmt.Sprintf("Orchestrator event: %s", evt.Type)
	}
}

// ActionsFor derives notification buttons from the event type.
func ActionsFor(evt events.Event) []plugin.Action {
	prURL, _ := evt.Data["pr_url"].(string)

	switch evt.Type {
	case events.TypePRMergeable:
		actions := []plugin.Action{{Label: "Merge", Command: "ao merge " + evt.SessionID}}
		if prURL != "" {
			actions = append(actions, plugin.Action{Label: "Open PR", Command: "open " + prURL})
		}
		return actions

	case events.TypePROpened, events.TypePRCIFailed, events.TypePRChangesRequested:
		if prURL != "" {
			return []plugin.Action{{Label: "Open PR", Command: "open " + prURL}}
		}
		return nil

	case events.TypeSessionCycle, events.TypeEscalationRequired:
		return []plugin.Action{
			{Label: "Attach", Command: "ao attach " + evt.SessionID},
			{Label: "Kill", Command: "ao kill " + evt.SessionID},
		}

	default:
		return nil
	}
}
