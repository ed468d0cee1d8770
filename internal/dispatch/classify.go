package dispatch

import (
	"strings"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

// Classify decides what an event will do before anything runs. It has no
// side effects.
func Classify(ev domain.WebhookEvent) domain.DispatchOutcome {
	switch {
	case !ev.Type.Known():
		return domain.DispatchOutcome{Status: domain.StatusIgnored, Action: domain.ActionNone, Reason: "unknown event type"}
	case ev.Type.Terminal():
		return domain.DispatchOutcome{Status: domain.StatusAccepted, Action: domain.ActionFinalize}
	case ev.Type == domain.EventCallStarted:
		return domain.DispatchOutcome{Status: domain.StatusAccepted, Action: domain.ActionGreet}
	case strings.TrimSpace(ev.Text) == "":
		return domain.DispatchOutcome{Status: domain.StatusIgnored, Action: domain.ActionNoop, Reason: "empty transcript"}
	default:
		return domain.DispatchOutcome{Status: domain.StatusAccepted, Action: domain.ActionReply}
	}
}
