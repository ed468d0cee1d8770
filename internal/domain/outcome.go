package domain

// Status values reported to the webhook caller.
const (
	StatusAccepted = "accepted"
	StatusIgnored  = "ignored"
)

// Action is the pipeline branch chosen for an event.
type Action string

// Dispatch actions.
const (
	ActionGreet    Action = "greet"
	ActionReply    Action = "reply"
	ActionFinalize Action = "finalize"
	ActionNoop     Action = "noop"
	ActionNone     Action = "none"
)

// DispatchOutcome describes how an event was classified.
type DispatchOutcome struct {
	Status string `json:"status"`
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Runs reports whether the action has side effects to perform.
func (o DispatchOutcome) Runs() bool {
	return o.Status == StatusAccepted
}
