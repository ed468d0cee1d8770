package domain

import "strings"

// EventType is the webhook event discriminator.
type EventType string

const (
	EventCallStarted       EventType = "call_started"
	EventUserTranscription EventType = "UserTranscriptionReceived"
	EventCallCompleted     EventType = "call_completed"
	EventCallFailed        EventType = "call_failed"
)

// Known reports whether t is part of the handled vocabulary.
func (t EventType) Known() bool {
	switch t {
	case EventCallStarted, EventUserTranscription, EventCallCompleted, EventCallFailed:
		return true
	}
	return false
}

// Terminal reports whether t ends a call.
func (t EventType) Terminal() bool {
	return t == EventCallCompleted || t == EventCallFailed
}

// BodyTurn is one entry of a call transcript delivered on terminal events.
type BodyTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// WebhookEvent is the payload pushed by the voice platform.
type WebhookEvent struct {
	Type      EventType  `json:"type"`
	RequestID string     `json:"request_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	CallerID  string     `json:"caller_id,omitempty"`
	Body      []BodyTurn `json:"body,omitempty"`
	Text      string     `json:"text,omitempty"`
}

// Session returns the session key for the event, falling back to the
// request ID and then to fallback.
func (e WebhookEvent) Session(fallback string) string {
	if s := strings.TrimSpace(e.SessionID); s != "" {
		return s
	}
	if s := strings.TrimSpace(e.RequestID); s != "" {
		return s
	}
	return fallback
}

// UserText joins the non-empty user-authored body entries with a single space.
func (e WebhookEvent) UserText() string {
	parts := make([]string, 0, len(e.Body))
	for _, turn := range e.Body {
		if !strings.EqualFold(strings.TrimSpace(turn.Role), "user") {
			continue
		}
		if text := strings.TrimSpace(turn.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
