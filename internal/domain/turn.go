// Package domain contains core domain types for the Anna voice agent.
package domain

import (
	"time"
)

// ConversationTurn is one persisted user-utterance/assistant-reply pair or an
// event marker. Turns are immutable once written.
type ConversationTurn struct {
	SessionID  string         `json:"session_id"`
	Transcript string         `json:"transcript"`
	Reply      string         `json:"reply"`
	SchemaVars map[string]any `json:"schema_vars"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Event returns the "event" schema var, if present.
func (t ConversationTurn) Event() string {
	if v, ok := t.SchemaVars["event"].(string); ok {
		return v
	}
	return ""
}

// CallerProfile is the optional free-text document for a caller.
type CallerProfile struct {
	CallerID string
	Text     string
	Found    bool
}
