// Package prompt assembles the system prompt handed to the reply generator.
package prompt

import (
	"encoding/json"
	"strings"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
	"github.com/JasonGordonD/anna-agent-c/internal/knowledge"
)

type memory struct {
	Transcript string         `json:"transcript"`
	Reply      string         `json:"reply"`
	Vars       map[string]any `json:"vars"`
}

// Build concatenates the identity text, the caller text, and the prior turns
// serialized as a JSON array of {transcript, reply, vars}. It is pure.
func Build(identity, callerDoc string, turns []domain.ConversationTurn) string {
	callerDoc = strings.TrimSpace(callerDoc)
	if callerDoc == "" {
		callerDoc = knowledge.DefaultCallerNotes
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(identity))
	b.WriteString("\n\nCaller notes:\n")
	b.WriteString(callerDoc)
	b.WriteString("\n\nUse memories: ")
	b.WriteString(Memories(turns))
	return b.String()
}

// Memories serializes turns in the order given. Empty input yields "[]".
func Memories(turns []domain.ConversationTurn) string {
	items := make([]memory, 0, len(turns))
	for _, t := range turns {
		vars := t.SchemaVars
		if vars == nil {
			vars = map[string]any{}
		}
		items = append(items, memory{Transcript: t.Transcript, Reply: t.Reply, Vars: vars})
	}
	// encoding/json sorts map keys, so output is deterministic.
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Window keeps the most recent maxTurns turns, then drops the oldest until
// the estimated token total fits tokenBudget. Non-positive limits disable
// the corresponding bound. Order is preserved.
func Window(turns []domain.ConversationTurn, maxTurns, tokenBudget int) []domain.ConversationTurn {
	if len(turns) == 0 {
		return turns
	}

	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	if tokenBudget <= 0 {
		return turns
	}

	total := 0
	for _, t := range turns {
		total += TurnTokens(t.Transcript, t.Reply)
	}
	for total > tokenBudget && len(turns) > 0 {
		total -= TurnTokens(turns[0].Transcript, turns[0].Reply)
		turns = turns[1:]
	}
	return turns
}
