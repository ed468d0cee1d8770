// Package llm provides reply generators backed by hosted language models.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/JasonGordonD/anna-agent-c/internal/config"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("llm returned an empty reply")

// Generator produces one assistant utterance from a system prompt and a
// single user utterance.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, utterance string) (string, error)
}

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model,
			WithBaseURL(cfg.BaseURL),
			WithMaxTokens(cfg.MaxTokens),
			WithTemperature(cfg.Temperature),
		), nil
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
