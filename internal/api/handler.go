// Package api provides HTTP handlers for the Anna webhook server.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

// Enqueuer hands an accepted event to the background dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, sessionID string, ev domain.WebhookEvent) error
}

// Conversation runs one synchronous turn.
type Conversation interface {
	Converse(ctx context.Context, sessionID, callerID, transcript string) (string, error)
}

// Pinger reports whether the memory store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Handler.
type Options struct {
	DefaultSession     string
	MaxBodySize        int64
	HealthCheckTimeout time.Duration
	// PublicURL is the externally reachable base URL, used for TwiML stream URLs.
	PublicURL string
}

// Handler serves the webhook, conversation, voice and health endpoints.
type Handler struct {
	queue  Enqueuer
	convo  Conversation
	repo   Pinger
	opts   Options
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(queue Enqueuer, convo Conversation, repo Pinger, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	if opts.HealthCheckTimeout <= 0 {
		opts.HealthCheckTimeout = 5 * time.Second
	}
	if opts.DefaultSession == "" {
		opts.DefaultSession = "anna_session_1"
	}
	return &Handler{queue: queue, convo: convo, repo: repo, opts: opts, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
