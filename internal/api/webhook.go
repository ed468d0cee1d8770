package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JasonGordonD/anna-agent-c/internal/dispatch"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

// WebhookResponse is the acknowledgement returned to the voice platform.
type WebhookResponse struct {
	Status    string        `json:"status"`
	Action    domain.Action `json:"action,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Webhook acknowledges a call lifecycle event and queues its work. It always
// answers 200 once authenticated so the platform never retries; the outcome
// is carried in the body.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	var ev domain.WebhookEvent
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		log.Warn("malformed webhook payload", "error", err)
		JSON(w, http.StatusOK, WebhookResponse{Status: domain.StatusIgnored, Reason: "malformed"})
		return
	}

	outcome := dispatch.Classify(ev)
	sessionID := ev.Session(h.opts.DefaultSession)
	log = log.With("session_id", sessionID, "event", string(ev.Type), "action", string(outcome.Action))

	if !outcome.Runs() {
		log.Info("webhook ignored", "reason", outcome.Reason)
		JSON(w, http.StatusOK, WebhookResponse{
			Status:    outcome.Status,
			Action:    outcome.Action,
			SessionID: sessionID,
			Reason:    outcome.Reason,
		})
		return
	}

	if err := h.queue.Enqueue(r.Context(), sessionID, ev); err != nil {
		reason := "queue unavailable"
		if errors.Is(err, dispatch.ErrQueueFull) {
			reason = "queue full"
		}
		log.Error("dropped webhook event", "error", err)
		JSON(w, http.StatusOK, WebhookResponse{
			Status:    domain.StatusIgnored,
			Action:    outcome.Action,
			SessionID: sessionID,
			Reason:    reason,
		})
		return
	}

	log.Info("webhook accepted")
	JSON(w, http.StatusOK, WebhookResponse{
		Status:    domain.StatusAccepted,
		Action:    outcome.Action,
		SessionID: sessionID,
	})
}
