package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/JasonGordonD/anna-agent-c/internal/middleware"
)

// RegisterRoutes registers the health routes and the secret-protected
// webhook and conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router, secret, secretHeader string) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSecret(secret, secretHeader, ""))
		r.Post("/webhook", h.Webhook)
		r.Post("/webhook/{provider}", h.Webhook)
		r.Post("/handle_convo", h.HandleConvo)
	})
}

// RegisterVoiceRoutes registers the Twilio voice webhook, validated against
// the account auth token.
func (h *Handler) RegisterVoiceRoutes(r chi.Router, authToken, streamPath string) {
	r.With(middleware.TwilioSignature(authToken, h.opts.PublicURL)).
		Post("/voice/inbound", h.VoiceInbound(streamPath))
}
