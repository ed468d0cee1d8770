package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JasonGordonD/anna-agent-c/internal/dispatch"
)

// ConvoRequest is the body of POST /handle_convo.
type ConvoRequest struct {
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id"`
	CallerID   string `json:"caller_id"`
}

// ConvoResponse carries the generated reply.
type ConvoResponse struct {
	ReplyText string `json:"reply_text"`
	Status    string `json:"status"`
}

// HandleConvo runs one turn synchronously and returns the reply text.
func (h *Handler) HandleConvo(w http.ResponseWriter, r *http.Request) {
	var req ConvoRequest
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.convo.Converse(r.Context(), req.SessionID, req.CallerID, req.Transcript)
	switch {
	case errors.Is(err, dispatch.ErrMalformedEvent):
		Error(w, http.StatusBadRequest, "transcript is required")
		return
	case err != nil:
		h.logger.Error("conversation turn failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusBadGateway, "reply generation failed")
		return
	}

	JSON(w, http.StatusOK, ConvoResponse{ReplyText: reply, Status: "success"})
}
