// Package room delivers synthesized audio frames to the listeners of a call.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNoListeners is returned by Hub.Publish when nobody is connected for the
// session. Frames are still drained.
var ErrNoListeners = errors.New("no listeners for session")

const writeTimeout = 5 * time.Second

type control struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Hub fans audio frames out to WebSocket listeners grouped by session.
type Hub struct {
	mu             sync.RWMutex
	active         map[string]map[*websocket.Conn]struct{}
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHub creates a hub. allowedOrigins are host patterns passed to the
// WebSocket handshake; "*" allows every origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active:         make(map[string]map[*websocket.Conn]struct{}),
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Register adds a listener for a session.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.active[sessionID][conn] = struct{}{}
	h.logger.Info("room listener registered", "session_id", sessionID, "listeners", len(h.active[sessionID]))
}

// Unregister removes a listener for a session.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.active, sessionID)
		}
		h.logger.Info("room listener unregistered", "session_id", sessionID)
	}
}

// Listeners returns the number of listeners connected for a session.
func (h *Hub) Listeners(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

func (h *Hub) snapshot(sessionID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(h.active[sessionID]))
	for c := range h.active[sessionID] {
		conns = append(conns, c)
	}
	return conns
}

// Publish writes each frame as a binary message to every listener of the
// session, bracketed by speech_start and speech_end text messages. A
// listener that fails a write is dropped.
func (h *Hub) Publish(ctx context.Context, sessionID string, frames <-chan []byte) error {
	conns := h.snapshot(sessionID)
	if len(conns) == 0 {
		for range frames {
		}
		return ErrNoListeners
	}

	live := make(map[*websocket.Conn]struct{}, len(conns))
	for _, c := range conns {
		if err := h.writeControl(ctx, c, "speech_start", sessionID); err == nil {
			live[c] = struct{}{}
		}
	}

	for frame := range frames {
		for c := range live {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				h.logger.Debug("room listener write failed", "session_id", sessionID, "error", err)
				delete(live, c)
			}
		}
	}

	for c := range live {
		_ = h.writeControl(ctx, c, "speech_end", sessionID)
	}
	if len(live) == 0 {
		return ErrNoListeners
	}
	return nil
}

func (h *Hub) writeControl(ctx context.Context, c *websocket.Conn, kind, sessionID string) error {
	data, err := json.Marshal(control{Type: kind, SessionID: sessionID})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(wctx, websocket.MessageText, data)
}

// Leave disconnects every listener of a finished call.
func (h *Hub) Leave(sessionID string) error {
	h.mu.Lock()
	conns := h.active[sessionID]
	delete(h.active, sessionID)
	h.mu.Unlock()

	for c := range conns {
		_ = c.Close(websocket.StatusNormalClosure, "call ended")
	}
	if len(conns) > 0 {
		h.logger.Info("room closed", "session_id", sessionID, "listeners", len(conns))
	}
	return nil
}

// Close disconnects all listeners.
func (h *Hub) Close() error {
	h.mu.Lock()
	active := h.active
	h.active = make(map[string]map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conns := range active {
		for c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
	return nil
}

// ServeHTTP upgrades a listener connection for ?session_id=.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		h.logger.Warn("failed to accept room websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "listener done"); closeErr != nil {
			h.logger.Debug("failed to close room websocket", "error", closeErr)
		}
	}()

	h.Register(sessionID, ws)
	defer h.Unregister(sessionID, ws)

	if err := h.writeControl(r.Context(), ws, "ready", sessionID); err != nil {
		return
	}

	// Listeners only receive; CloseRead discards inbound messages and
	// cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	<-ctx.Done()
}
