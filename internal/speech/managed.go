package speech

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	elevenlabs "github.com/agentplexus/go-elevenlabs"
	elevenvoice "github.com/agentplexus/go-elevenlabs/omnivoice/tts"
	twiliotransport "github.com/agentplexus/omnivoice-twilio/transport"
	"github.com/agentplexus/omnivoice/pipeline"
	"github.com/agentplexus/omnivoice/transport"
)

// MediaStreamPath is where Twilio Media Streams connect.
const MediaStreamPath = "/media-stream"

// ManagedConfig configures ElevenLabs synthesis onto Twilio Media Streams.
type ManagedConfig struct {
	ElevenLabsAPIKey string
	VoiceID          string
	Model            string
	TwilioAccountSID string
	TwilioAuthToken  string
}

// Managed speaks through ElevenLabs straight onto the caller's Twilio Media
// Streams connection. Connections are keyed by their stream id, which the
// voice platform must use as the session id.
type Managed struct {
	provider *elevenvoice.Provider
	twilio   *twiliotransport.Provider
	voiceID  string
	model    string
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]transport.Connection
}

// NewManaged creates the ElevenLabs client and the Twilio transport.
func NewManaged(cfg ManagedConfig, logger *slog.Logger) (*Managed, error) {
	client, err := elevenlabs.NewClient(elevenlabs.WithAPIKey(cfg.ElevenLabsAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs client: %w", err)
	}

	tw, err := twiliotransport.New(
		twiliotransport.WithAccountSID(cfg.TwilioAccountSID),
		twiliotransport.WithAuthToken(cfg.TwilioAuthToken),
	)
	if err != nil {
		return nil, fmt.Errorf("create twilio transport: %w", err)
	}

	return newManaged(elevenvoice.NewWithClient(client), tw, cfg.VoiceID, cfg.Model, logger), nil
}

func newManaged(provider *elevenvoice.Provider, tw *twiliotransport.Provider, voiceID, model string, logger *slog.Logger) *Managed {
	if logger == nil {
		logger = slog.Default()
	}
	if voiceID == "" {
		voiceID = "Rachel"
	}
	if model == "" {
		model = "eleven_turbo_v2_5"
	}
	return &Managed{
		provider: provider,
		twilio:   tw,
		voiceID:  voiceID,
		model:    model,
		logger:   logger,
		conns:    make(map[string]transport.Connection),
	}
}

// Start listens for Media Streams connections until ctx is done.
func (m *Managed) Start(ctx context.Context) error {
	connCh, err := m.twilio.Listen(ctx, MediaStreamPath)
	if err != nil {
		return fmt.Errorf("listen for media streams: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case conn, ok := <-connCh:
				if !ok {
					return
				}
				m.track(ctx, conn)
			}
		}
	}()
	return nil
}

// HandleMediaStream upgrades a Twilio Media Streams request.
func (m *Managed) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	if err := m.twilio.HandleWebSocket(w, r, MediaStreamPath); err != nil {
		m.logger.Error("media stream handling failed", "error", err)
	}
}

func (m *Managed) track(ctx context.Context, conn transport.Connection) {
	id := conn.ID()

	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()
	m.logger.Info("media stream connected", "session_id", id)

	go func() {
		defer m.forget(id)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-conn.Events():
				if !ok || event.Type == transport.EventDisconnected {
					m.logger.Info("media stream disconnected", "session_id", id)
					return
				}
			}
		}
	}()
}

func (m *Managed) forget(id string) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

func (m *Managed) conn(id string) (transport.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Speak synthesizes text as mu-law and writes it to the session's call.
func (m *Managed) Speak(ctx context.Context, sessionID, text string) error {
	conn, ok := m.conn(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConnection, sessionID)
	}

	var (
		errMu   sync.Mutex
		pipeErr error
	)
	tts := pipeline.NewTTSPipeline(m.provider, pipeline.TTSPipelineConfig{
		VoiceID:      m.voiceID,
		OutputFormat: "ulaw",
		SampleRate:   8000,
		Model:        m.model,
		OnError: func(err error) {
			errMu.Lock()
			pipeErr = err
			errMu.Unlock()
			m.logger.Error("tts pipeline error", "session_id", sessionID, "error", err)
		},
		OnComplete: func() {
			m.logger.Debug("tts complete", "session_id", sessionID)
		},
	})
	defer tts.Stop()

	if err := tts.SynthesizeToConnection(ctx, text, conn); err != nil {
		return fmt.Errorf("synthesize to connection: %w", err)
	}

	errMu.Lock()
	defer errMu.Unlock()
	return pipeErr
}

// Leave hangs up the media stream for a finished call.
func (m *Managed) Leave(sessionID string) error {
	conn, ok := m.conn(sessionID)
	if !ok {
		return nil
	}
	m.forget(sessionID)
	return conn.Close()
}

// Close shuts down the Twilio transport.
func (m *Managed) Close() error {
	return m.twilio.Close()
}

var (
	_ Speaker = (*Managed)(nil)
	_ Leaver  = (*Managed)(nil)
)
