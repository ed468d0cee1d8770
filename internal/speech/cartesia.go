package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-2"
)

// CartesiaConfig selects the model, voice and output format.
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string
	Model      string
	Version    string
	Encoding   string
	SampleRate int
	// BaseURL and WSURL override the public endpoints.
	BaseURL string
	WSURL   string
}

func (c CartesiaConfig) withDefaults() CartesiaConfig {
	if c.Model == "" {
		c.Model = cartesiaModel
	}
	if c.Version == "" {
		c.Version = cartesiaVersion
	}
	if c.Encoding == "" {
		c.Encoding = "pcm_s16le"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.BaseURL == "" {
		c.BaseURL = cartesiaBaseURL
	}
	if c.WSURL == "" {
		c.WSURL = cartesiaWSURL
	}
	return c
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id,omitempty"`
}

type cartesiaMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (c CartesiaConfig) request(text, contextID string) cartesiaRequest {
	return cartesiaRequest{
		ModelID:    c.Model,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   c.Encoding,
			SampleRate: c.SampleRate,
		},
		ContextID: contextID,
	}
}

// Buffered synthesizes with a single POST /tts/bytes and emits the whole
// response as one frame.
type Buffered struct {
	cfg        CartesiaConfig
	httpClient *http.Client
}

// NewBuffered creates a single-shot Cartesia synthesizer.
func NewBuffered(cfg CartesiaConfig, client *http.Client) *Buffered {
	if client == nil {
		client = &http.Client{}
	}
	return &Buffered{cfg: cfg.withDefaults(), httpClient: client}
}

// Synthesize implements Synthesizer.
func (b *Buffered) Synthesize(ctx context.Context, text string, emit func([]byte) error) error {
	body, err := json.Marshal(b.cfg.request(text, ""))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + "/tts/bytes"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Cartesia-Version", b.cfg.Version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil
	}
	return emit(audio)
}

// Streaming synthesizes over the Cartesia WebSocket and emits each chunk as
// it arrives.
type Streaming struct {
	cfg    CartesiaConfig
	dialer *websocket.Dialer
}

// NewStreaming creates a streaming Cartesia synthesizer.
func NewStreaming(cfg CartesiaConfig) *Streaming {
	return &Streaming{cfg: cfg.withDefaults(), dialer: websocket.DefaultDialer}
}

// Synthesize implements Synthesizer. It returns when Cartesia signals done,
// reports an error, or ctx ends.
func (s *Streaming) Synthesize(ctx context.Context, text string, emit func([]byte) error) error {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", s.cfg.APIKey)
	q.Set("cartesia_version", s.cfg.Version)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// ReadJSON has no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(s.cfg.request(text, uuid.NewString())); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	for {
		var msg cartesiaMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			if err := emit(audio); err != nil {
				return err
			}
			if msg.Done {
				return nil
			}
		case "done":
			return nil
		case "error":
			return fmt.Errorf("cartesia error %d: %s", msg.StatusCode, msg.Error)
		}
	}
}

var (
	_ Synthesizer = (*Buffered)(nil)
	_ Synthesizer = (*Streaming)(nil)
)
