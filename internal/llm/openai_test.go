package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenAIGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer xai-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  You called.  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI("xai-key", "grok-4-fast", WithBaseURL(srv.URL+"/v1/"))
	reply, err := c.Generate(context.Background(), "SYSTEM", "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply != "You called." {
		t.Errorf("unexpected reply %q", reply)
	}
	if got.Model != "grok-4-fast" || got.MaxTokens != 450 || got.Temperature != 0.85 {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAIGenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"api error", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`,
			func(err error) bool { return err != nil && strings.Contains(err.Error(), "slow down") }},
		{"no choices", http.StatusOK, `{"choices":[]}`,
			func(err error) bool { return errors.Is(err, ErrEmptyReply) }},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`,
			func(err error) bool { return errors.Is(err, ErrEmptyReply) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAI("k", "m", WithBaseURL(srv.URL)).Generate(context.Background(), "s", "u")
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestOpenAIGenerateHonorsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := NewOpenAI("k", "m", WithBaseURL(srv.URL)).Generate(ctx, "s", "u"); err == nil {
		t.Fatal("expected timeout error")
	}
}
