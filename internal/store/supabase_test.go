package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

type postgrestStub struct {
	mu       sync.Mutex
	inserts  []map[string]any
	prefer   []string
	apiKeys  []string
	query    string
	rows     string
	hold     chan struct{}
	failCode int
}

func (p *postgrestStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.hold != nil {
		<-p.hold
	}
	if r.URL.Path != "/rest/v1/memories" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"404","message":"unknown table"}`)
		return
	}
	if p.failCode != 0 {
		w.WriteHeader(p.failCode)
		_, _ = io.WriteString(w, `{"code":"PGRST000","message":"database unavailable"}`)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiKeys = append(p.apiKeys, r.Header.Get("apikey"))

	switch r.Method {
	case http.MethodPost:
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":"PGRST100","message":"bad body"}`)
			return
		}
		p.inserts = append(p.inserts, row)
		p.prefer = append(p.prefer, r.Header.Get("Prefer"))
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		p.query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, p.rows)
	}
}

func newSupabaseTest(t *testing.T, stub *postgrestStub) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	if stub.hold != nil {
		// Runs before srv.Close so held handlers can finish.
		t.Cleanup(func() { close(stub.hold) })
	}

	s, err := NewSupabase(srv.URL, "anon-key", "memories")
	if err != nil {
		t.Fatalf("NewSupabase failed: %v", err)
	}
	return s
}

func TestSupabaseAppendSendsMemoryRow(t *testing.T) {
	stub := &postgrestStub{}
	s := newSupabaseTest(t, stub)

	turn := domain.ConversationTurn{
		SessionID:  "s1",
		Transcript: "hello",
		Reply:      "hi",
		SchemaVars: map[string]any{"psych_state": "intense"},
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.Append(context.Background(), turn); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(stub.inserts))
	}
	row := stub.inserts[0]
	if row["user_id"] != "s1" || row["transcript"] != "hello" || row["reply"] != "hi" {
		t.Errorf("unexpected row: %v", row)
	}
	if vars, ok := row["schema_vars"].(map[string]any); !ok || vars["psych_state"] != "intense" {
		t.Errorf("unexpected schema_vars: %v", row["schema_vars"])
	}
	if row["created_at"] != "2025-01-01T00:00:00Z" {
		t.Errorf("unexpected created_at: %v", row["created_at"])
	}
	if !strings.Contains(stub.prefer[0], "return=minimal") {
		t.Errorf("expected return=minimal, got %q", stub.prefer[0])
	}
	if stub.apiKeys[0] != "anon-key" {
		t.Errorf("expected apikey header, got %q", stub.apiKeys[0])
	}
}

func TestSupabaseFetchKeepsRowOrder(t *testing.T) {
	stub := &postgrestStub{rows: `[
		{"user_id":"s1","transcript":"","reply":"greeting","schema_vars":{"event":"call_started"},"created_at":"2025-01-01T00:00:02Z"},
		{"user_id":"s1","transcript":"hello","reply":"hi","schema_vars":{"turn":2},"created_at":"2025-01-01T00:00:01Z"}
	]`}
	s := newSupabaseTest(t, stub)

	turns, err := s.FetchContext(context.Background(), "s1")
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}

	want := []domain.ConversationTurn{
		{SessionID: "s1", Reply: "greeting", SchemaVars: map[string]any{"event": "call_started"}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 2, 0, time.UTC)},
		{SessionID: "s1", Transcript: "hello", Reply: "hi", SchemaVars: map[string]any{"turn": 2}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)},
	}
	if !reflect.DeepEqual(turns, want) {
		t.Fatalf("got %#v\nwant %#v", turns, want)
	}

	stub.mu.Lock()
	query := stub.query
	stub.mu.Unlock()
	for _, part := range []string{"user_id=eq.s1", "order=id.asc"} {
		if !strings.Contains(query, part) {
			t.Errorf("query %q missing %q", query, part)
		}
	}
}

func TestSupabaseSurfacesPostgrestErrors(t *testing.T) {
	s := newSupabaseTest(t, &postgrestStub{failCode: http.StatusServiceUnavailable})

	if _, err := s.FetchContext(context.Background(), "s1"); err == nil {
		t.Fatal("expected fetch error")
	}
	if err := s.Append(context.Background(), domain.ConversationTurn{SessionID: "s1"}); err == nil {
		t.Fatal("expected append error")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestSupabaseHonorsContextDeadline(t *testing.T) {
	s := newSupabaseTest(t, &postgrestStub{hold: make(chan struct{})})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.FetchContext(ctx, "s1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fetch ignored the deadline: %v", elapsed)
	}
}
