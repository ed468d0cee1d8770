package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/config"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "anna.db"), config.RetryConfig{
		DatabaseMaxRetries:     3,
		DatabaseRetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteAppendThenFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.UTC)

	first := domain.ConversationTurn{
		SessionID:  "s1",
		Reply:      "hello",
		SchemaVars: map[string]any{"event": "call_started"},
		CreatedAt:  base,
	}
	second := domain.ConversationTurn{
		SessionID:  "s1",
		Transcript: "who are you",
		Reply:      "Anna.",
		SchemaVars: map[string]any{
			"psych_state": "intense",
			"arc_update":  true,
			"turn":        3,
			"weight":      0.5,
			"tags":        []any{"a", 2},
			"nested":      map[string]any{"depth": 1},
		},
		CreatedAt: base.Add(time.Nanosecond),
	}
	other := domain.ConversationTurn{SessionID: "s2", Transcript: "x", Reply: "y", SchemaVars: map[string]any{}, CreatedAt: base}

	for _, turn := range []domain.ConversationTurn{first, other, second} {
		if err := s.Append(ctx, turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	turns, err := s.FetchContext(ctx, "s1")
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	want := []domain.ConversationTurn{first, second}
	if !reflect.DeepEqual(turns, want) {
		t.Fatalf("turns did not round-trip:\n got %#v\nwant %#v", turns, want)
	}
}

func TestSQLiteAppendStampsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, domain.ConversationTurn{SessionID: "s1", Reply: "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	turns, err := s.FetchContext(ctx, "s1")
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	if len(turns) != 1 || turns[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be stamped, got %+v", turns)
	}
}

func TestDecodeVarsKeepsNumberTypes(t *testing.T) {
	got, err := decodeVars([]byte(`{"n":3,"f":2.5,"big":1e3,"list":[1,1.5],"m":{"k":7}}`))
	if err != nil {
		t.Fatalf("decodeVars failed: %v", err)
	}
	want := map[string]any{
		"n":    3,
		"f":    2.5,
		"big":  1000.0,
		"list": []any{1, 1.5},
		"m":    map[string]any{"k": 7},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSQLiteAppendNeverDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	turn := domain.ConversationTurn{SessionID: "dup", Transcript: "same", Reply: "same"}
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	turns, err := s.FetchContext(ctx, "dup")
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 identical turns, got %d", len(turns))
	}
}

func TestSQLiteFetchUnknownSessionIsEmpty(t *testing.T) {
	s := newTestStore(t)

	turns, err := s.FetchContext(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	if turns == nil || len(turns) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", turns)
	}
}

func TestSQLiteConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			turn := domain.ConversationTurn{SessionID: "busy", Transcript: fmt.Sprintf("t%d", i)}
			if err := s.Append(ctx, turn); err != nil {
				t.Errorf("Append %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := s.FetchContext(ctx, "busy")
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	if len(turns) != 20 {
		t.Fatalf("expected 20 turns, got %d", len(turns))
	}
}

type failingRepo struct{}

func (failingRepo) FetchContext(context.Context, string) ([]domain.ConversationTurn, error) {
	return nil, errors.New("connection refused")
}

func TestFetchContextOrEmptySwallowsErrors(t *testing.T) {
	turns := FetchContextOrEmpty(context.Background(), failingRepo{}, "s1", time.Second)
	if turns == nil || len(turns) != 0 {
		t.Fatalf("expected empty context, got %#v", turns)
	}
}
