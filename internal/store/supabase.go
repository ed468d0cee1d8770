package store

import (
	"context"
	"fmt"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseStore implements Repository on a Supabase (PostgREST) table.
// The table must carry a store-assigned, monotonic id column (bigint
// identity) that gives insertion order; created_at only breaks ties.
// The client does not accept a context, so calls run in a goroutine and
// the caller stops waiting when ctx is done.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

// NewSupabase creates a Supabase-backed repository.
func NewSupabase(url, apiKey, table string) (*SupabaseStore, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if table == "" {
		table = "memories"
	}

	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStore{client: client, table: table}, nil
}

// FetchContext returns all turns for a session in insertion order.
func (s *SupabaseStore) FetchContext(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	var rows []record
	err := withContext(ctx, func() error {
		_, err := s.client.From(s.table).
			Select("user_id,transcript,reply,schema_vars,created_at", "", false).
			Eq("user_id", sessionID).
			Order("id", &postgrest.OrderOpts{Ascending: true}).
			Order("created_at", &postgrest.OrderOpts{Ascending: true}).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch memories: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, r.turn())
	}
	return turns, nil
}

// Append inserts one row with returning=minimal.
func (s *SupabaseStore) Append(ctx context.Context, turn domain.ConversationTurn) error {
	stamp(&turn)
	row := toRecord(turn)

	err := withContext(ctx, func() error {
		_, _, err := s.client.From(s.table).
			Insert(row, false, "", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// Ping issues a one-row select against the memories table.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	return withContext(ctx, func() error {
		_, _, err := s.client.From(s.table).
			Select("user_id", "", false).
			Limit(1, "").
			Execute()
		return err
	})
}

// Close is a no-op; the Supabase client holds no persistent connection.
func (s *SupabaseStore) Close() error {
	return nil
}

func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Repository = (*SupabaseStore)(nil)
