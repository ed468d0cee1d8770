// Package store provides conversation memory persistence.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/config"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

// Repository defines the append-only memory store for conversation turns.
type Repository interface {
	// FetchContext returns every turn for the session in insertion order.
	FetchContext(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)

	// Append inserts a single turn. Turns are never updated or deduplicated.
	Append(ctx context.Context, turn domain.ConversationTurn) error

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Fetcher is the read half of Repository.
type Fetcher interface {
	FetchContext(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
}

// FetchContextOrEmpty fetches a session's turns and swallows any error,
// returning an empty context instead.
func FetchContextOrEmpty(ctx context.Context, repo Fetcher, sessionID string, timeout time.Duration) []domain.ConversationTurn {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	turns, err := repo.FetchContext(ctx, sessionID)
	if err != nil {
		slog.Warn("fetch context failed, continuing with empty memory", "session_id", sessionID, "error", err)
		return []domain.ConversationTurn{}
	}
	if turns == nil {
		return []domain.ConversationTurn{}
	}
	return turns
}

// Open creates the repository selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return NewSQLite(cfg.Store.DBPath, cfg.Retry)
	case "supabase":
		return NewSupabase(cfg.Store.SupabaseURL, cfg.Store.SupabaseKey, cfg.Store.SupabaseTable)
	case "redis":
		return NewRedis(ctx, cfg.Store.RedisURL, cfg.Store.RedisTTL)
	default:
		return nil, fmt.Errorf("unknown memory store %q", cfg.Store.Driver)
	}
}

// record is the wire shape shared by the remote drivers. It mirrors the
// memories table columns.
type record struct {
	UserID     string     `json:"user_id"`
	Transcript string     `json:"transcript"`
	Reply      string     `json:"reply"`
	SchemaVars schemaVars `json:"schema_vars"`
	CreatedAt  time.Time  `json:"created_at"`
}

// schemaVars decodes schema_vars with decodeVars so numbers keep their Go type.
type schemaVars map[string]any

func (v *schemaVars) UnmarshalJSON(data []byte) error {
	m, err := decodeVars(data)
	if err != nil {
		return err
	}
	*v = m
	return nil
}

// decodeVars decodes a schema_vars object. Integral numbers come back as
// int and all other numbers as float64, so the scalar values Append accepts
// (string, bool, int, float64, and maps or slices of them) read back
// unchanged. A float64 with no fractional part reads back as int.
func decodeVars(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode schema_vars: %w", err)
	}
	for k, v := range m {
		m[k] = fromNumber(v)
	}
	return m, nil
}

func fromNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, strconv.IntSize); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, inner := range x {
			x[k] = fromNumber(inner)
		}
		return x
	case []any:
		for i, inner := range x {
			x[i] = fromNumber(inner)
		}
		return x
	default:
		return v
	}
}

func toRecord(turn domain.ConversationTurn) record {
	v := turn.SchemaVars
	if v == nil {
		v = map[string]any{}
	}
	return record{
		UserID:     turn.SessionID,
		Transcript: turn.Transcript,
		Reply:      turn.Reply,
		SchemaVars: v,
		CreatedAt:  turn.CreatedAt.UTC(),
	}
}

func (r record) turn() domain.ConversationTurn {
	return domain.ConversationTurn{
		SessionID:  r.UserID,
		Transcript: r.Transcript,
		Reply:      r.Reply,
		SchemaVars: map[string]any(r.SchemaVars),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func stamp(turn *domain.ConversationTurn) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
}
