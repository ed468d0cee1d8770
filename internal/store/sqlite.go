package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/config"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
	"github.com/JasonGordonD/anna-agent-c/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry config.RetryConfig
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, retry config.RetryConfig) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a worker appends.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: retry}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		reply TEXT NOT NULL DEFAULT '',
		schema_vars TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL -- unix nanoseconds
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FetchContext returns all turns for a session ordered by insertion.
func (s *SQLiteStore) FetchContext(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	query := `
		SELECT user_id, transcript, reply, schema_vars, created_at
		FROM memories WHERE user_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close memories rows", "error", closeErr)
		}
	}()

	turns := []domain.ConversationTurn{}
	for rows.Next() {
		var turn domain.ConversationTurn
		var varsJSON string
		var createdAt int64

		if err := rows.Scan(&turn.SessionID, &turn.Transcript, &turn.Reply, &varsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		if varsJSON != "" {
			vars, err := decodeVars([]byte(varsJSON))
			if err != nil {
				slog.Warn("discarding malformed schema_vars", "session_id", sessionID, "error", err)
			}
			turn.SchemaVars = vars
		}
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	return turns, nil
}

// Append inserts one turn, retrying with backoff on SQLITE_BUSY.
func (s *SQLiteStore) Append(ctx context.Context, turn domain.ConversationTurn) error {
	stamp(&turn)

	vars := turn.SchemaVars
	if vars == nil {
		vars = map[string]any{}
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal schema_vars: %w", err)
	}

	query := `
	INSERT INTO memories (user_id, transcript, reply, schema_vars, created_at)
	VALUES (?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, "append memory", s.retry.DatabaseMaxRetries, s.retry.DatabaseRetryBaseDelay, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			turn.SessionID, turn.Transcript, turn.Reply, string(varsJSON), turn.CreatedAt.UnixNano(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
