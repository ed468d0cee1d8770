package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
	"github.com/redis/go-redis/v9"
)

const memoryKeyPrefix = "memories:"

// RedisStore implements Repository with one Redis list per session.
// RPUSH keeps insertion order without a separate sequence.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis parses url, connects, and verifies the server responds.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	store := NewRedisStore(redis.NewClient(opts), ttl)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

// NewRedisStore wraps an existing client. A ttl of zero keeps lists forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// FetchContext returns the whole list for a session.
func (s *RedisStore) FetchContext(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	vals, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange memories: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(vals))
	for _, v := range vals {
		var r record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			slog.Warn("skipping malformed memory entry", "session_id", sessionID, "error", err)
			continue
		}
		turns = append(turns, r.turn())
	}
	return turns, nil
}

// Append pushes one turn onto the session list and refreshes its TTL.
func (s *RedisStore) Append(ctx context.Context, turn domain.ConversationTurn) error {
	stamp(&turn)

	val, err := json.Marshal(toRecord(turn))
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	key := s.key(turn.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, val)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rpush memory: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(sessionID string) string {
	return memoryKeyPrefix + sessionID
}

var _ Repository = (*RedisStore)(nil)
