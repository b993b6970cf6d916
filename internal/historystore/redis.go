// Package historystore provides shared backends for the dispatch learning
// history so several dispatchd replicas learn from the same outcomes.
package historystore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// DefaultKeyPrefix namespaces history lists.
const DefaultKeyPrefix = "dispatch:history:"

// RedisStore implements orchestrator.HistoryStore on Redis lists.
//
// Each agent's window is a list at <prefix><agent id>. Appends push to the
// tail and trim to orchestrator.MaxHistory inside one MULTI/EXEC, so
// concurrent writers never observe an over-long list.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	limit  int64
}

var _ orchestrator.HistoryStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, limit: orchestrator.MaxHistory}
}

// Open connects to Redis using the history config and verifies the
// connection.
func Open(ctx context.Context, cfg config.HistoryConfig) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis_addr is required for the redis history backend")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword.Value(),
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

func (s *RedisStore) key(agentID string) string {
	return s.prefix + agentID
}

// Get returns the agent's history, oldest first.
func (s *RedisStore) Get(ctx context.Context, agentID string) ([]float64, error) {
	raw, err := s.client.LRange(ctx, s.key(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history read: %w", err)
	}
	return parseValues(raw)
}

// Append pushes value and trims the window.
func (s *RedisStore) Append(ctx context.Context, agentID string, value float64) error {
	key := s.key(agentID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, formatValue(value))
		pipe.LTrim(ctx, key, -s.limit, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis history append: %w", err)
	}
	return nil
}

// Reset replaces the agent's history with seed.
func (s *RedisStore) Reset(ctx context.Context, agentID string, seed float64) error {
	key := s.key(agentID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, formatValue(seed))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis history reset: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseValues(raw []string) ([]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	values := make([]float64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt history entry %q: %w", s, err)
		}
		values = append(values, v)
	}
	return values, nil
}
