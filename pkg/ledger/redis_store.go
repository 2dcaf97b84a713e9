package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements EventStore on Redis. Each conversation's events
// live in one Redis list; the two events of an exchange are pushed inside
// a MULTI/EXEC transaction so the pair is applied atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all ledger keys (default: "health:ledger:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a Redis-backed event store and verifies the
// connection with a ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: keyPrefix(cfg.Prefix)}, nil
}

// NewRedisStoreFromClient wraps an existing client. Useful for testing
// with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix(prefix)}
}

func keyPrefix(prefix string) string {
	if prefix == "" {
		return "health:ledger:"
	}
	return prefix
}

func (s *RedisStore) eventsKey(id ConversationID) string {
	return s.prefix + "events:" + id.String()
}

// AppendPair pushes both events in one transaction. On any failure the
// transaction is discarded and neither event is stored.
func (s *RedisStore) AppendPair(ctx context.Context, id ConversationID, user, assistant Event) ([]Event, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	key := s.eventsKey(id)

	base, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: llen %s: %v", ErrPersistence, key, err)
	}

	user.Seq = base + 1
	assistant.Seq = base + 2

	userData, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("marshal user event: %w", err)
	}
	assistantData, err := json.Marshal(assistant)
	if err != nil {
		return nil, fmt.Errorf("marshal assistant event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, userData)
	pipe.RPush(ctx, key, assistantData)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: append pair to %s: %v", ErrPersistence, key, err)
	}

	return []Event{user, assistant}, nil
}

// Load returns the conversation's events in append order.
func (s *RedisStore) Load(ctx context.Context, id ConversationID) ([]Event, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	raw, err := s.client.LRange(ctx, s.eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for i, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshal event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
