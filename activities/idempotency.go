package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"

	"github.com/fortressi/paysaga"
)

// IdempotencyStore remembers the first result recorded for a key.
type IdempotencyStore interface {
	// Claim stores value under key unless the key is already taken, and
	// returns whatever is stored afterwards.
	Claim(ctx context.Context, key string, value []byte) ([]byte, error)
	// Lookup returns the value stored under key, if any.
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
}

// MemoryIdempotency keeps keys in process memory.
type MemoryIdempotency struct {
	entries *xsync.MapOf[string, []byte]
}

// NewMemoryIdempotency creates an empty store.
func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{entries: xsync.NewMapOf[string, []byte]()}
}

// Claim implements IdempotencyStore.
func (m *MemoryIdempotency) Claim(_ context.Context, key string, value []byte) ([]byte, error) {
	actual, _ := m.entries.LoadOrStore(key, value)
	return actual, nil
}

// Lookup implements IdempotencyStore.
func (m *MemoryIdempotency) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.entries.Load(key)
	return value, ok, nil
}

// RedisIdempotency keeps keys in Redis with SET NX, so every worker sees the
// same first result.
type RedisIdempotency struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// RedisOption configures a RedisIdempotency.
type RedisOption func(*RedisIdempotency)

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisIdempotency) { r.keyPrefix = prefix }
}

// WithTTL sets how long keys are kept. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisIdempotency) { r.ttl = ttl }
}

// NewRedisIdempotency wraps a Redis client.
func NewRedisIdempotency(client redis.Cmdable, opts ...RedisOption) *RedisIdempotency {
	r := &RedisIdempotency{
		client:    client,
		keyPrefix: "paysaga:idem",
		ttl:       7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisIdempotencyFromURL parses a redis:// URL and connects to it.
func NewRedisIdempotencyFromURL(url string, opts ...RedisOption) (*RedisIdempotency, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisIdempotency(redis.NewClient(options), opts...), nil
}

func (r *RedisIdempotency) key(key string) string {
	return r.keyPrefix + ":" + key
}

// Claim implements IdempotencyStore.
func (r *RedisIdempotency) Claim(ctx context.Context, key string, value []byte) ([]byte, error) {
	fullKey := r.key(key)
	ok, err := r.client.SetNX(ctx, fullKey, value, r.ttl).Result()
	if err != nil {
		return nil, paysaga.Transient(fmt.Errorf("redis SETNX %s: %w", fullKey, err))
	}
	if ok {
		return value, nil
	}
	stored, err := r.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		return nil, paysaga.Transient(fmt.Errorf("redis GET %s: %w", fullKey, err))
	}
	return stored, nil
}

// Lookup implements IdempotencyStore.
func (r *RedisIdempotency) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	fullKey := r.key(key)
	value, err := r.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, paysaga.Transient(fmt.Errorf("redis GET %s: %w", fullKey, err))
	}
	return value, true, nil
}
