package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists the refresh token of one client between process restarts or
// page loads. An empty token means no stored session.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, refreshToken string) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryTokenStore returns a store pre-loaded with token, which may be empty.
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (m *MemoryTokenStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, refreshToken string) error {
	m.mu.Lock()
	m.token = refreshToken
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Clear(context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return nil
}

// RedisTokenStore keeps one client's refresh token under a single Redis key. It
// lets a server-side client survive process restarts.
type RedisTokenStore struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// NewRedisTokenStore stores the token at key. A positive ttl expires it when the
// client stays away longer than the session could live.
func NewRedisTokenStore(client redis.UniversalClient, key string, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{redis: client, key: key, ttl: ttl}
}

func (s *RedisTokenStore) Load(ctx context.Context) (string, error) {
	token, err := s.redis.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, refreshToken string) error {
	if err := s.redis.Set(ctx, s.key, refreshToken, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
