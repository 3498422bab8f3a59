package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const noncePrefix = "payment:return-nonce:"

// RedisNonceStore keeps redirect nonces in Redis so returns survive a
// server restart and work across replicas.
type RedisNonceStore struct {
	client redis.UniversalClient
}

// NewRedisNonceStore creates a Redis-backed nonce store.
func NewRedisNonceStore(client redis.UniversalClient) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	return s.client.Set(ctx, noncePrefix+nonce, "1", ttl).Err()
}

func (s *RedisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	deleted, err := s.client.Del(ctx, noncePrefix+nonce).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// MemoryNonceStore is the single-process fallback used when Redis is
// not configured, and in tests.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewMemoryNonceStore creates an in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(s.nonces, nonce)
	if time.Now().After(expiry) {
		return false, nil
	}
	return true, nil
}
