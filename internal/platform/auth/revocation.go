package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RevocationStore remembers revoked token ids until the token would have
// expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationStore keeps revocations in process memory. Expired entries
// are pruned on write, so no background goroutine is needed.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, id)
		}
	}
	if expiresAt.After(now) {
		s.entries[jti] = expiresAt
	}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.entries[jti]
	return ok && exp.After(s.now()), nil
}

// Count returns the number of tracked revocations.
func (s *MemoryRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisRevocationStore shares revocations across server instances. Each
// entry is a key whose TTL matches the remaining token lifetime. Calls go
// through a circuit breaker so a dead Redis fails requests fast instead of
// stalling each one on a dial timeout.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
	cb     *gobreaker.CircuitBreaker
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{
		client: client,
		prefix: "records:revoked:",
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis-revocations",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.prefix+jti, "1", ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("revoke token %s: %w", jti, err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Exists(ctx, s.prefix+jti).Result()
	})
	if err != nil {
		return false, fmt.Errorf("check revocation %s: %w", jti, err)
	}
	return n.(int64) > 0, nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open" or
// "open").
func (s *RedisRevocationStore) BreakerState() string {
	return s.cb.State().String()
}

// Ping reports whether Redis is reachable.
func (s *RedisRevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
