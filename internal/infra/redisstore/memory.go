package redisstore

import (
	"context"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/cache"
)

// MemoryStateStore is the single-instance fallback used when REDIS_URL is unset.
type MemoryStateStore struct {
	states *cache.InMemory[*domain.OAuthState]
}

func NewMemoryStateStore(defaultTTL time.Duration) *MemoryStateStore {
	return &MemoryStateStore{states: cache.New[*domain.OAuthState](defaultTTL)}
}

func (m *MemoryStateStore) Save(_ context.Context, st *domain.OAuthState, ttl time.Duration) error {
	m.states.SetWithTTL(st.State, st, ttl)
	return nil
}

func (m *MemoryStateStore) Consume(_ context.Context, state string) (*domain.OAuthState, error) {
	st, ok := m.states.Take(state)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "oauth_state", ID: ""}
	}
	return st, nil
}

// NoopLimiter allows every request.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return true, 0, nil
}
