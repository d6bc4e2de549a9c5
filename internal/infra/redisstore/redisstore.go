// Package redisstore keeps short-lived state in Redis: pending OAuth states
// and fixed-window rate-limit counters.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("redisstore")

const (
	stateKeyPrefix     = "oauth_state:"
	rateLimitKeyPrefix = "rate_limit:"
)

// NewClient parses a redis:// or rediss:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ============================================================
// OAuth state
// ============================================================

// StateStore saves OAuth states as JSON with a TTL.
type StateStore struct {
	rdb redis.Cmdable
}

func NewStateStore(rdb redis.Cmdable) *StateStore {
	return &StateStore{rdb: rdb}
}

func (s *StateStore) Save(ctx context.Context, st *domain.OAuthState, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "Redis.SaveState")
	defer span.End()

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode oauth state: %w", err)
	}
	if err := s.rdb.Set(ctx, stateKeyPrefix+st.State, string(payload), ttl).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return nil
}

// Consume returns and deletes the state in one GETDEL. A missing or expired
// state yields ErrNotFound.
func (s *StateStore) Consume(ctx context.Context, state string) (*domain.OAuthState, error) {
	ctx, span := tracer.Start(ctx, "Redis.ConsumeState")
	defer span.End()

	raw, err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.ErrNotFound{Resource: "oauth_state", ID: ""}
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "redis", Err: err}
	}

	var st domain.OAuthState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	return &st, nil
}

// ============================================================
// Rate limiting
// ============================================================

// RateLimiter is a fixed-window counter: the first hit in a window sets the
// expiry, later hits only increment.
type RateLimiter struct {
	rdb redis.Cmdable
}

func NewRateLimiter(rdb redis.Cmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Allow counts one hit against key. When the limit is exceeded it returns
// false and the time left in the window.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	rKey := rateLimitKeyPrefix + key

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, rKey)
	pipe.ExpireNX(ctx, rKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if incr.Val() > int64(limit) {
		ttl, err := l.rdb.TTL(ctx, rKey).Result()
		if err != nil {
			return false, 0, err
		}
		if ttl < 0 {
			ttl = window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}
