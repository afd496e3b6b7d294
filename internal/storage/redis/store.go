// Package redis implements the rate-limit counter store on Redis, which
// makes the limit hold across stateless process instances. The whole
// window algorithm runs inside a Lua script so concurrent requests for the
// same (identifier, endpoint) pair cannot lose updates.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"limitgate/internal/storage"
)

// Client defines the Redis operations the store needs
type Client interface {
	// Eval executes a Lua script
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	// Del deletes keys
	Del(ctx context.Context, keys ...string) error
	// Close closes the connection
	Close() error
}

// Store implements storage.RateLimitStore using Redis
type Store struct {
	client Client
	script string
}

// Lua script applying the fixed-window algorithm atomically. The record is
// a hash {count, window_start}; a key expires one window after its window
// started, which replaces explicit purging. Returns
// {allowed, count, window_start_ms}.
const allowScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local max = tonumber(ARGV[3])

	local data = redis.call('HMGET', key, 'count', 'window_start')
	local count = tonumber(data[1])
	local start = tonumber(data[2])

	if not count or not start or now - start >= window then
		redis.call('HSET', key, 'count', 1, 'window_start', now)
		redis.call('PEXPIRE', key, window)
		return {1, 1, now}
	end

	if count < max then
		count = redis.call('HINCRBY', key, 'count', 1)
		redis.call('HSET', key, 'updated_at', now)
		return {1, count, start}
	end

	return {0, count, start}
`

// NewStore creates a Redis-backed rate limit store
func NewStore(client Client) *Store {
	return &Store{
		client: client,
		script: allowScript,
	}
}

// Allow records one request and reports whether it fits the window
func (s *Store) Allow(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (*storage.RateLimitDecision, error) {
	now := time.Now()

	result, err := s.client.Eval(ctx, s.script, []string{s.key(identifier, endpoint)},
		now.UnixMilli(),
		window.Milliseconds(),
		maxRequests,
	)
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}

	res, ok := result.([]interface{})
	if !ok || len(res) != 3 {
		return nil, errors.New("invalid rate limit script result")
	}
	allowed, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	startMilli, ok3 := res[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("invalid rate limit script result types")
	}

	windowStart := time.UnixMilli(startMilli)
	decision := &storage.RateLimitDecision{
		Allowed:      allowed == 1,
		RequestCount: int(count),
		MaxRequests:  maxRequests,
		WindowStart:  windowStart,
	}
	if !decision.Allowed {
		retryAfter := window - now.Sub(windowStart)
		if retryAfter < 0 {
			retryAfter = 0
		}
		decision.RetryAfter = retryAfter
	}

	return decision, nil
}

// Purge is a no-op: keys carry a PEXPIRE of one window, so Redis removes
// stale records itself.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

// Reset removes the record for the given pair
func (s *Store) Reset(ctx context.Context, identifier, endpoint string) error {
	return s.client.Del(ctx, s.key(identifier, endpoint))
}

// Close closes the store
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) key(identifier, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", identifier, endpoint)
}

var _ storage.RateLimitStore = (*Store)(nil)
