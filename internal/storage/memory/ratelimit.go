// Package memory provides in-process implementations of the counter stores.
// They back tests and single-instance deployments that run without Redis or
// SQLite; counters do not survive a restart and are not shared across
// processes.
package memory

import (
	"context"
	"sync"
	"time"

	"limitgate/internal/storage"
)

// RateLimitStore implements storage.RateLimitStore with an in-process map
type RateLimitStore struct {
	records map[pairKey]*storage.RateLimitRecord
	mu      sync.Mutex
	config  *storage.Config
	done    chan struct{}
	once    sync.Once
}

type pairKey struct {
	identifier string
	endpoint   string
}

// NewRateLimitStore creates a memory-backed rate limit store
func NewRateLimitStore(config *storage.Config) *RateLimitStore {
	if config == nil {
		config = storage.DefaultConfig()
	}

	s := &RateLimitStore{
		records: make(map[pairKey]*storage.RateLimitRecord),
		config:  config,
		done:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// Allow applies the fixed-window algorithm under a single lock, which makes
// the read-reset-increment sequence atomic for concurrent callers.
func (s *RateLimitStore) Allow(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (*storage.RateLimitDecision, error) {
	now := time.Now()
	key := pairKey{identifier, endpoint}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists || now.Sub(rec.WindowStart) >= window {
		// First request in a window, or the previous window elapsed
		rec = &storage.RateLimitRecord{
			Identifier:   identifier,
			Endpoint:     endpoint,
			RequestCount: 1,
			WindowStart:  now,
			UpdatedAt:    now,
		}
		s.records[key] = rec
		return &storage.RateLimitDecision{
			Allowed:      true,
			RequestCount: 1,
			MaxRequests:  maxRequests,
			WindowStart:  rec.WindowStart,
		}, nil
	}

	if rec.RequestCount < maxRequests {
		rec.RequestCount++
		rec.UpdatedAt = now
		return &storage.RateLimitDecision{
			Allowed:      true,
			RequestCount: rec.RequestCount,
			MaxRequests:  maxRequests,
			WindowStart:  rec.WindowStart,
		}, nil
	}

	retryAfter := window - now.Sub(rec.WindowStart)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &storage.RateLimitDecision{
		Allowed:      false,
		RequestCount: rec.RequestCount,
		MaxRequests:  maxRequests,
		WindowStart:  rec.WindowStart,
		RetryAfter:   retryAfter,
	}, nil
}

// Purge deletes records whose window started before the cutoff
func (s *RateLimitStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, rec := range s.records {
		if rec.WindowStart.Before(olderThan) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Reset removes the record for the given pair
func (s *RateLimitStore) Reset(ctx context.Context, identifier, endpoint string) error {
	s.mu.Lock()
	delete(s.records, pairKey{identifier, endpoint})
	s.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine. Close is idempotent.
func (s *RateLimitStore) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

// cleanupLoop periodically drops records older than 24 hours
func (s *RateLimitStore) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Purge(context.Background(), time.Now().Add(-24*time.Hour))
		case <-s.done:
			return
		}
	}
}

var _ storage.RateLimitStore = (*RateLimitStore)(nil)
