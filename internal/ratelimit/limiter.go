package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"limitgate/internal/storage"
	"limitgate/pkg/metrics"
)

// Class is one named rate-limit configuration
type Class struct {
	// Name identifies the class in logs and counter keys
	Name string
	// MaxRequests allowed per window
	MaxRequests int
	// Window is the fixed counting window
	Window time.Duration
	// KeyBy selects the identifier: user ID or client IP
	KeyBy KeySource
}

// KeySource selects what identifies a caller for counting
type KeySource string

const (
	KeyByUser KeySource = "user"
	KeyByIP   KeySource = "ip"
)

// Decision is the outcome of a rate-limit check
type Decision struct {
	Allowed      bool
	MaxRequests  int
	RequestCount int
	RetryAfter   time.Duration
	// FailedOpen marks decisions granted because the backing store errored
	FailedOpen bool
}

// Remaining returns the requests left in the window, clamped at zero
func (d *Decision) Remaining() int {
	remaining := d.MaxRequests - d.RequestCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limiter applies fixed-window rate limits backed by a counter store.
// Storage failures never block a request: the limiter logs, counts the
// failure, and lets the request through.
type Limiter struct {
	store   storage.RateLimitStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLimiter creates a rate limiter on top of the given counter store
func NewLimiter(store storage.RateLimitStore, logger *slog.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:   store,
		logger:  logger.With("component", "ratelimit"),
		metrics: m,
	}
}

// Check counts one request against the class window for the identifier and
// decides whether it may proceed. A denied request does not consume quota in
// the window.
func (l *Limiter) Check(ctx context.Context, identifier string, class *Class) *Decision {
	endpoint := class.Name

	start := time.Now()
	result, err := l.store.Allow(ctx, identifier, endpoint, class.MaxRequests, class.Window)
	if l.metrics != nil {
		l.metrics.StorageDuration.WithLabelValues("ratelimit", "allow").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Fail open: availability wins over strict enforcement here
		l.logger.Error("Rate limit check failed, allowing request",
			"identifier", identifier,
			"class", class.Name,
			"error", err)
		if l.metrics != nil {
			l.metrics.StorageErrors.WithLabelValues("ratelimit", "allow").Inc()
			l.metrics.RateLimitFailOpen.WithLabelValues(endpoint).Inc()
		}
		return &Decision{
			Allowed:     true,
			MaxRequests: class.MaxRequests,
			FailedOpen:  true,
		}
	}

	decision := &Decision{
		Allowed:      result.Allowed,
		MaxRequests:  class.MaxRequests,
		RequestCount: result.RequestCount,
		RetryAfter:   result.RetryAfter,
	}

	if l.metrics != nil {
		if decision.Allowed {
			l.metrics.RateLimitAllowed.WithLabelValues(endpoint).Inc()
		} else {
			l.metrics.RateLimitRejected.WithLabelValues(endpoint).Inc()
		}
	}

	if !decision.Allowed {
		l.logger.Warn("Rate limit exceeded",
			"identifier", identifier,
			"class", class.Name,
			"count", decision.RequestCount,
			"max", decision.MaxRequests,
			"retry_after", decision.RetryAfter)
	}

	return decision
}

// Reset clears the window for an identifier, mainly for support tooling
func (l *Limiter) Reset(ctx context.Context, identifier string, class *Class) error {
	return l.store.Reset(ctx, identifier, class.Name)
}
