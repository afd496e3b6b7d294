// Package storage defines the persistent counter stores consumed by the
// rate limiter and the usage-quota enforcer, together with the record types
// they persist. Backends live in subpackages (memory, redis, sqlite).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("storage: not found")

// ErrNotMetered is returned when a limit type has no usage counter
var ErrNotMetered = errors.New("storage: limit type has no usage counter")

// Plan is a billing plan tier
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanGrowth     Plan = "growth"
	PlanEnterprise Plan = "enterprise"
)

// LimitType identifies one plan ceiling and its matching usage counter
type LimitType int

const (
	LimitScans LimitType = iota
	LimitPrompts
	LimitCompetitors
	LimitReports
	LimitSites
)

// Metered reports whether the limit type has a matching usage counter.
// max_sites bounds owned resources, not metered actions, so it has none.
func (lt LimitType) Metered() bool {
	return lt != LimitSites
}

// String returns the limit type's wire name
func (lt LimitType) String() string {
	switch lt {
	case LimitScans:
		return "max_scans"
	case LimitPrompts:
		return "max_prompts"
	case LimitCompetitors:
		return "max_competitors"
	case LimitReports:
		return "max_reports"
	case LimitSites:
		return "max_sites"
	default:
		return "unknown"
	}
}

// RateLimitRecord is the persisted counter for one (identifier, endpoint)
// pair. At most one live record exists per pair; the count never decreases
// within a window.
type RateLimitRecord struct {
	Identifier   string
	Endpoint     string
	RequestCount int
	WindowStart  time.Time
	UpdatedAt    time.Time
}

// RateLimitDecision is the outcome of a single fixed-window check
type RateLimitDecision struct {
	Allowed      bool
	RequestCount int
	MaxRequests  int
	WindowStart  time.Time
	RetryAfter   time.Duration
}

// RateLimitStore persists fixed-window request counters. Allow applies the
// whole window algorithm as one atomic operation at the storage layer, so
// two concurrent requests for the same pair cannot both observe the same
// pre-increment count.
type RateLimitStore interface {
	// Allow records one request for (identifier, endpoint) and reports
	// whether it fits within maxRequests per window. A request that starts
	// a new window, or arrives after the previous window elapsed, resets
	// the count to 1. A denied request does not advance the count.
	Allow(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (*RateLimitDecision, error)

	// Purge deletes records whose window started before the cutoff.
	// Best-effort cleanup; correctness does not depend on it.
	Purge(ctx context.Context, olderThan time.Time) (int, error)

	// Reset removes the record for the given pair
	Reset(ctx context.Context, identifier, endpoint string) error

	// Close releases resources held by the store
	Close() error
}

// UsageMetrics tracks a user's cumulative metered usage since the last reset
type UsageMetrics struct {
	UserID          string
	ScanCount       int
	PromptCount     int
	CompetitorCount int
	ReportCount     int
	LastReset       time.Time
}

// Count returns the counter matching a limit type
func (u *UsageMetrics) Count(lt LimitType) int {
	switch lt {
	case LimitScans:
		return u.ScanCount
	case LimitPrompts:
		return u.PromptCount
	case LimitCompetitors:
		return u.CompetitorCount
	case LimitReports:
		return u.ReportCount
	default:
		return 0
	}
}

// PlanLimits holds a plan's usage ceilings. A nil field means no ceiling.
type PlanLimits struct {
	Plan           Plan
	MaxSites       *int
	MaxPrompts     *int
	MaxScans       *int
	MaxCompetitors *int
	MaxReports     *int
}

// Limit returns the ceiling for a limit type; nil means unlimited
func (p *PlanLimits) Limit(lt LimitType) *int {
	switch lt {
	case LimitScans:
		return p.MaxScans
	case LimitPrompts:
		return p.MaxPrompts
	case LimitCompetitors:
		return p.MaxCompetitors
	case LimitReports:
		return p.MaxReports
	case LimitSites:
		return p.MaxSites
	default:
		return nil
	}
}

// UsageStore persists per-user usage counters and plan ceilings.
// Errors from this store are surfaced to callers (the quota enforcer fails
// closed), unlike RateLimitStore errors which the limiter converts to allow.
type UsageStore interface {
	// UnderLimit reports whether the user's counter for limitType is below
	// their plan's ceiling. Usage and limits are read in one consistent
	// query. Unlimited ceilings always report true.
	UnderLimit(ctx context.Context, userID string, limitType LimitType) (bool, error)

	// Increment atomically adds one to the user's counter for limitType and
	// returns the new value. Called after a metered action succeeds.
	Increment(ctx context.Context, userID string, limitType LimitType) (int, error)

	// Usage returns the user's current usage metrics
	Usage(ctx context.Context, userID string) (*UsageMetrics, error)

	// ResetUsage zeroes all counters for a user and stamps last_reset.
	// Triggered by subscription activation or renewal.
	ResetUsage(ctx context.Context, userID string) error

	// ResetAllBefore zeroes counters for every user whose last_reset is
	// older than the cutoff, returning how many users were reset
	ResetAllBefore(ctx context.Context, cutoff time.Time) (int, error)

	// PlanLimits returns the ceilings for a plan
	PlanLimits(ctx context.Context, plan Plan) (*PlanLimits, error)

	// Close releases resources held by the store
	Close() error
}

// AnalyticsSnapshot is the aggregate view served to administrators
type AnalyticsSnapshot struct {
	TotalUsers       int            `json:"totalUsers"`
	UsersByPlan      map[string]int `json:"usersByPlan"`
	TotalScans       int            `json:"totalScans"`
	TotalPrompts     int            `json:"totalPrompts"`
	TotalCompetitors int            `json:"totalCompetitors"`
	TotalReports     int            `json:"totalReports"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

// AnalyticsStore produces aggregate usage snapshots. The computation may be
// expensive; callers are expected to cache results.
type AnalyticsStore interface {
	Analytics(ctx context.Context) (*AnalyticsSnapshot, error)
}

// Profile is the slice of a user record the core reads
type Profile struct {
	UserID string
	Email  string
	Role   string
	Plan   Plan
}

// ProfileStore resolves a user id to role and plan
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// Config defines common configuration for stores
type Config struct {
	// CleanupInterval is how often background cleanup runs
	CleanupInterval time.Duration
	// MaxEntries is the maximum number of entries to keep (0 = unlimited)
	MaxEntries int
}

// DefaultConfig returns default store configuration
func DefaultConfig() *Config {
	return &Config{
		CleanupInterval: 5 * time.Minute,
		MaxEntries:      10000,
	}
}
