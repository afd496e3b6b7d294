package memory

import (
	"context"
	"sync"
	"time"

	"limitgate/internal/storage"
)

// UsageStore implements storage.UsageStore and storage.ProfileStore with
// in-process maps. Profiles and plan limits are seeded by the caller.
type UsageStore struct {
	usage    map[string]*storage.UsageMetrics
	profiles map[string]*storage.Profile
	plans    map[storage.Plan]*storage.PlanLimits
	mu       sync.Mutex
}

// NewUsageStore creates an empty memory-backed usage store
func NewUsageStore() *UsageStore {
	return &UsageStore{
		usage:    make(map[string]*storage.UsageMetrics),
		profiles: make(map[string]*storage.Profile),
		plans:    make(map[storage.Plan]*storage.PlanLimits),
	}
}

// SeedProfile registers a user profile, creating empty usage metrics
func (s *UsageStore) SeedProfile(p *storage.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UserID] = p
	if _, exists := s.usage[p.UserID]; !exists {
		s.usage[p.UserID] = &storage.UsageMetrics{
			UserID:    p.UserID,
			LastReset: time.Now(),
		}
	}
}

// SeedPlan registers a plan's ceilings
func (s *UsageStore) SeedPlan(limits *storage.PlanLimits) {
	s.mu.Lock()
	s.plans[limits.Plan] = limits
	s.mu.Unlock()
}

// SetUsage overwrites a user's usage metrics
func (s *UsageStore) SetUsage(m *storage.UsageMetrics) {
	s.mu.Lock()
	s.usage[m.UserID] = m
	s.mu.Unlock()
}

// UnderLimit reports whether the user's counter is below the plan ceiling.
// Usage, profile and limits are read under one lock, matching the
// single-consistent-query contract of the interface.
func (s *UsageStore) UnderLimit(ctx context.Context, userID string, limitType storage.LimitType) (bool, error) {
	if !limitType.Metered() {
		return false, storage.ErrNotMetered
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	limits, ok := s.plans[profile.Plan]
	if !ok {
		return false, storage.ErrNotFound
	}

	ceiling := limits.Limit(limitType)
	if ceiling == nil {
		return true, nil
	}

	metrics, ok := s.usage[userID]
	if !ok {
		return true, nil
	}
	return metrics.Count(limitType) < *ceiling, nil
}

// Increment atomically adds one to the user's counter and returns the new value
func (s *UsageStore) Increment(ctx context.Context, userID string, limitType storage.LimitType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics, ok := s.usage[userID]
	if !ok {
		metrics = &storage.UsageMetrics{UserID: userID, LastReset: time.Now()}
		s.usage[userID] = metrics
	}

	switch limitType {
	case storage.LimitScans:
		metrics.ScanCount++
		return metrics.ScanCount, nil
	case storage.LimitPrompts:
		metrics.PromptCount++
		return metrics.PromptCount, nil
	case storage.LimitCompetitors:
		metrics.CompetitorCount++
		return metrics.CompetitorCount, nil
	case storage.LimitReports:
		metrics.ReportCount++
		return metrics.ReportCount, nil
	default:
		return 0, storage.ErrNotMetered
	}
}

// Usage returns a copy of the user's usage metrics
func (s *UsageStore) Usage(ctx context.Context, userID string) (*storage.UsageMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics, ok := s.usage[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *metrics
	return &copied, nil
}

// ResetUsage zeroes all counters for a user and stamps last_reset
func (s *UsageStore) ResetUsage(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usage[userID]; !ok {
		return storage.ErrNotFound
	}
	s.usage[userID] = &storage.UsageMetrics{
		UserID:    userID,
		LastReset: time.Now(),
	}
	return nil
}

// ResetAllBefore zeroes counters for users whose last reset predates cutoff
func (s *UsageStore) ResetAllBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	now := time.Now()
	for userID, metrics := range s.usage {
		if metrics.LastReset.Before(cutoff) {
			s.usage[userID] = &storage.UsageMetrics{
				UserID:    userID,
				LastReset: now,
			}
			reset++
		}
	}
	return reset, nil
}

// PlanLimits returns the ceilings for a plan
func (s *UsageStore) PlanLimits(ctx context.Context, plan storage.Plan) (*storage.PlanLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits, ok := s.plans[plan]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *limits
	return &copied, nil
}

// Profile resolves a user id to its profile record
func (s *UsageStore) Profile(ctx context.Context, userID string) (*storage.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *profile
	return &copied, nil
}

// UpsertProfile registers or replaces a user profile
func (s *UsageStore) UpsertProfile(ctx context.Context, p *storage.Profile) error {
	s.SeedProfile(p)
	return nil
}

// UpsertPlanLimits registers or replaces a plan's ceilings
func (s *UsageStore) UpsertPlanLimits(ctx context.Context, limits *storage.PlanLimits) error {
	s.SeedPlan(limits)
	return nil
}

// Analytics aggregates usage across all users
func (s *UsageStore) Analytics(ctx context.Context) (*storage.AnalyticsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := &storage.AnalyticsSnapshot{
		TotalUsers:  len(s.profiles),
		UsersByPlan: make(map[string]int),
		GeneratedAt: time.Now(),
	}
	for _, p := range s.profiles {
		snapshot.UsersByPlan[string(p.Plan)]++
	}
	for _, m := range s.usage {
		snapshot.TotalScans += m.ScanCount
		snapshot.TotalPrompts += m.PromptCount
		snapshot.TotalCompetitors += m.CompetitorCount
		snapshot.TotalReports += m.ReportCount
	}
	return snapshot, nil
}

// Close is a no-op for the memory store
func (s *UsageStore) Close() error {
	return nil
}

var (
	_ storage.UsageStore     = (*UsageStore)(nil)
	_ storage.ProfileStore   = (*UsageStore)(nil)
	_ storage.AnalyticsStore = (*UsageStore)(nil)
)
