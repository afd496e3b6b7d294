package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"limitgate/internal/storage"
)

// Config holds the maintenance schedules
type Config struct {
	// PurgeSchedule is the cron spec for dropping stale rate-limit records
	PurgeSchedule string
	// PurgeOlderThan is how old a window must be before it is purged.
	// Must exceed the largest configured limit window.
	PurgeOlderThan time.Duration
	// ResetSchedule is the cron spec for the billing-cycle usage reset
	ResetSchedule string
	// ResetAfter is the billing-cycle length
	ResetAfter time.Duration
}

// DefaultConfig returns hourly purges and a daily reset sweep over a
// 30-day cycle
func DefaultConfig() *Config {
	return &Config{
		PurgeSchedule:  "0 * * * *",
		PurgeOlderThan: 24 * time.Hour,
		ResetSchedule:  "30 0 * * *",
		ResetAfter:     30 * 24 * time.Hour,
	}
}

// Scheduler runs the periodic storage maintenance jobs
type Scheduler struct {
	config    *Config
	rateLimit storage.RateLimitStore
	usage     storage.UsageStore
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewScheduler creates the maintenance scheduler. Jobs run on the stores
// directly, so the scheduler works the same over memory, redis, or sqlite
// backends.
func NewScheduler(config *Config, rateLimit storage.RateLimitStore, usage storage.UsageStore, logger *slog.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		config:    config,
		rateLimit: rateLimit,
		usage:     usage,
		logger:    logger.With("component", "maintenance"),
	}
}

// Start registers and starts the cron jobs
func (s *Scheduler) Start() error {
	s.cron = cron.New()

	if s.config.PurgeSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.PurgeSchedule, s.runPurge); err != nil {
			return err
		}
	}
	if s.config.ResetSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.ResetSchedule, s.runReset); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Maintenance scheduler started",
		"purge_schedule", s.config.PurgeSchedule,
		"reset_schedule", s.config.ResetSchedule)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.logger.Info("Maintenance scheduler stopped")
}

// runPurge drops rate-limit records whose window closed long ago
func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.config.PurgeOlderThan)
	purged, err := s.rateLimit.Purge(ctx, cutoff)
	if err != nil {
		s.logger.Error("Rate limit purge failed", "error", err)
		return
	}
	s.logger.Info("Purged stale rate limit records", "count", purged, "older_than", cutoff)
}

// runReset zeroes counters for users whose billing cycle has elapsed
func (s *Scheduler) runReset() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.config.ResetAfter)
	reset, err := s.usage.ResetAllBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Usage cycle reset failed", "error", err)
		return
	}
	if reset > 0 {
		s.logger.Info("Reset usage counters", "users", reset, "cycle_started_before", cutoff)
	}
}
