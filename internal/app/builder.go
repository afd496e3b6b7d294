package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"limitgate/internal/config"
	"limitgate/internal/identity"
	"limitgate/internal/maintenance"
	"limitgate/internal/quota"
	"limitgate/internal/ratelimit"
	"limitgate/internal/storage"
	"limitgate/internal/storage/memory"
	"limitgate/internal/storage/redis"
	"limitgate/internal/storage/sqlite"
	"limitgate/internal/telemetry"
	"limitgate/pkg/cache"
	"limitgate/pkg/metrics"
)

// UserStore is the combined persistence surface the server needs for users
type UserStore interface {
	storage.UsageStore
	storage.ProfileStore
}

// planSeeder is implemented by stores that accept plan definitions from
// configuration
type planSeeder interface {
	UpsertPlanLimits(ctx context.Context, limits *storage.PlanLimits) error
}

// Option overrides a builder dependency, mainly for tests
type Option func(*Builder)

// WithRateLimitStore injects a rate-limit counter store
func WithRateLimitStore(store storage.RateLimitStore) Option {
	return func(b *Builder) { b.rateLimitStore = store }
}

// WithUserStore injects a usage/profile store
func WithUserStore(store UserStore) Option {
	return func(b *Builder) { b.userStore = store }
}

// Builder assembles the server from configuration
type Builder struct {
	config *config.Config
	logger *slog.Logger

	rateLimitStore storage.RateLimitStore
	userStore      UserStore
}

// NewBuilder creates a server builder
func NewBuilder(cfg *config.Config, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build wires stores, caches, enforcement, and listeners into a server
func (b *Builder) Build() (*Server, error) {
	cfg := b.config

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)

	tel, err := telemetry.New(telemetry.Config{
		Enabled:    cfg.Telemetry.Tracing.Enabled,
		Service:    "limitgate",
		Version:    Version,
		Endpoint:   cfg.Telemetry.Tracing.Endpoint,
		SampleRate: cfg.Telemetry.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	rateLimitStore := b.rateLimitStore
	if rateLimitStore == nil {
		if cfg.Redis.Enabled {
			client, err := redis.NewClient(redis.Options{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return nil, fmt.Errorf("redis: %w", err)
			}
			rateLimitStore = redis.NewStore(client)
			b.logger.Info("Rate limit counters on redis", "host", cfg.Redis.Host)
		} else {
			rateLimitStore = memory.NewRateLimitStore(storage.DefaultConfig())
			b.logger.Info("Rate limit counters in memory")
		}
	}

	userStore := b.userStore
	if userStore == nil {
		if cfg.Database.Path != "" {
			store, err := sqlite.NewStore(sqlite.Config{Path: cfg.Database.Path})
			if err != nil {
				return nil, fmt.Errorf("sqlite: %w", err)
			}
			userStore = store
			b.logger.Info("Usage metrics on sqlite", "path", cfg.Database.Path)
		} else {
			userStore = memory.NewUsageStore()
			b.logger.Info("Usage metrics in memory")
		}
	}

	// Plans from config are authoritative at startup
	if seeder, ok := userStore.(planSeeder); ok {
		for i := range cfg.Plans {
			if err := seeder.UpsertPlanLimits(context.Background(), cfg.Plans[i].ToPlanLimits()); err != nil {
				return nil, fmt.Errorf("seeding plan %q: %w", cfg.Plans[i].Plan, err)
			}
		}
	}

	cacheConfig := &cache.Config{
		SweepInterval: time.Duration(cfg.Cache.SweepInterval) * time.Second,
		MaxEntries:    cfg.Cache.MaxEntries,
	}
	profileCache := cache.New[*storage.Profile](cacheConfig)
	analyticsCache := cache.New[*storage.AnalyticsSnapshot](cacheConfig)

	analyticsTTL := time.Duration(cfg.Cache.AnalyticsTTL) * time.Second
	if analyticsTTL <= 0 {
		analyticsTTL = 5 * time.Minute
	}

	provider, err := identity.NewProvider(&identity.ProviderConfig{
		SigningMethod: cfg.Auth.SigningMethod,
		Secret:        cfg.Auth.Secret,
		PublicKey:     cfg.Auth.PublicKey,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	resolver := identity.NewResolver(provider, userStore, profileCache, b.logger)

	limiter := ratelimit.NewLimiter(rateLimitStore, b.logger, m)
	enforcer := quota.NewEnforcer(userStore, b.logger, m)

	scheduler := maintenance.NewScheduler(b.maintenanceConfig(), rateLimitStore, userStore, b.logger)

	analytics, _ := userStore.(storage.AnalyticsStore)

	s := &Server{
		config:         cfg,
		logger:         b.logger,
		metrics:        m,
		registry:       registry,
		telemetry:      tel,
		rateLimitStore: rateLimitStore,
		userStore:      userStore,
		analytics:      analytics,
		profileCache:   profileCache,
		analyticsCache: analyticsCache,
		analyticsTTL:   analyticsTTL,
		resolver:       resolver,
		limiter:        limiter,
		enforcer:       enforcer,
		scheduler:      scheduler,
	}
	s.initListeners()

	return s, nil
}

// maintenanceConfig derives job settings from the limit classes: records are
// purged once no configured window could still need them
func (b *Builder) maintenanceConfig() *maintenance.Config {
	mc := maintenance.DefaultConfig()
	if b.config.Maintenance.PurgeSchedule != "" {
		mc.PurgeSchedule = b.config.Maintenance.PurgeSchedule
	}
	if b.config.Maintenance.ResetSchedule != "" {
		mc.ResetSchedule = b.config.Maintenance.ResetSchedule
	}
	if days := b.config.Maintenance.ResetAfterDays; days > 0 {
		mc.ResetAfter = time.Duration(days) * 24 * time.Hour
	}

	var largest time.Duration
	for i := range b.config.Limits.Classes {
		if w := b.config.Limits.Classes[i].Window(); w > largest {
			largest = w
		}
	}
	if largest > 0 {
		mc.PurgeOlderThan = largest + time.Hour
	}

	return mc
}
