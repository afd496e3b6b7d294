package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"limitgate/internal/config"
	"limitgate/internal/identity"
	"limitgate/internal/maintenance"
	"limitgate/internal/quota"
	"limitgate/internal/ratelimit"
	"limitgate/internal/storage"
	"limitgate/internal/telemetry"
	"limitgate/pkg/cache"
	"limitgate/pkg/metrics"
)

// Version is stamped at build time
var Version = "dev"

// Server hosts the usage limits API and its management listener
type Server struct {
	config *config.Config
	logger *slog.Logger

	metrics  *metrics.Metrics
	registry *prometheus.Registry

	telemetry *telemetry.Telemetry

	rateLimitStore storage.RateLimitStore
	userStore      UserStore
	analytics      storage.AnalyticsStore

	profileCache   *cache.Cache[*storage.Profile]
	analyticsCache *cache.Cache[*storage.AnalyticsSnapshot]
	analyticsTTL   time.Duration

	resolver *identity.Resolver
	limiter  *ratelimit.Limiter
	enforcer *quota.Enforcer

	// classes is swapped wholesale on config reload
	classes atomic.Pointer[map[string]*ratelimit.Class]

	scheduler *maintenance.Scheduler

	apiServer  *http.Server
	mgmtServer *http.Server
}

// NewServer builds a server from configuration
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	return NewBuilder(cfg, logger, opts...).Build()
}

// toClass converts a configured limit class to the limiter's form
func toClass(c *config.LimitClass) *ratelimit.Class {
	if c == nil {
		return nil
	}
	keyBy := ratelimit.KeyByIP
	if c.KeyBy == "user" {
		keyBy = ratelimit.KeyByUser
	}
	return &ratelimit.Class{
		Name:        c.Name,
		MaxRequests: c.MaxRequests,
		Window:      c.Window(),
		KeyBy:       keyBy,
	}
}

// toClassMap indexes the configured limit classes by name
func toClassMap(cfg *config.Config) map[string]*ratelimit.Class {
	classes := make(map[string]*ratelimit.Class, len(cfg.Limits.Classes))
	for i := range cfg.Limits.Classes {
		c := &cfg.Limits.Classes[i]
		classes[c.Name] = toClass(c)
	}
	return classes
}

// currentClass resolves a class by name against the live configuration
func (s *Server) currentClass(name string) *ratelimit.Class {
	classes := s.classes.Load()
	if classes == nil {
		return nil
	}
	return (*classes)[name]
}

// limitMiddleware applies the named class, resolved per request so reloaded
// limits take effect without a restart. A class removed by reload stops
// limiting entirely.
func (s *Server) limitMiddleware(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			class := s.currentClass(name)
			if class == nil {
				next.ServeHTTP(w, req)
				return
			}
			s.limiter.ServeLimited(w, req, class, next)
		})
	}
}

// ApplyConfig applies the reloadable parts of a new configuration: limit
// classes and plan ceilings. Listener and auth settings need a restart.
func (s *Server) ApplyConfig(newConfig *config.Config) error {
	if seeder, ok := s.userStore.(planSeeder); ok {
		for i := range newConfig.Plans {
			if err := seeder.UpsertPlanLimits(context.Background(), newConfig.Plans[i].ToPlanLimits()); err != nil {
				return fmt.Errorf("seeding plan %q: %w", newConfig.Plans[i].Plan, err)
			}
		}
	}

	classes := toClassMap(newConfig)
	s.classes.Store(&classes)

	s.logger.Info("Applied reloaded configuration",
		"limit_classes", len(classes),
		"plans", len(newConfig.Plans))
	return nil
}

// initListeners builds the route tables and listener configs
func (s *Server) initListeners() {
	cfg := s.config

	base := []func(http.Handler) http.Handler{
		withRequestID,
		withLogging(s.logger),
		withMetrics(s.metrics),
		s.telemetry.Middleware,
	}

	classes := toClassMap(cfg)
	s.classes.Store(&classes)

	userChain := append(append([]func(http.Handler) http.Handler{}, base...),
		s.resolver.RequireAuth,
		s.limitMiddleware("user-actions"))

	adminChain := append(append([]func(http.Handler) http.Handler{}, base...),
		s.resolver.RequireAuth,
		identity.RequireRole("admin"),
		s.limitMiddleware("admin-ip"))
	heavyChain := append(append([]func(http.Handler) http.Handler{}, adminChain...),
		s.limitMiddleware("admin-heavy"))

	mux := http.NewServeMux()
	mux.Handle("POST /v1/scans", chain(s.handleAction(quota.ActionScan), userChain...))
	mux.Handle("POST /v1/prompts", chain(s.handleAction(quota.ActionPrompt), userChain...))
	mux.Handle("POST /v1/competitors", chain(s.handleAction(quota.ActionCompetitorAdd), userChain...))
	mux.Handle("POST /v1/reports", chain(s.handleAction(quota.ActionReportGenerate), userChain...))
	mux.Handle("GET /v1/usage", chain(http.HandlerFunc(s.handleUsage), userChain...))
	mux.Handle("GET /admin/analytics", chain(http.HandlerFunc(s.handleAnalytics), heavyChain...))

	s.apiServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	mgmtMux := http.NewServeMux()
	mgmtMux.HandleFunc("GET /healthz", s.handleHealth)
	mgmtMux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mgmtAddr := fmt.Sprintf("%s:%d", cfg.Management.Host, cfg.Management.Port)
	s.mgmtServer = &http.Server{
		Addr:    mgmtAddr,
		Handler: mgmtMux,
	}
}

// Handler exposes the API routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.apiServer.Handler
}

// ManagementHandler exposes the health and metrics routes
func (s *Server) ManagementHandler() http.Handler {
	return s.mgmtServer.Handler
}

// Start binds the listeners and begins serving. It returns once both
// listeners are accepting; serving continues until Stop.
func (s *Server) Start(ctx context.Context) error {
	apiListener, err := net.Listen("tcp", s.apiServer.Addr)
	if err != nil {
		return fmt.Errorf("api listener: %w", err)
	}

	var mgmtListener net.Listener
	if s.config.Management.Port > 0 {
		mgmtListener, err = net.Listen("tcp", s.mgmtServer.Addr)
		if err != nil {
			apiListener.Close()
			return fmt.Errorf("management listener: %w", err)
		}
	}

	if err := s.scheduler.Start(); err != nil {
		apiListener.Close()
		if mgmtListener != nil {
			mgmtListener.Close()
		}
		return fmt.Errorf("maintenance scheduler: %w", err)
	}

	go func() {
		s.logger.Info("API server listening", "addr", apiListener.Addr())
		if err := s.apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "error", err)
		}
	}()

	if mgmtListener != nil {
		go func() {
			s.logger.Info("Management server listening", "addr", mgmtListener.Addr())
			if err := s.mgmtServer.Serve(mgmtListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Management server failed", "error", err)
			}
		}()
	}

	return nil
}

// Stop drains the listeners and releases every resource the builder wired
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.apiServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api shutdown: %w", err))
	}
	if s.config.Management.Port > 0 {
		if err := s.mgmtServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("management shutdown: %w", err))
		}
	}

	s.scheduler.Stop()

	s.profileCache.Close()
	s.analyticsCache.Close()

	if err := s.rateLimitStore.Close(); err != nil {
		errs = append(errs, fmt.Errorf("rate limit store: %w", err))
	}
	if err := s.userStore.Close(); err != nil {
		errs = append(errs, fmt.Errorf("user store: %w", err))
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}
