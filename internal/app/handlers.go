package app

import (
	"fmt"
	"net/http"
	"time"

	"limitgate/internal/identity"
	"limitgate/internal/quota"
	"limitgate/internal/storage"
	"limitgate/pkg/cache"
	"limitgate/pkg/errors"
)

// actionResponse is returned when a metered action is accepted
type actionResponse struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Used      int    `json:"used"`
}

// handleAction reserves quota for the action, performs it, and commits the
// usage. The permit is only committed once the action succeeded, so denied
// and failed requests never consume quota.
func (s *Server) handleAction(action quota.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, ok := identity.FromContext(req.Context())
		if !ok {
			errors.WriteHTTP(w, errors.NewError(errors.ErrorTypeUnauthorized, "authentication required"))
			return
		}

		permit, err := s.enforcer.Reserve(req.Context(), id.ID, id.Plan, action)
		if err != nil {
			errors.WriteHTTP(w, err)
			return
		}

		used, err := s.enforcer.Commit(req.Context(), permit)
		if err != nil {
			errors.WriteHTTP(w, err)
			return
		}

		writeJSON(w, http.StatusOK, actionResponse{
			RequestID: RequestIDFromContext(req.Context()),
			Action:    action.String(),
			Status:    "accepted",
			Used:      used,
		})
	}
}

// usageResponse reports a user's counters next to their plan ceilings.
// Nil ceilings render as null and mean unlimited.
type usageResponse struct {
	UserID string `json:"userId"`
	Plan   string `json:"plan"`
	Usage  struct {
		Scans       int `json:"scans"`
		Prompts     int `json:"prompts"`
		Competitors int `json:"competitors"`
		Reports     int `json:"reports"`
	} `json:"usage"`
	Limits struct {
		MaxSites       *int `json:"maxSites"`
		MaxPrompts     *int `json:"maxPrompts"`
		MaxScans       *int `json:"maxScans"`
		MaxCompetitors *int `json:"maxCompetitors"`
		MaxReports     *int `json:"maxReports"`
	} `json:"limits"`
	CycleStartedAt time.Time `json:"cycleStartedAt"`
}

func (s *Server) handleUsage(w http.ResponseWriter, req *http.Request) {
	id, ok := identity.FromContext(req.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewError(errors.ErrorTypeUnauthorized, "authentication required"))
		return
	}

	usage, err := s.enforcer.Usage(req.Context(), id.ID)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	limits, err := s.enforcer.Limits(req.Context(), id.Plan)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}

	resp := usageResponse{
		UserID:         id.ID,
		Plan:           string(id.Plan),
		CycleStartedAt: usage.LastReset,
	}
	resp.Usage.Scans = usage.ScanCount
	resp.Usage.Prompts = usage.PromptCount
	resp.Usage.Competitors = usage.CompetitorCount
	resp.Usage.Reports = usage.ReportCount
	resp.Limits.MaxSites = limits.MaxSites
	resp.Limits.MaxPrompts = limits.MaxPrompts
	resp.Limits.MaxScans = limits.MaxScans
	resp.Limits.MaxCompetitors = limits.MaxCompetitors
	resp.Limits.MaxReports = limits.MaxReports

	writeJSON(w, http.StatusOK, resp)
}

// analyticsResponse wraps the snapshot with cache provenance so admin
// dashboards can show data freshness
type analyticsResponse struct {
	Data *storage.AnalyticsSnapshot `json:"data"`
	Meta struct {
		Cached         bool      `json:"cached"`
		CacheTimestamp time.Time `json:"cacheTimestamp"`
	} `json:"meta"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, req *http.Request) {
	if s.analytics == nil {
		errors.WriteHTTP(w, errors.NewError(errors.ErrorTypeUnavailable, "analytics not supported by this storage backend"))
		return
	}

	ttl := s.analyticsTTL
	snapshot, cached, cachedAt, err := s.analyticsCache.WithCache(cache.AdminKey("analytics"), ttl, func() (*storage.AnalyticsSnapshot, error) {
		return s.analytics.Analytics(req.Context())
	})
	if err != nil {
		errors.WriteHTTP(w, errors.NewError(errors.ErrorTypeInternal, "failed to compute analytics").WithCause(err))
		return
	}

	if s.metrics != nil {
		if cached {
			s.metrics.CacheHits.WithLabelValues("analytics").Inc()
		} else {
			s.metrics.CacheMisses.WithLabelValues("analytics").Inc()
		}
	}

	resp := analyticsResponse{Data: snapshot}
	resp.Meta.Cached = cached
	resp.Meta.CacheTimestamp = cachedAt

	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(ttl.Seconds())))
	w.Header().Set("Vary", "Authorization")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
