package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"limitgate/internal/config"
	"limitgate/internal/storage"
	"limitgate/internal/storage/memory"
)

const (
	testSecret = "test-secret"
	testIssuer = "limitgate-test"
)

func intPtr(n int) *int { return &n }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Auth.SigningMethod = "HS256"
	cfg.Auth.Secret = testSecret
	cfg.Auth.Issuer = testIssuer
	cfg.Cache.SweepInterval = 60
	cfg.Cache.AnalyticsTTL = 300
	cfg.Limits.Classes = []config.LimitClass{
		{Name: "user-actions", MaxRequests: 10, WindowMinutes: 60, KeyBy: "user"},
		{Name: "admin-ip", MaxRequests: 20, WindowMinutes: 60, KeyBy: "ip"},
		{Name: "admin-heavy", MaxRequests: 15, WindowMinutes: 60, KeyBy: "ip"},
	}
	cfg.Plans = []config.PlanSpec{
		{Plan: "free", MaxSites: intPtr(1), MaxPrompts: intPtr(1), MaxScans: intPtr(10), MaxCompetitors: intPtr(3), MaxReports: intPtr(2)},
		{Plan: "pro", MaxPrompts: intPtr(100), MaxScans: intPtr(200)},
		{Plan: "enterprise"},
	}
	return cfg
}

func newTestServer(t *testing.T) (*Server, *memory.UsageStore) {
	t.Helper()

	store := memory.NewUsageStore()
	store.SeedProfile(&storage.Profile{UserID: "free-user", Email: "f@example.com", Role: "user", Plan: storage.PlanFree})
	store.SeedProfile(&storage.Profile{UserID: "admin-user", Email: "a@example.com", Role: "admin", Plan: storage.PlanEnterprise})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rlStore := memory.NewRateLimitStore(storage.DefaultConfig())

	s, err := NewServer(testConfig(), logger,
		WithUserStore(store),
		WithRateLimitStore(rlStore))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	t.Cleanup(func() {
		s.profileCache.Close()
		s.analyticsCache.Close()
		rlStore.Close()
	})

	return s, store
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestActionRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/scans", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestPromptLimitUpgradePath(t *testing.T) {
	s, _ := newTestServer(t)
	token := signTestToken(t, "free-user")

	first := doRequest(t, s.Handler(), http.MethodPost, "/v1/prompts", token)
	if first.Code != http.StatusOK {
		t.Fatalf("first prompt status = %d, body = %s", first.Code, first.Body.String())
	}

	var accepted actionResponse
	if err := json.Unmarshal(first.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if accepted.Action != "prompt" || accepted.Used != 1 {
		t.Errorf("response = %+v", accepted)
	}

	second := doRequest(t, s.Handler(), http.MethodPost, "/v1/prompts", token)
	if second.Code != http.StatusPaymentRequired {
		t.Fatalf("second prompt status = %d, want 402", second.Code)
	}

	var deny struct {
		Error   string            `json:"error"`
		Hint    string            `json:"hint"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &deny); err != nil {
		t.Fatalf("failed to decode deny body: %v", err)
	}
	if deny.Error != "limit_reached" {
		t.Errorf("error = %q, want limit_reached", deny.Error)
	}
	if deny.Hint != "upgrade" {
		t.Errorf("hint = %q, want upgrade", deny.Hint)
	}
	if deny.Details["message"] == "" {
		t.Error("details should carry the human-readable message")
	}
	if deny.Details["current_plan"] != "free" {
		t.Errorf("current_plan = %q, want free", deny.Details["current_plan"])
	}
	if !strings.Contains(deny.Details["upgrade_suggestion"], "pro") {
		t.Errorf("upgrade_suggestion should name the pro plan: %q", deny.Details["upgrade_suggestion"])
	}
}

func TestRateLimitWindow(t *testing.T) {
	s, _ := newTestServer(t)
	token := signTestToken(t, "free-user")

	// user-actions allows 10 requests per hour; scans allow 10 on free
	for i := 1; i <= 10; i++ {
		rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/scans", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/scans", token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request status = %d, want 429", rec.Code)
	}

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After = %q: %v", rec.Header().Get("Retry-After"), err)
	}
	if retryAfter < 1 || retryAfter > 3600 {
		t.Errorf("Retry-After = %d, want within [1, 3600]", retryAfter)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "rate_limit" {
		t.Errorf("error = %q, want rate_limit", body.Error)
	}
}

func TestUsageEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	token := signTestToken(t, "free-user")

	doRequest(t, s.Handler(), http.MethodPost, "/v1/scans", token)
	doRequest(t, s.Handler(), http.MethodPost, "/v1/prompts", token)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/usage", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp usageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.UserID != "free-user" || resp.Plan != "free" {
		t.Errorf("identity = %s/%s", resp.UserID, resp.Plan)
	}
	if resp.Usage.Scans != 1 || resp.Usage.Prompts != 1 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Limits.MaxPrompts == nil || *resp.Limits.MaxPrompts != 1 {
		t.Errorf("limits = %+v", resp.Limits)
	}
}

func TestAnalyticsAdminOnly(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/admin/analytics", signTestToken(t, "free-user"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}
}

func TestAnalyticsCaching(t *testing.T) {
	s, store := newTestServer(t)
	token := signTestToken(t, "admin-user")

	store.SetUsage(&storage.UsageMetrics{UserID: "free-user", ScanCount: 4, LastReset: time.Now()})

	first := doRequest(t, s.Handler(), http.MethodGet, "/admin/analytics", token)
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", first.Code, first.Body.String())
	}
	if cc := first.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Errorf("Cache-Control = %q", cc)
	}

	var resp1 analyticsResponse
	if err := json.Unmarshal(first.Body.Bytes(), &resp1); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp1.Meta.Cached {
		t.Error("first response should not be cached")
	}
	if resp1.Data.TotalScans != 4 {
		t.Errorf("total scans = %d, want 4", resp1.Data.TotalScans)
	}

	// Counter moves, but the cached snapshot is served until the TTL lapses
	store.SetUsage(&storage.UsageMetrics{UserID: "free-user", ScanCount: 9, LastReset: time.Now()})

	second := doRequest(t, s.Handler(), http.MethodGet, "/admin/analytics", token)
	var resp2 analyticsResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !resp2.Meta.Cached {
		t.Error("second response should be cached")
	}
	if resp2.Data.TotalScans != 4 {
		t.Errorf("cached total scans = %d, want 4", resp2.Data.TotalScans)
	}
	if resp2.Meta.CacheTimestamp.IsZero() {
		t.Error("cacheTimestamp missing")
	}
}

func TestManagementEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	health := doRequest(t, s.ManagementHandler(), http.MethodGet, "/healthz", "")
	if health.Code != http.StatusOK {
		t.Errorf("healthz status = %d", health.Code)
	}

	metrics := doRequest(t, s.ManagementHandler(), http.MethodGet, "/metrics", "")
	if metrics.Code != http.StatusOK {
		t.Errorf("metrics status = %d", metrics.Code)
	}
}

func TestApplyConfigReloadsLimits(t *testing.T) {
	s, _ := newTestServer(t)
	token := signTestToken(t, "free-user")

	// Tighten the user-actions class to a single request
	cfg := testConfig()
	cfg.Limits.Classes[0].MaxRequests = 1
	if err := s.ApplyConfig(cfg); err != nil {
		t.Fatalf("ApplyConfig() error: %v", err)
	}

	if rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/scans", token); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/scans", token); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429 under reloaded limit", rec.Code)
	}
}
