package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	"limitgate/internal/identity"
)

// rateLimitResponse is the 429 body
type rateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware enforces the class limit on every request. KeyByUser classes
// must run after authentication so the identity is in the context;
// unauthenticated requests fall back to the client IP.
func (l *Limiter) Middleware(class *Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			l.ServeLimited(w, req, class, next)
		})
	}
}

// ServeLimited applies the class check to a single request, passing it to
// next when allowed. Callers that resolve the class per request (for hot
// config reload) use this directly.
func (l *Limiter) ServeLimited(w http.ResponseWriter, req *http.Request, class *Class, next http.Handler) {
	identifier := l.identify(req, class)

	decision := l.Check(req.Context(), identifier, class)

	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining()))

	if !decision.Allowed {
		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(rateLimitResponse{
			Error:      "rate_limit",
			Message:    "too many requests, please retry later",
			RetryAfter: retryAfter,
		})
		return
	}

	next.ServeHTTP(w, req)
}

func (l *Limiter) identify(req *http.Request, class *Class) string {
	if class.KeyBy == KeyByUser {
		if id, ok := identity.FromContext(req.Context()); ok {
			return "user:" + id.ID
		}
	}
	return "ip:" + ClientIP(req)
}

// ClientIP extracts the originating client address. Proxy headers are
// consulted in order; the first entry of X-Forwarded-For is the original
// client.
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := req.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if cfIP := req.Header.Get("CF-Connecting-IP"); cfIP != "" {
		return strings.TrimSpace(cfIP)
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && host != "" {
		return host
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return "unknown"
}
