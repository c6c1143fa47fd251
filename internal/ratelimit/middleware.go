package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/tillguard/internal/telemetry"
)

// KeyFunc derives the bucket key of a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the peer address. Forwarding headers are
// ignored; the agent listens on the local network without a proxy.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	if ip == "" {
		return "unknown"
	}
	return ip
}

// Middleware refuses requests over the policy with 429 and a Retry-After
// header. A backend failure lets the request through.
func Middleware(b Backend, policy string, key KeyFunc, metrics *telemetry.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	if logger == nil {
		logger = slog.Default().With("component", "ratelimit", "policy", policy)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := b.Consume(r.Context(), key(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limit backend failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RateLimited(r.Context(), policy)
			writeTooManyRequests(w, d.RetryAfter)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter, wait time.Duration) {
	secs := retryAfterSeconds(wait)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": "too many requests, retry in " + strconv.Itoa(secs) + "s",
		},
	})
}

// retryAfterSeconds rounds a wait up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
