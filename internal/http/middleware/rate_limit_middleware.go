package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gigbridge/trustcore/internal/http/response"
	"github.com/gigbridge/trustcore/internal/service"
)

// RateLimit guards a route group with the rate limit service. The identity is
// the authenticated principal when present, the client IP otherwise. Store
// failures fail closed: a broken limiter backend denies rather than waving
// traffic through.
func RateLimit(limiter *service.RateLimitService, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			identity := PrincipalFromContext(r.Context())
			if identity == "" {
				identity = service.IPKey(ip)
			}
			result, err := limiter.CheckRateLimit(r.Context(), identity, endpoint, ip, r.UserAgent())
			if err != nil {
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), result)
			if !result.Allowed {
				w.Header().Set("Retry-After", retryAfterHeader(result.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitHeaders(h http.Header, result *service.RateLimitResult) {
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(result.Remaining, 0)))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

// ClientIP extracts the originating client address, honoring the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
