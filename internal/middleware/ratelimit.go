package middleware

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/sakif/inmyopinion/internal/metrics"
	"github.com/sakif/inmyopinion/internal/ratelimit"
)

// RateLimit applies policy p to every request, keyed by client IP.
//
// It must run after chi's RealIP so RemoteAddr is the client rather than a
// proxy. When the limiter cannot answer (Redis down) the request is let
// through and the failure is logged: an outage of the counter store should
// not lock everyone out of login.
func RateLimit(l ratelimit.Limiter, p ratelimit.Policy, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), p.Key(clientIP(r)))
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("policy", p.Name),
					slog.String("error", err.Error()),
				)
				if m != nil {
					m.RateLimitErrors.WithLabelValues(p.Name).Inc()
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if m != nil {
					m.RateLimited.WithLabelValues(p.Name).Inc()
				}
				writeJSONError(w, http.StatusTooManyRequests, p.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port RemoteAddr carries when RealIP found no proxy
// header.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
