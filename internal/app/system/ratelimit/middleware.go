package ratelimit

import (
	"net/http"

	"go.uber.org/zap"
)

// Limit throttles form submissions (POST) per client IP. Other methods pass
// through. A backend error is logged and the request proceeds. onLimited,
// if set, is told about every rejected request.
func Limit(b Backend, message string, onLimited func(*http.Request), logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if b == nil || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ip := ClientIP(r)
			ok, err := b.Allow(r.Context(), "ip:"+ip)
			if err != nil {
				logger.Warn("rate limit check failed; allowing request",
					zap.String("ip", ip), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				logger.Info("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
				if onLimited != nil {
					onLimited(r)
				}
				w.Header().Set("Retry-After", "60")
				http.Error(w, message, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
