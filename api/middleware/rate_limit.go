package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/creditcore/creditcore-backend/api/responses"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/logger"
)

// RateLimiterStore is the Redis surface the throttle needs.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// MutationRateLimitPolicy throttles balance-mutating calls per user so a
// runaway retry loop cannot hammer the ledger.
type MutationRateLimitPolicy struct {
	name      string
	window    time.Duration
	userLimit int
}

// NewMutationRateLimitPolicy builds a policy with the supplied window and limit.
func NewMutationRateLimitPolicy(name string, window time.Duration, userLimit int) MutationRateLimitPolicy {
	return MutationRateLimitPolicy{
		name:      strings.ToLower(strings.TrimSpace(name)),
		window:    window,
		userLimit: userLimit,
	}
}

func (p MutationRateLimitPolicy) enabled() bool {
	return p.window > 0 && p.userLimit > 0
}

func (p MutationRateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "mutation"
	}
	return p.name
}

func (p MutationRateLimitPolicy) scope(r *http.Request) string {
	subject := chi.URLParam(r, "userCode")
	if subject == "" {
		subject = clientIP(r)
	}
	return p.normalizedName() + ":" + subject
}

// MutationRateLimit enforces the per-user mutation budget. A Redis
// outage fails open: throttling is protection, not correctness.
func MutationRateLimit(policy MutationRateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(r), int64(policy.userLimit), policy.window)
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "rate limit store unavailable; allowing request", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"policy":         policy.normalizedName(),
						"attempts":       count,
						"limit":          policy.userLimit,
						"window_seconds": int(policy.window.Seconds()),
					})
					logg.Warn(logCtx, "rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
