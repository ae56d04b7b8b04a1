package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/ratelimit"
)

// RateLimitMiddleware enforces the per-credential hourly quota, falling
// back to a per-IP limit for anonymous callers. Denials are answered
// with 429 plus a Retry-After advisory and recorded as violations.
type RateLimitMiddleware struct {
	limiter        ratelimit.Limiter
	violations     *ratelimit.ViolationStore
	window         time.Duration
	anonymousLimit int
	logger         *observability.Logger
	metrics        *observability.Metrics

	// failOpen allows requests through when the limiter backend errors.
	failOpen bool
}

// NewRateLimitMiddleware creates a rate limiting middleware.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, violations *ratelimit.ViolationStore, window time.Duration, anonymousLimit int, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:        limiter,
		violations:     violations,
		window:         window,
		anonymousLimit: anonymousLimit,
		logger:         logger,
		metrics:        metrics,
		failOpen:       true,
	}
}

// SetFailOpen controls whether limiter backend errors admit (true) or
// reject (false) the request.
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting. It must run after
// the authentication middleware so credential quotas apply.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, limit, limitType, credentialID := m.resolveKey(r)

		m.metrics.RateLimitChecksTotal.Inc()
		decision, err := m.limiter.Allow(r.Context(), key, limit)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Error("rate limiter check failed")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorName(w, http.StatusServiceUnavailable,
				"rate_limiter_unavailable", "service temporarily unavailable")
			return
		}

		if limit > 0 {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining()))
			if !decision.Reset.IsZero() {
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.Reset.Unix()))
			}
		}

		if !decision.Allowed {
			m.denied(w, r, decision, limitType, credentialID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// resolveKey picks the limiter key and configured limit for the caller.
func (m *RateLimitMiddleware) resolveKey(r *http.Request) (key string, limit int, limitType ratelimit.LimitType, credentialID *int64) {
	authCtx := apikeys.FromContext(r.Context())
	if authCtx != nil && authCtx.Credential != nil {
		id := authCtx.Credential.ID
		return fmt.Sprintf("credential:%d", id), authCtx.Credential.QuotaPerHour, ratelimit.LimitTypeCredential, &id
	}
	ip := contextkeys.ClientIP(r.Context())
	return "ip:" + ip, m.anonymousLimit, ratelimit.LimitTypeIP, nil
}

func (m *RateLimitMiddleware) denied(w http.ResponseWriter, r *http.Request, decision ratelimit.Decision, limitType ratelimit.LimitType, credentialID *int64) {
	m.metrics.RateLimitDenialsTotal.WithLabelValues(string(limitType)).Inc()

	violation := &ratelimit.Violation{
		CredentialID:  credentialID,
		IP:            contextkeys.ClientIP(r.Context()),
		Endpoint:      r.URL.Path,
		Method:        r.Method,
		LimitType:     limitType,
		ObservedCount: decision.Observed,
		Limit:         decision.Limit,
		WindowSeconds: int(m.window.Seconds()),
		CreatedAt:     time.Now().UTC(),
	}
	// Violation logging is best-effort and detached from the request so
	// a slow database never holds the 429 response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.violations.Append(ctx, violation); err != nil {
			m.logger.WithError(err).Error("failed to record rate limit violation")
		}
	}()

	retryAfter := int(decision.Wait.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	httputil.WriteErrorExtra(w, http.StatusTooManyRequests,
		"rate_limited", "rate limit exceeded",
		map[string]interface{}{"retry_after": retryAfter})
}
