package middleware

import (
	"net/http"
	"strings"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// AuthMiddleware authenticates requests carrying an API key in the
// Authorization header. Every failure mode produces the same opaque 401
// so callers cannot probe for valid prefixes, revoked keys, or IP rules.
type AuthMiddleware struct {
	service  *apikeys.Service
	logger   *observability.Logger
	metrics  *observability.Metrics
	optional bool
}

// NewAuthMiddleware creates an authentication middleware. When optional
// is true, requests without an Authorization header pass through
// anonymously; requests that present a credential are still validated.
func NewAuthMiddleware(service *apikeys.Service, logger *observability.Logger, metrics *observability.Metrics, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		service:  service,
		logger:   logger,
		metrics:  metrics,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with credential authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.unauthorized(w, r, "missing authorization header")
			return
		}

		// Format: "Bearer <secret>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.unauthorized(w, r, "malformed authorization header")
			return
		}

		clientIP := contextkeys.ClientIP(r.Context())
		principal, credential, err := m.service.Authenticate(r.Context(), parts[1], clientIP)
		if err != nil {
			m.unauthorized(w, r, "credential rejected")
			return
		}

		m.metrics.AuthSuccessTotal.Inc()
		ctx := contextkeys.WithAuth(r.Context(), &apikeys.AuthContext{
			Principal:  principal,
			Credential: credential,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unauthorized logs the real reason server-side and answers with the
// opaque envelope.
func (m *AuthMiddleware) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	m.metrics.AuthFailuresTotal.Inc()
	m.logger.WithFields(map[string]interface{}{
		"request_id": contextkeys.RequestID(r.Context()),
		"path":       r.URL.Path,
		"reason":     reason,
	}).Info("authentication failed")
	httputil.WriteUnauthorized(w)
}
