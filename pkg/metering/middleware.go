package metering

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// CredentialToucher updates last-used metadata on a credential.
type CredentialToucher interface {
	Touch(ctx context.Context, credentialID int64, ip string) error
}

// recordTimeout bounds the async write so a slow database cannot pile up
// goroutines behind it.
const recordTimeout = 10 * time.Second

// Middleware derives a usage event from every authenticated request and
// appends it after the response is written. All work is best-effort: a
// metering failure is logged and swallowed, never surfaced to the client.
type Middleware struct {
	store   *Store
	toucher CredentialToucher
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMiddleware creates the usage metering middleware.
func NewMiddleware(store *Store, toucher CredentialToucher, logger *observability.Logger, metrics *observability.Metrics) *Middleware {
	return &Middleware{
		store:   store,
		toucher: toucher,
		logger:  logger,
		metrics: metrics,
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with usage metering.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx := r.Context()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)

		authCtx := apikeys.FromContext(ctx)
		if authCtx == nil || authCtx.Principal == nil {
			// Anonymous requests are rate limited by IP but not metered.
			return
		}

		event := m.buildEvent(r, authCtx, wrapped.statusCode, time.Since(startTime))
		requestID := contextkeys.RequestID(ctx)

		// The response is already on the wire; the append and touch run
		// detached from the request context so a client disconnect does
		// not cancel them.
		go m.record(event, authCtx, requestID)
	})
}

func (m *Middleware) record(event *UsageEvent, authCtx *apikeys.AuthContext, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := m.store.Append(ctx, event); err != nil {
		m.metrics.UsageEventFailuresTotal.Inc()
		m.logger.WithError(err).WithField("request_id", requestID).Error("failed to append usage event")
		return
	}
	m.metrics.UsageEventsTotal.Inc()

	if authCtx.Credential != nil && m.toucher != nil {
		if err := m.toucher.Touch(ctx, authCtx.Credential.ID, event.IPAddress); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"request_id":    requestID,
				"credential_id": authCtx.Credential.ID,
			}).Error("failed to touch credential")
		}
	}
}

func (m *Middleware) buildEvent(r *http.Request, authCtx *apikeys.AuthContext, status int, elapsed time.Duration) *UsageEvent {
	metadata := map[string]interface{}{
		"endpoint":    r.URL.Path,
		"method":      r.Method,
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
	}
	if q := r.URL.RawQuery; q != "" {
		metadata["query_params"] = q
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		metadata["content_type"] = ct
	}

	event := &UsageEvent{
		PrincipalID: authCtx.Principal.ID,
		Kind:        classifyKind(r),
		SubjectKind: classifySubject(r.URL.Path),
		SubjectID:   r.URL.Path,
		Metadata:    metadata,
		IPAddress:   contextkeys.ClientIP(r.Context()),
		UserAgent:   r.UserAgent(),
		CreatedAt:   time.Now().UTC(),
	}
	if authCtx.Credential != nil {
		id := authCtx.Credential.ID
		event.CredentialID = &id
	}
	return event
}

func classifyKind(r *http.Request) EventKind {
	if strings.HasSuffix(r.URL.Path, "/download") {
		return KindDownload
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return KindRead
	}
	return KindAPICall
}

func classifySubject(path string) SubjectKind {
	switch {
	case strings.Contains(path, "/resources"):
		return SubjectResource
	case strings.Contains(path, "/distributions"):
		return SubjectDistribution
	default:
		return SubjectEndpoint
	}
}
