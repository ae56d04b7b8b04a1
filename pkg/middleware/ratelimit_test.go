package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/ratelimit"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("backend down")
}

func newRateLimitMiddleware(t *testing.T, limiter ratelimit.Limiter, anonymousLimit int) (*RateLimitMiddleware, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, metrics := testObservability(t)
	violations := ratelimit.NewViolationStore(db)
	return NewRateLimitMiddleware(limiter, violations, time.Hour, anonymousLimit, logger, metrics), mock
}

func credentialRequest(credentialID int64, quota int) *http.Request {
	r := httptest.NewRequest("GET", "/api/v1/resources", nil)
	ctx := contextkeys.WithAuth(r.Context(), &apikeys.AuthContext{
		Principal:  &identity.Principal{ID: 10, Active: true},
		Credential: &apikeys.Credential{ID: credentialID, OwnerID: 10, QuotaPerHour: quota},
	})
	ctx = contextkeys.WithClientIP(ctx, "10.0.0.1")
	return r.WithContext(ctx)
}

func anonymousRequest() *http.Request {
	r := httptest.NewRequest("GET", "/api/v1/resources", nil)
	return r.WithContext(contextkeys.WithClientIP(r.Context(), "10.0.0.1"))
}

func TestRateLimitMiddleware_CredentialQuota(t *testing.T) {
	m, mock := newRateLimitMiddleware(t, ratelimit.NewMemoryLimiter(time.Hour), 100)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Two requests fit the quota
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, credentialRequest(5, 2))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	// The third is denied with advisory headers and a violation record
	mock.ExpectQuery("INSERT INTO rate_limit_violations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, credentialRequest(5, 2))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// The violation append runs detached
	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitMiddleware_AnonymousKeyedByIP(t *testing.T) {
	m, mock := newRateLimitMiddleware(t, ratelimit.NewMemoryLimiter(time.Hour), 1)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, anonymousRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectQuery("INSERT INTO rate_limit_violations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, anonymousRequest())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitMiddleware_UnboundedAnonymousSkipsHeaders(t *testing.T) {
	m, _ := newRateLimitMiddleware(t, ratelimit.NewMemoryLimiter(time.Hour), 0)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, anonymousRequest())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	m, _ := newRateLimitMiddleware(t, failingLimiter{}, 100)
	called := false

	rec := httptest.NewRecorder()
	m.Handler(passThrough(&called)).ServeHTTP(rec, credentialRequest(5, 10))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestRateLimitMiddleware_FailClosed(t *testing.T) {
	m, _ := newRateLimitMiddleware(t, failingLimiter{}, 100)
	m.SetFailOpen(false)
	called := false

	rec := httptest.NewRecorder()
	m.Handler(passThrough(&called)).ServeHTTP(rec, credentialRequest(5, 10))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "rate_limiter_unavailable", body["error_name"])
}
