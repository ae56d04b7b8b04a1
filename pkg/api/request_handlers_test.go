package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

type noopEnqueuer struct{ count int }

func (n *noopEnqueuer) Enqueue(context.Context, int64, string) error {
	n.count++
	return nil
}

func newRequestRouter(t *testing.T) (*mux.Router, sqlmock.Sqlmock, *stubRoles) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	roles := newStubRoles()
	checker := identity.NewChecker(roles, 16, time.Minute)
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)

	store := workflow.NewStore(db)
	service := workflow.NewService(store, &noopEnqueuer{}, logger, nil)
	handlers := NewAccessRequestHandlers(service, store, catalog.NewStore(db), checker, logger,
		PageConfig{DefaultSize: 20, MaxSize: 1000})

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router, mock, roles
}

func distributionRows(id, publisherID int64, published bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "resource_id", "format", "endpoint", "access_policy",
		"created_at", "updated_at", "publisher_id", "is_published",
	}).AddRow(id, int64(7), "json", "https://api.example.com/v1/quran", "by_request",
		now, now, publisherID, published)
}

func accessRequestRows(id, requesterID int64, status workflow.Status) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "requester_id", "distribution_id", "status", "justification",
		"reviewed_by", "review_notes", "reviewed_at", "revoked_by", "revoked_at",
		"requested_at", "expires_at", "notification_sent",
	}).AddRow(id, requesterID, int64(20), status, "offline reader",
		nil, "", nil, nil, nil, now.Add(-time.Hour), nil, false)
}

func TestSubmitAccessRequest(t *testing.T) {
	t.Run("published distribution accepted", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM distributions d JOIN resources r").
			WithArgs(int64(20)).
			WillReturnRows(distributionRows(20, 42, true))
		mock.ExpectQuery("INSERT INTO access_requests").
			WillReturnRows(sqlmock.NewRows([]string{"id", "requested_at"}).AddRow(int64(1), time.Now()))

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests",
			jsonBody(t, map[string]interface{}{"distribution_id": 20, "justification": "offline reader"})),
			roles.principal(10, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unpublished distribution answers 404", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM distributions d JOIN resources r").
			WithArgs(int64(20)).
			WillReturnRows(distributionRows(20, 42, false))

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests",
			jsonBody(t, map[string]interface{}{"distribution_id": 20, "justification": "offline reader"})),
			roles.principal(10, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("duplicate answers 409", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM distributions d JOIN resources r").
			WithArgs(int64(20)).
			WillReturnRows(distributionRows(20, 42, true))
		mock.ExpectQuery("INSERT INTO access_requests").
			WillReturnError(&pq.Error{Code: "23505"})

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests",
			jsonBody(t, map[string]interface{}{"distribution_id": 20, "justification": "second try"})),
			roles.principal(10, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing justification answers 422", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM distributions d JOIN resources r").
			WithArgs(int64(20)).
			WillReturnRows(distributionRows(20, 42, true))

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests",
			jsonBody(t, map[string]interface{}{"distribution_id": 20})),
			roles.principal(10, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestGetAccessRequest_Scope(t *testing.T) {
	t.Run("owner sees own request", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id =").
			WithArgs(int64(1)).
			WillReturnRows(accessRequestRows(1, 10, workflow.StatusPending))

		r := asPrincipal(httptest.NewRequest("GET", "/access-requests/1", nil),
			roles.principal(10, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other developer answers 404", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id =").
			WithArgs(int64(1)).
			WillReturnRows(accessRequestRows(1, 10, workflow.StatusPending))

		r := asPrincipal(httptest.NewRequest("GET", "/access-requests/1", nil),
			roles.principal(99, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reviewer sees any request", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id =").
			WithArgs(int64(1)).
			WillReturnRows(accessRequestRows(1, 10, workflow.StatusPending))

		r := asPrincipal(httptest.NewRequest("GET", "/access-requests/1", nil),
			roles.principal(30, identity.RoleReviewer))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestReviewTransitions(t *testing.T) {
	t.Run("developer cannot approve", func(t *testing.T) {
		router, _, roles := newRequestRouter(t)

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests/1/approve", nil),
			roles.principal(10, identity.RoleDeveloper))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("reviewer approves pending request", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id = (.+) FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accessRequestRows(1, 10, workflow.StatusPending))
		mock.ExpectExec("UPDATE access_requests").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests/1/approve",
			jsonBody(t, map[string]string{"notes": "approved for research"})),
			roles.principal(30, identity.RoleReviewer))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("approving a rejected request answers 409", func(t *testing.T) {
		router, mock, roles := newRequestRouter(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id = (.+) FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(accessRequestRows(1, 10, workflow.StatusRejected))
		mock.ExpectRollback()

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests/1/approve", nil),
			roles.principal(30, identity.RoleReviewer))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("revoke is admin only", func(t *testing.T) {
		router, _, roles := newRequestRouter(t)

		r := asPrincipal(httptest.NewRequest("POST", "/access-requests/1/revoke", nil),
			roles.principal(30, identity.RoleReviewer))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
