package workflow

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id =").
			WithArgs(int64(1)).
			WillReturnRows(requestRow(pendingRequest(1)))

		request, err := store.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), request.ID)
		assert.Equal(t, StatusPending, request.Status)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id =").
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Get(context.Background(), 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_List(t *testing.T) {
	t.Run("filters applied in order", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM access_requests").
			WithArgs(int64(10), StatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectQuery("SELECT (.+) FROM access_requests").
			WithArgs(int64(10), StatusPending, 20, 0).
			WillReturnRows(requestRow(pendingRequest(1)))

		requests, total, err := store.List(context.Background(),
			ListFilter{RequesterID: 10, Status: StatusPending}, 20, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, requests, 1)
		assert.Equal(t, int64(10), requests[0].RequesterID)
	})

	t.Run("empty result", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM access_requests").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery("SELECT (.+) FROM access_requests").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		requests, total, err := store.List(context.Background(), ListFilter{}, 20, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, requests)
	})
}

func TestStore_MarkNotificationSent(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec("UPDATE access_requests SET notification_sent = TRUE").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkNotificationSent(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SoftDeleteInactiveBefore(t *testing.T) {
	store, mock := newTestStore(t)
	cutoff := time.Now().AddDate(-1, 0, 0)
	mock.ExpectExec("UPDATE access_requests SET deleted_at = NOW").
		WithArgs(StatusRejected, StatusRevoked, StatusExpired, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	hidden, err := store.SoftDeleteInactiveBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), hidden)
}

func TestStore_CountByStatusSince(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) FROM access_requests").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(4)).
			AddRow("approved", int64(2)))

	counts, err := store.CountByStatusSince(context.Background(), time.Now().AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[StatusPending])
	assert.Equal(t, int64(2), counts[StatusApproved])
}
