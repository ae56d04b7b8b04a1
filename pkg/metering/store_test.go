package metering

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

	store, err := NewStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestNewStore_RequiresDB(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestStore_Append(t *testing.T) {
	store, mock := newTestStore(t)
	credID := int64(5)

	mock.ExpectQuery("INSERT INTO usage_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	event := &UsageEvent{
		PrincipalID:  10,
		CredentialID: &credID,
		Kind:         KindRead,
		SubjectKind:  SubjectResource,
		SubjectID:    "/api/v1/resources/7",
		Metadata:     map[string]interface{}{"status": 200},
		IPAddress:    "10.0.0.1",
		UserAgent:    "curl/8.0",
	}
	require.NoError(t, store.Append(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM usage_events").
		WithArgs(int64(10), KindDownload).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT (.+) FROM usage_events").
		WithArgs(int64(10), KindDownload, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "principal_id", "credential_id", "kind", "subject_kind",
			"subject_id", "metadata", "ip_address", "user_agent", "created_at",
		}).AddRow(
			int64(1), int64(10), nil, KindDownload, SubjectDistribution,
			"/api/v1/distributions/3/download", []byte(`{"status":200}`), "10.0.0.1", "curl/8.0", now,
		))

	events, total, err := store.List(context.Background(), ListFilter{
		PrincipalID: 10,
		Kind:        KindDownload,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, KindDownload, events[0].Kind)
	assert.Equal(t, float64(200), events[0].Metadata["status"])
	assert.Nil(t, events[0].CredentialID)
}

func TestStore_CountSince(t *testing.T) {
	store, mock := newTestStore(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM usage_events WHERE created_at").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(9)))

	count, err := store.CountSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
}
