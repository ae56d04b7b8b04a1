package apikeys

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

type fakePrincipals struct {
	byID map[int64]*identity.Principal
}

func (f *fakePrincipals) GetPrincipal(_ context.Context, id int64) (*identity.Principal, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakePrincipals) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	principals := &fakePrincipals{byID: map[int64]*identity.Principal{}}
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)
	svc := NewService(NewStore(db), principals, NewSecretGenerator(testHashKey), logger)
	return svc, mock, principals
}

func developer(id int64) *identity.Principal {
	return &identity.Principal{ID: id, Email: "dev@example.org", RoleName: identity.RoleDeveloper, Active: true}
}

func TestService_Issue(t *testing.T) {
	ctx := context.Background()

	t.Run("success with defaulted quota", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectQuery("INSERT INTO api_keys").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))

		cred, secret, err := svc.Issue(ctx, developer(3), IssueRequest{Name: "ci key"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), cred.ID)
		assert.Equal(t, QuotaCeiling(identity.RoleDeveloper), cred.QuotaPerHour)
		assert.NotEmpty(t, secret)
		assert.Equal(t, cred.Prefix, secret[:len(cred.Prefix)])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty name", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, _, err := svc.Issue(ctx, developer(3), IssueRequest{Name: "   "})
		assert.ErrorIs(t, err, ErrEmptyName)
	})

	t.Run("quota above role ceiling", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, _, err := svc.Issue(ctx, developer(3), IssueRequest{
			Name:         "greedy",
			QuotaPerHour: QuotaCeiling(identity.RoleDeveloper) + 1,
		})
		assert.ErrorIs(t, err, ErrQuotaTooHigh)
	})

	t.Run("invalid allow list entry", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, _, err := svc.Issue(ctx, developer(3), IssueRequest{
			Name:       "bad ips",
			AllowedIPs: []string{"not-an-ip"},
		})
		assert.ErrorIs(t, err, ErrInvalidAllowList)
	})

	t.Run("duplicate active name", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectQuery("INSERT INTO api_keys").WillReturnError(sql.ErrNoRows)

		_, _, err := svc.Issue(ctx, developer(3), IssueRequest{Name: "ci key"})
		assert.Error(t, err)
	})
}

func credentialRows(cred *Credential) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "prefix", "secret_hash", "allowed_ips", "quota_per_hour",
		"total_requests", "last_used_at", "last_used_ip", "expires_at",
		"revoked_at", "revoked_by", "revoke_reason", "active", "created_at",
	}).AddRow(
		cred.ID, cred.OwnerID, cred.Name, cred.Prefix, cred.SecretHash, "{}", cred.QuotaPerHour,
		cred.TotalRequests, cred.LastUsedAt, cred.LastUsedIP, cred.ExpiresAt,
		cred.RevokedAt, cred.RevokedBy, cred.RevokeReason, cred.Active, cred.CreatedAt,
	)
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	generator := NewSecretGenerator(testHashKey)
	secret, secretHash, prefix, err := generator.Generate()
	require.NoError(t, err)

	stored := &Credential{
		ID:         9,
		OwnerID:    3,
		Name:       "ci key",
		Prefix:     prefix,
		SecretHash: secretHash,
		Active:     true,
		CreatedAt:  time.Now(),
	}

	t.Run("success", func(t *testing.T) {
		svc, mock, principals := newTestService(t)
		principals.byID[3] = developer(3)

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix").
			WithArgs(prefix).
			WillReturnRows(credentialRows(stored))

		owner, cred, err := svc.Authenticate(ctx, secret, "203.0.113.9")
		require.NoError(t, err)
		assert.Equal(t, int64(3), owner.ID)
		assert.Equal(t, int64(9), cred.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed secret never touches the store", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, _, err := svc.Authenticate(ctx, "garbage", "203.0.113.9")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("unknown prefix", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		empty := sqlmock.NewRows([]string{
			"id", "owner_id", "name", "prefix", "secret_hash", "allowed_ips", "quota_per_hour",
			"total_requests", "last_used_at", "last_used_ip", "expires_at",
			"revoked_at", "revoked_by", "revoke_reason", "active", "created_at",
		})
		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix").
			WillReturnRows(empty)

		other, _, _, err := generator.Generate()
		require.NoError(t, err)
		_, _, autherr := svc.Authenticate(ctx, other, "203.0.113.9")
		assert.ErrorIs(t, autherr, ErrAuthenticationFailed)
	})

	t.Run("revoked credential", func(t *testing.T) {
		svc, mock, principals := newTestService(t)
		principals.byID[3] = developer(3)

		now := time.Now()
		revoked := *stored
		revoked.Active = false
		revoked.RevokedAt = &now
		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix").
			WillReturnRows(credentialRows(&revoked))

		_, _, err := svc.Authenticate(ctx, secret, "203.0.113.9")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("expired credential", func(t *testing.T) {
		svc, mock, principals := newTestService(t)
		principals.byID[3] = developer(3)

		past := time.Now().Add(-time.Hour)
		expired := *stored
		expired.ExpiresAt = &past
		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix").
			WillReturnRows(credentialRows(&expired))

		_, _, err := svc.Authenticate(ctx, secret, "203.0.113.9")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("inactive owner", func(t *testing.T) {
		svc, mock, principals := newTestService(t)
		inactive := developer(3)
		inactive.Active = false
		principals.byID[3] = inactive

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix").
			WillReturnRows(credentialRows(stored))

		_, _, err := svc.Authenticate(ctx, secret, "203.0.113.9")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
}

func TestIPAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		clientIP  string
		want      bool
	}{
		{"empty list is unrestricted", nil, "203.0.113.9", true},
		{"literal match", []string{"203.0.113.9"}, "203.0.113.9", true},
		{"literal mismatch", []string{"203.0.113.9"}, "203.0.113.10", false},
		{"cidr match", []string{"10.0.0.0/8"}, "10.1.2.3", true},
		{"cidr mismatch", []string{"10.0.0.0/8"}, "192.168.1.1", false},
		{"mixed entries", []string{"203.0.113.9", "10.0.0.0/8"}, "10.9.9.9", true},
		{"unparseable client ip", []string{"10.0.0.0/8"}, "bogus", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ipAllowed(tt.allowList, tt.clientIP))
		})
	}
}

func TestCredential_Valid(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"active no expiry", Credential{Active: true}, true},
		{"active future expiry", Credential{Active: true, ExpiresAt: &future}, true},
		{"expired", Credential{Active: true, ExpiresAt: &past}, false},
		{"revoked", Credential{Active: false, RevokedAt: &past}, false},
		{"inactive", Credential{Active: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Valid(now))
		})
	}
}
