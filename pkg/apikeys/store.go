package apikeys

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Store handles credential persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new credential store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the api_keys table if absent. The prefix index is
// non-unique: it only narrows candidates before hash verification. The
// partial unique index enforces one active credential per (owner, name).
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		prefix VARCHAR(32) NOT NULL,
		secret_hash VARCHAR(64) NOT NULL,
		allowed_ips TEXT[] NOT NULL DEFAULT '{}',
		quota_per_hour INTEGER NOT NULL DEFAULT 0,
		total_requests BIGINT NOT NULL DEFAULT 0,
		last_used_at TIMESTAMP WITH TIME ZONE,
		last_used_ip VARCHAR(45) NOT NULL DEFAULT '',
		expires_at TIMESTAMP WITH TIME ZONE,
		revoked_at TIMESTAMP WITH TIME ZONE,
		revoked_by BIGINT REFERENCES principals(id),
		revoke_reason TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);
	CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_owner_name_active
		ON api_keys(owner_id, name) WHERE active AND revoked_at IS NULL;
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to ensure api_keys table: %w", err)
	}
	return nil
}

// Insert persists a freshly issued credential
func (s *Store) Insert(ctx context.Context, c *Credential) error {
	query := `
		INSERT INTO api_keys (owner_id, name, prefix, secret_hash, allowed_ips, quota_per_hour, expires_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW())
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		c.OwnerID, c.Name, c.Prefix, c.SecretHash,
		pq.Array(c.AllowedIPs), c.QuotaPerHour, c.ExpiresAt,
	).Scan(&c.ID, &c.CreatedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrNameConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	c.Active = true
	return nil
}

const credentialColumns = `
	id, owner_id, name, prefix, secret_hash, allowed_ips, quota_per_hour,
	total_requests, last_used_at, last_used_ip, expires_at,
	revoked_at, revoked_by, revoke_reason, active, created_at
`

func scanCredential(scanner interface {
	Scan(dest ...interface{}) error
}) (*Credential, error) {
	c := &Credential{}
	var allowedIPs pq.StringArray
	err := scanner.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Prefix, &c.SecretHash, &allowedIPs,
		&c.QuotaPerHour, &c.TotalRequests, &c.LastUsedAt, &c.LastUsedIP,
		&c.ExpiresAt, &c.RevokedAt, &c.RevokedBy, &c.RevokeReason,
		&c.Active, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	c.AllowedIPs = allowedIPs
	return c, nil
}

// Get retrieves a credential by ID
func (s *Store) Get(ctx context.Context, id int64) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM api_keys WHERE id = $1", credentialColumns), id)
	return scanCredential(row)
}

// FindByPrefix returns all credentials sharing a prefix. The prefix is
// not unique, so callers verify each candidate's hash.
func (s *Store) FindByPrefix(ctx context.Context, prefix string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM api_keys WHERE prefix = $1", credentialColumns), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials by prefix: %w", err)
	}
	defer rows.Close()

	candidates := make([]*Credential, 0, 1)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ListByOwner returns an owner's credentials, newest first
func (s *Store) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*Credential, int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM api_keys WHERE owner_id = $1", ownerID).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count credentials: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM api_keys WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, credentialColumns), ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	creds := make([]*Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, 0, err
		}
		creds = append(creds, c)
	}
	return creds, count, rows.Err()
}

// Revoke marks a credential revoked. Idempotent: revoking an
// already-revoked credential succeeds without changing the original
// revocation record.
func (s *Store) Revoke(ctx context.Context, id int64, actorID int64, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET revoked_at = NOW(), revoked_by = $2, revoke_reason = $3, active = FALSE
		WHERE id = $1 AND revoked_at IS NULL
	`, id, actorID, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke credential %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		// Either absent or already revoked; distinguish for callers
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Touch records usage: last-used metadata is last-writer-wins, the
// request counter is an atomic SQL increment safe under concurrency.
func (s *Store) Touch(ctx context.Context, id int64, ip string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET total_requests = total_requests + 1, last_used_at = NOW(), last_used_ip = $2
		WHERE id = $1
	`, id, ip)
	if err != nil {
		return fmt.Errorf("failed to touch credential %d: %w", id, err)
	}
	return nil
}

// CountActive returns the number of currently valid credentials, used by
// the daily summary job.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_keys
		WHERE active AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active credentials: %w", err)
	}
	return count, nil
}
