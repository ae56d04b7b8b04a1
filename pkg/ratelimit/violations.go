package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ViolationStore appends and queries rate limit violations. Rows are
// monotonic: no update, no delete.
type ViolationStore struct {
	db *sql.DB
}

// NewViolationStore creates a violation store
func NewViolationStore(db *sql.DB) *ViolationStore {
	return &ViolationStore{db: db}
}

// EnsureSchema creates the rate_limit_violations table if absent
func (s *ViolationStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS rate_limit_violations (
		id BIGSERIAL PRIMARY KEY,
		credential_id BIGINT REFERENCES api_keys(id),
		ip VARCHAR(45) NOT NULL,
		endpoint TEXT NOT NULL,
		method VARCHAR(10) NOT NULL,
		limit_type VARCHAR(32) NOT NULL,
		observed_count INTEGER NOT NULL,
		configured_limit INTEGER NOT NULL,
		window_seconds INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_violations_credential ON rate_limit_violations(credential_id);
	CREATE INDEX IF NOT EXISTS idx_violations_created_at ON rate_limit_violations(created_at DESC);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to ensure rate_limit_violations table: %w", err)
	}
	return nil
}

// Append records a denial
func (s *ViolationStore) Append(ctx context.Context, v *Violation) error {
	query := `
		INSERT INTO rate_limit_violations
			(credential_id, ip, endpoint, method, limit_type, observed_count, configured_limit, window_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		v.CredentialID, v.IP, v.Endpoint, v.Method, v.LimitType,
		v.ObservedCount, v.Limit, v.WindowSeconds,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append violation: %w", err)
	}
	return nil
}

// List returns violations newest first, optionally scoped to a credential
func (s *ViolationStore) List(ctx context.Context, credentialID *int64, limit, offset int) ([]*Violation, int64, error) {
	where := "1=1"
	args := []interface{}{}
	if credentialID != nil {
		where = "credential_id = $1"
		args = append(args, *credentialID)
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM rate_limit_violations WHERE %s", where), args...).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count violations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, credential_id, ip, endpoint, method, limit_type, observed_count, configured_limit, window_seconds, created_at
		FROM rate_limit_violations WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	violations := make([]*Violation, 0)
	for rows.Next() {
		v := &Violation{}
		if err := rows.Scan(&v.ID, &v.CredentialID, &v.IP, &v.Endpoint, &v.Method,
			&v.LimitType, &v.ObservedCount, &v.Limit, &v.WindowSeconds, &v.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, count, rows.Err()
}

// CountSince returns the number of violations recorded in the interval,
// used by the daily summary job.
func (s *ViolationStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rate_limit_violations WHERE created_at >= $1", since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return count, nil
}
