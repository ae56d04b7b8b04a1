package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store handles access request persistence. Transitions go through
// GetForUpdate inside a transaction so concurrent moves on the same
// request serialize on the row lock.
type Store struct {
	db *sql.DB
}

// NewStore creates a new access request store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction control
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the access_requests table if absent. The partial
// unique index enforces at most one non-terminal request per
// (requester, distribution) pair.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS access_requests (
		id BIGSERIAL PRIMARY KEY,
		requester_id BIGINT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		distribution_id BIGINT NOT NULL REFERENCES distributions(id),
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		justification TEXT NOT NULL,
		reviewed_by BIGINT REFERENCES principals(id),
		review_notes TEXT NOT NULL DEFAULT '',
		reviewed_at TIMESTAMP WITH TIME ZONE,
		revoked_by BIGINT REFERENCES principals(id),
		revoked_at TIMESTAMP WITH TIME ZONE,
		requested_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE,
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMP WITH TIME ZONE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_access_requests_active
		ON access_requests(requester_id, distribution_id)
		WHERE status IN ('pending', 'under_review', 'approved') AND deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_access_requests_status ON access_requests(status);
	CREATE INDEX IF NOT EXISTS idx_access_requests_expires_at ON access_requests(expires_at);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to ensure access_requests table: %w", err)
	}
	return nil
}

// Create inserts a new pending request
func (s *Store) Create(ctx context.Context, r *AccessRequest) error {
	query := `
		INSERT INTO access_requests (requester_id, distribution_id, status, justification, requested_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, requested_at
	`

	err := s.db.QueryRowContext(ctx, query,
		r.RequesterID, r.DistributionID, StatusPending, r.Justification,
	).Scan(&r.ID, &r.RequestedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("failed to create access request: %w", err)
	}
	r.Status = StatusPending
	return nil
}

const requestColumns = `
	id, requester_id, distribution_id, status, justification,
	reviewed_by, review_notes, reviewed_at, revoked_by, revoked_at,
	requested_at, expires_at, notification_sent
`

func scanRequest(scanner interface {
	Scan(dest ...interface{}) error
}) (*AccessRequest, error) {
	r := &AccessRequest{}
	err := scanner.Scan(
		&r.ID, &r.RequesterID, &r.DistributionID, &r.Status, &r.Justification,
		&r.ReviewedBy, &r.ReviewNotes, &r.ReviewedAt, &r.RevokedBy, &r.RevokedAt,
		&r.RequestedAt, &r.ExpiresAt, &r.NotificationSent,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan access request: %w", err)
	}
	return r, nil
}

// Get retrieves a request, excluding soft-deleted rows
func (s *Store) Get(ctx context.Context, id int64) (*AccessRequest, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM access_requests WHERE id = $1 AND deleted_at IS NULL
	`, requestColumns), id)
	return scanRequest(row)
}

// GetForUpdate locks and retrieves a request inside a transaction
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*AccessRequest, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM access_requests WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
	`, requestColumns), id)
	return scanRequest(row)
}

// UpdateTransition writes the new state of a locked request
func (s *Store) UpdateTransition(ctx context.Context, tx *sql.Tx, r *AccessRequest) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE access_requests
		SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5,
		    revoked_by = $6, revoked_at = $7, expires_at = $8, notification_sent = $9
		WHERE id = $1
	`, r.ID, r.Status, r.ReviewedBy, r.ReviewNotes, r.ReviewedAt,
		r.RevokedBy, r.RevokedAt, r.ExpiresAt, r.NotificationSent)
	if err != nil {
		return fmt.Errorf("failed to update access request %d: %w", r.ID, err)
	}
	return nil
}

// ListFilter narrows list queries
type ListFilter struct {
	RequesterID    int64
	DistributionID int64
	Status         Status
}

// List returns requests matching the filter, newest first
func (s *Store) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*AccessRequest, int64, error) {
	where := "deleted_at IS NULL"
	args := []interface{}{}
	if filter.RequesterID > 0 {
		where += fmt.Sprintf(" AND requester_id = $%d", len(args)+1)
		args = append(args, filter.RequesterID)
	}
	if filter.DistributionID > 0 {
		where += fmt.Sprintf(" AND distribution_id = $%d", len(args)+1)
		args = append(args, filter.DistributionID)
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM access_requests WHERE %s", where), args...).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count access requests: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM access_requests WHERE %s
		ORDER BY requested_at DESC LIMIT $%d OFFSET $%d
	`, requestColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*AccessRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, r)
	}
	return requests, count, rows.Err()
}

// ApprovedExpiredBefore returns approved requests whose expiry passed,
// for the hourly sweep.
func (s *Store) ApprovedExpiredBefore(ctx context.Context, cutoff time.Time) ([]*AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM access_requests
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2 AND deleted_at IS NULL
	`, requestColumns), StatusApproved, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*AccessRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// ApprovedExpiringOn returns approved requests expiring on the given
// calendar day, for reminder dispatch.
func (s *Store) ApprovedExpiringOn(ctx context.Context, day time.Time) ([]*AccessRequest, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM access_requests
		WHERE status = $1 AND expires_at >= $2 AND expires_at < $3 AND deleted_at IS NULL
	`, requestColumns), StatusApproved, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*AccessRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// UnnotifiedTerminalBefore returns requests that reached a terminal or
// approved state before the cutoff with notification_sent still false,
// for the reconciler.
func (s *Store) UnnotifiedTerminalBefore(ctx context.Context, cutoff time.Time) ([]*AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM access_requests
		WHERE NOT notification_sent AND deleted_at IS NULL
		AND status IN ($1, $2, $3, $4)
		AND COALESCE(revoked_at, reviewed_at, expires_at, requested_at) < $5
	`, requestColumns), StatusApproved, StatusRejected, StatusRevoked, StatusExpired, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query unnotified requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*AccessRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// MarkNotificationSent flips the sent flag after delivery succeeds
func (s *Store) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE access_requests SET notification_sent = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent for %d: %w", id, err)
	}
	return nil
}

// SoftDeleteInactiveBefore hides terminal requests older than the cutoff,
// for the daily retention sweep. Returns the number of rows hidden.
func (s *Store) SoftDeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE access_requests SET deleted_at = NOW()
		WHERE deleted_at IS NULL AND status IN ($1, $2, $3) AND requested_at < $4
	`, StatusRejected, StatusRevoked, StatusExpired, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete inactive requests: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows, nil
}

// CountByStatusSince aggregates request counts per status over an
// interval, for the daily summary.
func (s *Store) CountByStatusSince(ctx context.Context, since time.Time) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM access_requests
		WHERE requested_at >= $1 AND deleted_at IS NULL
		GROUP BY status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
