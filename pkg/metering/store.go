package metering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists usage events to PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a usage event store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the usage_events table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id BIGSERIAL PRIMARY KEY,
		principal_id BIGINT NOT NULL,
		credential_id BIGINT,
		kind VARCHAR(20) NOT NULL,
		subject_kind VARCHAR(20) NOT NULL,
		subject_id VARCHAR(255),
		metadata JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_principal ON usage_events(principal_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_usage_events_credential ON usage_events(credential_id);
	CREATE INDEX IF NOT EXISTS idx_usage_events_kind ON usage_events(kind);
	CREATE INDEX IF NOT EXISTS idx_usage_events_created_at ON usage_events(created_at DESC);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure usage_events table: %w", err)
	}
	return nil
}

// Append writes a usage event. The event is never updated afterwards.
func (s *Store) Append(ctx context.Context, event *UsageEvent) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO usage_events (
			principal_id, credential_id, kind, subject_kind, subject_id,
			metadata, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		event.PrincipalID, event.CredentialID, event.Kind, event.SubjectKind, event.SubjectID,
		metadataJSON, event.IPAddress, event.UserAgent, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// List returns usage events matching the filter, newest first, with the
// total count for pagination.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*UsageEvent, int64, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	idx := 1
	if filter.PrincipalID != 0 {
		where += fmt.Sprintf(" AND principal_id = $%d", idx)
		args = append(args, filter.PrincipalID)
		idx++
	}
	if filter.Kind != "" {
		where += fmt.Sprintf(" AND kind = $%d", idx)
		args = append(args, filter.Kind)
		idx++
	}
	if !filter.Since.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, filter.Since)
		idx++
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM usage_events " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count usage events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT id, principal_id, credential_id, kind, subject_kind, subject_id,
		       metadata, ip_address, user_agent, created_at
		FROM usage_events %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, idx, idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		var e UsageEvent
		var metadataJSON []byte
		var subjectID, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.CredentialID, &e.Kind, &e.SubjectKind,
			&subjectID, &metadataJSON, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan usage event: %w", err)
		}
		e.SubjectID = subjectID.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate usage events: %w", err)
	}
	return events, total, nil
}

// CountSince returns the number of events recorded at or after the cutoff.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage events: %w", err)
	}
	return count, nil
}
