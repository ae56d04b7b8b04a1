package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Store handles resource and distribution persistence. Every query
// filters soft-deleted rows; deletion state never leaks into callers.
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the resources and distributions tables if absent
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS resources (
		id BIGSERIAL PRIMARY KEY,
		publisher_id BIGINT NOT NULL REFERENCES principals(id),
		title VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		kind VARCHAR(64) NOT NULL DEFAULT '',
		is_published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS distributions (
		id BIGSERIAL PRIMARY KEY,
		resource_id BIGINT NOT NULL REFERENCES resources(id),
		format VARCHAR(64) NOT NULL,
		endpoint TEXT NOT NULL,
		access_policy VARCHAR(32) NOT NULL DEFAULT 'by_request',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_resources_publisher ON resources(publisher_id);
	CREATE INDEX IF NOT EXISTS idx_distributions_resource ON distributions(resource_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to ensure catalog tables: %w", err)
	}
	return nil
}

// CreateResource inserts a new resource for a publisher
func (s *Store) CreateResource(ctx context.Context, r *Resource) error {
	query := `
		INSERT INTO resources (publisher_id, title, slug, kind, is_published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		r.PublisherID, r.Title, r.Slug, r.Kind, r.IsPublished,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// GetResource retrieves a resource, excluding soft-deleted rows
func (s *Store) GetResource(ctx context.Context, id int64) (*Resource, error) {
	r := &Resource{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, publisher_id, title, slug, kind, is_published, created_at, updated_at
		FROM resources WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&r.ID, &r.PublisherID, &r.Title, &r.Slug, &r.Kind, &r.IsPublished,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource %d: %w", id, err)
	}
	return r, nil
}

// SetPublished flips the publication flag on a resource
func (s *Store) SetPublished(ctx context.Context, id int64, published bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET is_published = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, published)
	if err != nil {
		return fmt.Errorf("failed to update resource %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteResource hides a resource and its distributions
func (s *Store) SoftDeleteResource(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE resources SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete resource %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE distributions SET deleted_at = NOW() WHERE resource_id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete distributions of %d: %w", id, err)
	}

	return tx.Commit()
}

// ListScope narrows list queries to what the caller may see
type ListScope struct {
	// PublishedOnly restricts to published resources
	PublishedOnly bool
	// IncludeOwnedBy additionally includes unpublished rows owned by
	// this principal (publisher listing own drafts)
	IncludeOwnedBy int64
}

// ListResources returns resources visible under the scope, newest first
func (s *Store) ListResources(ctx context.Context, scope ListScope, limit, offset int) ([]*Resource, int64, error) {
	where := "deleted_at IS NULL"
	args := []interface{}{}
	if scope.PublishedOnly {
		if scope.IncludeOwnedBy > 0 {
			where += fmt.Sprintf(" AND (is_published OR publisher_id = $%d)", len(args)+1)
			args = append(args, scope.IncludeOwnedBy)
		} else {
			where += " AND is_published"
		}
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM resources WHERE %s", where), args...).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count resources: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, publisher_id, title, slug, kind, is_published, created_at, updated_at
		FROM resources WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := make([]*Resource, 0)
	for rows.Next() {
		r := &Resource{}
		if err := rows.Scan(&r.ID, &r.PublisherID, &r.Title, &r.Slug, &r.Kind,
			&r.IsPublished, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, count, rows.Err()
}

// CreateDistribution inserts a new distribution for a resource
func (s *Store) CreateDistribution(ctx context.Context, d *Distribution) error {
	query := `
		INSERT INTO distributions (resource_id, format, endpoint, access_policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		d.ResourceID, d.Format, d.Endpoint, d.Policy,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create distribution: %w", err)
	}
	return nil
}

// GetDistribution retrieves a distribution with ownership facts joined
// from its resource
func (s *Store) GetDistribution(ctx context.Context, id int64) (*Distribution, error) {
	d := &Distribution{}
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.resource_id, d.format, d.endpoint, d.access_policy,
		       d.created_at, d.updated_at, r.publisher_id, r.is_published
		FROM distributions d JOIN resources r ON r.id = d.resource_id
		WHERE d.id = $1 AND d.deleted_at IS NULL AND r.deleted_at IS NULL
	`, id).Scan(&d.ID, &d.ResourceID, &d.Format, &d.Endpoint, &d.Policy,
		&d.CreatedAt, &d.UpdatedAt, &d.PublisherID, &d.IsPublished)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution %d: %w", id, err)
	}
	return d, nil
}

// PurgeHidden hard-deletes rows soft-deleted more than the given number
// of days ago. Used by the clean-hidden administrative command.
func (s *Store) PurgeHidden(ctx context.Context, olderThanDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM distributions
		WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - ($1 || ' days')::interval
	`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge distributions: %w", err)
	}
	distRows, _ := result.RowsAffected()

	result, err = s.db.ExecContext(ctx, `
		DELETE FROM resources
		WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - ($1 || ' days')::interval
		AND NOT EXISTS (SELECT 1 FROM distributions d WHERE d.resource_id = resources.id)
	`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge resources: %w", err)
	}
	resRows, _ := result.RowsAffected()

	return distRows + resRows, nil
}
