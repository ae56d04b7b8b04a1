package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Store handles principal and role persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the roles and principals tables if absent
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS roles (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(64) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		permissions JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS principals (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role_id BIGINT NOT NULL REFERENCES roles(id),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		auth_provider VARCHAR(32) NOT NULL DEFAULT 'local',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_principals_role_id ON principals(role_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to ensure identity tables: %w", err)
	}
	return nil
}

// UpsertRole inserts the role or replaces its permissions when the name
// already exists. The permission map is validated before it is written.
func (s *Store) UpsertRole(ctx context.Context, role *Role) error {
	if err := role.Permissions.Validate(); err != nil {
		return fmt.Errorf("invalid permission map for role %q: %w", role.Name, err)
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO roles (name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    permissions = EXCLUDED.permissions,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err = s.db.QueryRowContext(ctx, query, role.Name, role.Description, permissionsJSON).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert role %q: %w", role.Name, err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, `
		SELECT id, name, description, permissions, created_at, updated_at
		FROM roles WHERE id = $1
	`, roleID))
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, `
		SELECT id, name, description, permissions, created_at, updated_at
		FROM roles WHERE name = $1
	`, name))
}

func (s *Store) scanRole(row *sql.Row) (*Role, error) {
	role := &Role{}
	var permissionsJSON []byte

	err := row.Scan(&role.ID, &role.Name, &role.Description, &permissionsJSON,
		&role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}

	if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return role, nil
}

// CreatePrincipal registers a new principal
func (s *Store) CreatePrincipal(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO principals (email, name, role_id, active, auth_provider, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		p.Email, p.Name, p.RoleID, p.Active, p.AuthProvider,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal with its role name joined in
func (s *Store) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		SELECT p.id, p.email, p.name, p.role_id, r.name, p.active, p.auth_provider, p.created_at, p.updated_at
		FROM principals p JOIN roles r ON r.id = p.role_id
		WHERE p.id = $1
	`, id))
}

// GetPrincipalByEmail retrieves a principal by email
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		SELECT p.id, p.email, p.name, p.role_id, r.name, p.active, p.auth_provider, p.created_at, p.updated_at
		FROM principals p JOIN roles r ON r.id = p.role_id
		WHERE p.email = $1
	`, email))
}

func (s *Store) scanPrincipal(row *sql.Row) (*Principal, error) {
	p := &Principal{}
	err := row.Scan(&p.ID, &p.Email, &p.Name, &p.RoleID, &p.RoleName,
		&p.Active, &p.AuthProvider, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}
	return p, nil
}

// SetPrincipalActive activates or deactivates a principal
func (s *Store) SetPrincipalActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals SET active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update principal %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdmin guarantees an active principal with the admin role exists
// for the given email, creating or repairing it as needed.
func (s *Store) EnsureAdmin(ctx context.Context, email, name string) (*Principal, error) {
	adminRole, err := s.GetRoleByName(ctx, RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("admin role missing, seed roles first: %w", err)
	}

	existing, err := s.GetPrincipalByEmail(ctx, email)
	if err == nil {
		if existing.RoleID == adminRole.ID && existing.Active {
			return existing, nil
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE principals SET role_id = $2, active = TRUE, updated_at = NOW() WHERE id = $1
		`, existing.ID, adminRole.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to promote principal %d: %w", existing.ID, err)
		}
		return s.GetPrincipal(ctx, existing.ID)
	}
	if err != ErrNotFound {
		return nil, err
	}

	p := &Principal{
		Email:        email,
		Name:         name,
		RoleID:       adminRole.ID,
		Active:       true,
		AuthProvider: "local",
	}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		return nil, err
	}
	p.RoleName = RoleAdmin
	return p, nil
}

// PrincipalCountByRole returns the number of active principals per role,
// used by the daily summary job.
func (s *Store) PrincipalCountByRole(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, COUNT(*) FROM principals p
		JOIN roles r ON r.id = p.role_id
		WHERE p.active GROUP BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count principals: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan principal count: %w", err)
		}
		counts[name] = count
	}
	return counts, rows.Err()
}
