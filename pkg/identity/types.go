// Package identity persists principals and roles and evaluates the
// authorization predicate applied to every protected operation.
package identity

import (
	"errors"
	"time"
)

// Category represents a class of protected resources
type Category string

const (
	CategoryResources      Category = "resources"
	CategoryDistributions  Category = "distributions"
	CategoryLicenses       Category = "licenses"
	CategoryAccessRequests Category = "access_requests"
	CategoryAPIKeys        Category = "api_keys"
	CategoryUsageEvents    Category = "usage_events"
)

// Action represents an operation on a category
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
	ActionReview  Action = "review"
)

// IsSafe reports whether the action is read-only
func (a Action) IsSafe() bool {
	return a == ActionRead
}

// PermissionMap is the declarative permission shape carried by a role:
// category → allowed actions.
type PermissionMap map[Category][]Action

// Allows reports whether the map grants the action on the category
func (m PermissionMap) Allows(category Category, action Action) bool {
	actions, ok := m[category]
	if !ok {
		return false
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// Validate rejects unknown categories and actions. Run once at seed time
// so request-time checks never parse.
func (m PermissionMap) Validate() error {
	known := map[Category]bool{
		CategoryResources:      true,
		CategoryDistributions:  true,
		CategoryLicenses:       true,
		CategoryAccessRequests: true,
		CategoryAPIKeys:        true,
		CategoryUsageEvents:    true,
	}
	knownActions := map[Action]bool{
		ActionCreate:  true,
		ActionRead:    true,
		ActionUpdate:  true,
		ActionDelete:  true,
		ActionPublish: true,
		ActionReview:  true,
	}
	for category, actions := range m {
		if !known[category] {
			return errors.New("unknown permission category: " + string(category))
		}
		for _, a := range actions {
			if !knownActions[a] {
				return errors.New("unknown permission action: " + string(a))
			}
		}
	}
	return nil
}

// Well-known role names
const (
	RoleAdmin     = "admin"
	RolePublisher = "publisher"
	RoleDeveloper = "developer"
	RoleReviewer  = "reviewer"
)

// Role is a named bundle of permissions shared by many principals
type Role struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Permissions PermissionMap `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Principal is an authenticated identity holding a single role.
// Principals are never hard-deleted, only deactivated.
type Principal struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	RoleID       int64     `json:"role_id"`
	RoleName     string    `json:"role_name"`
	Active       bool      `json:"active"`
	AuthProvider string    `json:"auth_provider"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the principal holds the admin role
func (p *Principal) IsAdmin() bool {
	return p != nil && p.RoleName == RoleAdmin
}

// ObjectRef carries the ownership facts the scope rules need. Handlers
// project it from whatever entity they guard; the checker never loads
// objects itself.
type ObjectRef struct {
	Category    Category
	PublisherID int64
	RequesterID int64
	Published   bool
}

var (
	// ErrNotFound is returned when a principal or role does not exist
	ErrNotFound = errors.New("identity: not found")
	// ErrPermissionDenied is returned when the predicate evaluates false
	ErrPermissionDenied = errors.New("identity: permission denied")
	// ErrEmailTaken is returned on duplicate principal email
	ErrEmailTaken = errors.New("identity: email already registered")
)
