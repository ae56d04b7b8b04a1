package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RoleSource is the slice of the store the checker needs
type RoleSource interface {
	GetRole(ctx context.Context, roleID int64) (*Role, error)
}

// Checker evaluates the authorization predicate. It is a pure decision
// over (principal, action, object); it never loads or mutates objects.
// Denials fail closed: any missing input denies.
type Checker struct {
	roles RoleSource
	cache *expirable.LRU[int64, *Role]
}

// NewChecker creates a checker with a TTL-bounded role cache. Roles are
// shared references mutated only by administrators, so a short TTL is
// enough to pick up permission edits.
func NewChecker(roles RoleSource, cacheSize int, cacheTTL time.Duration) *Checker {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Checker{
		roles: roles,
		cache: expirable.NewLRU[int64, *Role](cacheSize, nil, cacheTTL),
	}
}

// Allowed reports whether the principal may perform the action on the
// category, optionally scoped to a concrete object.
func (c *Checker) Allowed(ctx context.Context, p *Principal, category Category, action Action, obj *ObjectRef) (bool, error) {
	if p == nil || !p.Active {
		return false, nil
	}

	role, err := c.roleFor(ctx, p.RoleID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load role %d: %w", p.RoleID, err)
	}

	if role.Name == RoleAdmin {
		return true, nil
	}

	if !role.Permissions.Allows(category, action) {
		return false, nil
	}

	if obj == nil {
		return true, nil
	}

	// Scope rules are conjunctive with the permission map: denying
	// either denies overall.
	switch role.Name {
	case RolePublisher:
		if obj.PublisherID == p.ID {
			return true, nil
		}
		return action.IsSafe() && obj.Published, nil
	case RoleDeveloper:
		if obj.Category == CategoryAccessRequests {
			return obj.RequesterID == p.ID, nil
		}
		return obj.Published, nil
	case RoleReviewer:
		if action.IsSafe() {
			return true, nil
		}
		return action == ActionReview, nil
	default:
		// Custom roles get the permission map without object scoping
		// beyond publication for safe reads.
		if action.IsSafe() {
			return obj.Published || obj.PublisherID == p.ID, nil
		}
		return obj.PublisherID == p.ID, nil
	}
}

// Require is Allowed with ErrPermissionDenied on a false result
func (c *Checker) Require(ctx context.Context, p *Principal, category Category, action Action, obj *ObjectRef) error {
	ok, err := c.Allowed(ctx, p, category, action, obj)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// Invalidate drops a role from the cache after a permission edit
func (c *Checker) Invalidate(roleID int64) {
	c.cache.Remove(roleID)
}

func (c *Checker) roleFor(ctx context.Context, roleID int64) (*Role, error) {
	if role, ok := c.cache.Get(roleID); ok {
		return role, nil
	}
	role, err := c.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(roleID, role)
	return role, nil
}
