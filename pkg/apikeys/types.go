// Package apikeys issues and validates long-lived bearer credentials.
// The full secret is returned exactly once at issuance; only the
// searchable prefix and a keyed hash persist.
package apikeys

import (
	"errors"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
)

// Credential records an issued API key. Immutable after issuance except
// for usage counters and terminal transitions.
type Credential struct {
	ID           int64      `json:"id"`
	OwnerID      int64      `json:"owner_id"`
	Name         string     `json:"name"`
	Prefix       string     `json:"prefix"`
	SecretHash   string     `json:"-"`
	AllowedIPs   []string   `json:"allowed_ips"`
	QuotaPerHour int        `json:"quota_per_hour"`

	TotalRequests int64      `json:"total_requests"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP    string     `json:"last_used_ip,omitempty"`

	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    *int64     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	Active       bool       `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the credential may authenticate right now
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || !c.Active || c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}

// QuotaUnbounded marks a credential with no hourly ceiling
const QuotaUnbounded = 0

// QuotaCeiling returns the maximum hourly quota a role may request.
// Zero means unbounded.
func QuotaCeiling(roleName string) int {
	switch roleName {
	case identity.RoleAdmin:
		return QuotaUnbounded
	case identity.RolePublisher:
		return 5000
	case identity.RoleDeveloper:
		return 1000
	case identity.RoleReviewer:
		return 500
	default:
		return 500
	}
}

var (
	// ErrAuthenticationFailed is the single opaque error for every
	// credential problem: unknown, expired, revoked, or IP-blocked.
	// Callers must not distinguish which occurred.
	ErrAuthenticationFailed = errors.New("apikeys: authentication failed")
	// ErrNameConflict is returned when the owner already has an active
	// credential with the same name
	ErrNameConflict = errors.New("apikeys: credential name already in use")
	// ErrQuotaTooHigh is returned when the requested quota exceeds the
	// owner's role ceiling
	ErrQuotaTooHigh = errors.New("apikeys: requested quota exceeds role ceiling")
	// ErrNotFound is returned for absent credentials
	ErrNotFound = errors.New("apikeys: not found")
	// ErrInvalidAllowList is returned when an allow-list entry is
	// neither a literal IP nor a CIDR block
	ErrInvalidAllowList = errors.New("apikeys: invalid IP allow-list entry")
	// ErrEmptyName is returned when issuance omits a display name
	ErrEmptyName = errors.New("apikeys: credential name is required")
)
