// Package workflow mediates a developer's request for access to a
// distribution: review, approval, rejection, revocation, and expiry,
// with notifications dispatched at every terminal transition.
package workflow

import (
	"errors"
	"time"
)

// Status is the state of an access request
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusRevoked     Status = "revoked"
	StatusExpired     Status = "expired"
)

// Terminal reports whether the status admits no outgoing transitions
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// transitions is the allowed state graph. Every transition not listed
// here is invalid.
var transitions = map[Status][]Status{
	StatusPending:     {StatusUnderReview, StatusApproved, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusRevoked, StatusExpired},
}

// CanTransition reports whether from → to is in the state graph
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Notification kinds enqueued on transitions and reminders
const (
	NotificationApproved    = "approved"
	NotificationRejected    = "rejected"
	NotificationRevoked     = "revoked"
	NotificationExpired     = "expired"
	NotificationExpiring7d  = "expiring_7d"
	NotificationExpiring3d  = "expiring_3d"
	NotificationExpiring1d  = "expiring_1d"
)

// AccessRequest is a developer's request for a specific distribution
type AccessRequest struct {
	ID             int64  `json:"id"`
	RequesterID    int64  `json:"requester_id"`
	DistributionID int64  `json:"distribution_id"`
	Status         Status `json:"status"`
	Justification  string `json:"justification"`

	ReviewedBy  *int64     `json:"reviewed_by,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`

	RevokedBy *int64     `json:"revoked_by,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	RequestedAt      time.Time  `json:"requested_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	NotificationSent bool       `json:"notification_sent"`

	DeletedAt *time.Time `json:"-"`
}

var (
	// ErrNotFound is returned for absent or soft-deleted requests
	ErrNotFound = errors.New("workflow: access request not found")
	// ErrDuplicateRequest is returned when the requester already has a
	// non-terminal request for the distribution
	ErrDuplicateRequest = errors.New("workflow: active request already exists for this distribution")
	// ErrInvalidTransition is returned for moves outside the state graph,
	// including any attempt to leave a terminal state
	ErrInvalidTransition = errors.New("workflow: invalid state transition")
	// ErrEmptyJustification is returned when submission omits a justification
	ErrEmptyJustification = errors.New("workflow: justification is required")
)
