package api

import (
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
)

// IssueKeyRequest is the payload for creating an API key.
type IssueKeyRequest struct {
	Name         string     `json:"name"`
	QuotaPerHour int        `json:"quota_per_hour"`
	AllowedIPs   []string   `json:"allowed_ips"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// IssuedKeyResponse carries the one-time secret alongside the stored
// credential. The secret never appears in any other response.
type IssuedKeyResponse struct {
	Credential *apikeys.Credential `json:"credential"`
	Secret     string              `json:"secret"`
}

// RevokeKeyRequest is the optional payload for revoking an API key.
type RevokeKeyRequest struct {
	Reason string `json:"reason"`
}

// SubmitRequestPayload is the payload for filing an access request.
type SubmitRequestPayload struct {
	DistributionID int64  `json:"distribution_id"`
	Justification  string `json:"justification"`
}

// ReviewPayload carries reviewer notes for approve/reject/revoke, plus
// an optional expiry for approvals.
type ReviewPayload struct {
	Notes     string     `json:"notes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateResourcePayload is the payload for creating a resource.
type CreateResourcePayload struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
	Kind  string `json:"kind"`
}

// CreateDistributionPayload is the payload for adding a distribution to
// a resource.
type CreateDistributionPayload struct {
	Format       string `json:"format"`
	Endpoint     string `json:"endpoint"`
	AccessPolicy string `json:"access_policy"`
}
