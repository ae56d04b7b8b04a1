// Package metering records per-request usage events for billing and audit.
//
// Events are append-only: once written they are never updated or deleted.
// The recording pipeline is best-effort and must never affect the response
// path of the request it describes.
package metering

import (
	"time"
)

// EventKind classifies what the principal did.
type EventKind string

const (
	KindRead     EventKind = "read"
	KindDownload EventKind = "download"
	KindAPICall  EventKind = "api_call"
)

// SubjectKind names the category of object the event touched.
type SubjectKind string

const (
	SubjectResource     SubjectKind = "resource"
	SubjectDistribution SubjectKind = "distribution"
	SubjectEndpoint     SubjectKind = "endpoint"
)

// UsageEvent is a single metered request. Metadata holds the request shape
// (endpoint, method, status, duration, query params, content type) and must
// never contain auth headers or request bodies.
type UsageEvent struct {
	ID           int64                  `json:"id"`
	PrincipalID  int64                  `json:"principal_id"`
	CredentialID *int64                 `json:"credential_id,omitempty"`
	Kind         EventKind              `json:"kind"`
	SubjectKind  SubjectKind            `json:"subject_kind"`
	SubjectID    string                 `json:"subject_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ListFilter narrows List queries. Zero values are ignored.
type ListFilter struct {
	PrincipalID int64
	Kind        EventKind
	Since       time.Time
	Limit       int
	Offset      int
}
