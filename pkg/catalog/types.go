// Package catalog persists resources and their distributions. A resource
// is owned by exactly one publishing principal; a distribution is a
// concrete consumable form (format + endpoint) of a resource.
package catalog

import (
	"errors"
	"time"
)

// Resource is a curated content entry owned by a publisher
type Resource struct {
	ID          int64      `json:"id"`
	PublisherID int64      `json:"publisher_id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Kind        string     `json:"kind"`
	IsPublished bool       `json:"is_published"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// AccessPolicy controls how a distribution may be obtained
type AccessPolicy string

const (
	// AccessOpen distributions need only a valid credential
	AccessOpen AccessPolicy = "open"
	// AccessByRequest distributions need an approved access request
	AccessByRequest AccessPolicy = "by_request"
)

// Distribution is a consumable form of a resource
type Distribution struct {
	ID         int64        `json:"id"`
	ResourceID int64        `json:"resource_id"`
	Format     string       `json:"format"`
	Endpoint   string       `json:"endpoint"`
	Policy     AccessPolicy `json:"access_policy"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	DeletedAt  *time.Time   `json:"-"`

	// Joined from the owning resource for scope checks
	PublisherID int64 `json:"publisher_id"`
	IsPublished bool  `json:"is_published"`
}

// ErrNotFound is returned for absent or soft-deleted rows
var ErrNotFound = errors.New("catalog: not found")
