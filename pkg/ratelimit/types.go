// Package ratelimit implements a sliding-window log rate limiter keyed
// by credential identity, falling back to client IP for anonymous
// callers. Denials produce durable violation records.
package ratelimit

import (
	"context"
	"time"
)

// LimitType labels which limit produced a decision
type LimitType string

const (
	LimitTypeCredential LimitType = "credential"
	LimitTypeIP         LimitType = "ip"
)

// Decision is the outcome of a single rate limit check
type Decision struct {
	Allowed  bool
	Observed int
	Limit    int
	// Wait advises how long the caller should back off before the next
	// attempt: remaining_window / max(1, limit - observed)
	Wait time.Duration
	// Reset is when the oldest counted request leaves the window
	Reset time.Time
}

// Remaining returns how many requests the window still admits
func (d Decision) Remaining() int {
	remaining := d.Limit - d.Observed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limiter admits or denies requests against a per-key sliding window
type Limiter interface {
	// Allow records a request under the key if the window admits it.
	// limit <= 0 means unbounded: always allowed, nothing recorded.
	Allow(ctx context.Context, key string, limit int) (Decision, error)
}

// Violation is an append-only record of a denial
type Violation struct {
	ID            int64      `json:"id"`
	CredentialID  *int64     `json:"credential_id,omitempty"`
	IP            string     `json:"ip"`
	Endpoint      string     `json:"endpoint"`
	Method        string     `json:"method"`
	LimitType     LimitType  `json:"limit_type"`
	ObservedCount int        `json:"observed_count"`
	Limit         int        `json:"configured_limit"`
	WindowSeconds int        `json:"window_seconds"`
	CreatedAt     time.Time  `json:"created_at"`
}

// waitAdvice computes the back-off hint shared by both limiter backends
func waitAdvice(remainingWindow time.Duration, limit, observed int) time.Duration {
	slots := limit - observed
	if slots < 1 {
		slots = 1
	}
	return remainingWindow / time.Duration(slots)
}
