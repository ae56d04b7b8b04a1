package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a single-node sliding-window log limiter. Each key
// holds the timestamps of its recent requests, trimmed to the window on
// every check.
type MemoryLimiter struct {
	window time.Duration
	mu     sync.Mutex
	keys   map[string]*history
}

type history struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
}

// NewMemoryLimiter creates an in-process limiter with the given window
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &MemoryLimiter{
		window: window,
		keys:   make(map[string]*history),
	}
}

// Allow checks and records a request under the key
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}, nil
	}

	l.mu.Lock()
	h, ok := l.keys[key]
	if !ok {
		h = &history{}
		l.keys[key] = h
	}
	l.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.lastSeen = now
	cutoff := now.Add(-l.window)

	// Drop entries that fell out of the window
	kept := h.timestamps[:0]
	for _, ts := range h.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.timestamps = kept

	observed := len(h.timestamps)
	reset := now.Add(l.window)
	if observed > 0 {
		reset = h.timestamps[0].Add(l.window)
	}

	if observed >= limit {
		return Decision{
			Allowed:  false,
			Observed: observed,
			Limit:    limit,
			Wait:     waitAdvice(reset.Sub(now), limit, observed),
			Reset:    reset,
		}, nil
	}

	h.timestamps = append(h.timestamps, now)
	return Decision{
		Allowed:  true,
		Observed: observed + 1,
		Limit:    limit,
		Wait:     waitAdvice(reset.Sub(now), limit, observed+1),
		Reset:    reset,
	}, nil
}

// Cleanup removes keys idle for more than two windows
func (l *MemoryLimiter) Cleanup() {
	cutoff := time.Now().Add(-2 * l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, h := range l.keys {
		h.mu.Lock()
		idle := h.lastSeen.Before(cutoff)
		h.mu.Unlock()
		if idle {
			delete(l.keys, key)
		}
	}
}

// StartCleanup runs Cleanup periodically until the context is cancelled
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
