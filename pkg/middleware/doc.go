// Package middleware provides the HTTP request pipeline: request
// correlation, credential authentication, and rate limiting.
//
// Ordering matters. The intended chain, outermost first:
//
//	RequestID -> Auth -> Metering -> RateLimit -> handler
//
// RequestID resolves the client IP and correlation id for everything
// downstream. Auth populates the auth context the metering and rate
// limit layers key on; anonymous requests reach the limiter but are
// never metered.
package middleware
