package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
)

// RequestID assigns a correlation id to every request and resolves the
// client IP once so downstream middleware and handlers agree on both.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = contextkeys.WithClientIP(ctx, getClientIP(r))

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getClientIP resolves the originating client address, preferring proxy
// headers over the socket peer.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy). Multi-hop
	// proxies append, so the original client is the first element.
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	// Check X-Real-IP header
	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// Use remote address, stripped of the port
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
