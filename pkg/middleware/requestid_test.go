package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
)

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = contextkeys.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.NotEmpty(t, captured)
	_, err := uuid.Parse(captured)
	assert.NoError(t, err)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = contextkeys.RequestID(r.Context())
	}))

	r := httptest.NewRequest("GET", "/healthz", nil)
	r.Header.Set("X-Request-ID", "upstream-id-42")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, "upstream-id-42", captured)
	assert.Equal(t, "upstream-id-42", rec.Header().Get("X-Request-ID"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded preferred", "203.0.113.9", "198.51.100.2", "10.0.0.1:4821", "203.0.113.9"},
		{"forwarded multi-hop takes first", "203.0.113.9, 70.41.3.18, 150.172.238.178", "", "10.0.0.1:4821", "203.0.113.9"},
		{"real ip fallback", "", "198.51.100.2", "10.0.0.1:4821", "198.51.100.2"},
		{"remote addr stripped of port", "", "", "10.0.0.1:4821", "10.0.0.1"},
		{"remote addr without port", "", "", "10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}
