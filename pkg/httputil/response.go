// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every error produced by the API.
// ErrorName is a stable machine-readable identifier; Message may be
// localized or reworded without breaking clients.
type ErrorResponse struct {
	ErrorName string                 `json:"error_name"`
	Message   string                 `json:"message"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorName writes an error envelope with the given status, stable
// name and human message
func WriteErrorName(w http.ResponseWriter, status int, name, message string) {
	WriteJSON(w, status, ErrorResponse{ErrorName: name, Message: message})
}

// WriteErrorExtra writes an error envelope carrying additional detail
func WriteErrorExtra(w http.ResponseWriter, status int, name, message string, extra map[string]interface{}) {
	WriteJSON(w, status, ErrorResponse{ErrorName: name, Message: message, Extra: extra})
}

// WriteValidationError writes a validation error response (422)
func WriteValidationError(w http.ResponseWriter, message string, fields map[string]interface{}) {
	WriteErrorExtra(w, http.StatusUnprocessableEntity, "validation_error", message, fields)
}

// WriteUnauthorized writes an opaque authentication failure (401)
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrorName(w, http.StatusUnauthorized, "authentication_failed", "authentication failed")
}

// WriteForbidden writes an authorization failure (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorName(w, http.StatusForbidden, "permission_denied", message)
}

// WriteNotFound writes a not found error response (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorName(w, http.StatusNotFound, "not_found", message)
}

// WriteConflict writes a conflict error with a specific stable name (409)
func WriteConflict(w http.ResponseWriter, name, message string) {
	WriteErrorName(w, http.StatusConflict, name, message)
}

// WriteInternalError writes an internal server error carrying the request
// correlation id; the underlying error is logged, never surfaced
func WriteInternalError(w http.ResponseWriter, requestID string) {
	WriteErrorExtra(w, http.StatusInternalServerError, "internal", "internal server error",
		map[string]interface{}{"request_id": requestID})
}
