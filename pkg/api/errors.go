package api

import (
	"errors"
	"net/http"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

// writeError maps domain errors onto the HTTP error taxonomy. Anything
// unmapped is a server fault: logged with the request id, surfaced as an
// opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	switch {
	case errors.Is(err, apikeys.ErrAuthenticationFailed):
		httputil.WriteUnauthorized(w)
	case errors.Is(err, identity.ErrPermissionDenied):
		httputil.WriteForbidden(w, "you do not have permission to perform this action")
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, apikeys.ErrNotFound),
		errors.Is(err, identity.ErrNotFound):
		httputil.WriteNotFound(w, "not found")
	case errors.Is(err, workflow.ErrDuplicateRequest):
		httputil.WriteConflict(w, "duplicate_request", "an active request for this distribution already exists")
	case errors.Is(err, workflow.ErrInvalidTransition):
		httputil.WriteConflict(w, "invalid_transition", "the request is not in a state that allows this transition")
	case errors.Is(err, apikeys.ErrNameConflict):
		httputil.WriteConflict(w, "name_conflict", "an active key with this name already exists")
	case errors.Is(err, workflow.ErrEmptyJustification):
		httputil.WriteValidationError(w, "justification is required", nil)
	case errors.Is(err, apikeys.ErrEmptyName):
		httputil.WriteValidationError(w, "name is required", nil)
	case errors.Is(err, apikeys.ErrQuotaTooHigh):
		httputil.WriteValidationError(w, "requested quota exceeds the ceiling for your role", nil)
	case errors.Is(err, apikeys.ErrInvalidAllowList):
		httputil.WriteValidationError(w, "allowed_ips entries must be IP addresses or CIDR blocks", nil)
	case errors.Is(err, identity.ErrEmailTaken):
		httputil.WriteConflict(w, "email_taken", "email already registered")
	default:
		requestID := contextkeys.RequestID(r.Context())
		logger.WithError(err).WithFields(map[string]interface{}{
			"request_id": requestID,
			"path":       r.URL.Path,
			"method":     r.Method,
		}).Error("request failed")
		httputil.WriteInternalError(w, requestID)
	}
}
