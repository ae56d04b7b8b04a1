package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// CredentialHandlers serves the API key lifecycle.
type CredentialHandlers struct {
	service *apikeys.Service
	store   *apikeys.Store
	checker *identity.Checker
	logger  *observability.Logger
	pages   PageConfig
}

// NewCredentialHandlers creates the API key handlers.
func NewCredentialHandlers(service *apikeys.Service, store *apikeys.Store, checker *identity.Checker, logger *observability.Logger, pages PageConfig) *CredentialHandlers {
	return &CredentialHandlers{
		service: service,
		store:   store,
		checker: checker,
		logger:  logger,
		pages:   pages,
	}
}

// RegisterRoutes registers API key routes on the router.
func (h *CredentialHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/keys", h.issueKey).Methods("POST")
	router.HandleFunc("/keys", h.listKeys).Methods("GET")
	router.HandleFunc("/keys/{id:[0-9]+}", h.getKey).Methods("GET")
	router.HandleFunc("/keys/{id:[0-9]+}", h.revokeKey).Methods("DELETE")
}

// issueKey creates a credential and returns the secret exactly once.
func (h *CredentialHandlers) issueKey(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var payload IssueKeyRequest
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}

	if err := h.checker.Require(r.Context(), p, identity.CategoryAPIKeys, identity.ActionCreate, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	credential, secret, err := h.service.Issue(r.Context(), p, apikeys.IssueRequest{
		Name:         payload.Name,
		QuotaPerHour: payload.QuotaPerHour,
		AllowedIPs:   payload.AllowedIPs,
		ExpiresAt:    payload.ExpiresAt,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteCreated(w, IssuedKeyResponse{Credential: credential, Secret: secret})
}

// listKeys returns the caller's own credentials.
func (h *CredentialHandlers) listKeys(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.checker.Require(r.Context(), p, identity.CategoryAPIKeys, identity.ActionRead, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page := httputil.ParsePage(r, h.pages.DefaultSize, h.pages.MaxSize)
	credentials, total, err := h.store.ListByOwner(r.Context(), p.ID, page.Size, page.Offset())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WritePage(w, credentials, total)
}

// getKey returns a single credential. Keys belonging to someone else
// are indistinguishable from absent ones.
func (h *CredentialHandlers) getKey(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	credential, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if credential.OwnerID != p.ID && !p.IsAdmin() {
		httputil.WriteNotFound(w, "not found")
		return
	}
	httputil.WriteSuccess(w, credential)
}

// revokeKey revokes a credential. Idempotent: revoking an already
// revoked key succeeds.
func (h *CredentialHandlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var payload RevokeKeyRequest
	if r.ContentLength > 0 {
		if !httputil.ParseJSONOrError(w, r, &payload) {
			return
		}
	}

	credential, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if credential.OwnerID != p.ID && !p.IsAdmin() {
		httputil.WriteNotFound(w, "not found")
		return
	}

	if err := h.service.Revoke(r.Context(), id, p, payload.Reason); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}
