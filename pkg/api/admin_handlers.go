package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/metering"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/ratelimit"
)

// AdminHandlers serves the administrative read-only views over usage
// events and rate limit violations.
type AdminHandlers struct {
	usage      *metering.Store
	violations *ratelimit.ViolationStore
	checker    *identity.Checker
	logger     *observability.Logger
	pages      PageConfig
}

// NewAdminHandlers creates the admin handlers.
func NewAdminHandlers(usage *metering.Store, violations *ratelimit.ViolationStore, checker *identity.Checker, logger *observability.Logger, pages PageConfig) *AdminHandlers {
	return &AdminHandlers{
		usage:      usage,
		violations: violations,
		checker:    checker,
		logger:     logger,
		pages:      pages,
	}
}

// RegisterRoutes registers admin routes on the router.
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/usage-events", h.listUsageEvents).Methods("GET")
	router.HandleFunc("/admin/violations", h.listViolations).Methods("GET")
}

func (h *AdminHandlers) listUsageEvents(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.checker.Require(r.Context(), p, identity.CategoryUsageEvents, identity.ActionRead, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page := httputil.ParsePage(r, h.pages.DefaultSize, h.pages.MaxSize)
	filter := metering.ListFilter{
		Kind:   metering.EventKind(r.URL.Query().Get("kind")),
		Limit:  page.Size,
		Offset: page.Offset(),
	}
	if pid, err := httputil.ParseQueryInt(r, "principal_id", 0); err == nil && pid > 0 {
		filter.PrincipalID = int64(pid)
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteValidationError(w, "since must be RFC3339", nil)
			return
		}
		filter.Since = t
	}

	events, total, err := h.usage.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WritePage(w, events, total)
}

func (h *AdminHandlers) listViolations(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.checker.Require(r.Context(), p, identity.CategoryUsageEvents, identity.ActionRead, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var credentialID *int64
	if id, err := httputil.ParseQueryInt(r, "credential_id", 0); err == nil && id > 0 {
		cid := int64(id)
		credentialID = &cid
	}

	page := httputil.ParsePage(r, h.pages.DefaultSize, h.pages.MaxSize)
	violations, total, err := h.violations.List(r.Context(), credentialID, page.Size, page.Offset())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WritePage(w, violations, total)
}
