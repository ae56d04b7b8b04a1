package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

// AccessRequestHandlers serves the access request workflow.
type AccessRequestHandlers struct {
	service *workflow.Service
	store   *workflow.Store
	catalog *catalog.Store
	checker *identity.Checker
	logger  *observability.Logger
	pages   PageConfig
}

// NewAccessRequestHandlers creates the access request handlers.
func NewAccessRequestHandlers(service *workflow.Service, store *workflow.Store, catalogStore *catalog.Store, checker *identity.Checker, logger *observability.Logger, pages PageConfig) *AccessRequestHandlers {
	return &AccessRequestHandlers{
		service: service,
		store:   store,
		catalog: catalogStore,
		checker: checker,
		logger:  logger,
		pages:   pages,
	}
}

// RegisterRoutes registers access request routes on the router.
func (h *AccessRequestHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/access-requests", h.submit).Methods("POST")
	router.HandleFunc("/access-requests", h.list).Methods("GET")
	router.HandleFunc("/access-requests/{id:[0-9]+}", h.get).Methods("GET")
	router.HandleFunc("/access-requests/{id:[0-9]+}/review", h.startReview).Methods("POST")
	router.HandleFunc("/access-requests/{id:[0-9]+}/approve", h.approve).Methods("POST")
	router.HandleFunc("/access-requests/{id:[0-9]+}/reject", h.reject).Methods("POST")
	router.HandleFunc("/access-requests/{id:[0-9]+}/revoke", h.revoke).Methods("POST")
}

// submit files an access request for a distribution. A distribution the
// caller cannot see yields 404, never a hint that it exists.
func (h *AccessRequestHandlers) submit(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var payload SubmitRequestPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if payload.DistributionID <= 0 {
		httputil.WriteValidationError(w, "distribution_id is required", nil)
		return
	}

	dist, err := h.catalog.GetDistribution(r.Context(), payload.DistributionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	visible, err := h.checker.Allowed(r.Context(), p, identity.CategoryDistributions, identity.ActionRead, &identity.ObjectRef{
		Category:    identity.CategoryDistributions,
		PublisherID: dist.PublisherID,
		Published:   dist.IsPublished,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !visible {
		httputil.WriteNotFound(w, "not found")
		return
	}

	if err := h.checker.Require(r.Context(), p, identity.CategoryAccessRequests, identity.ActionCreate, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	request, err := h.service.Submit(r.Context(), p, payload.DistributionID, payload.Justification)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteCreated(w, request)
}

// list returns requests visible to the caller: reviewers and admins see
// everything, everyone else only their own.
func (h *AccessRequestHandlers) list(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.checker.Require(r.Context(), p, identity.CategoryAccessRequests, identity.ActionRead, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	filter := workflow.ListFilter{
		Status: workflow.Status(r.URL.Query().Get("status")),
	}
	if h.canReview(r, p) {
		if requester, err := httputil.ParseQueryInt(r, "requester_id", 0); err == nil && requester > 0 {
			filter.RequesterID = int64(requester)
		}
		if dist, err := httputil.ParseQueryInt(r, "distribution_id", 0); err == nil && dist > 0 {
			filter.DistributionID = int64(dist)
		}
	} else {
		filter.RequesterID = p.ID
	}

	page := httputil.ParsePage(r, h.pages.DefaultSize, h.pages.MaxSize)
	requests, total, err := h.store.List(r.Context(), filter, page.Size, page.Offset())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WritePage(w, requests, total)
}

func (h *AccessRequestHandlers) get(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	request, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if request.RequesterID != p.ID && !h.canReview(r, p) {
		httputil.WriteNotFound(w, "not found")
		return
	}
	httputil.WriteSuccess(w, request)
}

func (h *AccessRequestHandlers) startReview(w http.ResponseWriter, r *http.Request) {
	h.reviewTransition(w, r, func(p *identity.Principal, id int64, _ ReviewPayload) (*workflow.AccessRequest, error) {
		return h.service.StartReview(r.Context(), p, id)
	})
}

func (h *AccessRequestHandlers) approve(w http.ResponseWriter, r *http.Request) {
	h.reviewTransition(w, r, func(p *identity.Principal, id int64, payload ReviewPayload) (*workflow.AccessRequest, error) {
		return h.service.Approve(r.Context(), p, id, payload.Notes, payload.ExpiresAt)
	})
}

func (h *AccessRequestHandlers) reject(w http.ResponseWriter, r *http.Request) {
	h.reviewTransition(w, r, func(p *identity.Principal, id int64, payload ReviewPayload) (*workflow.AccessRequest, error) {
		return h.service.Reject(r.Context(), p, id, payload.Notes)
	})
}

// revoke withdraws previously granted access. Admin only.
func (h *AccessRequestHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.IsAdmin() {
		writeError(w, r, h.logger, identity.ErrPermissionDenied)
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var payload ReviewPayload
	if r.ContentLength > 0 {
		if !httputil.ParseJSONOrError(w, r, &payload) {
			return
		}
	}

	request, err := h.service.Revoke(r.Context(), p, id, payload.Notes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, request)
}

// reviewTransition factors the shared shape of reviewer-driven moves.
func (h *AccessRequestHandlers) reviewTransition(w http.ResponseWriter, r *http.Request, apply func(*identity.Principal, int64, ReviewPayload) (*workflow.AccessRequest, error)) {
	p := principal(r)
	if err := h.checker.Require(r.Context(), p, identity.CategoryAccessRequests, identity.ActionReview, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var payload ReviewPayload
	if r.ContentLength > 0 {
		if !httputil.ParseJSONOrError(w, r, &payload) {
			return
		}
	}

	request, err := apply(p, id, payload)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, request)
}

func (h *AccessRequestHandlers) canReview(r *http.Request, p *identity.Principal) bool {
	ok, err := h.checker.Allowed(r.Context(), p, identity.CategoryAccessRequests, identity.ActionReview, nil)
	return err == nil && ok
}
