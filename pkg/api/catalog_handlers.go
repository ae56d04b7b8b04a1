package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// CatalogHandlers serves resources and distributions with scope
// filtering applied at the query, not after the fact.
type CatalogHandlers struct {
	store   *catalog.Store
	checker *identity.Checker
	logger  *observability.Logger
	pages   PageConfig
}

// NewCatalogHandlers creates the catalog handlers.
func NewCatalogHandlers(store *catalog.Store, checker *identity.Checker, logger *observability.Logger, pages PageConfig) *CatalogHandlers {
	return &CatalogHandlers{
		store:   store,
		checker: checker,
		logger:  logger,
		pages:   pages,
	}
}

// RegisterRoutes registers catalog routes on the router.
func (h *CatalogHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/resources", h.createResource).Methods("POST")
	router.HandleFunc("/resources", h.listResources).Methods("GET")
	router.HandleFunc("/resources/{id:[0-9]+}", h.getResource).Methods("GET")
	router.HandleFunc("/resources/{id:[0-9]+}", h.deleteResource).Methods("DELETE")
	router.HandleFunc("/resources/{id:[0-9]+}/publish", h.publishResource).Methods("POST")
	router.HandleFunc("/resources/{id:[0-9]+}/distributions", h.createDistribution).Methods("POST")
	router.HandleFunc("/distributions/{id:[0-9]+}", h.getDistribution).Methods("GET")
}

func (h *CatalogHandlers) createResource(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var payload CreateResourcePayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Slug) == "" {
		httputil.WriteValidationError(w, "title and slug are required", nil)
		return
	}

	if err := h.checker.Require(r.Context(), p, identity.CategoryResources, identity.ActionCreate, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resource := &catalog.Resource{
		PublisherID: p.ID,
		Title:       payload.Title,
		Slug:        payload.Slug,
		Kind:        payload.Kind,
	}
	if err := h.store.CreateResource(r.Context(), resource); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteCreated(w, resource)
}

// listResources returns resources visible to the caller. Admins and
// reviewers see everything; publishers see published plus their own
// drafts; everyone else sees published only.
func (h *CatalogHandlers) listResources(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.checker.Require(r.Context(), p, identity.CategoryResources, identity.ActionRead, nil); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	scope := catalog.ListScope{PublishedOnly: true}
	switch p.RoleName {
	case identity.RoleAdmin, identity.RoleReviewer:
		scope.PublishedOnly = false
	case identity.RolePublisher:
		scope.IncludeOwnedBy = p.ID
	}

	page := httputil.ParsePage(r, h.pages.DefaultSize, h.pages.MaxSize)
	resources, total, err := h.store.ListResources(r.Context(), scope, page.Size, page.Offset())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WritePage(w, resources, total)
}

func (h *CatalogHandlers) getResource(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	resource, ok := h.visibleResource(w, r, p)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, resource)
}

// publishResource marks a resource published. Owner or admin.
func (h *CatalogHandlers) publishResource(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	resource, ok := h.visibleResource(w, r, p)
	if !ok {
		return
	}

	err := h.checker.Require(r.Context(), p, identity.CategoryResources, identity.ActionPublish, &identity.ObjectRef{
		Category:    identity.CategoryResources,
		PublisherID: resource.PublisherID,
		Published:   resource.IsPublished,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.store.SetPublished(r.Context(), resource.ID, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resource.IsPublished = true
	httputil.WriteSuccess(w, resource)
}

// deleteResource soft deletes a resource and its distributions.
func (h *CatalogHandlers) deleteResource(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	resource, ok := h.visibleResource(w, r, p)
	if !ok {
		return
	}

	err := h.checker.Require(r.Context(), p, identity.CategoryResources, identity.ActionDelete, &identity.ObjectRef{
		Category:    identity.CategoryResources,
		PublisherID: resource.PublisherID,
		Published:   resource.IsPublished,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.store.SoftDeleteResource(r.Context(), resource.ID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *CatalogHandlers) createDistribution(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	resource, ok := h.visibleResource(w, r, p)
	if !ok {
		return
	}

	var payload CreateDistributionPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	policy := catalog.AccessPolicy(payload.AccessPolicy)
	if policy == "" {
		policy = catalog.AccessByRequest
	}
	if policy != catalog.AccessOpen && policy != catalog.AccessByRequest {
		httputil.WriteValidationError(w, "access_policy must be open or by_request", nil)
		return
	}

	err := h.checker.Require(r.Context(), p, identity.CategoryDistributions, identity.ActionCreate, &identity.ObjectRef{
		Category:    identity.CategoryDistributions,
		PublisherID: resource.PublisherID,
		Published:   resource.IsPublished,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	dist := &catalog.Distribution{
		ResourceID: resource.ID,
		Format:     payload.Format,
		Endpoint:   payload.Endpoint,
		Policy:     policy,
	}
	if err := h.store.CreateDistribution(r.Context(), dist); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteCreated(w, dist)
}

func (h *CatalogHandlers) getDistribution(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	dist, err := h.store.GetDistribution(r.Context(), id)
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
	httputil.WriteSuccess(w, dist)
}

// visibleResource loads the resource and applies the read scope,
// answering 404 for anything the caller cannot see.
func (h *CatalogHandlers) visibleResource(w http.ResponseWriter, r *http.Request, p *identity.Principal) (*catalog.Resource, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}

	resource, err := h.store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil, false
	}
	visible, err := h.checker.Allowed(r.Context(), p, identity.CategoryResources, identity.ActionRead, &identity.ObjectRef{
		Category:    identity.CategoryResources,
		PublisherID: resource.PublisherID,
		Published:   resource.IsPublished,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil, false
	}
	if !visible {
		httputil.WriteNotFound(w, "not found")
		return nil, false
	}
	return resource, true
}
