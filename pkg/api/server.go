// Package api exposes the access control core over HTTP/JSON: API key
// lifecycle, access request workflow, catalog listing with scope
// filtering, and administrative views of usage and violations.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
	"github.com/Itqan-community/cms-backend-sub002/pkg/httputil"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/metering"
	"github.com/Itqan-community/cms-backend-sub002/pkg/middleware"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/ratelimit"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

// PageConfig bounds list endpoints.
type PageConfig struct {
	DefaultSize int
	MaxSize     int
}

// Deps aggregates everything the server wires together.
type Deps struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Checker *identity.Checker

	Credentials     *apikeys.Service
	CredentialStore *apikeys.Store
	Workflow        *workflow.Service
	WorkflowStore   *workflow.Store
	Catalog         *catalog.Store
	Usage           *metering.Store
	Violations      *ratelimit.ViolationStore

	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Metering  *metering.Middleware

	Pages PageConfig
}

// Server is the HTTP API server.
type Server struct {
	router *mux.Router
	logger *observability.Logger

	credentialHandlers *CredentialHandlers
	requestHandlers    *AccessRequestHandlers
	catalogHandlers    *CatalogHandlers
	adminHandlers      *AdminHandlers
}

// NewServer creates the API server and sets up all routes.
func NewServer(deps Deps) *Server {
	if deps.Pages.DefaultSize <= 0 {
		deps.Pages.DefaultSize = 20
	}
	if deps.Pages.MaxSize <= 0 {
		deps.Pages.MaxSize = 1000
	}

	s := &Server{
		router:             mux.NewRouter(),
		logger:             deps.Logger,
		credentialHandlers: NewCredentialHandlers(deps.Credentials, deps.CredentialStore, deps.Checker, deps.Logger, deps.Pages),
		requestHandlers:    NewAccessRequestHandlers(deps.Workflow, deps.WorkflowStore, deps.Catalog, deps.Checker, deps.Logger, deps.Pages),
		catalogHandlers:    NewCatalogHandlers(deps.Catalog, deps.Checker, deps.Logger, deps.Pages),
		adminHandlers:      NewAdminHandlers(deps.Usage, deps.Violations, deps.Checker, deps.Logger, deps.Pages),
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(mux.MiddlewareFunc(middleware.RequestID))
	s.router.Use(middleware.Metrics(deps.Metrics))

	s.router.HandleFunc("/healthz", s.health).Methods("GET")

	// The protected pipeline: auth runs first so the metering and rate
	// limit layers see the resolved principal and credential.
	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(mux.MiddlewareFunc(deps.Auth.Handler))
	protected.Use(mux.MiddlewareFunc(deps.Metering.Handler))
	protected.Use(mux.MiddlewareFunc(deps.RateLimit.Handler))

	s.credentialHandlers.RegisterRoutes(protected)
	s.requestHandlers.RegisterRoutes(protected)
	s.catalogHandlers.RegisterRoutes(protected)
	s.adminHandlers.RegisterRoutes(protected)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// principal extracts the authenticated principal, nil when anonymous.
func principal(r *http.Request) *identity.Principal {
	authCtx := apikeys.FromContext(r.Context())
	if authCtx == nil {
		return nil
	}
	return authCtx.Principal
}
