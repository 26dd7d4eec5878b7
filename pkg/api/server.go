package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/keystone/pkg/access"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/enrollment"
	"github.com/platinummonkey/keystone/pkg/health"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/shares"
)

// Services are the domain services the handlers call.
type Services struct {
	Gateway    *access.Gateway
	Enrollment *enrollment.Service
	Hook       *enrollment.Hook
	Shares     *shares.Service
	Health     *health.Service
}

// Options wires the request pipeline around the handlers.
type Options struct {
	Auth         *middleware.Authenticator
	HookSecret   string
	ShareLimiter middleware.Limiter
	Metrics      *observability.Metrics
	Logger       *observability.Logger
}

// Server represents our API server
type Server struct {
	svc    Services
	opts   Options
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates a new API server
func NewServer(svc Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.ShareLimiter == nil {
		opts.ShareLimiter = middleware.NewRateLimiter(nil)
	}
	s := &Server{
		svc:    svc,
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestID, httputil.Logging(s.logger), observability.RecoveryMiddleware(s.logger))
	if s.opts.Metrics != nil {
		s.router.Use(s.opts.Metrics.HTTPMiddleware)
	}

	// Identity provider callback
	hooks := s.router.PathPrefix("/hooks").Subrouter()
	hooks.Use(middleware.RequireHookSecret(s.opts.HookSecret))
	hooks.HandleFunc("/identity-created", s.identityCreated).Methods("POST")

	// Anonymous share redemption
	shared := s.router.PathPrefix("/shared").Subrouter()
	shared.Use(middleware.RateLimit(s.opts.ShareLimiter, s.logger))
	shared.HandleFunc("/{token}", s.resolveShare).Methods("GET")

	// Everything else requires an enrolled principal
	api := s.router.NewRoute().Subrouter()
	api.Use(s.opts.Auth.Handler)

	api.HandleFunc("/me", s.getMe).Methods("GET")
	api.HandleFunc("/tenants/{id}", s.getTenant).Methods("GET")
	api.HandleFunc("/principals/{id}/approve", s.approvePrincipal).Methods("POST")
	api.HandleFunc("/principals/{id}/reject", s.rejectPrincipal).Methods("POST")
	api.HandleFunc("/principals/{id}/reopen", s.reopenPrincipal).Methods("POST")
	api.HandleFunc("/principals/{id}/role", s.setPrincipalRole).Methods("PUT")
	api.HandleFunc("/principals/{id}", s.deletePrincipal).Methods("DELETE")

	api.HandleFunc("/projects", s.createProject).Methods("POST")
	api.HandleFunc("/projects", s.listProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", s.getProject).Methods("GET")
	api.HandleFunc("/projects/{id}/health", s.getProjectHealth).Methods("GET")
	api.HandleFunc("/projects/{id}/recalculate", s.recalculateProject).Methods("POST")

	api.HandleFunc("/estimates", s.createEstimate).Methods("POST")
	api.HandleFunc("/estimates/{id}", s.getEstimate).Methods("GET")
	api.HandleFunc("/estimates/{id}/items", s.createEstimateItem).Methods("POST")
	api.HandleFunc("/estimates/{id}/recalculate", s.recalculateEstimate).Methods("POST")
	api.HandleFunc("/estimate-items/{id}", s.updateEstimateItem).Methods("PUT")
	api.HandleFunc("/estimate-items/{id}", s.deleteEstimateItem).Methods("DELETE")

	api.HandleFunc("/equipment-logs", s.createEquipmentLog).Methods("POST")
	api.HandleFunc("/cost-transactions", s.createCostTransaction).Methods("POST")
	api.HandleFunc("/rfis", s.createRFI).Methods("POST")
	api.HandleFunc("/{table}/{id}/history", s.getHistory).Methods("GET")
	api.HandleFunc("/audit-logs", s.exportAuditLog).Methods("GET")

	api.HandleFunc("/shares", s.createShare).Methods("POST")
	api.HandleFunc("/shares/{id}", s.revokeShare).Methods("DELETE")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpsHandler serves the probes and metrics on the health port.
func OpsHandler(checker *observability.HealthChecker, metrics *observability.Metrics) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", checker.Liveness).Methods("GET")
	router.HandleFunc("/readyz", checker.Readiness).Methods("GET")
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	return router
}

// session returns an access session for the request's caller.
func (s *Server) session(r *http.Request) *access.Session {
	return s.svc.Gateway.For(authz.CallerFrom(r.Context()))
}
