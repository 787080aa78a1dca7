package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/registry-console/app"
	"github.com/upb/registry-console/auth"
	"github.com/upb/registry-console/handlers"
	guard "github.com/upb/registry-console/middleware"
	"github.com/upb/registry-console/session"
)

// APIPrefix is stripped before console views are forwarded to the registry API
const APIPrefix = "/api/v1"

// GuardedView binds a registry view to the roles allowed to activate it.
// Pattern is relative to APIPrefix and also covers every sub-path.
type GuardedView struct {
	Pattern string
	Route   guard.ProtectedRoute
}

// Views is the console's route table
var Views = []GuardedView{
	// admin console
	{Pattern: "/layers", Route: guard.ProtectedRoute{RequiredRoles: []string{session.RoleAdmin}}},
	{Pattern: "/variables", Route: guard.ProtectedRoute{RequiredRoles: []string{session.RoleAdmin}}},
	// registration forms
	{Pattern: "/patients", Route: guard.ProtectedRoute{RequiredRoles: []string{session.RoleAdmin, session.RoleDoctor}}},
	// dynamic query and reporting
	{Pattern: "/queries", Route: guard.ProtectedRoute{RequiredRoles: []string{session.RoleAdmin, session.RoleDoctor, session.RoleResearcher}}},
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(deps.KV, logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled && deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Unguarded views and session endpoints
	views := handlers.NewSessionHandler(deps.Session, logger)
	login := auth.NewHandler(deps.Identity, deps.Session, logger)
	r.Get("/", views.HandleHome)
	r.Get(guard.LoginPath, views.HandleLoginView)
	r.Post(guard.LoginPath, login.HandleLogin)
	r.Post("/logout", login.HandleLogout)
	r.Get(guard.UnauthorizedPath, views.HandleUnauthorizedView)

	// Guarded views
	proxy := handlers.NewRegistryHandler(deps.Registry, APIPrefix, logger)
	r.Route(APIPrefix, func(r chi.Router) {
		r.With(deps.Guard.Require()).Get("/me", views.HandleMe)

		for _, v := range Views {
			guarded := deps.Guard.Require(v.Route.RequiredRoles...)
			scoped := proxy.Scoped(v.Pattern)
			r.With(guarded).HandleFunc(v.Pattern, scoped)
			r.With(guarded).HandleFunc(v.Pattern+"/*", scoped)
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
