package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dandantas/tabwatch/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	sessionHandler *SessionHandler
	jobHandler     *JobHandler
	healthHandler  *HealthHandler
	corsConfig     middleware.CORSConfig
	logger         *slog.Logger
}

// NewRouter creates a new router
func NewRouter(
	sessionHandler *SessionHandler,
	jobHandler *JobHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
	logger *slog.Logger,
) *Router {
	return &Router{
		sessionHandler: sessionHandler,
		jobHandler:     jobHandler,
		healthHandler:  healthHandler,
		corsConfig:     corsConfig,
		logger:         logger,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.CORS(rt.corsConfig))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", rt.healthHandler.Health)
	r.Get("/ready", rt.healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/recovery", rt.sessionHandler.Recovery)
			r.Post("/jobs", rt.sessionHandler.RegisterJob)
			r.Delete("/jobs/{jobId}", rt.sessionHandler.StartFresh)
			r.Put("/jobs/{jobId}/tier", rt.sessionHandler.SelectTier)
		})
		r.Get("/jobs/{jobId}/status", rt.jobHandler.Status)
		r.Post("/jobs/{jobId}/refetch", rt.jobHandler.Refetch)
	})

	return r
}
