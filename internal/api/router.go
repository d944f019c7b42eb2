package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component probe of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/twins", func(r chi.Router) {
			r.Get("/", s.handleListTwins)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTwin)
				r.Put("/", s.handleRegisterTwin)
				r.Patch("/", s.handleUpdateTwin)
				r.Delete("/", s.handleDeleteTwin)
				r.Get("/history", s.handleTwinHistory)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status and probes each
// registered component. Any failing component turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	status, code := "ok", http.StatusOK

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
