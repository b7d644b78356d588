package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Get("/overlay", s.handleOverlayDocument)
		r.Get("/values", s.handleValues)
		r.Get("/resolve", s.handleResolve)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/invalidate", s.handleInvalidate)
		r.Get("/derived", s.handleDerived)

		r.Route("/bindings", func(r chi.Router) {
			r.Get("/", s.handleListBindings)
			r.Put("/{name}", s.handlePutBinding)
			r.Delete("/{name}", s.handleDeleteBinding)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
