package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsCfg.Enabled {
		r.Handle(s.metricsCfg.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Get("/keys", s.handleCacheKeys)
			r.Post("/invalidate", s.handleCacheInvalidate)
			r.Delete("/", s.handleCacheClear)
		})

		r.Route("/sequences", func(r chi.Router) {
			r.Get("/", s.handleListSequences)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSequence)
				r.Put("/state", s.handleSetSequenceState)
				r.Delete("/", s.handleDeleteSequence)
			})
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/enabled", s.handleSetDeviceEnabled)
			})
		})
	})

	return r
}
