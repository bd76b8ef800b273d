package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check of /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/actions/{action}", s.handleDeviceAction)
			})
		})

		r.Get("/dispatcher", s.handleDispatcher)
		r.Get("/triggers", s.handleListTriggers)
		r.Get("/timers", s.handleListTimers)

		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleInjectEvent)

		r.Get("/journal", s.handleListJournal)
	})

	return r
}

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  int64             `json:"uptime_seconds"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth reports "ok" when every component check passes and
// "degraded" otherwise. It answers 200 either way; halirc keeps routing
// events while an optional sink is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  int64(time.Since(s.startTime).Seconds()),
	}

	if len(s.health) > 0 {
		resp.Checks = make(map[string]string, len(s.health))
		for name, hc := range s.health {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := hc.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
