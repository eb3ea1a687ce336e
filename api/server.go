/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for configured origins

ROUTE GROUPS:
  /health                  Liveness
  /metrics                 Prometheus scrape endpoint
  /api/reports/*           Scheduled reports, manual generation, runs
  /api/analytics/*         On-demand aggregation
  /api/reconciliations/*   Monthly reconciliation
  /api/scenarios/*         Demo data sets

SECURITY NOTE:
  No authentication middleware. Manual generation and statement upload
  are rate limited per client IP.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Metrics and rate limiting
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tune the outer surface.
type RouterOptions struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	perMinute := opts.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	limiter := NewRateLimiter(perMinute)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", h.ListSchedules)
				r.Post("/", h.CreateSchedule)
				r.Post("/preview", h.PreviewSchedule)
				r.Get("/{id}", h.GetSchedule)
				r.Put("/{id}", h.UpdateSchedule)
				r.Delete("/{id}", h.DeleteSchedule)
			})
			r.With(limiter.Handler).Post("/generate", h.GenerateReport)
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{id}", h.GetRun)
		})

		r.Get("/analytics/{type}", h.GetAnalytics)

		r.Route("/reconciliations", func(r chi.Router) {
			r.Get("/", h.ListReconciliations)
			r.Post("/", h.StartReconciliation)
			r.Get("/{id}", h.GetReconciliation)
			r.With(limiter.Handler).Post("/{id}/statement", h.ApplyStatement)
			r.Post("/{id}/resolve", h.ResolveReconciliation)
			r.Post("/{id}/dispute", h.DisputeReconciliation)
			r.Post("/{id}/reopen", h.ReopenReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
