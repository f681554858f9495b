/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/depletion/*   Depletion engine
  /api/sales/*       Sales ingestion
  /api/events/*      Ledger queries and corrections
  /api/items/*       Item event history
  /api/kegs/*        Keg volume replay
  /api/sessions/*    Counting sessions
  /api/reports/*     On-hand and variance reports
  /healthz           Liveness probe
  /metrics           Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/depletion", func(r chi.Router) {
			r.Post("/run", h.RunDepletion)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/ingest", h.IngestSales)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/{id}", h.GetEvent)
			r.Post("/{id}/correct", h.CorrectEvent)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/{id}/events", h.GetItemEvents)
		})

		r.Route("/kegs", func(r chi.Router) {
			r.Get("/{id}/remaining", h.GetKegRemaining)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/{id}/close", h.CloseSession)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/on-hand", h.GetOnHandReport)
			r.Get("/variance", h.GetVarianceReport)
		})

		// Demo-only; wired when the server runs with -demo.
		if h.Seed != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	// Operational endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
