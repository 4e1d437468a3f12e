/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request counters and latency histograms
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/orders/*      Buy and sell execution
  /api/wallet/*      Balance, deposits, withdrawals
  /api/positions     Open positions
  /api/portfolio/*   Summary with valuation and performance
  /api/transactions  Transaction history
  /api/health        Liveness
  /metrics           Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. This is a simulated single-account ledger;
  all endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/papertrade/brokerage/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/buy", h.Buy)
			r.Post("/sell", h.Sell)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Post("/deposits", h.Deposit)
			r.Post("/withdrawals", h.Withdraw)
		})

		r.Get("/positions", h.ListPositions)
		r.Get("/portfolio/summary", h.GetSummary)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/health", h.Health)
	})

	r.Method("GET", "/metrics", metrics.Handler())

	return r
}
