package api

import (
	"encoding/json"
	"net/http"

	"github.com/kasperwtrcolor/clawpay/internal/api/handlers"
	"github.com/kasperwtrcolor/clawpay/internal/api/middleware"
	"github.com/kasperwtrcolor/clawpay/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, gate *middleware.Gate) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		// Public surface, limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(gate.IPLimit(cfg.Auth.PublicQuota))

			r.Post("/claim", h.Claim)
			r.Get("/claims", h.ListClaims)
			r.Post("/authorize", h.Authorize)

			r.Get("/bounties", h.ListBounties)
			r.Get("/bounties/{bountyId}", h.GetBounty)

			r.Get("/reputation", h.Leaderboard)
			r.Get("/reputation/{handle}", h.GetReputation)

			r.Get("/agents/{username}", h.GetAgent)
			r.Post("/agents/register", h.RegisterAgent)
		})

		// Agent surface, authenticated by API key
		r.Route("/agent", func(r chi.Router) {
			r.Use(gate.RequireAgent)

			r.Get("/me", h.Me)
			r.Post("/claim", h.AgentClaim)
			r.Get("/claims", h.AgentClaims)
			r.Post("/bounties/{bountyId}/submit", h.SubmitBounty)
			r.Post("/bounties/{bountyId}/start", h.StartBounty)
		})

		// Operator surface
		r.Route("/admin", func(r chi.Router) {
			r.Use(gate.RequireAdmin)

			r.Route("/bounties", func(r chi.Router) {
				r.Post("/", h.PostBounty)
				r.Post("/generate", h.GenerateBounties)
				r.Post("/{bountyId}/release", h.ReleaseBounty)
				r.Post("/{bountyId}/cancel", h.CancelBounty)
			})

			r.Get("/rewards", h.ListRewards)
			r.Post("/rewards", h.PostReward)
			r.Post("/cycle", h.RunCycle)

			r.Get("/credentials", h.ListCredentials)
			r.Post("/credentials/{keyHash}/approve", h.ApproveCredential)
			r.Post("/credentials/{keyHash}/revoke", h.RevokeCredential)

			r.Post("/reputation/rebuild", h.RebuildReputation)
			r.Get("/audit", h.ListAuditEvents)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "clawpay-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Server.Version,
			"service": "clawpay-control-plane",
		})
	}
}
