package api

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/agents-liminals/liminal/internal/middleware"
)

const readinessTimeout = 3 * time.Second

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Refresh  http.HandlerFunc
	Logout   http.HandlerFunc
	Me       http.HandlerFunc

	// Agent catalog
	ListAgents http.HandlerFunc
	GetAgent   http.HandlerFunc

	// Consultations
	SubmitConsultation http.HandlerFunc
	ListConsultations  http.HandlerFunc
	GetConsultation    http.HandlerFunc
	RateConsultation   http.HandlerFunc
	ConsultationLimits http.HandlerFunc
	ConsultationStats  http.HandlerFunc

	// Audit trail
	ListAuditLogs http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck is one dependency checked by /health/ready. A failing
// optional check reports "degraded" without failing readiness.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	TrustedProxies     []netip.Prefix
	AuthRateLimiter    func(http.Handler) http.Handler
	ConsultRateLimiter func(http.Handler) http.Handler
	HealthChecks       []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RealIP(cfg.TrustedProxies))
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readiness := readinessHandler(cfg.HealthChecks)
	r.Get("/health/ready", readiness)
	r.Get("/health", readiness)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public), optionally rate-limited
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
				r.Get("/me", h.Me)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.ListAgents)
				r.Get("/{name}", h.GetAgent)
			})

			r.Route("/consultations", func(r chi.Router) {
				r.Get("/", h.ListConsultations)
				r.Get("/limits", h.ConsultationLimits)
				r.Get("/stats", h.ConsultationStats)

				r.Group(func(r chi.Router) {
					if cfg.ConsultRateLimiter != nil {
						r.Use(cfg.ConsultRateLimiter)
					}
					r.Post("/", h.SubmitConsultation)
				})

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetConsultation)
					r.Post("/rating", h.RateConsultation)
				})
			})

			r.Get("/audit", h.ListAuditLogs)
		})
	})

	return r
}

func readinessHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, c := range checks {
			if c.Check == nil {
				health[c.Name] = "not configured"
				continue
			}
			if err := c.Check(ctx); err != nil {
				health[c.Name] = "unhealthy"
				if c.Optional {
					if status == http.StatusOK {
						health["status"] = "degraded"
					}
					continue
				}
				health["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			health[c.Name] = "healthy"
		}

		JSON(w, status, health)
	}
}
