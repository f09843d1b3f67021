package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/secretmanager/app"
	"github.com/upb/secretmanager/handlers"
	"github.com/upb/secretmanager/middleware"
	"github.com/upb/secretmanager/realtime"
	"github.com/upb/secretmanager/utils"
)

const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(deps.Metrics.Instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.HealthChecks, logger)
	authHandler := handlers.NewAuthHandler(deps.AuthFlow, logger)
	requestHandler := handlers.NewRequestHandler(deps.Engine, logger)
	secretHandler := handlers.NewSecretHandler(deps.Engine, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(deps.Analytics, logger)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Notifier, logger)

	// Websocket upgrades outlive the request timeout
	r.Method(http.MethodGet, "/ws", realtime.NewHandler(deps.Hub, deps.Validator, deps.Engine,
		deps.Config.Realtime, deps.Config.Server.CORSOrigins, logger))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))

		// Health check endpoints
		r.Get("/healthz", health.HandleHealth)
		r.Get("/readyz", health.HandleReadiness)

		if deps.Config.Observability.MetricsEnabled {
			r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
		}

		// OIDC authorization code flow (Keycloak)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.HandleLogin)
			r.Get("/callback", authHandler.HandleCallback)
			r.Get("/logout", authHandler.HandleLogout)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", health.HandleReadiness)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAuth)
				if deps.RateLimiter != nil {
					r.Use(middleware.NewRateLimitMiddleware(deps.RateLimiter, logger).Limit)
				}

				r.Route("/auth", func(r chi.Router) {
					r.Get("/me", authHandler.HandleMe)
					r.Post("/verify", authHandler.HandleVerify)
				})

				r.Route("/requests", func(r chi.Router) {
					r.Post("/", requestHandler.HandleCreate)
					r.Get("/", requestHandler.HandleList)
					r.Get("/{id}", requestHandler.HandleGet)

					r.Group(func(r chi.Router) {
						r.Use(deps.AuthMiddleware.RequireApprover)
						r.Post("/{id}/approve", requestHandler.HandleApprove)
						r.Post("/{id}/reject", requestHandler.HandleReject)
					})
				})

				r.Route("/secrets", func(r chi.Router) {
					r.Get("/", secretHandler.HandleList)
					r.Get("/{name}", secretHandler.HandleGet)

					r.Group(func(r chi.Router) {
						r.Use(deps.AuthMiddleware.RequireAdmin)
						r.Post("/", secretHandler.HandleCreate)
						r.Put("/{name}", secretHandler.HandleUpdate)
						r.Delete("/{name}", secretHandler.HandleDelete)
						r.Post("/{name}/rotate", secretHandler.HandleRotate)
					})
				})

				r.Route("/analytics", func(r chi.Router) {
					r.Use(deps.AuthMiddleware.RequireApprover)
					r.Get("/overview", analyticsHandler.HandleOverview)
					r.Get("/requests", analyticsHandler.HandleRequests)
					r.Get("/users", analyticsHandler.HandleUsers)
					r.With(deps.AuthMiddleware.RequireAdmin).Get("/audit", analyticsHandler.HandleAudit)
				})

				r.With(deps.AuthMiddleware.RequireApprover).Get("/realtime/stats", realtimeHandler.HandleStats)
				r.Group(func(r chi.Router) {
					r.Use(deps.AuthMiddleware.RequireAdmin)
					r.Post("/realtime/disconnect/{subjectId}", realtimeHandler.HandleDisconnect)
					r.Post("/notifications/system", realtimeHandler.HandleSystemNotification)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}
