package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appMiddleware "github.com/rooftops-ai/entitlements/app/middleware"
	"github.com/rooftops-ai/entitlements/internal/container"
)

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are applied before
// mounting this router in main.go.
func SetupRouter(c *container.Container) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "https://app.rooftops.ai"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public Routes ---
		// The Stripe webhook authenticates by signature, never by JWT.
		r.Group(func(r chi.Router) {
			r.Post("/webhooks/stripe", c.BillingHandler.StripeWebhook)
		})

		// --- Protected Routes ---
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Authenticate(c.Logger, c.Config.JWT))

			r.Get("/subscription", c.SubscriptionHandler.GetSubscription)
			r.Get("/subscription/downgrade", c.SubscriptionHandler.GetPendingDowngrade)
			r.Delete("/subscription/downgrade", c.SubscriptionHandler.CancelPendingDowngrade)

			r.Post("/billing/checkout", c.BillingHandler.CreateCheckoutSession)
			r.Post("/billing/portal", c.BillingHandler.CreatePortalSession)

			r.Get("/usage/stats", c.EntitlementHandler.GetUsageStats)

			r.Post("/chat", c.ChatHandler.SendMessage)
			r.Post("/reports", c.ReportsHandler.GenerateReport)
			r.Post("/search", c.SearchHandler.Search)
			r.Get("/agents", c.AgentsHandler.ListAgents)
		})

		// --- Admin Routes ---
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Authenticate(c.Logger, c.Config.JWT))
			r.Use(appMiddleware.RequireRole("admin"))

			r.Post("/admin/usage/{userID}/reset-daily", c.UsageHandler.ResetDailyChatCount)
		})
	})

	return r
}
