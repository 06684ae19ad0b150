package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solvejet/pixe-whatspp-sub001/internal/api/http/handlers"
	"github.com/solvejet/pixe-whatspp-sub001/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	Media          *handlers.MediaHandler
	Messages       *handlers.MessagesHandler
	Conversations  *handlers.ConversationsHandler
	Templates      *handlers.TemplatesHandler
	AuthMiddleware *auth.AuthMiddleware
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// provider callbacks authenticate with the app secret, not bearer tokens
	app.Get("/webhook", cfg.Webhook.Verify)
	app.Post("/webhook", cfg.Webhook.Receive)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireRole())
	admin := auth.RequireAdmin()

	media := api.Group("/media")
	media.Post("/", cfg.Media.Upload)
	media.Post("/bulk", cfg.Media.BulkUpload)
	media.Post("/cleanup", admin, cfg.Media.Cleanup)
	media.Get("/:id/info", cfg.Media.Get)
	media.Get("/:id", cfg.Media.Download)
	media.Delete("/:id", cfg.Media.Delete)

	messages := api.Group("/messages")
	messages.Post("/", cfg.Messages.Send)
	messages.Post("/template", cfg.Messages.SendTemplate)
	messages.Post("/bulk", cfg.Messages.SendBulk)

	conversations := api.Group("/conversations")
	conversations.Get("/", cfg.Conversations.List)
	conversations.Get("/:id", cfg.Conversations.Get)
	conversations.Get("/:id/messages", cfg.Conversations.History)
	conversations.Post("/:id/read", cfg.Conversations.MarkRead)

	templates := api.Group("/templates")
	templates.Get("/", cfg.Templates.List)
	templates.Post("/", cfg.Templates.Create)
	templates.Post("/sync", admin, cfg.Templates.Sync)
	templates.Get("/:id", cfg.Templates.Get)
	templates.Put("/:id", cfg.Templates.Update)
	templates.Delete("/:id", cfg.Templates.Delete)
}
