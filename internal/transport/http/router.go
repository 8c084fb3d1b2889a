package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/handlers"
	"github.com/Skotchmaster/storefront/internal/middleware/auth"
	"github.com/Skotchmaster/storefront/internal/middleware/csrf"
)

const webhookPrefix = "/api/v1/webhooks/"

type Deps struct {
	Auth *auth.Middleware
	CSRF csrf.Config

	Health   *handlers.HealthHandler
	Checkout *handlers.CheckoutHandler
	Webhook  *handlers.WebhookHandler
	Orders   *handlers.OrderHandler
	Admin    *handlers.AdminHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", d.Health.Live)
	e.GET("/health/ready", d.Health.Ready)

	csrfCfg := d.CSRF
	csrfCfg.SkipPrefixes = append(csrfCfg.SkipPrefixes, webhookPrefix)

	v1 := e.Group("/api/v1", csrf.Middleware(csrfCfg))

	v1.POST("/webhooks/stripe", d.Webhook.Stripe)

	checkout := v1.Group("/checkout", d.Auth.RequireAuth)
	checkout.POST("/validate", d.Checkout.Validate)
	checkout.POST("/quote", d.Checkout.Quote)
	checkout.POST("/sessions", d.Checkout.CreateSession)
	checkout.POST("/sessions/:id/confirm", d.Checkout.Confirm)
	checkout.GET("/sessions/:id", d.Checkout.GetSession)

	user := v1.Group("", d.Auth.RequireAuth)
	user.GET("/orders", d.Orders.List)
	user.GET("/orders/:id", d.Orders.Get)
	user.GET("/billing", d.Orders.Billing)

	admin := v1.Group("/admin", d.Auth.RequireAuth, d.Auth.RequireAdmin)
	admin.GET("/orders/search", d.Admin.SearchOrders)
	admin.GET("/checkout/stuck", d.Admin.StuckSessions)
}
