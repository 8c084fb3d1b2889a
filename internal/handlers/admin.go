package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/service"
	"github.com/Skotchmaster/storefront/internal/transport"
)

const defaultStuckAge = 10 * time.Minute

// AdminHandler serves support lookups. Routes are admin-only.
type AdminHandler struct {
	Orders   *service.OrderService
	Checkout *service.CheckoutService
}

// SearchOrders finds orders by transaction id or billing email.
func (h *AdminHandler) SearchOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.search_orders")

	tx := c.QueryParam("transaction_id")
	email := c.QueryParam("email")

	orders, err := h.Orders.SearchOrders(ctx, tx, email)
	if err != nil {
		return writeError(c, l, "search_orders_error", err)
	}
	l.Info("search_orders_success", "hits", len(orders))
	return c.JSON(http.StatusOK, echo.Map{"total": len(orders), "orders": orders})
}

// StuckSessions lists sessions confirmed at the provider but not yet persisted.
func (h *AdminHandler) StuckSessions(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.stuck_sessions")

	age := defaultStuckAge
	if raw := c.QueryParam("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			l.Warn("stuck_sessions_error", "status", 400, "reason", "bad older_than", "value", raw)
			return echo.NewHTTPError(http.StatusBadRequest, "older_than must be a duration like 10m")
		}
		age = d
	}

	sessions, err := h.Checkout.StuckSessions(ctx, age)
	if err != nil {
		return writeError(c, l, "stuck_sessions_error", err)
	}
	out := make([]transport.SessionStatusResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, transport.SessionStatus(&sessions[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"total": len(out), "sessions": out})
}
