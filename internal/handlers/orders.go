package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/middleware/auth"
	"github.com/Skotchmaster/storefront/internal/service"
	"github.com/Skotchmaster/storefront/internal/transport"
)

type OrderHandler struct {
	Svc *service.OrderService
}

func (h *OrderHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.list_orders")

	userID, err := auth.CurrentUserID(c)
	if err != nil {
		return writeError(c, l, "list_orders_error", err)
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	res, err := h.Svc.ListOrders(ctx, userID, page, size)
	if err != nil {
		return writeError(c, l, "list_orders_error", err)
	}
	return c.JSON(http.StatusOK, transport.OrdersResponse{
		Total:  res.Total,
		Page:   res.Page,
		Size:   res.Size,
		Orders: res.Orders,
	})
}

func (h *OrderHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.get_order")

	userID, err := auth.CurrentUserID(c)
	if err != nil {
		return writeError(c, l, "get_order_error", err)
	}
	order, err := h.Svc.GetOrder(ctx, userID, c.Param("id"))
	if err != nil {
		return writeError(c, l, "get_order_error", err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) Billing(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.get_billing")

	userID, err := auth.CurrentUserID(c)
	if err != nil {
		return writeError(c, l, "get_billing_error", err)
	}
	b, err := h.Svc.GetBilling(ctx, userID)
	if err != nil {
		return writeError(c, l, "get_billing_error", err)
	}
	return c.JSON(http.StatusOK, b)
}
