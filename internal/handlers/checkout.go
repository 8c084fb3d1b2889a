package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/middleware/auth"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/service"
	"github.com/Skotchmaster/storefront/internal/transport"
)

const (
	maxConfirmBody       = 16 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

type CheckoutHandler struct {
	Svc *service.CheckoutService
}

func (h *CheckoutHandler) Validate(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.validate")

	var info billing.Info
	if err := c.Bind(&info); err != nil {
		l.Warn("validate_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.Svc.Validate(info); err != nil {
		return writeError(c, l, "validate_error", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

func (h *CheckoutHandler) Quote(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.quote")

	var req transport.QuoteRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("quote_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	totals, err := h.Svc.Quote(transport.CartItems(req.Items))
	if err != nil {
		return writeError(c, l, "quote_error", err)
	}
	return c.JSON(http.StatusOK, totals)
}

func (h *CheckoutHandler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.create_session")

	userID, err := auth.CurrentUserID(c)
	if err != nil {
		return writeError(c, l, "create_session_error", err)
	}

	var req transport.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_session_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	var method payments.Method
	if strings.TrimSpace(req.Method) != "" {
		if method, err = payments.ParseMethod(req.Method); err != nil {
			return writeError(c, l, "create_session_error", err)
		}
	}

	out, err := h.Svc.CreateSession(ctx, userID, service.CreateSessionInput{
		Method:         method,
		Items:          transport.CartItems(req.Items),
		Billing:        req.Billing,
		Shipping:       req.Shipping,
		IdempotencyKey: firstNonEmpty(c.Request().Header.Get(headerIdempotencyKey), req.IdempotencyKey),
	})
	if err != nil {
		return writeError(c, l, "create_session_error", err)
	}

	status := http.StatusCreated
	if out.Order != nil {
		status = http.StatusOK
	}
	l.Info("create_session_success", "session_id", out.Session.ID, "method", out.Session.Method)
	return c.JSON(status, transport.SessionResponse{
		SessionID: out.Session.ID,
		State:     out.Session.State,
		Method:    out.Session.Method,
		OrderID:   out.Session.OrderID,
		Handle:    out.Handle,
		Totals:    &out.Totals,
		Order:     out.Order,
	})
}

func (h *CheckoutHandler) Confirm(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.confirm")

	userID, err := auth.CurrentUserID(c)
	if err != nil {
		return writeError(c, l, "confirm_error", err)
	}
	sessionID := c.Param("id")

	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxConfirmBody))
	if err != nil {
		l.Warn("confirm_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(raw) > 0 && !json.Valid(raw) {
		l.Warn("confirm_error", "status", 400, "reason", "invalid json")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	order, err := h.Svc.Confirm(ctx, userID, sessionID, raw)
	if err != nil {
		return writeError(c, l, "confirm_error", err)
	}
	l.Info("confirm_success", "session_id", sessionID, "order_id", order.OrderID)
	return c.JSON(http.StatusOK, order)
}

func (h *CheckoutHandler) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.get_session")

	userID, err := auth.CurrentUserID(c)
	if err != nil {
		return writeError(c, l, "get_session_error", err)
	}
	sess, err := h.Svc.GetSession(ctx, userID, c.Param("id"))
	if err != nil {
		return writeError(c, l, "get_session_error", err)
	}
	return c.JSON(http.StatusOK, transport.SessionStatus(sess))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
