package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/service"
)

const (
	maxWebhookBody  = 64 << 10
	headerSignature = "Stripe-Signature"
)

// WebhookHandler receives Stripe events. Only the signature authenticates
// the request.
type WebhookHandler struct {
	Svc    *service.CheckoutService
	Secret string
}

func (h *WebhookHandler) Stripe(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "webhook.stripe")

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		l.Warn("webhook_error", "status", 400, "reason", "read body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	ev, err := webhook.ConstructEventWithOptions(payload, c.Request().Header.Get(headerSignature), h.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		l.Warn("webhook_error", "status", 400, "reason", "bad signature", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}

	if err := h.Svc.HandleStripeEvent(ctx, ev); err != nil {
		if errors.Is(err, service.ErrValidation) {
			l.Warn("webhook_error", "status", 400, "event_id", ev.ID, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, "invalid event")
		}
		l.Error("webhook_error", "status", 500, "event_id", ev.ID, "type", ev.Type, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "event not processed")
	}

	l.Info("webhook_success", "event_id", ev.ID, "type", ev.Type)
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
