package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/middleware/auth"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/service"
	"github.com/Skotchmaster/storefront/internal/transport"
)

// Error codes returned in the "error" field.
const (
	CodeValidation         = "validation_failed"
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeInProgress         = "confirmation_in_progress"
	CodeConflict           = "conflict"
	CodePaymentPending     = "payment_pending"
	CodePaymentDeclined    = "payment_declined"
	CodePaymentFailed      = "payment_failed"
	CodeGatewayUnavailable = "gateway_unavailable"
	CodeOrderNotSaved      = "payment_succeeded_order_not_saved"
	CodeInternal           = "internal_error"
)

// writeError maps service and payment errors to a status and JSON body and
// logs the failure under event.
func writeError(c echo.Context, l *slog.Logger, event string, err error) error {
	status, body := classify(err)
	switch {
	case status >= http.StatusInternalServerError:
		l.Error(event, "status", status, "code", body.Error, "error", err)
	default:
		l.Warn(event, "status", status, "code", body.Error, "error", err)
	}
	return c.JSON(status, body)
}

func classify(err error) (int, transport.ErrorResponse) {
	var (
		verr *service.ValidationError
		ns   *service.OrderNotSavedError
	)
	switch {
	case errors.As(err, &ns):
		return http.StatusInternalServerError, transport.ErrorResponse{
			Error:   CodeOrderNotSaved,
			Message: "Your payment was received but the order could not be saved. Please contact support with this order id.",
			OrderID: ns.OrderID,
		}
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, transport.ErrorResponse{
			Error:   CodeValidation,
			Message: "Please correct the highlighted fields",
			Fields:  verr.Fields,
		}
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, transport.ErrorResponse{Error: CodeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, payments.ErrInvalidRequest),
		errors.Is(err, payments.ErrUnsupportedMethod):
		return http.StatusBadRequest, transport.ErrorResponse{Error: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, transport.ErrorResponse{Error: CodeNotFound, Message: "not found"}
	case errors.Is(err, service.ErrInProgress):
		return http.StatusConflict, transport.ErrorResponse{Error: CodeInProgress, Message: "payment confirmation already in progress"}
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, transport.ErrorResponse{Error: CodeConflict, Message: err.Error()}
	case errors.Is(err, service.ErrPaymentPending):
		return http.StatusAccepted, transport.ErrorResponse{Error: CodePaymentPending, Message: "payment is processing; the order will appear once it settles"}
	case errors.Is(err, payments.ErrPaymentDeclined):
		return http.StatusPaymentRequired, transport.ErrorResponse{Error: CodePaymentDeclined, Message: declineMessage(err)}
	case errors.Is(err, service.ErrPaymentFailed):
		return http.StatusPaymentRequired, transport.ErrorResponse{Error: CodePaymentFailed, Message: "payment failed; please start a new checkout"}
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, transport.ErrorResponse{Error: CodeGatewayUnavailable, Message: "payment provider unavailable; please retry"}
	default:
		return http.StatusInternalServerError, transport.ErrorResponse{Error: CodeInternal, Message: "internal error"}
	}
}

func declineMessage(err error) string {
	var d *payments.DeclinedError
	if errors.As(err, &d) && d.Message != "" {
		return d.Message
	}
	return "payment declined"
}
