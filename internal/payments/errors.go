package payments

import (
	"context"
	"errors"
	"net"
)

var (
	ErrInvalidRequest     = errors.New("payments: invalid request")
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	ErrPaymentDeclined    = errors.New("payments: payment declined")
	ErrUnsupportedMethod  = errors.New("payments: unsupported method")
)

// DeclinedError carries the provider's decline code.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	if e.Code == "" {
		return "payments: payment declined: " + e.Message
	}
	return "payments: payment declined (" + e.Code + "): " + e.Message
}

func (e *DeclinedError) Unwrap() error { return ErrPaymentDeclined }

// transportFailure reports whether err is a timeout or a network level failure.
func transportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
