package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Skotchmaster/storefront/internal/billing"
)

var (
	ErrValidation = errors.New("validation") // 400 / 422
	ErrNotFound   = errors.New("not found")  // 404
	ErrConflict   = errors.New("conflict")   // 409
	ErrInProgress = errors.New("confirmation in progress")
	// ErrPaymentPending: the provider accepted the payment but has not
	// settled it yet. The webhook completes the order.
	ErrPaymentPending = errors.New("payment pending")
	ErrPaymentFailed  = errors.New("payment failed")
	// ErrPaymentSucceededOrderNotSaved: money was taken but the order could
	// not be written. Never reported as a payment failure.
	ErrPaymentSucceededOrderNotSaved = errors.New("payment succeeded but order was not saved")
	ErrDuplicateOrder                = errors.New("duplicate order")
)

// ValidationError carries per-field messages. It never involves a network call.
type ValidationError struct {
	Fields billing.Errors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("validation: invalid fields: %s", strings.Join(keys, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OrderNotSavedError reports the order id that has to be recovered.
type OrderNotSavedError struct {
	OrderID   string
	SessionID string
	Err       error
}

func (e *OrderNotSavedError) Error() string {
	return fmt.Sprintf("%s: order %s: %v", ErrPaymentSucceededOrderNotSaved, e.OrderID, e.Err)
}

func (e *OrderNotSavedError) Unwrap() []error {
	return []error{ErrPaymentSucceededOrderNotSaved, e.Err}
}
