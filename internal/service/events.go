package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/payments"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderNotSaved      = "checkout.order_not_saved"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

type OrderIndexer interface {
	IndexOrder(ctx context.Context, o *models.Order) error
}

type Topics struct {
	Orders string
	Alerts string
}

type OrderEvent struct {
	Type          string          `json:"type"`
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	PaymentMethod payments.Method `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	At            time.Time       `json:"at"`
}

func (e OrderEvent) EventType() string { return e.Type }

func orderEvent(typ string, o *models.Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          typ,
		OrderID:       o.OrderID,
		UserID:        o.UserID.String(),
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		TransactionID: o.TransactionID,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		At:            at,
	}
}

// AlertEvent is published when a captured payment has no order.
type AlertEvent struct {
	Type          string          `json:"type"`
	OrderID       string          `json:"order_id"`
	SessionID     string          `json:"session_id,omitempty"`
	UserID        string          `json:"user_id"`
	PaymentMethod payments.Method `json:"payment_method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Error         string          `json:"error"`
	At            time.Time       `json:"at"`
}

func (e AlertEvent) EventType() string { return e.Type }
