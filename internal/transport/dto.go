package transport

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/payments"
)

// CartItem is a cart line as sent by the storefront, with the catalog fields
// captured when the product was added.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

func CartItems(in []CartItem) []cart.Item {
	out := make([]cart.Item, 0, len(in))
	for _, it := range in {
		out = append(out, cart.Item{
			ProductID: it.ProductID,
			Title:     it.Title,
			UnitPrice: it.Price,
			Quantity:  it.Quantity,
			Image:     it.Image,
		})
	}
	return out
}

type QuoteRequest struct {
	Items []CartItem `json:"items"`
}

type CreateSessionRequest struct {
	Method         string           `json:"method"`
	Items          []CartItem       `json:"items"`
	Billing        billing.Info     `json:"billing"`
	Shipping       *billing.Address `json:"shipping,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type SessionResponse struct {
	SessionID string                 `json:"session_id"`
	State     models.SessionState    `json:"state"`
	Method    payments.Method        `json:"method"`
	OrderID   string                 `json:"order_id,omitempty"`
	Handle    payments.SessionHandle `json:"handle"`
	Totals    *cart.Totals           `json:"totals,omitempty"`
	Order     *models.Order          `json:"order,omitempty"`
}

type SessionStatusResponse struct {
	SessionID     string              `json:"session_id"`
	State         models.SessionState `json:"state"`
	Method        payments.Method     `json:"method"`
	OrderID       string              `json:"order_id,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func SessionStatus(s *models.CheckoutSession) SessionStatusResponse {
	return SessionStatusResponse{
		SessionID:     s.ID,
		State:         s.State,
		Method:        s.Method,
		OrderID:       s.OrderID,
		FailureReason: s.FailureReason,
		UpdatedAt:     s.UpdatedAt,
	}
}

type OrdersResponse struct {
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Size   int            `json:"size"`
	Orders []models.Order `json:"orders"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	OrderID string            `json:"order_id,omitempty"`
}
