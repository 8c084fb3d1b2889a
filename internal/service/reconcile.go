package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/money"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/repo"
)

// maxOrderIDAttempts bounds regeneration of system ids on a unique conflict.
const maxOrderIDAttempts = 3

// OrderStore is the persistence the reconciler needs.
type OrderStore interface {
	UpsertBilling(ctx context.Context, b *models.BillingInfo) (*models.BillingInfo, error)
	InsertOrder(ctx context.Context, o *models.Order) error
	UpsertOrder(ctx context.Context, o *models.Order) (*models.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type ReconcileInput struct {
	UserID    uuid.UUID
	SessionID string
	Result    payments.Result
	Items     []cart.Item
	Billing   billing.Info
	Shipping  *billing.Address
	Amount    decimal.Decimal
	Currency  string
	// OrderID is required for PolicyPregenerated. With PolicyGenerated a
	// given id is kept and upserted like a pre-generated one; without it an
	// id is generated.
	OrderID string
	Policy  payments.OrderIDPolicy
}

// Reconciler turns a confirmed payment into exactly one Order and the
// user's billing row. Every completion path goes through it.
type Reconciler struct {
	Store   OrderStore
	Events  EventPublisher
	Index   OrderIndexer
	Topics  Topics
	Retries int
	Backoff gax.Backoff

	NewOrderID func() string
	Sleep      func(ctx context.Context, d time.Duration) error
	Clock      func() time.Time
}

func NewReconciler(store OrderStore, retries int) *Reconciler {
	return &Reconciler{
		Store:   store,
		Retries: retries,
		Backoff: gax.Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2},
	}
}

func (r *Reconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Reconciler) newOrderID() string {
	if r.NewOrderID != nil {
		return r.NewOrderID()
	}
	return NewOrderID()
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return gax.Sleep(ctx, d)
}

// Reconcile persists billing and the order for a succeeded payment. Storage
// errors are retried with backoff; when retries run out the result is an
// *OrderNotSavedError and an alert is published.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "reconcile", "user_id", in.UserID, "method", in.Result.Method)

	if !in.Result.Succeeded() {
		return nil, fmt.Errorf("%w: payment status %s", ErrPaymentFailed, in.Result.ProviderStatus)
	}
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id required", ErrValidation)
	}
	orderID, err := r.resolveOrderID(in)
	if err != nil {
		return nil, err
	}

	info := billing.Overlay(in.Billing, in.Result.PayerBilling())
	order := r.buildOrder(in, orderID, info)
	upsert := in.Policy != payments.PolicyGenerated || in.OrderID != ""

	attempts := r.Retries
	if attempts < 1 {
		attempts = 1
	}
	bo := r.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		saved, created, err := r.persist(ctx, upsert, order)
		if err == nil {
			l.Info("order_reconciled", "order_id", saved.OrderID, "payment_status", saved.PaymentStatus, "created", created, "attempt", attempt)
			r.afterSave(ctx, l, saved, created)
			return saved, nil
		}
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		lastErr = err
		l.Warn("order_persist_failed", "order_id", order.OrderID, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}
		if err := r.sleep(ctx, bo.Pause()); err != nil {
			lastErr = fmt.Errorf("%w (gave up: %v)", lastErr, err)
			break
		}
	}

	nsErr := &OrderNotSavedError{OrderID: order.OrderID, SessionID: in.SessionID, Err: lastErr}
	logging.Alert(l, "order_not_saved",
		"order_id", order.OrderID,
		"session_id", in.SessionID,
		"transaction_id", in.Result.TransactionID,
		"amount", money.Format(order.TotalAmount),
		"error", lastErr,
	)
	r.publish(ctx, l, r.Topics.Alerts, order.OrderID, AlertEvent{
		Type:          EventOrderNotSaved,
		OrderID:       order.OrderID,
		SessionID:     in.SessionID,
		UserID:        in.UserID.String(),
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.TransactionID,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Error:         lastErr.Error(),
		At:            r.now(),
	})
	return nil, nsErr
}

func (r *Reconciler) resolveOrderID(in ReconcileInput) (string, error) {
	switch in.Policy {
	case payments.PolicyGenerated:
		if in.OrderID != "" {
			return in.OrderID, nil
		}
		return r.newOrderID(), nil
	case payments.PolicyProviderRef:
		if in.Result.ProviderRef == "" {
			return "", fmt.Errorf("%w: provider reference missing for %s", ErrValidation, in.Result.Method)
		}
		return in.Result.ProviderRef, nil
	case payments.PolicyPregenerated:
		if in.OrderID == "" {
			return "", fmt.Errorf("%w: pre-generated order id missing", ErrValidation)
		}
		return in.OrderID, nil
	default:
		return "", fmt.Errorf("%w: unknown order id policy %d", ErrValidation, in.Policy)
	}
}

func (r *Reconciler) buildOrder(in ReconcileInput, orderID string, info billing.Info) *models.Order {
	total := in.Amount
	if total.IsZero() && in.Result.Amount.IsPositive() {
		total = in.Result.Amount
	}
	currency := in.Currency
	if currency == "" {
		currency = in.Result.Currency
	}
	shipping := in.Shipping
	if !in.Result.Shipping.IsZero() {
		shipping = in.Result.Shipping
	}
	return &models.Order{
		OrderID:         orderID,
		UserID:          in.UserID,
		Items:           models.OrderItemsFromCart(in.Items),
		TotalAmount:     money.Round(total),
		Currency:        currency,
		PaymentMethod:   in.Result.Method,
		PaymentLabel:    in.Result.MethodLabel,
		PaymentStatus:   in.Result.ProviderStatus,
		TransactionID:   in.Result.TransactionID,
		Billing:         info,
		ShippingAddress: shipping,
	}
}

// persist writes billing then the order. Ids known before the payment
// completed (provider, pre-generated or a caller supplied system id) are
// upserted so that every completion path converges on one row. Freshly
// generated ids use a plain insert and are regenerated on a unique conflict.
func (r *Reconciler) persist(ctx context.Context, upsert bool, order *models.Order) (*models.Order, bool, error) {
	b := models.BillingFromInfo(order.UserID, order.Billing)
	saved, err := r.Store.UpsertBilling(ctx, &b)
	if err != nil {
		return nil, false, fmt.Errorf("upsert billing: %w", err)
	}
	order.BillingInfoID = saved.ID

	if upsert {
		o := *order
		out, created, err := r.Store.UpsertOrder(ctx, &o)
		if err != nil {
			return nil, false, fmt.Errorf("upsert order: %w", err)
		}
		return out, created, nil
	}

	for i := 0; i < maxOrderIDAttempts; i++ {
		o := *order
		err := r.Store.InsertOrder(ctx, &o)
		if err == nil {
			return &o, true, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, false, fmt.Errorf("insert order: %w", err)
		}
		// an earlier attempt may have written the row before failing
		if i == 0 {
			if existing, gerr := r.Store.GetOrder(ctx, order.OrderID); gerr == nil && existing.UserID == order.UserID && existing.TransactionID == order.TransactionID {
				return existing, false, nil
			}
		}
		order.OrderID = r.newOrderID()
	}
	return nil, false, fmt.Errorf("%w: could not allocate order id", ErrDuplicateOrder)
}

func (r *Reconciler) afterSave(ctx context.Context, l *slog.Logger, o *models.Order, created bool) {
	typ := EventOrderCreated
	if !created {
		typ = EventOrderStatusChanged
	}
	r.publish(ctx, l, r.Topics.Orders, o.OrderID, orderEvent(typ, o, r.now()))
	r.index(ctx, l, o)
}

func (r *Reconciler) index(ctx context.Context, l *slog.Logger, o *models.Order) {
	if r.Index == nil {
		return
	}
	if err := r.Index.IndexOrder(ctx, o); err != nil {
		l.Warn("order_index_failed", "order_id", o.OrderID, "error", err)
	}
}

func (r *Reconciler) publish(ctx context.Context, l *slog.Logger, topic, key string, event any) {
	if r.Events == nil || topic == "" {
		return
	}
	if err := r.Events.PublishEvent(ctx, topic, key, event); err != nil {
		l.Warn("event_publish_failed", "topic", topic, "key", key, "error", err)
	}
}
