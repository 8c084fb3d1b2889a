package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/money"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/repo"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	stuckListLimit        = 100
)

type CheckoutService struct {
	Repo       *repo.GormRepo
	Gateways   *payments.Registry
	Reconciler *Reconciler

	Currency       string
	TaxRate        decimal.Decimal
	Shipping       decimal.Decimal
	GatewayTimeout time.Duration

	// StripeIntents resolves intents named in webhook events.
	StripeIntents StripeIntentSource

	Clock func() time.Time
}

func (s *CheckoutService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *CheckoutService) gatewayTimeout() time.Duration {
	if s.GatewayTimeout > 0 {
		return s.GatewayTimeout
	}
	return defaultGatewayTimeout
}

// leaseTTL covers one gateway call plus persistence retries.
func (s *CheckoutService) leaseTTL() time.Duration {
	return 3 * s.gatewayTimeout()
}

type CreateSessionInput struct {
	Method         payments.Method
	Items          []cart.Item
	Billing        billing.Info
	Shipping       *billing.Address
	IdempotencyKey string
}

type CreateSessionOutput struct {
	Session *models.CheckoutSession
	Handle  payments.SessionHandle
	Totals  cart.Totals
	// Order is set when the checkout completed without a provider (free orders).
	Order *models.Order
}

// Quote computes the cart totals shown before payment.
func (s *CheckoutService) Quote(items []cart.Item) (cart.Totals, error) {
	c, err := cart.FromItems(items)
	if err != nil {
		return cart.Totals{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return c.Totals(s.TaxRate, s.Shipping), nil
}

// Validate checks the billing form.
func (s *CheckoutService) Validate(info billing.Info) error {
	if errs := billing.Validate(info); len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// CreateSession validates the form and cart, then opens a payment session
// with the chosen provider. A zero total skips the provider and completes
// the order immediately.
func (s *CheckoutService) CreateSession(ctx context.Context, userID uuid.UUID, in CreateSessionInput) (*CreateSessionOutput, error) {
	l := logging.FromContext(ctx).With("svc", "checkout", "user_id", userID)

	if err := s.Validate(in.Billing); err != nil {
		return nil, err
	}
	c, err := cart.FromItems(in.Items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if c.IsEmpty() {
		return nil, &ValidationError{Fields: billing.Errors{"items": "Your cart is empty"}}
	}
	totals := c.Totals(s.TaxRate, s.Shipping)

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		prev, err := s.Repo.FindSessionByIdempotencyKey(ctx, userID, key)
		switch {
		case err == nil:
			l.Info("session_replayed", "session_id", prev.ID, "idempotency_key", key)
			return s.replay(ctx, prev, totals)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("find session: %w", err)
		}
	}

	if totals.Total.IsZero() {
		return s.completeFree(ctx, userID, c, totals, in, key)
	}

	gw, err := s.Gateways.Get(in.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sess := &models.CheckoutSession{
		ID:             NewSessionID(),
		UserID:         userID,
		IdempotencyKey: key,
		Method:         gw.Method(),
		State:          models.StatePendingSession,
		Amount:         totals.Total,
		Currency:       s.Currency,
		Items:          c.Items(),
		Billing:        in.Billing,
		Shipping:       in.Shipping,
	}
	if gw.OrderIDPolicy() == payments.PolicyPregenerated {
		sess.OrderID = NewOrderID()
	}
	if err := s.Repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	defer cancel()
	h, err := gw.CreateSession(gctx, payments.SessionRequest{
		SessionID:      sess.ID,
		UserID:         userID.String(),
		OrderID:        sess.OrderID,
		Amount:         totals.Total,
		Currency:       s.Currency,
		Items:          sess.Items,
		Payer:          in.Billing,
		Shipping:       in.Shipping,
		IdempotencyKey: firstNonBlank(key, sess.ID),
	})
	if err != nil {
		sess.FailureReason = err.Error()
		if terr := s.Repo.TransitionSession(ctx, sess, models.StateFailed); terr != nil {
			l.Warn("session_transition_failed", "session_id", sess.ID, "error", terr)
		}
		l.Warn("create_session_failed", "session_id", sess.ID, "method", sess.Method, "error", err)
		return nil, err
	}

	sess.ProviderRef = h.ProviderRef
	sess.Handle = &h
	if err := s.Repo.TransitionSession(ctx, sess, models.StateAwaitingConfirmation); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	l.Info("session_created", "session_id", sess.ID, "method", sess.Method, "order_id", sess.OrderID, "amount", money.Format(totals.Total))

	return &CreateSessionOutput{Session: sess, Handle: h, Totals: totals}, nil
}

func (s *CheckoutService) replay(ctx context.Context, sess *models.CheckoutSession, totals cart.Totals) (*CreateSessionOutput, error) {
	out := &CreateSessionOutput{Session: sess, Totals: totals}
	if sess.Handle != nil {
		out.Handle = *sess.Handle
	}
	if sess.State == models.StatePersisted && sess.OrderID != "" {
		o, err := s.Repo.GetOrder(ctx, sess.OrderID)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		out.Order = o
	}
	return out, nil
}

func (s *CheckoutService) completeFree(ctx context.Context, userID uuid.UUID, c *cart.Store, totals cart.Totals, in CreateSessionInput, key string) (*CreateSessionOutput, error) {
	res := payments.FreeResult(s.Currency, in.Billing)
	sess := &models.CheckoutSession{
		ID:             NewSessionID(),
		UserID:         userID,
		IdempotencyKey: key,
		Method:         payments.MethodFree,
		State:          models.StatePendingSession,
		OrderID:        NewOrderID(),
		Amount:         decimal.Zero,
		Currency:       s.Currency,
		Items:          c.Items(),
		Billing:        in.Billing,
		Shipping:       in.Shipping,
	}
	if err := s.Repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.Result = &res
	if err := s.Repo.TransitionSession(ctx, sess, models.StateConfirmed); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	order, err := s.finalize(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &CreateSessionOutput{
		Session: sess,
		Handle:  payments.SessionHandle{Method: payments.MethodFree, OrderID: order.OrderID},
		Totals:  totals,
		Order:   order,
	}, nil
}

// Confirm completes a session from the client side: the provider is asked
// for the payment outcome and a succeeded payment is reconciled into an
// order. Repeating the call returns the same order.
func (s *CheckoutService) Confirm(ctx context.Context, userID uuid.UUID, sessionID string, raw json.RawMessage) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "checkout", "user_id", userID, "session_id", sessionID)

	sess, err := s.Repo.GetUserSession(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if done, order, err := s.settled(ctx, sess); done {
		return order, err
	}

	conf, err := payments.DecodeConfirmation(sess.Method, raw)
	if err != nil {
		return nil, err
	}

	claimed, ok, err := s.Repo.ClaimSession(ctx, sess.ID, s.now(), s.leaseTTL())
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}
	if !ok {
		if cur, gerr := s.Repo.GetSession(ctx, sess.ID); gerr == nil {
			if done, order, err := s.settled(ctx, cur); done {
				return order, err
			}
		}
		return nil, fmt.Errorf("%w: session %s", ErrInProgress, sess.ID)
	}
	sess = claimed
	if done, order, err := s.settled(ctx, sess); done {
		_ = s.Repo.ReleaseSession(ctx, sess.ID)
		return order, err
	}

	gw, err := s.Gateways.Get(sess.Method)
	if err != nil {
		_ = s.Repo.ReleaseSession(ctx, sess.ID)
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	res, err := gw.Confirm(gctx, s.handle(sess), conf)
	cancel()
	if err != nil {
		if errors.Is(err, payments.ErrPaymentDeclined) {
			sess.FailureReason = err.Error()
			if res.ProviderRef != "" {
				sess.ProviderRef = res.ProviderRef
			}
			if terr := s.Repo.TransitionSession(ctx, sess, models.StateFailed); terr != nil {
				l.Warn("session_transition_failed", "error", terr)
			}
			l.Info("payment_declined", "method", sess.Method, "error", err)
			return nil, err
		}
		_ = s.Repo.ReleaseSession(ctx, sess.ID)
		l.Warn("confirm_failed", "method", sess.Method, "error", err)
		return nil, err
	}

	switch res.Status {
	case payments.StatusPending:
		if res.ProviderRef != "" && sess.ProviderRef == "" {
			sess.ProviderRef = res.ProviderRef
			_ = s.Repo.TransitionSession(ctx, sess, sess.State)
		} else {
			_ = s.Repo.ReleaseSession(ctx, sess.ID)
		}
		return nil, fmt.Errorf("%w: provider status %s", ErrPaymentPending, res.ProviderStatus)
	case payments.StatusFailed:
		sess.FailureReason = "provider status " + res.ProviderStatus
		if terr := s.Repo.TransitionSession(ctx, sess, models.StateFailed); terr != nil {
			l.Warn("session_transition_failed", "error", terr)
		}
		return nil, fmt.Errorf("%w: provider status %s", ErrPaymentFailed, res.ProviderStatus)
	}

	if err := s.markConfirmed(ctx, sess, gw.OrderIDPolicy(), res); err != nil {
		if errors.Is(err, repo.ErrStaleSession) {
			// a webhook got there first
			if cur, gerr := s.Repo.GetSession(ctx, sess.ID); gerr == nil {
				if done, order, err := s.settled(ctx, cur); done {
					return order, err
				}
			}
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return s.finalize(ctx, sess)
}

// settled reports whether the session needs no provider call. A persisted
// session returns its order, a confirmed one is reconciled from the stored
// result and a failed one stays failed.
func (s *CheckoutService) settled(ctx context.Context, sess *models.CheckoutSession) (bool, *models.Order, error) {
	switch sess.State {
	case models.StatePersisted:
		o, err := s.Repo.GetOrder(ctx, sess.OrderID)
		if err != nil {
			return true, nil, fmt.Errorf("get order: %w", err)
		}
		return true, o, nil
	case models.StateConfirmed:
		o, err := s.finalize(ctx, sess)
		return true, o, err
	case models.StateFailed:
		return true, nil, fmt.Errorf("%w: %s", ErrPaymentFailed, sess.FailureReason)
	}
	return false, nil, nil
}

func (s *CheckoutService) handle(sess *models.CheckoutSession) payments.SessionHandle {
	h := payments.SessionHandle{Method: sess.Method}
	if sess.Handle != nil {
		h = *sess.Handle
	}
	h.ProviderRef = sess.ProviderRef
	h.OrderID = sess.OrderID
	h.SessionID = sess.ID
	h.UserID = sess.UserID.String()
	h.Amount = sess.Amount
	h.Currency = sess.Currency
	h.Payer = sess.Billing
	return h
}

func (s *CheckoutService) markConfirmed(ctx context.Context, sess *models.CheckoutSession, policy payments.OrderIDPolicy, res payments.Result) error {
	sess.Result = &res
	sess.FailureReason = ""
	if res.ProviderRef != "" {
		sess.ProviderRef = res.ProviderRef
	}
	if policy == payments.PolicyProviderRef {
		sess.OrderID = res.ProviderRef
	}
	return s.Repo.TransitionSession(ctx, sess, models.StateConfirmed)
}

func (s *CheckoutService) policyFor(m payments.Method) payments.OrderIDPolicy {
	if m == payments.MethodFree {
		return payments.PolicyGenerated
	}
	if gw, err := s.Gateways.Get(m); err == nil {
		return gw.OrderIDPolicy()
	}
	switch m {
	case payments.MethodCard:
		return payments.PolicyPregenerated
	default:
		return payments.PolicyProviderRef
	}
}

// finalize reconciles a CONFIRMED session. On success the session becomes
// PERSISTED; on failure it stays CONFIRMED for the recovery poller.
func (s *CheckoutService) finalize(ctx context.Context, sess *models.CheckoutSession) (*models.Order, error) {
	if sess.Result == nil {
		return nil, fmt.Errorf("%w: session %s has no payment result", ErrConflict, sess.ID)
	}
	order, err := s.Reconciler.Reconcile(ctx, ReconcileInput{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Result:    *sess.Result,
		Items:     sess.Items,
		Billing:   sess.Billing,
		Shipping:  sess.Shipping,
		Amount:    sess.Amount,
		Currency:  sess.Currency,
		OrderID:   sess.OrderID,
		Policy:    s.policyFor(sess.Method),
	})
	if err != nil {
		return nil, err
	}

	sess.OrderID = order.OrderID
	if err := s.Repo.TransitionSession(ctx, sess, models.StatePersisted); err != nil && !errors.Is(err, repo.ErrStaleSession) {
		logging.FromContext(ctx).Warn("session_transition_failed", "svc", "checkout", "session_id", sess.ID, "error", err)
	}
	return order, nil
}

func (s *CheckoutService) GetSession(ctx context.Context, userID uuid.UUID, id string) (*models.CheckoutSession, error) {
	sess, err := s.Repo.GetUserSession(ctx, userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, err
	}
	return sess, nil
}

// StuckSessions lists confirmed payments without an order.
func (s *CheckoutService) StuckSessions(ctx context.Context, olderThan time.Duration) ([]models.CheckoutSession, error) {
	return s.Repo.ListStuckSessions(ctx, s.now().Add(-olderThan), stuckListLimit)
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
