package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/repo"
)

const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
)

// StripeIntentSource fetches an intent with its latest charge expanded.
type StripeIntentSource interface {
	Intent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// HandleStripeEvent applies a verified Stripe event. Each event id is
// processed once; when processing fails the record is dropped so that
// Stripe's redelivery is handled again.
func (s *CheckoutService) HandleStripeEvent(ctx context.Context, ev stripe.Event) error {
	l := logging.FromContext(ctx).With("svc", "webhook", "event_id", ev.ID, "event_type", ev.Type)

	typ := string(ev.Type)
	if typ != stripeEventIntentSucceeded && typ != stripeEventIntentFailed {
		l.Debug("webhook_event_ignored")
		return nil
	}
	if ev.Data == nil {
		return fmt.Errorf("%w: event without data", ErrValidation)
	}

	first, err := s.Repo.MarkWebhookProcessed(ctx, &models.WebhookEvent{
		EventID:     ev.ID,
		Provider:    "stripe",
		Type:        typ,
		ProcessedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("record webhook: %w", err)
	}
	if !first {
		l.Info("webhook_event_duplicate")
		return nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return fmt.Errorf("%w: decode payment intent: %v", ErrValidation, err)
	}
	l = l.With("payment_intent", pi.ID)

	switch typ {
	case stripeEventIntentSucceeded:
		err = s.intentSucceeded(ctx, l, &pi)
	case stripeEventIntentFailed:
		err = s.intentFailed(ctx, l, &pi)
	}
	if err != nil {
		if ferr := s.Repo.ForgetWebhook(ctx, ev.ID); ferr != nil {
			l.Warn("webhook_forget_failed", "error", ferr)
		}
		return err
	}
	return nil
}

func (s *CheckoutService) currentIntent(ctx context.Context, pi *stripe.PaymentIntent) (*stripe.PaymentIntent, error) {
	if s.StripeIntents == nil {
		return pi, nil
	}
	full, err := s.StripeIntents.Intent(ctx, pi.ID)
	if err != nil {
		return nil, err
	}
	return full, nil
}

func (s *CheckoutService) sessionForIntent(ctx context.Context, pi *stripe.PaymentIntent) (*models.CheckoutSession, error) {
	if id := pi.Metadata[payments.MetaSessionID]; id != "" {
		sess, err := s.Repo.GetSession(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	sess, err := s.Repo.FindSessionByProviderRef(ctx, pi.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

func (s *CheckoutService) intentSucceeded(ctx context.Context, l *slog.Logger, evPI *stripe.PaymentIntent) error {
	pi, err := s.currentIntent(ctx, evPI)
	if err != nil {
		return err
	}
	sess, err := s.sessionForIntent(ctx, pi)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if sess == nil {
		return s.reconcileFromMetadata(ctx, l, pi)
	}
	l = l.With("session_id", sess.ID)

	res := payments.StripeResult(sess.Method, pi)
	if !res.Succeeded() {
		l.Info("webhook_intent_not_succeeded", "status", pi.Status)
		return nil
	}

	for i := 0; i < 2; i++ {
		switch sess.State {
		case models.StatePersisted:
			l.Info("webhook_order_already_saved", "order_id", sess.OrderID)
			return s.correctStatus(ctx, l, sess.OrderID, res.ProviderStatus)
		case models.StateConfirmed:
			_, err := s.finalize(ctx, sess)
			return err
		}

		err := s.markConfirmed(ctx, sess, s.policyFor(sess.Method), res)
		if err == nil {
			_, err = s.finalize(ctx, sess)
			return err
		}
		if !errors.Is(err, repo.ErrStaleSession) {
			return fmt.Errorf("update session: %w", err)
		}
		if sess, err = s.Repo.GetSession(ctx, sess.ID); err != nil {
			return fmt.Errorf("get session: %w", err)
		}
	}
	return fmt.Errorf("%w: session %s keeps changing", ErrConflict, sess.ID)
}

// reconcileFromMetadata handles an intent with no session row, rebuilding
// the order from the metadata written when the intent was created.
func (s *CheckoutService) reconcileFromMetadata(ctx context.Context, l *slog.Logger, pi *stripe.PaymentIntent) error {
	userID, err := uuid.Parse(pi.Metadata[payments.MetaUserID])
	if err != nil {
		l.Warn("webhook_intent_without_user", "error", err)
		return nil
	}
	var items []cart.Item
	if raw := pi.Metadata[payments.MetaItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			l.Warn("webhook_items_unreadable", "error", err)
		}
	}

	method, policy := payments.MethodStripeWallet, payments.PolicyProviderRef
	orderID := pi.Metadata[payments.MetaOrderID]
	if orderID != "" {
		method, policy = payments.MethodCard, payments.PolicyPregenerated
	}
	res := payments.StripeResult(method, pi)
	if !res.Succeeded() {
		return nil
	}

	order, err := s.Reconciler.Reconcile(ctx, ReconcileInput{
		UserID:   userID,
		Result:   res,
		Items:    items,
		Shipping: res.Shipping,
		Amount:   res.Amount,
		Currency: res.Currency,
		OrderID:  orderID,
		Policy:   policy,
	})
	if err != nil {
		return err
	}
	l.Info("webhook_order_saved_from_metadata", "order_id", order.OrderID)
	return nil
}

func (s *CheckoutService) intentFailed(ctx context.Context, l *slog.Logger, evPI *stripe.PaymentIntent) error {
	pi, err := s.currentIntent(ctx, evPI)
	if err != nil {
		return err
	}
	// events can arrive out of order; the intent may have succeeded since
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		l.Info("webhook_stale_failure_ignored")
		return nil
	}

	reason := "payment failed"
	if e := evPI.LastPaymentError; e != nil && e.Msg != "" {
		reason = e.Msg
	}

	orderID := pi.Metadata[payments.MetaOrderID]
	sess, err := s.sessionForIntent(ctx, pi)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if sess != nil {
		orderID = firstNonBlank(sess.OrderID, orderID)
		if sess.State.CanTransitionTo(models.StateFailed) {
			sess.FailureReason = reason
			if err := s.Repo.TransitionSession(ctx, sess, models.StateFailed); err != nil && !errors.Is(err, repo.ErrStaleSession) {
				return fmt.Errorf("update session: %w", err)
			}
			l.Info("webhook_session_failed", "session_id", sess.ID, "reason", reason)
		}
	}

	if orderID != "" {
		return s.correctStatus(ctx, l, orderID, string(pi.Status))
	}
	return nil
}

// correctStatus applies a later provider status to an existing order.
func (s *CheckoutService) correctStatus(ctx context.Context, l *slog.Logger, orderID, status string) error {
	changed, err := s.Repo.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if !changed {
		return nil
	}
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	l.Info("order_status_corrected", "order_id", orderID, "payment_status", status)
	s.Reconciler.publish(ctx, l, s.Reconciler.Topics.Orders, orderID, orderEvent(EventOrderStatusChanged, o, s.now()))
	s.Reconciler.index(ctx, l, o)
	return nil
}
