package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/payments"
)

func stripeIntent(id string, status stripe.PaymentIntentStatus, md map[string]string) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID:       id,
		Status:   status,
		Amount:   2700,
		Currency: stripe.CurrencyUSD,
		Metadata: md,
		LatestCharge: &stripe.Charge{
			ID: "ch_" + id,
			BillingDetails: &stripe.ChargeBillingDetails{
				Name:  "Jane Q. Doe",
				Email: "jq@example.com",
				Address: &stripe.Address{
					Line1: "9 Card St", City: "Boston", State: "MA", PostalCode: "02101", Country: "US",
				},
			},
		},
	}
}

func stripeEvent(t *testing.T, id, typ string, body map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return stripe.Event{ID: id, Type: stripe.EventType(typ), Data: &stripe.EventData{Raw: raw}}
}

func succeededEvent(t *testing.T, id, intentID string) stripe.Event {
	return stripeEvent(t, id, "payment_intent.succeeded", map[string]any{
		"id": intentID, "object": "payment_intent", "status": "succeeded",
	})
}

// openCard opens a card session and registers its intent with the fake
// Stripe client.
func (env *testEnv) openCard(t *testing.T, status stripe.PaymentIntentStatus) (*CreateSessionOutput, string) {
	t.Helper()
	out := env.open(t, payments.MethodCard)
	ref := out.Handle.ProviderRef
	env.intents.byID[ref] = stripeIntent(ref, status, map[string]string{
		payments.MetaSessionID: out.Session.ID,
		payments.MetaOrderID:   out.Session.OrderID,
		payments.MetaUserID:    env.userID.String(),
	})
	return out, ref
}

func TestWebhook_SucceededPersistsCardOrder(t *testing.T) {
	env := newTestEnv(t)
	out, ref := env.openCard(t, stripe.PaymentIntentStatusSucceeded)
	ev := succeededEvent(t, "evt_1", ref)

	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))

	o, err := env.repo.GetOrder(context.Background(), out.Session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payments.MethodCard, o.PaymentMethod)
	assert.Equal(t, "ch_"+ref, o.TransactionID)
	assert.Equal(t, "Jane Q. Doe", o.Billing.Name)
	assert.Equal(t, "Boston", o.Billing.City)
	assert.Equal(t, models.StatePersisted, env.session(t, out.Session.ID).State)

	// redelivery of the same event is a no-op
	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))
	assert.Equal(t, 1, env.intents.calls)
	assert.EqualValues(t, 1, env.persisted())
}

func TestWebhook_ConvergesWithClientConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.card.confirmRes = cardResult(payments.StatusSucceeded, "succeeded")
	out, ref := env.openCard(t, stripe.PaymentIntentStatusSucceeded)

	raw := json.RawMessage(`{"payment_intent_id":"` + ref + `"}`)
	order, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, raw)
	require.NoError(t, err)

	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), succeededEvent(t, "evt_2", ref)))

	assert.EqualValues(t, 1, env.persisted())
	o, err := env.repo.GetOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, out.Session.OrderID, o.OrderID)
	assert.Equal(t, "succeeded", o.PaymentStatus)
}

func TestWebhook_WithoutSessionRebuildsFromMetadata(t *testing.T) {
	items, err := json.Marshal(testItems())
	require.NoError(t, err)

	tests := []struct {
		name       string
		orderID    string
		wantID     string
		wantMethod payments.Method
	}{
		{"card with order id", "ORD-META", "ORD-META", payments.MethodCard},
		{"wallet uses intent id", "", "pi_wallet", payments.MethodStripeWallet},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			md := map[string]string{
				payments.MetaUserID: env.userID.String(),
				payments.MetaItems:  string(items),
			}
			if tt.orderID != "" {
				md[payments.MetaOrderID] = tt.orderID
			}
			env.intents.byID["pi_wallet"] = stripeIntent("pi_wallet", stripe.PaymentIntentStatusSucceeded, md)

			require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), succeededEvent(t, "evt_meta", "pi_wallet")))

			o, err := env.repo.GetOrder(context.Background(), tt.wantID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, o.PaymentMethod)
			assert.Equal(t, env.userID, o.UserID)
			assert.Len(t, o.Items, 2)
			assert.True(t, decimal.RequireFromString("27").Equal(o.TotalAmount))
		})
	}
}

func TestWebhook_IntentWithoutUserIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.intents.byID["pi_orphan"] = stripeIntent("pi_orphan", stripe.PaymentIntentStatusSucceeded, map[string]string{})

	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), succeededEvent(t, "evt_o", "pi_orphan")))
	assert.Zero(t, env.persisted())
}

func TestWebhook_FailedIntentFailsSession(t *testing.T) {
	env := newTestEnv(t)
	out, ref := env.openCard(t, stripe.PaymentIntentStatusRequiresPaymentMethod)

	ev := stripeEvent(t, "evt_f", "payment_intent.payment_failed", map[string]any{
		"id": ref, "object": "payment_intent", "status": "requires_payment_method",
		"last_payment_error": map[string]any{"message": "Your card was declined."},
	})
	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))

	stored := env.session(t, out.Session.ID)
	assert.Equal(t, models.StateFailed, stored.State)
	assert.Equal(t, "Your card was declined.", stored.FailureReason)
	assert.Zero(t, env.persisted())
}

func TestWebhook_FailureAfterOrderCorrectsStatusAndIndex(t *testing.T) {
	env := newTestEnv(t)
	out, ref := env.openCard(t, stripe.PaymentIntentStatusSucceeded)
	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), succeededEvent(t, "evt_ok", ref)))

	env.intents.byID[ref].Status = stripe.PaymentIntentStatusRequiresPaymentMethod
	ev := stripeEvent(t, "evt_fail", "payment_intent.payment_failed", map[string]any{
		"id": ref, "object": "payment_intent", "status": "requires_payment_method",
	})
	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))

	o, err := env.repo.GetOrder(context.Background(), out.Session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "requires_payment_method", o.PaymentStatus)

	assert.Equal(t, []string{out.Session.OrderID, out.Session.OrderID}, env.index.indexed)
	assert.Equal(t, "requires_payment_method", env.index.statuses[1])

	published := env.events.onTopic("order_events")
	require.Len(t, published, 2)
	assert.Equal(t, EventOrderStatusChanged, published[1].Event.(OrderEvent).Type)
}

func TestWebhook_StaleFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	out, ref := env.openCard(t, stripe.PaymentIntentStatusSucceeded)

	ev := stripeEvent(t, "evt_late", "payment_intent.payment_failed", map[string]any{
		"id": ref, "object": "payment_intent", "status": "requires_payment_method",
	})
	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))
	assert.Equal(t, models.StateAwaitingConfirmation, env.session(t, out.Session.ID).State)
}

func TestWebhook_ProcessingErrorAllowsRedelivery(t *testing.T) {
	env := newTestEnv(t)
	out, ref := env.openCard(t, stripe.PaymentIntentStatusSucceeded)
	env.intents.err = errStorage
	ev := succeededEvent(t, "evt_retry", ref)

	require.ErrorIs(t, env.checkout.HandleStripeEvent(context.Background(), ev), errStorage)
	assert.Zero(t, env.persisted())

	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))
	assert.Equal(t, models.StatePersisted, env.session(t, out.Session.ID).State)
	assert.EqualValues(t, 1, env.persisted())
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t)
	ev := stripeEvent(t, "evt_x", "charge.refunded", map[string]any{"id": "ch_1"})

	require.NoError(t, env.checkout.HandleStripeEvent(context.Background(), ev))

	var n int64
	require.NoError(t, env.repo.DB.Model(&models.WebhookEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}
