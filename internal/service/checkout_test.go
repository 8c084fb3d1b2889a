package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/payments"
)

func paypalResult() payments.Result {
	return payments.Result{
		Method:         payments.MethodPayPal,
		Status:         payments.StatusSucceeded,
		ProviderStatus: "COMPLETED",
		TransactionID:  "3C679366HH908993F",
		MethodLabel:    "PayPal",
		PayerName:      "John Doe",
		PayerEmail:     "buyer@example.com",
		Amount:         decimal.RequireFromString("27.00"),
		Currency:       "USD",
	}
}

func cardResult(status payments.Status, providerStatus string) payments.Result {
	return payments.Result{
		Method:         payments.MethodCard,
		Status:         status,
		ProviderStatus: providerStatus,
		TransactionID:  "ch_1",
		MethodLabel:    "Card",
		Amount:         decimal.RequireFromString("27.00"),
		Currency:       "USD",
	}
}

func (env *testEnv) session(t *testing.T, id string) *models.CheckoutSession {
	t.Helper()
	sess, err := env.repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func (env *testEnv) open(t *testing.T, method payments.Method) *CreateSessionOutput {
	t.Helper()
	out, err := env.checkout.CreateSession(context.Background(), env.userID, CreateSessionInput{
		Method:  method,
		Items:   testItems(),
		Billing: validBilling(),
	})
	require.NoError(t, err)
	return out
}

func paypalConfirmation(ref string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"paypal_order_id":%q}`, ref))
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)

	totals, err := env.checkout.Quote(testItems())
	require.NoError(t, err)
	assert.Equal(t, "25", totals.Subtotal.String())
	assert.Equal(t, "2", totals.Tax.String())
	assert.Equal(t, "27", totals.Total.String())

	_, err = env.checkout.Quote([]cart.Item{{ProductID: "1", Quantity: 0}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateSession_ValidationNeverCallsGateway(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CreateSessionInput)
		field  string
	}{
		{"four digit zip", func(in *CreateSessionInput) { in.Billing.ZipCode = "1234" }, billing.FieldZip},
		{"bad email", func(in *CreateSessionInput) { in.Billing.Email = "jane" }, billing.FieldEmail},
		{"missing name", func(in *CreateSessionInput) { in.Billing.Name = " " }, billing.FieldName},
		{"empty cart", func(in *CreateSessionInput) { in.Items = nil }, "items"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			in := CreateSessionInput{Method: payments.MethodPayPal, Items: testItems(), Billing: validBilling()}
			tt.mutate(&in)

			_, err := env.checkout.CreateSession(context.Background(), env.userID, in)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)

			created, _ := env.paypal.counts()
			assert.Zero(t, created)
		})
	}
}

func TestCreateSession_UnsupportedMethod(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.checkout.CreateSession(context.Background(), env.userID, CreateSessionInput{
		Method:  payments.MethodBraintreeWallet,
		Items:   testItems(),
		Billing: validBilling(),
	})
	assert.ErrorIs(t, err, ErrValidation)

	var n int64
	require.NoError(t, env.repo.DB.Model(&models.CheckoutSession{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateSession_FreeOrderSkipsProvider(t *testing.T) {
	env := newTestEnv(t)
	items := []cart.Item{{ProductID: "gift", Title: "Gift card", UnitPrice: decimal.Zero, Quantity: 1}}

	out, err := env.checkout.CreateSession(context.Background(), env.userID, CreateSessionInput{
		Method:  payments.MethodCard,
		Items:   items,
		Billing: validBilling(),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Order)
	assert.Equal(t, payments.MethodFree, out.Order.PaymentMethod)
	assert.Equal(t, "free", out.Order.PaymentStatus)
	assert.True(t, strings.HasPrefix(out.Order.OrderID, "ORD-"))
	assert.Equal(t, out.Order.OrderID, out.Handle.OrderID)
	assert.True(t, out.Order.TotalAmount.IsZero())

	created, confirmed := env.card.counts()
	assert.Zero(t, created)
	assert.Zero(t, confirmed)
	assert.Equal(t, models.StatePersisted, env.session(t, out.Session.ID).State)
	assert.EqualValues(t, 1, env.persisted())
}

func TestCreateSession_CardPregeneratesOrderID(t *testing.T) {
	env := newTestEnv(t)

	out := env.open(t, payments.MethodCard)
	assert.True(t, strings.HasPrefix(out.Session.OrderID, "ORD-"))
	assert.Equal(t, out.Session.OrderID, env.card.lastRequest.OrderID)
	assert.Equal(t, out.Session.ID, env.card.lastRequest.IdempotencyKey)
	assert.Equal(t, "27", env.card.lastRequest.Amount.String())
	assert.Equal(t, "pi_"+out.Session.ID+"_secret", out.Handle.ClientSecret)

	stored := env.session(t, out.Session.ID)
	assert.Equal(t, models.StateAwaitingConfirmation, stored.State)
	assert.Equal(t, "pi_"+out.Session.ID, stored.ProviderRef)
	require.NotNil(t, stored.Handle)
	assert.Equal(t, out.Handle.ClientSecret, stored.Handle.ClientSecret)
}

func TestCreateSession_IdempotencyKeyReplays(t *testing.T) {
	env := newTestEnv(t)
	in := CreateSessionInput{
		Method:         payments.MethodPayPal,
		Items:          testItems(),
		Billing:        validBilling(),
		IdempotencyKey: "checkout-42",
	}

	first, err := env.checkout.CreateSession(context.Background(), env.userID, in)
	require.NoError(t, err)
	second, err := env.checkout.CreateSession(context.Background(), env.userID, in)
	require.NoError(t, err)

	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Handle.ApproveURL, second.Handle.ApproveURL)
	assert.Equal(t, "checkout-42", env.paypal.lastRequest.IdempotencyKey)
	created, _ := env.paypal.counts()
	assert.Equal(t, 1, created)
}

func TestCreateSession_GatewayUnavailableFailsSession(t *testing.T) {
	env := newTestEnv(t)
	env.paypal.createErr = fmt.Errorf("%w: connection refused", payments.ErrGatewayUnavailable)

	_, err := env.checkout.CreateSession(context.Background(), env.userID, CreateSessionInput{
		Method:  payments.MethodPayPal,
		Items:   testItems(),
		Billing: validBilling(),
	})
	require.ErrorIs(t, err, payments.ErrGatewayUnavailable)

	var sess models.CheckoutSession
	require.NoError(t, env.repo.DB.Where("user_id = ?", env.userID).First(&sess).Error)
	assert.Equal(t, models.StateFailed, sess.State)
	assert.Contains(t, sess.FailureReason, "connection refused")
}

func TestConfirm_PayPalUsesProviderRefAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.paypal.confirmRes = paypalResult()
	out := env.open(t, payments.MethodPayPal)
	ref := out.Handle.ProviderRef

	order, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, paypalConfirmation(ref))
	require.NoError(t, err)
	assert.Equal(t, ref, order.OrderID)
	assert.Equal(t, "3C679366HH908993F", order.TransactionID)
	assert.Equal(t, "John Doe", order.Billing.Name)
	assert.Equal(t, "buyer@example.com", order.Billing.Email)
	assert.Equal(t, "Austin", order.Billing.City)

	again, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, paypalConfirmation(ref))
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, again.OrderID)

	_, confirmed := env.paypal.counts()
	assert.Equal(t, 1, confirmed)
	assert.EqualValues(t, 1, env.persisted())

	stored := env.session(t, out.Session.ID)
	assert.Equal(t, models.StatePersisted, stored.State)
	assert.Equal(t, ref, stored.OrderID)
	assert.Nil(t, stored.LeaseUntil)
	assert.Len(t, env.events.onTopic("order_events"), 1)
	assert.Equal(t, []string{ref}, env.index.indexed)
}

func TestConfirm_CardKeepsPregeneratedID(t *testing.T) {
	env := newTestEnv(t)
	env.card.confirmRes = cardResult(payments.StatusSucceeded, "succeeded")
	out := env.open(t, payments.MethodCard)

	raw := json.RawMessage(`{"payment_intent_id":"` + out.Handle.ProviderRef + `"}`)
	order, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, raw)
	require.NoError(t, err)
	assert.Equal(t, out.Session.OrderID, order.OrderID)
	assert.Equal(t, out.Session.OrderID, env.card.lastHandle.OrderID)
	assert.Equal(t, "Card", order.PaymentLabel)
}

func TestConfirm_DeclinedFailsSession(t *testing.T) {
	env := newTestEnv(t)
	env.paypal.confirmErr = &payments.DeclinedError{Code: "INSTRUMENT_DECLINED", Message: "declined by issuer"}
	out := env.open(t, payments.MethodPayPal)
	ref := out.Handle.ProviderRef

	_, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, paypalConfirmation(ref))
	require.ErrorIs(t, err, payments.ErrPaymentDeclined)

	stored := env.session(t, out.Session.ID)
	assert.Equal(t, models.StateFailed, stored.State)
	assert.Contains(t, stored.FailureReason, "INSTRUMENT_DECLINED")

	_, err = env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, paypalConfirmation(ref))
	assert.ErrorIs(t, err, ErrPaymentFailed)
	_, confirmed := env.paypal.counts()
	assert.Equal(t, 1, confirmed)
	assert.Zero(t, env.persisted())
}

func TestConfirm_PendingReleasesLease(t *testing.T) {
	env := newTestEnv(t)
	env.card.confirmRes = cardResult(payments.StatusPending, "processing")
	out := env.open(t, payments.MethodCard)
	raw := json.RawMessage(`{"payment_intent_id":"` + out.Handle.ProviderRef + `"}`)

	for i := 0; i < 2; i++ {
		_, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, raw)
		require.ErrorIs(t, err, ErrPaymentPending)
	}
	_, confirmed := env.card.counts()
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, models.StateAwaitingConfirmation, env.session(t, out.Session.ID).State)
}

func TestConfirm_InProgressWhileLeased(t *testing.T) {
	env := newTestEnv(t)
	out := env.open(t, payments.MethodPayPal)

	_, ok, err := env.repo.ClaimSession(context.Background(), out.Session.ID, time.Now().UTC(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, paypalConfirmation(out.Handle.ProviderRef))
	assert.ErrorIs(t, err, ErrInProgress)
	_, confirmed := env.paypal.counts()
	assert.Zero(t, confirmed)
}

func TestConfirm_RejectsOtherUsersAndBadBodies(t *testing.T) {
	env := newTestEnv(t)
	out := env.open(t, payments.MethodPayPal)

	_, err := env.checkout.Confirm(context.Background(), uuid.New(), out.Session.ID, paypalConfirmation("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, payments.ErrInvalidRequest)
}

func TestConfirm_OrderNotSavedIsRecovered(t *testing.T) {
	env := newTestEnv(t)
	env.paypal.confirmRes = paypalResult()
	out := env.open(t, payments.MethodPayPal)
	env.store.failures = 3

	_, err := env.checkout.Confirm(context.Background(), env.userID, out.Session.ID, paypalConfirmation(out.Handle.ProviderRef))
	require.ErrorIs(t, err, ErrPaymentSucceededOrderNotSaved)
	assert.NotErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, models.StateConfirmed, env.session(t, out.Session.ID).State)
	assert.Len(t, env.events.onTopic("checkout_alerts"), 1)
	assert.Zero(t, env.persisted())

	rec := &Recovery{Checkout: env.checkout}
	n, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a session confirmed just now belongs to the request finishing it")

	env.checkout.Clock = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }
	stuck, err := env.checkout.StuckSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	n, err = rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := env.session(t, out.Session.ID)
	assert.Equal(t, models.StatePersisted, stored.State)
	assert.Equal(t, out.Handle.ProviderRef, stored.OrderID)
	assert.EqualValues(t, 1, env.persisted())

	n, err = rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, confirmed := env.paypal.counts()
	assert.Equal(t, 1, confirmed)
}
