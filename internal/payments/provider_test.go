package payments

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/storefront/internal/billing"
)

type stubGateway struct{ m Method }

func (s stubGateway) Method() Method               { return s.m }
func (s stubGateway) OrderIDPolicy() OrderIDPolicy { return PolicyGenerated }
func (s stubGateway) CreateSession(context.Context, SessionRequest) (SessionHandle, error) {
	return SessionHandle{Method: s.m}, nil
}
func (s stubGateway) Confirm(context.Context, SessionHandle, Confirmation) (Result, error) {
	return Result{Method: s.m, Status: StatusSucceeded}, nil
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(stubGateway{MethodPayPal}, stubGateway{MethodCard})
	require.NoError(t, err)

	g, err := r.Get(MethodCard)
	require.NoError(t, err)
	assert.Equal(t, MethodCard, g.Method())

	_, err = r.Get(MethodBraintreeWallet)
	require.ErrorIs(t, err, ErrUnsupportedMethod)

	assert.Equal(t, []Method{MethodCard, MethodPayPal}, r.Methods())

	_, err = NewRegistry(stubGateway{MethodCard}, stubGateway{MethodCard})
	require.Error(t, err)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("paypal")
	require.NoError(t, err)
	assert.Equal(t, MethodPayPal, m)

	_, err = ParseMethod("bitcoin")
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestDecodeConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		method  Method
		raw     string
		want    Confirmation
		wantErr error
	}{
		{"card", MethodCard, `{"payment_intent_id":"pi_1"}`, CardConfirmation{PaymentIntentID: "pi_1"}, nil},
		{"card missing intent", MethodCard, `{}`, nil, ErrInvalidRequest},
		{"stripe wallet", MethodStripeWallet, `{"payment_method_id":"pm_1"}`, StripeWalletConfirmation{PaymentMethodID: "pm_1"}, nil},
		{"paypal", MethodPayPal, `{"paypal_order_id":"O-1"}`, PayPalConfirmation{OrderID: "O-1"}, nil},
		{"braintree", MethodBraintreeWallet, `{"nonce":"n","device_data":"d"}`, BraintreeConfirmation{Nonce: "n", DeviceData: "d"}, nil},
		{"braintree missing nonce", MethodBraintreeWallet, ``, nil, ErrInvalidRequest},
		{"free", MethodFree, ``, FreeConfirmation{}, nil},
		{"malformed", MethodPayPal, `{`, nil, ErrInvalidRequest},
		{"unknown method", Method("cash"), `{}`, nil, ErrUnsupportedMethod},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeConfirmation(tt.method, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_PayerBilling(t *testing.T) {
	r := Result{
		PayerName:  "Pay Er",
		PayerEmail: "payer@example.com",
		Shipping:   &billing.Address{Recipient: "Ship To", Line1: "1 Ship Rd", City: "Reno", State: "NV", PostalCode: "89501", CountryCode: "US"},
	}
	got := r.PayerBilling()
	assert.Equal(t, "Pay Er", got.Name)
	assert.Equal(t, "payer@example.com", got.Email)
	assert.Equal(t, "Reno", got.City)

	r.BillingAddress = &billing.Address{Line1: "2 Bill Ave", City: "Elko", PostalCode: "89801"}
	got = r.PayerBilling()
	assert.Equal(t, "2 Bill Ave", got.Address)
	assert.Equal(t, "Elko", got.City)

	empty := Result{}.PayerBilling()
	assert.Equal(t, billing.Info{}, empty)
}

func TestFreeResult(t *testing.T) {
	r := FreeResult("USD", billing.Info{Name: "Jane", Email: "jane@example.com"})
	assert.True(t, r.Succeeded())
	assert.Equal(t, MethodFree, r.Method)
	assert.True(t, r.Amount.IsZero())
	assert.Empty(t, r.TransactionID)
	assert.Equal(t, "Jane", r.PayerName)
}
