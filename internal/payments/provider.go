// Package payments adapts the storefront's payment providers to one
// session/confirm contract.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/cart"
)

// Status is the normalised outcome of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Method identifies a checkout payment flow.
type Method string

const (
	// MethodCard is a card payment confirmed in the browser against a Stripe
	// PaymentIntent and reported back through the webhook.
	MethodCard Method = "card"
	// MethodStripeWallet is Google Pay tokenised by Stripe and confirmed server side.
	MethodStripeWallet Method = "google_pay_stripe"
	// MethodPayPal is a PayPal order approved by the buyer and captured server side.
	MethodPayPal Method = "paypal"
	// MethodBraintreeWallet is Google Pay through Braintree, charged with a nonce.
	MethodBraintreeWallet Method = "google_pay_braintree"
	// MethodFree is used when the order total is zero; no provider is called.
	MethodFree Method = "free"
)

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCard, MethodStripeWallet, MethodPayPal, MethodBraintreeWallet, MethodFree:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

// OrderIDPolicy says where the canonical order id of a flow comes from.
type OrderIDPolicy int

const (
	// PolicyGenerated: the server generates an id at persistence time.
	PolicyGenerated OrderIDPolicy = iota
	// PolicyProviderRef: the provider's identifier for the payment is the order id.
	PolicyProviderRef
	// PolicyPregenerated: the id is generated when the session is created and
	// travels with the payment as metadata.
	PolicyPregenerated
)

func (p OrderIDPolicy) String() string {
	switch p {
	case PolicyProviderRef:
		return "provider_ref"
	case PolicyPregenerated:
		return "pregenerated"
	default:
		return "generated"
	}
}

type SessionRequest struct {
	SessionID      string
	UserID         string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Items          []cart.Item
	Payer          billing.Info
	Shipping       *billing.Address
	IdempotencyKey string
}

func (r SessionRequest) validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items required", ErrInvalidRequest)
	}
	return nil
}

// SessionHandle is what the client needs to complete the payment with the
// provider. Only the fields relevant to the method are set.
type SessionHandle struct {
	Method       Method `json:"method"`
	ProviderRef  string `json:"provider_ref,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	ClientToken  string `json:"client_token,omitempty"`
	ApproveURL   string `json:"approve_url,omitempty"`
	OrderID      string `json:"order_id,omitempty"`

	// Server side context restored from the stored session before Confirm.
	SessionID string          `json:"-"`
	UserID    string          `json:"-"`
	Amount    decimal.Decimal `json:"-"`
	Currency  string          `json:"-"`
	Payer     billing.Info    `json:"-"`
}

// Result is the provider's confirmed view of a payment.
type Result struct {
	Method         Method           `json:"method"`
	Status         Status           `json:"status"`
	ProviderStatus string           `json:"provider_status"`
	ProviderRef    string           `json:"provider_ref"`
	TransactionID  string           `json:"transaction_id"`
	MethodLabel    string           `json:"method_label,omitempty"`
	PayerName      string           `json:"payer_name,omitempty"`
	PayerEmail     string           `json:"payer_email,omitempty"`
	Shipping       *billing.Address `json:"shipping,omitempty"`
	BillingAddress *billing.Address `json:"billing_address,omitempty"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
}

func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

// PayerBilling collects what the provider knows about the payer as billing
// fields. Billing address wins over shipping address.
func (r Result) PayerBilling() billing.Info {
	var addr billing.Info
	switch {
	case !r.BillingAddress.IsZero():
		addr = r.BillingAddress.Info()
	case !r.Shipping.IsZero():
		addr = r.Shipping.Info()
	}
	addr.Name = firstNonEmpty(r.PayerName, addr.Name)
	addr.Email = r.PayerEmail
	return addr
}

// Gateway is implemented by each provider adapter.
type Gateway interface {
	Method() Method
	OrderIDPolicy() OrderIDPolicy
	// CreateSession fails with ErrInvalidRequest when the amount is not
	// positive or there are no items, and with ErrGatewayUnavailable when the
	// provider cannot be reached.
	CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error)
	// Confirm is idempotent: confirming an already captured payment returns
	// the existing result.
	Confirm(ctx context.Context, h SessionHandle, c Confirmation) (Result, error)
}

// Registry resolves gateways by method.
type Registry struct {
	gateways map[Method]Gateway
}

func NewRegistry(gateways ...Gateway) (*Registry, error) {
	m := make(map[Method]Gateway, len(gateways))
	for _, g := range gateways {
		if g == nil {
			return nil, errors.New("payments: nil gateway")
		}
		if _, dup := m[g.Method()]; dup {
			return nil, fmt.Errorf("payments: duplicate gateway for %s", g.Method())
		}
		m[g.Method()] = g
	}
	return &Registry{gateways: m}, nil
}

func (r *Registry) Get(m Method) (Gateway, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	g, ok := r.gateways[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	return g, nil
}

func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.gateways))
	for _, m := range []Method{MethodCard, MethodStripeWallet, MethodPayPal, MethodBraintreeWallet} {
		if _, ok := r.gateways[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
