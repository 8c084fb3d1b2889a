package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/money"
)

const stripeMetadataValueLimit = 500

// Metadata keys written on every PaymentIntent.
const (
	MetaUserID     = "user_id"
	MetaOrderID    = "order_id"
	MetaSessionID  = "session_id"
	MetaPayerName  = "payer_name"
	MetaPayerEmail = "payer_email"
	MetaItems      = "items"
	MetaShipping   = "shipping"
)

// StripeIntentsAPI is the subset of the PaymentIntent client the gateways use.
type StripeIntentsAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// NewStripeIntents builds the PaymentIntent client shared by the card and
// wallet gateways.
func NewStripeIntents(apiKey string, backends *stripe.Backends) (StripeIntentsAPI, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, backends)
	return sc.PaymentIntents, nil
}

// stripeError maps Stripe SDK errors onto the gateway error taxonomy.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			code := string(se.DeclineCode)
			if code == "" {
				code = string(se.Code)
			}
			return fmt.Errorf("stripe: %s: %w", op, &DeclinedError{Code: code, Message: se.Msg})
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 || se.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("stripe: %s: %w: %w", op, ErrGatewayUnavailable, err)
		case se.Type == stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("stripe: %s: %w: %s", op, ErrInvalidRequest, se.Msg)
		}
	}
	if transportFailure(err) {
		return fmt.Errorf("stripe: %s: %w: %w", op, ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}

func stripeStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

// declinedIntent reports an intent the provider rejected: either canceled,
// or returned to requires_payment_method after a failed attempt.
func declinedIntent(pi *stripe.PaymentIntent) error {
	switch {
	case pi.Status == stripe.PaymentIntentStatusCanceled:
		return &DeclinedError{Code: "canceled", Message: string(pi.CancellationReason)}
	case pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError != nil:
		code := string(pi.LastPaymentError.DeclineCode)
		if code == "" {
			code = string(pi.LastPaymentError.Code)
		}
		return &DeclinedError{Code: code, Message: pi.LastPaymentError.Msg}
	}
	return nil
}

func stripeAddress(a *stripe.Address, name string) *billing.Address {
	if a == nil {
		return nil
	}
	return &billing.Address{
		Recipient:   name,
		Line1:       a.Line1,
		Line2:       a.Line2,
		City:        a.City,
		State:       a.State,
		PostalCode:  a.PostalCode,
		CountryCode: a.Country,
	}
}

// StripeResult normalises a PaymentIntent. Charge billing details, when the
// latest charge is expanded, take precedence over the metadata payer fields.
func StripeResult(method Method, pi *stripe.PaymentIntent) Result {
	currency := strings.ToUpper(string(pi.Currency))
	r := Result{
		Method:         method,
		Status:         stripeStatus(pi.Status),
		ProviderStatus: string(pi.Status),
		ProviderRef:    pi.ID,
		TransactionID:  pi.ID,
		PayerName:      pi.Metadata[MetaPayerName],
		PayerEmail:     firstNonEmpty(pi.Metadata[MetaPayerEmail], pi.ReceiptEmail),
		Amount:         money.FromMinorUnits(pi.Amount, currency),
		Currency:       currency,
	}

	if pi.Shipping != nil {
		r.Shipping = stripeAddress(pi.Shipping.Address, pi.Shipping.Name)
	} else if raw := pi.Metadata[MetaShipping]; raw != "" {
		var a billing.Address
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			r.Shipping = &a
		}
	}

	if ch := pi.LatestCharge; ch != nil && ch.ID != "" {
		r.TransactionID = ch.ID
		if bd := ch.BillingDetails; bd != nil {
			r.PayerName = firstNonEmpty(bd.Name, r.PayerName)
			r.PayerEmail = firstNonEmpty(bd.Email, r.PayerEmail)
			r.BillingAddress = stripeAddress(bd.Address, bd.Name)
		}
		if pmd := ch.PaymentMethodDetails; pmd != nil && pmd.Card != nil && pmd.Card.Brand != "" {
			r.MethodLabel = fmt.Sprintf("Card (%s)", pmd.Card.Brand)
		}
	}

	if r.MethodLabel == "" {
		switch method {
		case MethodStripeWallet:
			r.MethodLabel = "Google Pay (Stripe)"
		default:
			r.MethodLabel = "Card"
		}
	}
	return r
}

// stripeMetadata builds PaymentIntent metadata. Values over Stripe's size
// limit are left out.
func stripeMetadata(req SessionRequest) map[string]string {
	md := map[string]string{
		MetaUserID:    req.UserID,
		MetaSessionID: req.SessionID,
	}
	if req.OrderID != "" {
		md[MetaOrderID] = req.OrderID
	}
	if req.Payer.Name != "" {
		md[MetaPayerName] = req.Payer.Name
	}
	if req.Payer.Email != "" {
		md[MetaPayerEmail] = req.Payer.Email
	}
	if b, err := json.Marshal(req.Items); err == nil && len(b) <= stripeMetadataValueLimit {
		md[MetaItems] = string(b)
	}
	if req.Shipping != nil {
		if b, err := json.Marshal(req.Shipping); err == nil && len(b) <= stripeMetadataValueLimit {
			md[MetaShipping] = string(b)
		}
	}
	return md
}
