package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/money"
)

// StripeWalletGateway charges a Google Pay payment method tokenised by
// Stripe. The intent is created and confirmed in one server call; its id
// becomes the order id.
type StripeWalletGateway struct {
	intents StripeIntentsAPI
}

func NewStripeWalletGateway(intents StripeIntentsAPI) (*StripeWalletGateway, error) {
	if intents == nil {
		return nil, errors.New("stripe: payment intent client is required")
	}
	return &StripeWalletGateway{intents: intents}, nil
}

func (g *StripeWalletGateway) Method() Method { return MethodStripeWallet }

func (g *StripeWalletGateway) OrderIDPolicy() OrderIDPolicy { return PolicyProviderRef }

// CreateSession only validates the request: the wallet token needed to
// create the intent arrives with the confirmation.
func (g *StripeWalletGateway) CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error) {
	if err := req.validate(); err != nil {
		return SessionHandle{}, err
	}
	return SessionHandle{Method: MethodStripeWallet}, nil
}

func (g *StripeWalletGateway) Confirm(ctx context.Context, h SessionHandle, c Confirmation) (Result, error) {
	if err := checkConfirmation(MethodStripeWallet, c); err != nil {
		return Result{}, err
	}
	if h.ProviderRef != "" {
		return g.lookup(ctx, h.ProviderRef)
	}
	if !h.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	l := logging.FromContext(ctx).With("gateway", "stripe.wallet")

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(money.ToMinorUnits(h.Amount, h.Currency)),
		Currency:           stripe.String(strings.ToLower(h.Currency)),
		PaymentMethod:      stripe.String(c.(StripeWalletConfirmation).PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	if h.SessionID != "" {
		// the same session always maps to the same intent
		params.SetIdempotencyKey("wallet-" + h.SessionID)
	}
	params.Metadata = map[string]string{
		MetaUserID:    h.UserID,
		MetaSessionID: h.SessionID,
	}
	if h.Payer.Name != "" {
		params.Metadata[MetaPayerName] = h.Payer.Name
		params.Description = stripe.String("Order by " + h.Payer.Name)
	}
	if billing.ValidEmail(h.Payer.Email) {
		params.Metadata[MetaPayerEmail] = h.Payer.Email
		params.ReceiptEmail = stripe.String(h.Payer.Email)
	}
	params.AddExpand("latest_charge")

	pi, err := g.intents.New(params)
	if err != nil {
		return Result{}, stripeError("create and confirm payment intent", err)
	}
	l.Info("payment_intent_confirmed", "payment_intent", pi.ID, "status", pi.Status)

	if err := declinedIntent(pi); err != nil {
		return StripeResult(MethodStripeWallet, pi), fmt.Errorf("stripe: payment intent %s: %w", pi.ID, err)
	}
	return StripeResult(MethodStripeWallet, pi), nil
}

func (g *StripeWalletGateway) lookup(ctx context.Context, id string) (Result, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := g.intents.Get(id, params)
	if err != nil {
		return Result{}, stripeError("get payment intent", err)
	}
	if err := declinedIntent(pi); err != nil {
		return StripeResult(MethodStripeWallet, pi), fmt.Errorf("stripe: payment intent %s: %w", pi.ID, err)
	}
	return StripeResult(MethodStripeWallet, pi), nil
}
