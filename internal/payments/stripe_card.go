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

// StripeCardGateway creates PaymentIntents that the browser confirms with
// Stripe Elements. The order id is generated up front and stored in the
// intent metadata so the webhook can find it.
type StripeCardGateway struct {
	intents StripeIntentsAPI
}

func NewStripeCardGateway(intents StripeIntentsAPI) (*StripeCardGateway, error) {
	if intents == nil {
		return nil, errors.New("stripe: payment intent client is required")
	}
	return &StripeCardGateway{intents: intents}, nil
}

func (g *StripeCardGateway) Method() Method { return MethodCard }

func (g *StripeCardGateway) OrderIDPolicy() OrderIDPolicy { return PolicyPregenerated }

func (g *StripeCardGateway) CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error) {
	if err := req.validate(); err != nil {
		return SessionHandle{}, err
	}
	if req.OrderID == "" {
		return SessionHandle{}, fmt.Errorf("%w: order id must be generated before the intent", ErrInvalidRequest)
	}
	l := logging.FromContext(ctx).With("gateway", "stripe.card")

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(money.ToMinorUnits(req.Amount, req.Currency)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey("card-" + key)
	}
	params.Metadata = stripeMetadata(req)
	if req.Payer.Name != "" {
		params.Description = stripe.String("Order by " + req.Payer.Name)
	}
	if billing.ValidEmail(req.Payer.Email) {
		params.ReceiptEmail = stripe.String(req.Payer.Email)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return SessionHandle{}, stripeError("create payment intent", err)
	}

	l.Info("payment_intent_created", "payment_intent", pi.ID, "order_id", req.OrderID)
	return SessionHandle{
		Method:       MethodCard,
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		OrderID:      req.OrderID,
	}, nil
}

// Confirm re-reads the intent the browser confirmed. It never confirms the
// intent itself, so calling it repeatedly is safe.
func (g *StripeCardGateway) Confirm(ctx context.Context, h SessionHandle, c Confirmation) (Result, error) {
	if err := checkConfirmation(MethodCard, c); err != nil {
		return Result{}, err
	}
	id := c.(CardConfirmation).PaymentIntentID
	if h.ProviderRef != "" && id != h.ProviderRef {
		return Result{}, fmt.Errorf("%w: payment intent does not belong to this session", ErrInvalidRequest)
	}
	return g.Lookup(ctx, id)
}

// Intent fetches an intent with its latest charge expanded. The webhook
// uses it because event payloads do not expand the charge.
func (g *StripeCardGateway) Intent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := g.intents.Get(intentID, params)
	if err != nil {
		return nil, stripeError("get payment intent", err)
	}
	return pi, nil
}

func (g *StripeCardGateway) Lookup(ctx context.Context, intentID string) (Result, error) {
	pi, err := g.Intent(ctx, intentID)
	if err != nil {
		return Result{}, err
	}
	if err := declinedIntent(pi); err != nil {
		return StripeResult(MethodCard, pi), fmt.Errorf("stripe: payment intent %s: %w", pi.ID, err)
	}
	return StripeResult(MethodCard, pi), nil
}
