package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/money"
)

const braintreeAPIVersion = "2019-01-01"

type BraintreeConfig struct {
	Endpoint   string
	MerchantID string
	PublicKey  string
	PrivateKey string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// BraintreeGateway charges Google Pay nonces through the Braintree GraphQL
// API. The session hands out a client token; the sale is submitted for
// settlement on confirm and the transaction id becomes the order id.
type BraintreeGateway struct {
	endpoint   string
	merchantID string
	auth       string
	http       *http.Client
}

func NewBraintreeGateway(cfg BraintreeConfig) (*BraintreeGateway, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, errors.New("braintree: public and private keys are required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("braintree: endpoint is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClient(cfg.Timeout)
	}
	return &BraintreeGateway{
		endpoint:   cfg.Endpoint,
		merchantID: cfg.MerchantID,
		auth:       basicAuth(cfg.PublicKey, cfg.PrivateKey),
		http:       hc,
	}, nil
}

func (g *BraintreeGateway) Method() Method { return MethodBraintreeWallet }

func (g *BraintreeGateway) OrderIDPolicy() OrderIDPolicy { return PolicyProviderRef }

const btTransactionFields = `id status orderId amount { value currencyCode } customer { firstName lastName email } shipping { shippingAddress { fullName streetAddress extendedAddress locality region postalCode countryCode } }`

const (
	btClientTokenMutation = `mutation ClientToken($input: CreateClientTokenInput) {
  createClientToken(input: $input) { clientToken }
}`
	btChargeMutation = `mutation Charge($input: ChargePaymentMethodInput!) {
  chargePaymentMethod(input: $input) {
    transaction { ` + btTransactionFields + ` }
  }
}`
	btTransactionQuery = `query Transaction($id: ID!) {
  node(id: $id) {
    ... on Transaction { ` + btTransactionFields + ` }
  }
}`
	btSearchQuery = `query Search($input: TransactionSearchInput!) {
  search {
    transactions(input: $input, first: 5) { edges { node { ` + btTransactionFields + ` } } }
  }
}`
)

// Braintree rejects a nonce that already paid for a transaction with this
// code. For a session without a transaction id it means an earlier charge
// went through and its response was lost.
const btNonceConsumed = "93107"

type btTransaction struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
	Amount  struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"amount"`
	Customer *struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	} `json:"customer"`
	Shipping *struct {
		ShippingAddress *struct {
			FullName        string `json:"fullName"`
			StreetAddress   string `json:"streetAddress"`
			ExtendedAddress string `json:"extendedAddress"`
			Locality        string `json:"locality"`
			Region          string `json:"region"`
			PostalCode      string `json:"postalCode"`
			CountryCode     string `json:"countryCode"`
		} `json:"shippingAddress"`
	} `json:"shipping"`
}

type btError struct {
	Message    string `json:"message"`
	Extensions struct {
		ErrorClass string `json:"errorClass"`
		LegacyCode string `json:"legacyCode"`
	} `json:"extensions"`
}

func (g *BraintreeGateway) CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error) {
	if err := req.validate(); err != nil {
		return SessionHandle{}, err
	}
	token, err := g.ClientToken(ctx)
	if err != nil {
		return SessionHandle{}, err
	}
	return SessionHandle{Method: MethodBraintreeWallet, ClientToken: token}, nil
}

// ClientToken generates a token for the Braintree drop-in on the client.
func (g *BraintreeGateway) ClientToken(ctx context.Context) (string, error) {
	input := map[string]any{}
	if g.merchantID != "" {
		input["clientToken"] = map[string]any{"merchantAccountId": g.merchantID}
	}
	var data struct {
		CreateClientToken struct {
			ClientToken string `json:"clientToken"`
		} `json:"createClientToken"`
	}
	if err := g.graphql(ctx, btClientTokenMutation, map[string]any{"input": input}, &data); err != nil {
		return "", fmt.Errorf("braintree: client token: %w", err)
	}
	if data.CreateClientToken.ClientToken == "" {
		return "", fmt.Errorf("braintree: client token: %w: empty token", ErrGatewayUnavailable)
	}
	return data.CreateClientToken.ClientToken, nil
}

// Confirm charges the nonce once. When the session already has a
// transaction, the transaction is read back instead of charging again. A
// session without one is first searched by order id, since the charge may
// have gone through with the response lost. Declined attempts found there do
// not block a new charge.
func (g *BraintreeGateway) Confirm(ctx context.Context, h SessionHandle, c Confirmation) (Result, error) {
	if err := checkConfirmation(MethodBraintreeWallet, c); err != nil {
		return Result{}, err
	}
	if h.ProviderRef != "" {
		return g.lookup(ctx, h)
	}
	if !h.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	conf := c.(BraintreeConfirmation)
	l := logging.FromContext(ctx).With("gateway", "braintree", "session_id", h.SessionID)

	existing, found, err := g.findBySession(ctx, h)
	if err != nil {
		return Result{}, err
	}
	if found && braintreeStatus(existing.Status) != StatusFailed {
		l.Info("braintree_transaction_found", "transaction_id", existing.ID, "status", existing.Status)
		return braintreeOutcome(existing, h)
	}

	tx := map[string]any{
		"amount":  money.Format(h.Amount),
		"orderId": h.SessionID,
		"customFields": []map[string]string{
			{"name": "user_id", "value": h.UserID},
		},
	}
	input := map[string]any{
		"paymentMethodId": conf.Nonce,
		"transaction":     tx,
	}
	if conf.DeviceData != "" {
		input["options"] = map[string]any{"riskData": map[string]any{"deviceData": conf.DeviceData}}
	}

	var data struct {
		ChargePaymentMethod struct {
			Transaction btTransaction `json:"transaction"`
		} `json:"chargePaymentMethod"`
	}
	if err := g.graphql(ctx, btChargeMutation, map[string]any{"input": input}, &data); err != nil {
		var de *DeclinedError
		if !errors.As(err, &de) || de.Code != btNonceConsumed {
			return Result{}, fmt.Errorf("braintree: charge: %w", err)
		}
		l.Warn("braintree_nonce_consumed")
		existing, found, ferr := g.findBySession(ctx, h)
		if ferr != nil {
			return Result{}, ferr
		}
		if !found {
			return Result{}, fmt.Errorf("braintree: charge: %w: nonce consumed and no transaction for %s", ErrGatewayUnavailable, h.SessionID)
		}
		l.Info("braintree_transaction_found", "transaction_id", existing.ID, "status", existing.Status)
		return braintreeOutcome(existing, h)
	}
	t := data.ChargePaymentMethod.Transaction
	l.Info("braintree_transaction_created", "transaction_id", t.ID, "status", t.Status)
	return braintreeOutcome(t, h)
}

func braintreeOutcome(t btTransaction, h SessionHandle) (Result, error) {
	r := braintreeResult(t, h)
	if r.Status == StatusFailed {
		return r, fmt.Errorf("braintree: transaction %s: %w", t.ID, &DeclinedError{Code: t.Status, Message: "transaction not accepted"})
	}
	return r, nil
}

// findBySession returns the transaction charged for the session, preferring
// one that was not declined.
func (g *BraintreeGateway) findBySession(ctx context.Context, h SessionHandle) (btTransaction, bool, error) {
	vars := map[string]any{
		"input": map[string]any{"orderId": map[string]any{"is": h.SessionID}},
	}
	var data struct {
		Search struct {
			Transactions struct {
				Edges []struct {
					Node btTransaction `json:"node"`
				} `json:"edges"`
			} `json:"transactions"`
		} `json:"search"`
	}
	if err := g.graphql(ctx, btSearchQuery, vars, &data); err != nil {
		var de *DeclinedError
		if errors.As(err, &de) {
			err = fmt.Errorf("%w: %s", ErrInvalidRequest, de.Message)
		}
		return btTransaction{}, false, fmt.Errorf("braintree: search transactions: %w", err)
	}
	edges := data.Search.Transactions.Edges
	if len(edges) == 0 {
		return btTransaction{}, false, nil
	}
	for _, e := range edges {
		if braintreeStatus(e.Node.Status) != StatusFailed {
			return e.Node, true, nil
		}
	}
	return edges[0].Node, true, nil
}

func (g *BraintreeGateway) lookup(ctx context.Context, h SessionHandle) (Result, error) {
	id := h.ProviderRef
	var data struct {
		Node *btTransaction `json:"node"`
	}
	if err := g.graphql(ctx, btTransactionQuery, map[string]any{"id": id}, &data); err != nil {
		return Result{}, fmt.Errorf("braintree: get transaction: %w", err)
	}
	if data.Node == nil {
		return Result{}, fmt.Errorf("braintree: get transaction: %w: %s not found", ErrInvalidRequest, id)
	}
	return braintreeResult(*data.Node, h), nil
}

func (g *BraintreeGateway) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	hdr := http.Header{}
	hdr.Set("Authorization", g.auth)
	hdr.Set("Braintree-Version", braintreeAPIVersion)

	resp, err := doJSON(ctx, g.http, http.MethodPost, g.endpoint, hdr, map[string]any{
		"query":     query,
		"variables": vars,
	})
	if err != nil {
		return err
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return fmt.Errorf("%w: braintree rejected credentials", ErrGatewayUnavailable)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []btError       `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return braintreeFailure(envelope.Errors[0])
	}
	if !resp.ok() {
		return fmt.Errorf("%w: status %d", ErrInvalidRequest, resp.Status)
	}
	return json.Unmarshal(envelope.Data, out)
}

// braintreeFailure maps GraphQL error classes. VALIDATION errors on a charge
// are processor or gateway rejections of the payment method.
func braintreeFailure(e btError) error {
	switch e.Extensions.ErrorClass {
	case "VALIDATION":
		return &DeclinedError{Code: e.Extensions.LegacyCode, Message: e.Message}
	case "INTERNAL", "SERVICE_AVAILABILITY", "RESOURCE_LIMIT", "AUTHENTICATION":
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, e.Message)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, e.Message)
	}
}

func braintreeStatus(s string) Status {
	switch s {
	case "SUBMITTED_FOR_SETTLEMENT", "SETTLING", "SETTLED", "SETTLEMENT_PENDING", "AUTHORIZED":
		return StatusSucceeded
	case "PROCESSOR_DECLINED", "GATEWAY_REJECTED", "FAILED", "SETTLEMENT_DECLINED", "VOIDED", "AUTHORIZATION_EXPIRED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func braintreeResult(t btTransaction, h SessionHandle) Result {
	r := Result{
		Method:         MethodBraintreeWallet,
		Status:         braintreeStatus(t.Status),
		ProviderStatus: strings.ToLower(t.Status),
		ProviderRef:    t.ID,
		TransactionID:  t.ID,
		MethodLabel:    "Google Pay (Braintree)",
		PayerName:      h.Payer.Name,
		PayerEmail:     h.Payer.Email,
		Currency:       t.Amount.CurrencyCode,
	}
	r.Amount, _ = money.Parse(t.Amount.Value)
	if c := t.Customer; c != nil {
		r.PayerName = firstNonEmpty(strings.TrimSpace(c.FirstName+" "+c.LastName), r.PayerName)
		r.PayerEmail = firstNonEmpty(c.Email, r.PayerEmail)
	}
	if t.Shipping != nil && t.Shipping.ShippingAddress != nil {
		a := t.Shipping.ShippingAddress
		r.Shipping = &billing.Address{
			Recipient:   a.FullName,
			Line1:       a.StreetAddress,
			Line2:       a.ExtendedAddress,
			City:        a.Locality,
			State:       a.Region,
			PostalCode:  a.PostalCode,
			CountryCode: a.CountryCode,
		}
	}
	return r
}
