package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"

	"github.com/Skotchmaster/storefront/internal/billing"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/money"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// PayPalOrdersAPI is the subset of the PayPal SDK client the gateway uses.
// The SDK client caches the OAuth token and refreshes it before expiry.
type PayPalOrdersAPI interface {
	CreateOrderWithPaypalRequestID(ctx context.Context, intent string, units []paypal.PurchaseUnitRequest, payer *paypal.CreateOrderPayer, app *paypal.ApplicationContext, requestID string) (*paypal.Order, error)
	CaptureOrderWithPaypalRequestId(ctx context.Context, orderID string, req paypal.CaptureOrderRequest, requestID string, mock *paypal.CaptureOrderMockResponse) (*paypal.CaptureOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	GetAccessToken(ctx context.Context) (*paypal.TokenResponse, error)
}

// NewPayPalClient builds the SDK client for the given API base.
func NewPayPalClient(cfg PayPalConfig) (PayPalOrdersAPI, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("paypal: api base url is required")
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClient(cfg.Timeout)
	}
	c.SetHTTPClient(hc)
	return c, nil
}

// PayPalGateway drives the Orders v2 API: the order is created here,
// approved by the buyer in the PayPal popup and captured on confirm. The
// PayPal order id is the storefront order id.
type PayPalGateway struct {
	api PayPalOrdersAPI
}

func NewPayPalGateway(cfg PayPalConfig) (*PayPalGateway, error) {
	api, err := NewPayPalClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewPayPalGatewayWithAPI(api)
}

func NewPayPalGatewayWithAPI(api PayPalOrdersAPI) (*PayPalGateway, error) {
	if api == nil {
		return nil, errors.New("paypal: client is required")
	}
	return &PayPalGateway{api: api}, nil
}

func (g *PayPalGateway) Method() Method { return MethodPayPal }

func (g *PayPalGateway) OrderIDPolicy() OrderIDPolicy { return PolicyProviderRef }

func (g *PayPalGateway) CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error) {
	if err := req.validate(); err != nil {
		return SessionHandle{}, err
	}
	l := logging.FromContext(ctx).With("gateway", "paypal")

	unit := paypal.PurchaseUnitRequest{
		ReferenceID: req.SessionID,
		CustomID:    req.UserID,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    money.Format(req.Amount),
		},
	}
	if req.Payer.Name != "" {
		unit.Description = "Order by " + req.Payer.Name
	}
	var requestID string
	if req.IdempotencyKey != "" {
		requestID = "create-" + req.IdempotencyKey
	}

	var order *paypal.Order
	err := g.withToken(ctx, func() error {
		var err error
		order, err = g.api.CreateOrderWithPaypalRequestID(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{unit}, nil, nil, requestID)
		return err
	})
	if err != nil {
		return SessionHandle{}, paypalFailure("create order", err)
	}

	h := SessionHandle{Method: MethodPayPal, ProviderRef: order.ID}
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			h.ApproveURL = link.Href
		}
	}
	l.Info("paypal_order_created", "paypal_order_id", order.ID)
	return h, nil
}

// Confirm captures the approved order. A repeated confirm finds the order
// already captured and returns it as is.
func (g *PayPalGateway) Confirm(ctx context.Context, h SessionHandle, c Confirmation) (Result, error) {
	if err := checkConfirmation(MethodPayPal, c); err != nil {
		return Result{}, err
	}
	id := c.(PayPalConfirmation).OrderID
	if h.ProviderRef != "" && id != h.ProviderRef {
		return Result{}, fmt.Errorf("%w: paypal order does not belong to this session", ErrInvalidRequest)
	}
	l := logging.FromContext(ctx).With("gateway", "paypal", "paypal_order_id", id)

	var requestID string
	if h.SessionID != "" {
		requestID = "capture-" + h.SessionID
	}
	var capt *paypal.CaptureOrderResponse
	err := g.withToken(ctx, func() error {
		var err error
		capt, err = g.api.CaptureOrderWithPaypalRequestId(ctx, id, paypal.CaptureOrderRequest{}, requestID, nil)
		return err
	})
	if err != nil {
		if hasIssue(err, "ORDER_ALREADY_CAPTURED") {
			l.Info("paypal_order_already_captured")
			return g.lookup(ctx, id)
		}
		return Result{}, paypalFailure("capture order", err)
	}
	l.Info("paypal_order_captured", "status", capt.Status)

	r, err := g.lookup(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if cs := r.ProviderStatus; cs == "DECLINED" {
		return r, fmt.Errorf("paypal: capture %s: %w", r.TransactionID, &DeclinedError{Code: cs, Message: "capture declined"})
	}
	return r, nil
}

func (g *PayPalGateway) lookup(ctx context.Context, id string) (Result, error) {
	var order *paypal.Order
	err := g.withToken(ctx, func() error {
		var err error
		order, err = g.api.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return Result{}, paypalFailure("get order", err)
	}
	return paypalResult(order), nil
}

// withToken runs call and, when PayPal rejects the cached token, fetches a
// fresh one and runs it once more.
func (g *PayPalGateway) withToken(ctx context.Context, call func() error) error {
	err := call()
	if paypalStatus(err) != http.StatusUnauthorized {
		return err
	}
	logging.FromContext(ctx).Warn("paypal_token_rejected")
	if _, terr := g.api.GetAccessToken(ctx); terr != nil {
		return fmt.Errorf("%w: paypal token: %w", ErrGatewayUnavailable, terr)
	}
	return call()
}

func paypalStatus(err error) int {
	var pe *paypal.ErrorResponse
	if errors.As(err, &pe) && pe.Response != nil {
		return pe.Response.StatusCode
	}
	return 0
}

func hasIssue(err error, issue string) bool {
	var pe *paypal.ErrorResponse
	if !errors.As(err, &pe) {
		return false
	}
	for _, d := range pe.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func firstIssue(pe *paypal.ErrorResponse) string {
	if len(pe.Details) > 0 {
		return pe.Details[0].Issue
	}
	return pe.Name
}

// paypalFailure classifies an SDK error. Instrument problems are declines,
// other 4xx answers are invalid requests.
func paypalFailure(op string, err error) error {
	var pe *paypal.ErrorResponse
	if !errors.As(err, &pe) || pe.Response == nil {
		if errors.Is(err, ErrGatewayUnavailable) || transportFailure(err) {
			return fmt.Errorf("paypal: %s: %w: %w", op, ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("paypal: %s: %w", op, err)
	}
	status := pe.Response.StatusCode
	switch {
	case status == http.StatusUnprocessableEntity &&
		(hasIssue(err, "INSTRUMENT_DECLINED") || hasIssue(err, "PAYER_ACTION_REQUIRED") || hasIssue(err, "TRANSACTION_REFUSED")):
		return fmt.Errorf("paypal: %s: %w", op, &DeclinedError{Code: firstIssue(pe), Message: pe.Message})
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("paypal: %s: %w: paypal rejected credentials", op, ErrGatewayUnavailable)
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("paypal: %s: %w: status %d", op, ErrGatewayUnavailable, status)
	default:
		return fmt.Errorf("paypal: %s: %w: status %d: %s", op, ErrInvalidRequest, status, firstIssue(pe))
	}
}

func firstCapture(o *paypal.Order) *paypal.CaptureAmount {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

func paypalResult(o *paypal.Order) Result {
	r := Result{
		Method:         MethodPayPal,
		ProviderStatus: o.Status,
		ProviderRef:    o.ID,
		TransactionID:  o.ID,
		MethodLabel:    "PayPal",
	}
	switch o.Status {
	case "COMPLETED":
		r.Status = StatusSucceeded
	case "VOIDED":
		r.Status = StatusFailed
	default:
		r.Status = StatusPending
	}

	if capt := firstCapture(o); capt != nil {
		r.TransactionID = capt.ID
		if capt.Status == "DECLINED" {
			r.Status = StatusFailed
			r.ProviderStatus = capt.Status
		}
		if capt.Amount != nil {
			r.Amount, _ = money.Parse(capt.Amount.Value)
			r.Currency = capt.Amount.Currency
		}
	} else if len(o.PurchaseUnits) > 0 && o.PurchaseUnits[0].Amount != nil {
		r.Amount, _ = money.Parse(o.PurchaseUnits[0].Amount.Value)
		r.Currency = o.PurchaseUnits[0].Amount.Currency
	}

	var shipName string
	if len(o.PurchaseUnits) > 0 && o.PurchaseUnits[0].Shipping != nil {
		s := o.PurchaseUnits[0].Shipping
		if s.Name != nil {
			shipName = s.Name.FullName
		}
		if a := s.Address; a != nil {
			r.Shipping = &billing.Address{
				Recipient:   shipName,
				Line1:       a.AddressLine1,
				Line2:       a.AddressLine2,
				City:        a.AdminArea2,
				State:       a.AdminArea1,
				PostalCode:  a.PostalCode,
				CountryCode: a.CountryCode,
			}
		}
	}
	r.PayerName = shipName
	if p := o.Payer; p != nil {
		if p.Name != nil {
			r.PayerName = firstNonEmpty(shipName, strings.TrimSpace(p.Name.GivenName+" "+p.Name.Surname))
		}
		r.PayerEmail = p.EmailAddress
	}
	return r
}
