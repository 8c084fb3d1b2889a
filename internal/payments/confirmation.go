package payments

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Confirmation is the client supplied proof that the buyer completed the
// payment. Each method has its own variant.
type Confirmation interface {
	Method() Method
	validate() error
}

type CardConfirmation struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (CardConfirmation) Method() Method { return MethodCard }

func (c CardConfirmation) validate() error {
	if strings.TrimSpace(c.PaymentIntentID) == "" {
		return fmt.Errorf("%w: payment_intent_id required", ErrInvalidRequest)
	}
	return nil
}

type StripeWalletConfirmation struct {
	PaymentMethodID string `json:"payment_method_id"`
}

func (StripeWalletConfirmation) Method() Method { return MethodStripeWallet }

func (c StripeWalletConfirmation) validate() error {
	if strings.TrimSpace(c.PaymentMethodID) == "" {
		return fmt.Errorf("%w: payment_method_id required", ErrInvalidRequest)
	}
	return nil
}

type PayPalConfirmation struct {
	OrderID string `json:"paypal_order_id"`
}

func (PayPalConfirmation) Method() Method { return MethodPayPal }

func (c PayPalConfirmation) validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("%w: paypal_order_id required", ErrInvalidRequest)
	}
	return nil
}

type BraintreeConfirmation struct {
	Nonce      string `json:"nonce"`
	DeviceData string `json:"device_data,omitempty"`
}

func (BraintreeConfirmation) Method() Method { return MethodBraintreeWallet }

func (c BraintreeConfirmation) validate() error {
	if strings.TrimSpace(c.Nonce) == "" {
		return fmt.Errorf("%w: nonce required", ErrInvalidRequest)
	}
	return nil
}

type FreeConfirmation struct{}

func (FreeConfirmation) Method() Method { return MethodFree }

func (FreeConfirmation) validate() error { return nil }

// DecodeConfirmation reads the variant for m from a JSON body.
func DecodeConfirmation(m Method, raw json.RawMessage) (Confirmation, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var c Confirmation
	switch m {
	case MethodCard:
		var v CardConfirmation
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		c = v
	case MethodStripeWallet:
		var v StripeWalletConfirmation
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		c = v
	case MethodPayPal:
		var v PayPalConfirmation
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		c = v
	case MethodBraintreeWallet:
		var v BraintreeConfirmation
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		c = v
	case MethodFree:
		c = FreeConfirmation{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func checkConfirmation(want Method, c Confirmation) error {
	if c == nil {
		return fmt.Errorf("%w: confirmation required", ErrInvalidRequest)
	}
	if c.Method() != want {
		return fmt.Errorf("%w: %s confirmation for %s session", ErrInvalidRequest, c.Method(), want)
	}
	return c.validate()
}
