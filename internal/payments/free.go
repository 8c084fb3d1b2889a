package payments

import (
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/storefront/internal/billing"
)

const freeStatus = "free"

// FreeResult is the synthetic confirmation for a zero-total order. It
// never touches a provider.
func FreeResult(currency string, payer billing.Info) Result {
	return Result{
		Method:         MethodFree,
		Status:         StatusSucceeded,
		ProviderStatus: freeStatus,
		MethodLabel:    "Free",
		PayerName:      payer.Name,
		PayerEmail:     payer.Email,
		Amount:         decimal.Zero,
		Currency:       currency,
	}
}
