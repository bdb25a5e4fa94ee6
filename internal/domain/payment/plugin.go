package payment

import (
	"context"

	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// PluginResult is the gateway's answer to one payment call.
type PluginResult struct {
	Status            types.PaymentPluginStatus
	ProcessedAmount   decimal.Decimal
	ProcessedCurrency string
	GatewayErrorCode  string
	GatewayError      string
}

// Plugin is the payment gateway contract. A returned error (as opposed to
// an ERROR status) is classified as a plugin failure, not a payment
// decline. Implementations may block; the processor bounds them with a
// timeout and a worker pool.
type Plugin interface {
	ProcessPayment(ctx context.Context, accountID, paymentID, paymentMethodID string, amount decimal.Decimal, currency string) (*PluginResult, error)
}
