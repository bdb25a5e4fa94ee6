package payment

import (
	"time"

	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// Payment is the aggregate driven by the payment state machine. It is
// mutated only under the account-scoped lock.
type Payment struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	InvoiceID       string `json:"invoice_id"`
	PaymentMethodID string `json:"payment_method_id"`

	RequestedAmount   decimal.Decimal `json:"requested_amount"`
	RequestedCurrency string          `json:"requested_currency"`

	// Processed amount/currency as reported by the gateway; zero until a
	// gateway call completes.
	ProcessedAmount   decimal.Decimal `json:"processed_amount"`
	ProcessedCurrency string          `json:"processed_currency"`

	PaymentStatus types.PaymentStatus `json:"payment_status"`

	// IdempotencyKey deduplicates concurrent payment requests for the
	// same invoice. Two in-flight payments never share a key.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Attempts in creation order. Append-only; attempts are never deleted.
	Attempts []*PaymentAttempt `json:"attempts,omitempty"`

	types.BaseModel
}

// PaymentAttempt records one pass through the state machine.
type PaymentAttempt struct {
	ID              string              `json:"id"`
	PaymentID       string              `json:"payment_id"`
	RequestedAmount decimal.Decimal     `json:"requested_amount"`
	EffectiveDate   time.Time           `json:"effective_date"`
	Status          types.PaymentStatus `json:"status"`

	// Gateway diagnostics, recorded even for aborted attempts.
	GatewayErrorCode string `json:"gateway_error_code,omitempty"`
	GatewayErrorMsg  string `json:"gateway_error_msg,omitempty"`

	types.BaseModel
}

// New creates a payment in INIT with no attempts yet.
func New(accountID, invoiceID, paymentMethodID string, amount decimal.Decimal, currency string, base types.BaseModel) *Payment {
	return &Payment{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		AccountID:         accountID,
		InvoiceID:         invoiceID,
		PaymentMethodID:   paymentMethodID,
		RequestedAmount:   amount,
		RequestedCurrency: currency,
		PaymentStatus:     types.PaymentStatusInit,
		BaseModel:         base,
	}
}

// NewAttempt creates an attempt shell for this payment at the given time.
func (p *Payment) NewAttempt(effectiveDate time.Time, base types.BaseModel) *PaymentAttempt {
	return &PaymentAttempt{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_ATTEMPT),
		PaymentID:       p.ID,
		RequestedAmount: p.RequestedAmount,
		EffectiveDate:   effectiveDate,
		Status:          types.PaymentStatusInit,
		BaseModel:       base,
	}
}

// CurrentAttempt returns the most recent attempt, nil when none exist.
func (p *Payment) CurrentAttempt() *PaymentAttempt {
	if len(p.Attempts) == 0 {
		return nil
	}
	return p.Attempts[len(p.Attempts)-1]
}

// AttemptCountInStatus counts attempts recorded in any of the given
// statuses. The retry schedulers use it to index their delay tables.
func (p *Payment) AttemptCountInStatus(statuses ...types.PaymentStatus) int {
	count := 0
	for _, a := range p.Attempts {
		for _, s := range statuses {
			if a.Status == s {
				count++
				break
			}
		}
	}
	return count
}

func (p *Payment) Validate() error {
	if !p.RequestedAmount.IsPositive() {
		return ierr.NewError("payment amount must be positive").
			WithHintf("Got %s", p.RequestedAmount).
			Mark(ierr.ErrValidation)
	}
	if p.AccountID == "" || p.InvoiceID == "" {
		return ierr.NewError("payment missing parent ids").
			WithHint("Payment requires both account id and invoice id").
			Mark(ierr.ErrValidation)
	}
	return p.PaymentStatus.Validate()
}
