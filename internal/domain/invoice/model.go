package invoice

import (
	"time"

	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// Invoice is the aggregate root for one billing run's output. Once
// persisted it is immutable except for appended adjustment items and
// recorded payments.
type Invoice struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	AccountID     string `json:"account_id"`

	// InvoiceDate is the instant the invoice was generated; TargetDate is
	// the local date generation was requested for.
	InvoiceDate time.Time `json:"invoice_date"`
	TargetDate  time.Time `json:"target_date"`

	Currency string `json:"currency"`

	// Migrated invoices were imported from a previous system and are
	// excluded from balance computations.
	Migrated bool `json:"migrated"`

	Items    []*InvoiceItem    `json:"items,omitempty"`
	Payments []*InvoicePayment `json:"payments,omitempty"`

	types.BaseModel
}

// InvoicePayment records a payment movement against an invoice.
type InvoicePayment struct {
	ID            string                   `json:"id"`
	InvoiceID     string                   `json:"invoice_id"`
	PaymentID     string                   `json:"payment_id"`
	Type          types.InvoicePaymentType `json:"type"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
	Success       bool                     `json:"success"`
	EffectiveDate time.Time                `json:"effective_date"`

	types.BaseModel
}

// New creates an empty invoice shell for the account at the given dates.
func New(accountID, currency string, invoiceDate, targetDate time.Time, base types.BaseModel) *Invoice {
	return &Invoice{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		InvoiceNumber: types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_INVOICE),
		AccountID:     accountID,
		InvoiceDate:   invoiceDate,
		TargetDate:    targetDate,
		Currency:      currency,
		BaseModel:     base,
	}
}

// AddItem appends an item to the in-memory aggregate. Persistence happens
// through the repository in one transaction.
func (inv *Invoice) AddItem(item *InvoiceItem) {
	inv.Items = append(inv.Items, item)
}

// ItemsForSubscription returns the invoice's items belonging to the given
// subscription, in stored order.
func (inv *Invoice) ItemsForSubscription(subscriptionID string) []*InvoiceItem {
	var out []*InvoiceItem
	for _, item := range inv.Items {
		if item.SubscriptionID != nil && *item.SubscriptionID == subscriptionID {
			out = append(out, item)
		}
	}
	return out
}

// Balance computes the invoice balance at the given monetary scale and
// rounding mode. Migrated invoices always balance to zero.
func (inv *Invoice) Balance(scale int32, rounding types.RoundingMode) decimal.Decimal {
	return ComputeBalance(inv, scale, rounding)
}
