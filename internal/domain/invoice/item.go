package invoice

import (
	"time"

	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceItem is one immutable ledger entry on an invoice. Items are
// created once and never mutated; reversing an item means inserting a new
// item of a different type (REPAIR_ADJ, ITEM_ADJ) that references it via
// LinkedItemID.
type InvoiceItem struct {
	ID             string                `json:"id"`
	InvoiceID      string                `json:"invoice_id"`
	AccountID      string                `json:"account_id"`
	SubscriptionID *string               `json:"subscription_id,omitempty"`
	Type           types.InvoiceItemType `json:"type"`

	// PlanName and PhaseName describe the catalog slice a recurring or
	// fixed charge was billed under. Empty for adjustments and credits.
	PlanName  string `json:"plan_name,omitempty"`
	PhaseName string `json:"phase_name,omitempty"`

	// StartDate and EndDate bound the service period. EndDate is nil for
	// one-off items (fixed charges, credits, CBA entries).
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Amount is signed and already scaled to the invoice currency.
	// Charges are positive, adjustments negative, CBA entries either.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// LinkedItemID references the charge this item adjusts or repairs.
	// Set for ITEM_ADJ and REPAIR_ADJ, nil otherwise.
	LinkedItemID *string `json:"linked_item_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (i *InvoiceItem) Validate() error {
	if err := i.Type.Validate(); err != nil {
		return err
	}
	if i.InvoiceID == "" || i.AccountID == "" {
		return ierr.NewError("invoice item missing parent ids").
			WithHint("Invoice item requires both invoice id and account id").
			Mark(ierr.ErrValidation)
	}
	if i.Currency == "" {
		return ierr.NewError("invoice item missing currency").
			WithHint("Invoice item requires a currency").
			Mark(ierr.ErrValidation)
	}
	if i.Type.IsItemAdjustment() && i.LinkedItemID == nil {
		return ierr.NewError("adjustment item missing linked item").
			WithHintf("%s items must reference the charge they adjust", i.Type).
			Mark(ierr.ErrValidation)
	}
	if i.EndDate != nil && i.EndDate.Before(i.StartDate) {
		return ierr.NewError("invoice item period is inverted").
			WithHintf("End date %s is before start date %s",
				i.EndDate.Format(time.DateOnly), i.StartDate.Format(time.DateOnly)).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func newItem(parent invoiceItemContext, itemType types.InvoiceItemType, amount decimal.Decimal) *InvoiceItem {
	return &InvoiceItem{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_ITEM),
		InvoiceID: parent.InvoiceID,
		AccountID: parent.AccountID,
		Type:      itemType,
		Amount:    amount,
		Currency:  parent.Currency,
		CreatedAt: parent.CreatedAt,
	}
}

// invoiceItemContext carries the parent identifiers every constructor needs.
type invoiceItemContext struct {
	InvoiceID string
	AccountID string
	Currency  string
	CreatedAt time.Time
}

// NewRecurringItem creates a recurring charge for the service period
// [startDate, endDate). Amount must be positive.
func NewRecurringItem(invoiceID, accountID, subscriptionID, planName, phaseName string, startDate, endDate time.Time, amount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if !amount.IsPositive() {
		return nil, ierr.NewError("recurring amount must be positive").
			WithHintf("Got %s", amount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeRecurring, amount)
	item.SubscriptionID = types.ToNillableString(subscriptionID)
	item.PlanName = planName
	item.PhaseName = phaseName
	item.StartDate = startDate
	item.EndDate = types.ToNillableTime(endDate)
	return item, nil
}

// NewFixedItem creates a one-off fixed charge effective at startDate.
func NewFixedItem(invoiceID, accountID, subscriptionID, planName, phaseName string, startDate time.Time, amount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if amount.IsNegative() {
		return nil, ierr.NewError("fixed amount must not be negative").
			WithHintf("Got %s", amount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeFixed, amount)
	item.SubscriptionID = types.ToNillableString(subscriptionID)
	item.PlanName = planName
	item.PhaseName = phaseName
	item.StartDate = startDate
	return item, nil
}

// NewExternalChargeItem creates a charge originating outside the
// subscription machinery. Amount must be positive.
func NewExternalChargeItem(invoiceID, accountID string, effectiveDate time.Time, amount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if !amount.IsPositive() {
		return nil, ierr.NewError("external charge amount must be positive").
			WithHintf("Got %s", amount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeExternalCharge, amount)
	item.StartDate = effectiveDate
	return item, nil
}

// NewCreditAdjItem creates an invoice-level credit. The stored amount is
// the negation of the requested positive credit.
func NewCreditAdjItem(invoiceID, accountID string, effectiveDate time.Time, creditAmount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if !creditAmount.IsPositive() {
		return nil, ierr.NewError("credit amount must be positive").
			WithHintf("Got %s", creditAmount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeCreditAdj, creditAmount.Neg())
	item.StartDate = effectiveDate
	return item, nil
}

// NewItemAdjItem creates a manual adjustment against a specific charge.
// The stored amount is the negation of the requested positive amount.
func NewItemAdjItem(invoiceID, accountID, linkedItemID string, effectiveDate time.Time, adjustmentAmount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if !adjustmentAmount.IsPositive() {
		return nil, ierr.NewError("item adjustment amount must be positive").
			WithHintf("Got %s", adjustmentAmount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeItemAdj, adjustmentAmount.Neg())
	item.StartDate = effectiveDate
	item.LinkedItemID = types.ToNillableString(linkedItemID)
	return item, nil
}

// NewRepairAdjItem creates the negative adjustment reversing the slice
// [startDate, endDate) of a previously invoiced charge. Amount is negative.
func NewRepairAdjItem(invoiceID, accountID, linkedItemID string, startDate, endDate time.Time, amount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if !amount.IsNegative() {
		return nil, ierr.NewError("repair amount must be negative").
			WithHintf("Got %s", amount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeRepairAdj, amount)
	item.StartDate = startDate
	item.EndDate = types.ToNillableTime(endDate)
	item.LinkedItemID = types.ToNillableString(linkedItemID)
	return item, nil
}

// NewCBAAdjItem creates an account credit movement on the given invoice.
// Positive amounts grant credit, negative amounts consume it.
func NewCBAAdjItem(invoiceID, accountID string, effectiveDate time.Time, amount decimal.Decimal, currency string, createdAt time.Time) *InvoiceItem {
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeCBAAdj, amount)
	item.StartDate = effectiveDate
	return item
}

// NewRefundAdjItem records an invoice-level refund adjustment. Amount is
// negative.
func NewRefundAdjItem(invoiceID, accountID string, effectiveDate time.Time, amount decimal.Decimal, currency string, createdAt time.Time) (*InvoiceItem, error) {
	if !amount.IsNegative() {
		return nil, ierr.NewError("refund adjustment amount must be negative").
			WithHintf("Got %s", amount).
			Mark(ierr.ErrValidation)
	}
	item := newItem(invoiceItemContext{invoiceID, accountID, currency, createdAt}, types.InvoiceItemTypeRefundAdj, amount)
	item.StartDate = effectiveDate
	return item, nil
}
