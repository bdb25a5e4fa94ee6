package invoice

import (
	"time"

	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// The calculator is a set of pure functions over invoice items and invoice
// payments. Nothing here touches a repository or a clock; every result is
// rounded to the caller's monetary scale with the caller's rounding mode.

// isInvoiceLevelAdjustment reports whether the item adjusts the invoice as
// a whole. REFUND_ADJ always does. CREDIT_ADJ does too, except in the
// special case where the only other item on the same invoice is a CBA_ADJ
// of equal and opposite amount: that shape is a credit immediately consumed
// into account balance, counted by ComputeAmountAdjustedForAccountCredit
// instead so it is not double counted.
func isInvoiceLevelAdjustment(item *InvoiceItem, allItems []*InvoiceItem) bool {
	switch item.Type {
	case types.InvoiceItemTypeRefundAdj:
		return true
	case types.InvoiceItemTypeCreditAdj:
		return !isImmediatelyConsumedCredit(item, allItems)
	default:
		return false
	}
}

func isImmediatelyConsumedCredit(item *InvoiceItem, allItems []*InvoiceItem) bool {
	var others []*InvoiceItem
	for _, other := range allItems {
		if other.ID == item.ID {
			continue
		}
		if other.InvoiceID == item.InvoiceID {
			others = append(others, other)
		}
	}
	return len(others) == 1 &&
		others[0].Type == types.InvoiceItemTypeCBAAdj &&
		others[0].Amount.Equal(item.Amount.Neg())
}

// ComputeAmountCharged sums the invoice's charges (FIXED, RECURRING,
// EXTERNAL_CHARGE), its invoice-level adjustments, and its item
// adjustments (ITEM_ADJ, REPAIR_ADJ). Adjustment amounts are negative, so
// the result is the net charged amount.
func ComputeAmountCharged(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		if item.Type.IsCharge() || item.Type.IsItemAdjustment() || isInvoiceLevelAdjustment(item, inv.Items) {
			sum = sum.Add(item.Amount)
		}
	}
	return rounding.Apply(sum, scale)
}

// ComputeOriginalAmountCharged is ComputeAmountCharged restricted to the
// charges created at invoice creation time, before any later appended
// adjustments.
func ComputeOriginalAmountCharged(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		if item.Type.IsCharge() && item.CreatedAt.Equal(inv.CreatedAt) {
			sum = sum.Add(item.Amount)
		}
	}
	return rounding.Apply(sum, scale)
}

// ComputeAmountCredited sums the invoice's CBA_ADJ items. Positive when
// the invoice granted account credit, negative when it consumed it.
func ComputeAmountCredited(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		if item.Type.IsAccountCredit() {
			sum = sum.Add(item.Amount)
		}
	}
	return rounding.Apply(sum, scale)
}

// ComputeAmountAdjustedForAccountCredit sums the CREDIT_ADJ items excluded
// from ComputeAmountCharged because their credit was immediately and fully
// consumed by a paired CBA_ADJ on the same invoice.
func ComputeAmountAdjustedForAccountCredit(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		if item.Type == types.InvoiceItemTypeCreditAdj && isImmediatelyConsumedCredit(item, inv.Items) {
			sum = sum.Add(item.Amount)
		}
	}
	return rounding.Apply(sum, scale)
}

// ComputeAmountPaid sums successful ATTEMPT payments.
func ComputeAmountPaid(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range inv.Payments {
		if p.Type == types.InvoicePaymentTypeAttempt && p.Success {
			sum = sum.Add(p.Amount)
		}
	}
	return rounding.Apply(sum, scale)
}

// ComputeAmountRefunded sums REFUND and CHARGED_BACK payments. Refund
// amounts are stored negative, so the result is negative or zero.
func ComputeAmountRefunded(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range inv.Payments {
		if p.Type == types.InvoicePaymentTypeRefund || p.Type == types.InvoicePaymentTypeChargedBack {
			sum = sum.Add(p.Amount)
		}
	}
	return rounding.Apply(sum, scale)
}

// ComputeBalance is the invoice balance:
//
//	charged + credited + adjustedForAccountCredit - paid - refunded
//
// Refunded is negative, so subtracting it re-opens the refunded amount.
// Migrated invoices always balance to zero.
func ComputeBalance(inv *Invoice, scale int32, rounding types.RoundingMode) decimal.Decimal {
	if inv.Migrated {
		return rounding.Apply(decimal.Zero, scale)
	}
	balance := ComputeAmountCharged(inv, scale, rounding).
		Add(ComputeAmountCredited(inv, scale, rounding)).
		Add(ComputeAmountAdjustedForAccountCredit(inv, scale, rounding)).
		Sub(ComputeAmountPaid(inv, scale, rounding)).
		Sub(ComputeAmountRefunded(inv, scale, rounding))
	return rounding.Apply(balance, scale)
}

// TaxFactor is one effective-dated entry of the historical tax table.
type TaxFactor struct {
	EffectiveDate time.Time
	Factor        decimal.Decimal
}

// ComputeAmountExclTax divides a tax-inclusive amount by the factor in
// effect at the given date. The table is consulted newest first; the first
// entry whose effective date is strictly before the date wins. Dates before
// the earliest entry use factor 1.
func ComputeAmountExclTax(amount decimal.Decimal, date time.Time, table []TaxFactor, scale int32, rounding types.RoundingMode) decimal.Decimal {
	for i := len(table) - 1; i >= 0; i-- {
		if table[i].EffectiveDate.Before(date) {
			return rounding.Apply(amount.Div(table[i].Factor), scale)
		}
	}
	return rounding.Apply(amount, scale)
}
