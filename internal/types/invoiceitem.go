package types

import (
	"fmt"

	"github.com/samber/lo"
)

// InvoiceItemType classifies a single line on an invoice. The set is closed:
// the calculator and the generation engine switch exhaustively over it.
type InvoiceItemType string

const (
	// Charges
	InvoiceItemTypeFixed          InvoiceItemType = "FIXED"
	InvoiceItemTypeRecurring      InvoiceItemType = "RECURRING"
	InvoiceItemTypeExternalCharge InvoiceItemType = "EXTERNAL_CHARGE"

	// Item-level adjustments
	InvoiceItemTypeItemAdj   InvoiceItemType = "ITEM_ADJ"
	InvoiceItemTypeRepairAdj InvoiceItemType = "REPAIR_ADJ"

	// Invoice-level adjustments
	InvoiceItemTypeCreditAdj InvoiceItemType = "CREDIT_ADJ"
	InvoiceItemTypeRefundAdj InvoiceItemType = "REFUND_ADJ"

	// Account credit, gained or consumed
	InvoiceItemTypeCBAAdj InvoiceItemType = "CBA_ADJ"
)

func (t InvoiceItemType) String() string {
	return string(t)
}

func (t InvoiceItemType) Validate() error {
	allowed := []InvoiceItemType{
		InvoiceItemTypeFixed,
		InvoiceItemTypeRecurring,
		InvoiceItemTypeExternalCharge,
		InvoiceItemTypeItemAdj,
		InvoiceItemTypeRepairAdj,
		InvoiceItemTypeCreditAdj,
		InvoiceItemTypeRefundAdj,
		InvoiceItemTypeCBAAdj,
	}
	if !lo.Contains(allowed, t) {
		return fmt.Errorf("invalid invoice item type: %s", t)
	}
	return nil
}

// IsCharge reports whether the item type is a regular charge line.
func (t InvoiceItemType) IsCharge() bool {
	return t == InvoiceItemTypeFixed ||
		t == InvoiceItemTypeRecurring ||
		t == InvoiceItemTypeExternalCharge
}

// IsItemAdjustment reports whether the item type adjusts a specific item.
func (t InvoiceItemType) IsItemAdjustment() bool {
	return t == InvoiceItemTypeItemAdj || t == InvoiceItemTypeRepairAdj
}

// IsAccountCredit reports whether the item moves money to or from the
// account credit balance.
func (t InvoiceItemType) IsAccountCredit() bool {
	return t == InvoiceItemTypeCBAAdj
}

// InvoicePaymentType distinguishes payments from money moving back out.
type InvoicePaymentType string

const (
	InvoicePaymentTypeAttempt     InvoicePaymentType = "ATTEMPT"
	InvoicePaymentTypeRefund      InvoicePaymentType = "REFUND"
	InvoicePaymentTypeChargedBack InvoicePaymentType = "CHARGED_BACK"
)

func (t InvoicePaymentType) String() string {
	return string(t)
}

func (t InvoicePaymentType) Validate() error {
	allowed := []InvoicePaymentType{
		InvoicePaymentTypeAttempt,
		InvoicePaymentTypeRefund,
		InvoicePaymentTypeChargedBack,
	}
	if !lo.Contains(allowed, t) {
		return fmt.Errorf("invalid invoice payment type: %s", t)
	}
	return nil
}
