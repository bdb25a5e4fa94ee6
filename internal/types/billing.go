package types

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// BillingPeriod is the recurring charge cadence of a plan phase.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "MONTHLY"
	BillingPeriodAnnual  BillingPeriod = "ANNUAL"
)

func (p BillingPeriod) String() string {
	return string(p)
}

func (p BillingPeriod) Validate() error {
	allowed := []BillingPeriod{
		BillingPeriodMonthly,
		BillingPeriodAnnual,
	}
	if !lo.Contains(allowed, p) {
		return fmt.Errorf("invalid billing period: %s", p)
	}
	return nil
}

// AddTo returns the end of one billing period starting at the given date.
func (p BillingPeriod) AddTo(t time.Time) time.Time {
	switch p {
	case BillingPeriodAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// RepairStrategy selects how previously invoiced periods invalidated by a
// billing change are reversed.
type RepairStrategy string

const (
	// RepairStrategyPartial reverses only the invalidated slice of a
	// recurring item, prorated by day count.
	RepairStrategyPartial RepairStrategy = "PARTIAL_REPAIR"
	// RepairStrategyFull reverses the entire original item and re-invoices
	// the remaining valid coverage as new items.
	RepairStrategyFull RepairStrategy = "FULL_REPAIR"
)

func (s RepairStrategy) String() string {
	return string(s)
}

func (s RepairStrategy) Validate() error {
	allowed := []RepairStrategy{
		RepairStrategyPartial,
		RepairStrategyFull,
	}
	if !lo.Contains(allowed, s) {
		return fmt.Errorf("invalid repair strategy: %s", s)
	}
	return nil
}

// BillingActionPolicy controls when a cancellation driven by overdue
// enforcement becomes effective.
type BillingActionPolicy string

const (
	BillingActionPolicyNone      BillingActionPolicy = "NONE"
	BillingActionPolicyEndOfTerm BillingActionPolicy = "END_OF_TERM"
	BillingActionPolicyImmediate BillingActionPolicy = "IMMEDIATE"
)

func (p BillingActionPolicy) String() string {
	return string(p)
}

func (p BillingActionPolicy) Validate() error {
	allowed := []BillingActionPolicy{
		BillingActionPolicyNone,
		BillingActionPolicyEndOfTerm,
		BillingActionPolicyImmediate,
	}
	if !lo.Contains(allowed, p) {
		return fmt.Errorf("invalid billing action policy: %s", p)
	}
	return nil
}

// ProductCategory distinguishes base subscriptions from add-ons; add-ons are
// cancelled transitively by their base subscription.
type ProductCategory string

const (
	ProductCategoryBase  ProductCategory = "BASE"
	ProductCategoryAddOn ProductCategory = "ADD_ON"
)
