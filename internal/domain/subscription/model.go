package subscription

import (
	"time"

	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is the read-side view of a subscription the billing core
// needs: enough to walk its billing timeline and to cancel it during
// overdue enforcement. Provisioning and plan catalogs live elsewhere.
type Subscription struct {
	ID        string `db:"id" json:"id"`
	BundleID  string `db:"bundle_id" json:"bundle_id"`
	AccountID string `db:"account_id" json:"account_id"`

	// Category distinguishes base subscriptions from add-ons. Add-ons are
	// never cancelled directly by overdue enforcement; their base
	// subscription cancels them transitively.
	Category types.ProductCategory `db:"category" json:"category"`

	types.BaseModel
}

// BillingTransition is one entry of a subscription's ordered billing
// timeline: the plan, phase, period and recurring price in effect from
// EffectiveDate until the next transition (or forever, for the last one).
// A cancellation is a transition with IsCancellation set; its price and
// period are ignored.
type BillingTransition struct {
	SubscriptionID string                `json:"subscription_id"`
	PlanName       string                `json:"plan_name"`
	PhaseName      string                `json:"phase_name"`
	BillingPeriod  types.BillingPeriod   `json:"billing_period"`
	FixedPrice     decimal.Decimal       `json:"fixed_price"`
	RecurringPrice decimal.Decimal       `json:"recurring_price"`
	EffectiveDate  time.Time             `json:"effective_date"`
	IsCancellation bool                  `json:"is_cancellation"`
	Category       types.ProductCategory `json:"category"`
}

// HasFixedPrice reports whether this transition carries a one-off fixed
// charge at its effective date (typically a trial or setup fee).
func (t BillingTransition) HasFixedPrice() bool {
	return !t.FixedPrice.IsZero()
}
