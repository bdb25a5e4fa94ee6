package service

import (
	"context"
	"sort"
	"time"

	"github.com/dynacloud/killbill/internal/domain/account"
	"github.com/dynacloud/killbill/internal/domain/invoice"
	"github.com/dynacloud/killbill/internal/domain/subscription"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceGenerator is the repair and reconciliation engine. Given an
// account's billing timelines and its previously persisted invoices, it
// computes the new charges up to the target date, the REPAIR_ADJ items
// negating invalidated coverage, and the CBA_ADJ credit movements. It
// performs no persistence; the dispatcher owns that.
type InvoiceGenerator struct {
	ServiceParams
}

func NewInvoiceGenerator(params ServiceParams) *InvoiceGenerator {
	return &InvoiceGenerator{ServiceParams: params}
}

// GenerationResult is one generation pass's output.
type GenerationResult struct {
	// NewInvoice holds the freshly generated charges and their CBA
	// consumption, nil when only existing invoices were adjusted.
	NewInvoice *invoice.Invoice

	// AdjustedItems are repair and credit items to append to previously
	// persisted invoices, keyed by invoice id.
	AdjustedItems map[string][]*invoice.InvoiceItem
}

// IsEmpty reports whether the pass produced nothing at all.
func (r *GenerationResult) IsEmpty() bool {
	return (r.NewInvoice == nil || len(r.NewInvoice.Items) == 0) && len(r.AdjustedItems) == 0
}

// chargeSpec is one proposed slice of billable coverage derived from the
// timeline: the slice [StartDate, EndDate) of the billing period
// [PeriodStart, PeriodEnd) under the given plan.
type chargeSpec struct {
	SubscriptionID string
	PlanName       string
	PhaseName      string
	BillingPeriod  types.BillingPeriod
	Price          decimal.Decimal
	Fixed          bool
	StartDate      time.Time
	EndDate        time.Time
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// existingCharge is a previously persisted RECURRING item together with
// the adjustments and repairs already recorded against it.
type existingCharge struct {
	item          *invoice.InvoiceItem
	adjusted      decimal.Decimal // sum of linked ITEM_ADJ, negative or zero
	repaired      decimal.Decimal // sum of linked REPAIR_ADJ, negative or zero
	repairedUpTo  *time.Time      // earliest start of a linked repair, nil when none
	fullyRepaired bool
}

// Generate computes the generation result for one account at one target
// date with the given repair strategy. Returns ErrNothingToGenerate when
// no new items and no adjustments result.
func (g *InvoiceGenerator) Generate(ctx context.Context, acct *account.Account, targetDate time.Time, strategy types.RepairStrategy) (*GenerationResult, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	subs, err := g.Timeline.GetByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	invoices, err := g.InvoiceRepo.GetByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}

	now := g.Clock.UTCNow()
	result := &GenerationResult{AdjustedItems: make(map[string][]*invoice.InvoiceItem)}
	newInvoice := invoice.New(acct.ID, acct.Currency, now, targetDate, types.GetDefaultBaseModel(ctx))

	// repairCredit accumulates the CBA granted by this pass's repairs so
	// the new invoice can consume it before it is even persisted.
	repairCredit := decimal.Zero

	for _, sub := range subs {
		transitions, err := g.Timeline.GetTransitions(ctx, sub.ID, targetDate)
		if err != nil {
			return nil, err
		}
		if len(transitions) == 0 {
			continue
		}

		proposed := g.proposeCharges(sub.ID, transitions, targetDate)
		existing := collectExistingCharges(sub.ID, invoices)

		credit, err := g.repairInvalidated(ctx, existing, proposed, targetDate, strategy, result)
		if err != nil {
			return nil, err
		}
		repairCredit = repairCredit.Add(credit)

		if err := g.chargeNewCoverage(proposed, existing, invoices, strategy, newInvoice); err != nil {
			return nil, err
		}
	}

	if len(newInvoice.Items) > 0 {
		if err := g.consumeAccountCredit(ctx, acct.ID, newInvoice, repairCredit, targetDate); err != nil {
			return nil, err
		}
		result.NewInvoice = newInvoice
	}

	if result.IsEmpty() {
		return nil, ierr.NewError("no invoice items to generate").
			WithHintf("Account %s has nothing to invoice at %s",
				acct.ID, targetDate.Format(time.DateOnly)).
			Mark(ierr.ErrNothingToGenerate)
	}
	return result, nil
}

// proposeCharges walks the subscription's transition timeline and emits
// the billable coverage up to the target date. Billing periods anchor at
// the first transition's effective date; a plan change mid-period keeps
// the in-flight period's boundaries, so the new plan's first slice is
// prorated against the old period before full periods resume at the next
// boundary.
func (g *InvoiceGenerator) proposeCharges(subscriptionID string, transitions []subscription.BillingTransition, targetDate time.Time) []chargeSpec {
	var specs []chargeSpec

	// horizon bounds the last window when no cancellation ends it
	horizon := targetDate.AddDate(10, 0, 0)

	type window struct {
		t     subscription.BillingTransition
		start time.Time
		end   time.Time
	}
	var windows []window
	for i, t := range transitions {
		if t.IsCancellation {
			break
		}
		end := horizon
		if i+1 < len(transitions) {
			end = transitions[i+1].EffectiveDate
		}
		windows = append(windows, window{t: t, start: t.EffectiveDate, end: end})
	}
	if len(windows) == 0 {
		return nil
	}

	for _, w := range windows {
		if w.t.HasFixedPrice() && !w.t.EffectiveDate.After(targetDate) {
			specs = append(specs, chargeSpec{
				SubscriptionID: subscriptionID,
				PlanName:       w.t.PlanName,
				PhaseName:      w.t.PhaseName,
				Price:          w.t.FixedPrice,
				Fixed:          true,
				StartDate:      w.t.EffectiveDate,
				EndDate:        w.t.EffectiveDate,
				PeriodStart:    w.t.EffectiveDate,
				PeriodEnd:      w.t.EffectiveDate,
			})
		}
	}

	periodStart := windows[0].start
	var inFlightEnd *time.Time
	for _, w := range windows {
		for periodStart.Before(w.end) && !periodStart.After(targetDate) {
			var periodEnd time.Time
			if inFlightEnd != nil {
				periodEnd = *inFlightEnd
				inFlightEnd = nil
			} else {
				periodEnd = w.t.BillingPeriod.AddTo(periodStart)
			}

			sliceStart := maxTime(periodStart, w.start)
			sliceEnd := minTime(periodEnd, w.end)
			if sliceStart.Before(sliceEnd) && !w.t.RecurringPrice.IsZero() {
				specs = append(specs, chargeSpec{
					SubscriptionID: subscriptionID,
					PlanName:       w.t.PlanName,
					PhaseName:      w.t.PhaseName,
					BillingPeriod:  w.t.BillingPeriod,
					Price:          w.t.RecurringPrice,
					StartDate:      sliceStart,
					EndDate:        sliceEnd,
					PeriodStart:    periodStart,
					PeriodEnd:      periodEnd,
				})
			}

			if periodEnd.After(w.end) {
				// window cut mid-period; the next window continues
				// inside this period
				end := periodEnd
				inFlightEnd = &end
				break
			}
			periodStart = periodEnd
		}
	}
	return specs
}

// collectExistingCharges gathers the subscription's persisted RECURRING
// items across all non-migrated invoices, with their linked adjustments
// and repairs netted in.
func collectExistingCharges(subscriptionID string, invoices []*invoice.Invoice) []*existingCharge {
	byID := make(map[string]*existingCharge)
	var charges []*existingCharge

	for _, inv := range invoices {
		if inv.Migrated {
			continue
		}
		for _, item := range inv.ItemsForSubscription(subscriptionID) {
			if item.Type == types.InvoiceItemTypeRecurring {
				c := &existingCharge{item: item, adjusted: decimal.Zero, repaired: decimal.Zero}
				byID[item.ID] = c
				charges = append(charges, c)
			}
		}
	}
	for _, inv := range invoices {
		for _, item := range inv.Items {
			if item.LinkedItemID == nil {
				continue
			}
			c, ok := byID[*item.LinkedItemID]
			if !ok {
				continue
			}
			switch item.Type {
			case types.InvoiceItemTypeItemAdj:
				c.adjusted = c.adjusted.Add(item.Amount)
			case types.InvoiceItemTypeRepairAdj:
				c.repaired = c.repaired.Add(item.Amount)
				if c.repairedUpTo == nil || item.StartDate.Before(*c.repairedUpTo) {
					start := item.StartDate
					c.repairedUpTo = &start
				}
			}
		}
	}
	for _, c := range charges {
		// Only repairs invalidate coverage. An item adjusted to zero was
		// still delivered and is not re-invoiced.
		c.fullyRepaired = c.item.Amount.Add(c.repaired).LessThanOrEqual(decimal.Zero)
	}
	sort.SliceStable(charges, func(i, j int) bool {
		return charges[i].item.StartDate.Before(charges[j].item.StartDate)
	})
	return charges
}

// repairInvalidated emits REPAIR_ADJ and paired CBA_ADJ items for every
// existing charge whose coverage the timeline no longer supports. Returns
// the total CBA credit granted by the repairs.
func (g *InvoiceGenerator) repairInvalidated(ctx context.Context, existing []*existingCharge, proposed []chargeSpec, targetDate time.Time, strategy types.RepairStrategy, result *GenerationResult) (decimal.Decimal, error) {
	totalCredit := decimal.Zero
	scale, rounding := g.Scale(), g.Rounding()

	for _, c := range existing {
		if c.item.EndDate == nil {
			continue
		}
		itemStart, itemEnd := c.item.StartDate, *c.item.EndDate

		validEnd := coveredUntil(c.item.PlanName, itemStart, itemEnd, proposed)
		if !validEnd.Before(itemEnd) {
			continue // fully valid, nothing to repair
		}
		if c.repairedUpTo != nil && !c.repairedUpTo.After(validEnd) {
			continue // invalidated slice already repaired by a prior pass
		}

		// repair amount before netting prior adjustments
		var gross decimal.Decimal
		var repairStart, repairEnd time.Time
		switch strategy {
		case types.RepairStrategyFull:
			gross = c.item.Amount
			repairStart, repairEnd = itemStart, itemEnd
		default:
			prorated, err := invoice.Prorate(c.item.Amount, validEnd, itemEnd, itemStart, itemEnd, scale, rounding)
			if err != nil {
				return decimal.Zero, err
			}
			gross = prorated
			repairStart, repairEnd = validEnd, itemEnd
		}

		repairAmount := gross.Add(c.adjusted).Add(c.repaired)
		if !repairAmount.IsPositive() {
			continue // adjustments already cover the invalidated slice
		}

		base := types.GetDefaultBaseModel(ctx)
		repairItem, err := invoice.NewRepairAdjItem(
			c.item.InvoiceID, c.item.AccountID, c.item.ID,
			repairStart, repairEnd, repairAmount.Neg(), c.item.Currency, base.CreatedAt)
		if err != nil {
			return decimal.Zero, err
		}
		cbaItem := invoice.NewCBAAdjItem(
			c.item.InvoiceID, c.item.AccountID, targetDate, repairAmount, c.item.Currency, base.CreatedAt)

		result.AdjustedItems[c.item.InvoiceID] = append(result.AdjustedItems[c.item.InvoiceID], repairItem, cbaItem)
		totalCredit = totalCredit.Add(repairAmount)

		if strategy == types.RepairStrategyFull {
			c.fullyRepaired = true
		}
	}
	return totalCredit, nil
}

// chargeNewCoverage emits charge items for proposed coverage not already
// invoiced. Under FULL_REPAIR a repaired item no longer counts as
// coverage, so its still-valid slice is re-invoiced as well.
func (g *InvoiceGenerator) chargeNewCoverage(proposed []chargeSpec, existing []*existingCharge, invoices []*invoice.Invoice, strategy types.RepairStrategy, newInvoice *invoice.Invoice) error {
	scale, rounding := g.Scale(), g.Rounding()

	for _, spec := range proposed {
		if spec.Fixed {
			if hasFixedCharge(spec, invoices) {
				continue
			}
			item, err := invoice.NewFixedItem(
				newInvoice.ID, newInvoice.AccountID, spec.SubscriptionID,
				spec.PlanName, spec.PhaseName, spec.StartDate, spec.Price,
				newInvoice.Currency, newInvoice.CreatedAt)
			if err != nil {
				return err
			}
			newInvoice.AddItem(item)
			continue
		}

		for _, gap := range uncoveredRanges(spec, existing, strategy) {
			var amount decimal.Decimal
			if gap.start.Equal(spec.PeriodStart) && gap.end.Equal(spec.PeriodEnd) {
				amount = spec.Price
			} else {
				prorated, err := invoice.Prorate(spec.Price, gap.start, gap.end, spec.PeriodStart, spec.PeriodEnd, scale, rounding)
				if err != nil {
					return err
				}
				amount = prorated
			}
			if !amount.IsPositive() {
				continue
			}
			item, err := invoice.NewRecurringItem(
				newInvoice.ID, newInvoice.AccountID, spec.SubscriptionID,
				spec.PlanName, spec.PhaseName, gap.start, gap.end, amount,
				newInvoice.Currency, newInvoice.CreatedAt)
			if err != nil {
				return err
			}
			newInvoice.AddItem(item)
		}
	}
	return nil
}

// consumeAccountCredit appends a CBA_ADJ consuming existing account credit
// against the new invoice's charges. repairCredit is the credit granted by
// this same pass, not yet visible in the repository.
func (g *InvoiceGenerator) consumeAccountCredit(ctx context.Context, accountID string, newInvoice *invoice.Invoice, repairCredit decimal.Decimal, targetDate time.Time) error {
	available, err := g.InvoiceRepo.GetAccountCBA(ctx, accountID)
	if err != nil {
		return err
	}
	available = available.Add(repairCredit)
	if !available.IsPositive() {
		return nil
	}

	charges := decimal.Zero
	for _, item := range newInvoice.Items {
		if item.Type.IsCharge() {
			charges = charges.Add(item.Amount)
		}
	}
	if !charges.IsPositive() {
		return nil
	}

	consumption := decimal.Min(available, charges)
	newInvoice.AddItem(invoice.NewCBAAdjItem(
		newInvoice.ID, accountID, targetDate, consumption.Neg(), newInvoice.Currency, newInvoice.CreatedAt))
	return nil
}

type dateRange struct {
	start time.Time
	end   time.Time
}

// coveredUntil returns how far into [itemStart, itemEnd) the proposed
// coverage of the same plan extends. Coverage is contiguous from the item
// start; the first gap ends it.
func coveredUntil(planName string, itemStart, itemEnd time.Time, proposed []chargeSpec) time.Time {
	covered := itemStart
	for progressed := true; progressed; {
		progressed = false
		for _, spec := range proposed {
			if spec.Fixed || spec.PlanName != planName {
				continue
			}
			if !spec.StartDate.After(covered) && spec.EndDate.After(covered) {
				covered = spec.EndDate
				progressed = true
			}
		}
		if !covered.Before(itemEnd) {
			return itemEnd
		}
	}
	return covered
}

// uncoveredRanges subtracts the existing same-plan coverage from a
// proposed slice. Fully repaired items do not count as coverage, and under
// FULL_REPAIR neither do items the current pass repaired.
func uncoveredRanges(spec chargeSpec, existing []*existingCharge, strategy types.RepairStrategy) []dateRange {
	gaps := []dateRange{{start: spec.StartDate, end: spec.EndDate}}
	for _, c := range existing {
		if c.item.PlanName != spec.PlanName || c.item.EndDate == nil {
			continue
		}
		if c.fullyRepaired {
			continue
		}
		gaps = subtractRange(gaps, dateRange{start: c.item.StartDate, end: *c.item.EndDate})
	}
	return gaps
}

func subtractRange(ranges []dateRange, sub dateRange) []dateRange {
	var out []dateRange
	for _, r := range ranges {
		if !sub.start.Before(r.end) || !sub.end.After(r.start) {
			out = append(out, r)
			continue
		}
		if sub.start.After(r.start) {
			out = append(out, dateRange{start: r.start, end: sub.start})
		}
		if sub.end.Before(r.end) {
			out = append(out, dateRange{start: sub.end, end: r.end})
		}
	}
	return out
}

func hasFixedCharge(spec chargeSpec, invoices []*invoice.Invoice) bool {
	for _, inv := range invoices {
		for _, item := range inv.Items {
			if item.Type == types.InvoiceItemTypeFixed &&
				item.SubscriptionID != nil && *item.SubscriptionID == spec.SubscriptionID &&
				item.PlanName == spec.PlanName &&
				item.StartDate.Equal(spec.StartDate) {
				return true
			}
		}
	}
	return false
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
