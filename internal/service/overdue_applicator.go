package service

import (
	"context"
	"strings"
	"time"

	"github.com/dynacloud/killbill/internal/domain/account"
	"github.com/dynacloud/killbill/internal/domain/overdue"
	"github.com/dynacloud/killbill/internal/notification"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// OverdueApplicator evaluates an account's billing state against the
// configured overdue ladder and applies state transitions with their side
// effects: blocking-state persistence, AUTO_INVOICING_OFF tagging,
// policy-driven cancellation, notification email, and a final bus event.
// Side-effect failures are logged and never abort the transition; the bus
// event always posts.
type OverdueApplicator struct {
	ServiceParams
	states *overdue.StateSet
}

func NewOverdueApplicator(params ServiceParams, states *overdue.StateSet) *OverdueApplicator {
	a := &OverdueApplicator{ServiceParams: params, states: states}
	params.Notifications.RegisterHandler(notification.QueueOverdueCheck, a.handleRecheckNotification)
	return a
}

func (a *OverdueApplicator) handleRecheckNotification(ctx context.Context, accountID string, _ time.Time) {
	if err := a.Evaluate(ctx, accountID); err != nil {
		a.Logger.Errorw("overdue re-evaluation failed", "account_id", accountID, "error", err)
	}
}

// Evaluate recomputes the account's billing state, derives the overdue
// state it warrants, and applies the transition.
func (a *OverdueApplicator) Evaluate(ctx context.Context, accountID string) error {
	acct, err := a.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return err
	}

	unlocker, err := a.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return err
	}
	defer unlocker.Unlock()

	billing, err := a.computeBillingState(ctx, acct.ID)
	if err != nil {
		return err
	}
	next, err := a.states.CalculateStateFor(billing, a.Clock.UTCNow())
	if err != nil {
		return err
	}
	return a.apply(ctx, acct, next, billing)
}

// Clear is the fast path when the account is known to no longer be
// overdue: transition straight to the clear state.
func (a *OverdueApplicator) Clear(ctx context.Context, accountID string) error {
	acct, err := a.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return err
	}

	unlocker, err := a.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return err
	}
	defer unlocker.Unlock()

	clear, err := a.states.ClearState()
	if err != nil {
		return err
	}
	billing, err := a.computeBillingState(ctx, acct.ID)
	if err != nil {
		return err
	}
	return a.apply(ctx, acct, clear, billing)
}

func (a *OverdueApplicator) computeBillingState(ctx context.Context, accountID string) (*overdue.BillingState, error) {
	invoices, err := a.InvoiceRepo.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	billing := &overdue.BillingState{AccountID: accountID, UnpaidBalance: decimal.Zero}
	for _, inv := range invoices {
		balance := inv.Balance(a.Scale(), a.Rounding())
		if !balance.IsPositive() {
			continue
		}
		billing.UnpaidInvoiceCount++
		billing.UnpaidBalance = billing.UnpaidBalance.Add(balance)
		if billing.DateOfEarliestUnpaidInvoice == nil || inv.InvoiceDate.Before(*billing.DateOfEarliestUnpaidInvoice) {
			date := inv.InvoiceDate
			billing.DateOfEarliestUnpaidInvoice = &date
		}
	}
	return billing, nil
}

func (a *OverdueApplicator) apply(ctx context.Context, acct *account.Account, next overdue.State, billing *overdue.BillingState) error {
	enforcementOff, err := a.TagStore.HasTag(ctx, acct.ID, types.ControlTagOverdueEnforcementOff)
	if err != nil {
		return err
	}
	if enforcementOff {
		a.Logger.Infow("overdue enforcement off, skipping evaluation",
			"account_id", acct.ID, "tag", types.ControlTagOverdueEnforcementOff)
		return nil
	}

	current, err := a.currentState(ctx, acct.ID)
	if err != nil {
		return err
	}

	a.scheduleRecheck(ctx, acct.ID, next, billing)

	if next.Name == current.Name {
		return nil
	}

	a.transition(ctx, acct, current, next)

	// the state-change event always posts, even when side effects failed
	a.postOverdueEvent(ctx, acct.ID, current, next)
	return nil
}

func (a *OverdueApplicator) currentState(ctx context.Context, accountID string) (overdue.State, error) {
	record, err := a.BlockingStore.GetCurrent(ctx, accountID)
	if err != nil {
		return overdue.State{}, err
	}
	if record == nil {
		return a.states.ClearState()
	}
	return a.states.Get(record.StateName)
}

// scheduleRecheck posts the next overdue re-check. A non-clear state
// re-checks after its own interval; a clear state with an invoice still
// unpaid but not yet old enough re-checks after the initial interval; a
// clear state with nothing unpaid cancels any pending re-check.
func (a *OverdueApplicator) scheduleRecheck(ctx context.Context, accountID string, next overdue.State, billing *overdue.BillingState) {
	var interval time.Duration
	switch {
	case !next.IsClear:
		interval = next.ReevaluationInterval
	case billing != nil && billing.UnpaidInvoiceCount > 0:
		interval = a.states.InitialReevaluationInterval
	default:
		if err := a.Notifications.Clear(ctx, notification.QueueOverdueCheck, accountID); err != nil {
			a.Logger.Errorw("failed to cancel overdue re-check", "account_id", accountID, "error", err)
		}
		return
	}
	if interval <= 0 {
		return
	}
	if err := a.Notifications.Schedule(ctx, notification.QueueOverdueCheck, accountID, a.Clock.UTCNow().Add(interval)); err != nil {
		a.Logger.Errorw("failed to schedule overdue re-check", "account_id", accountID, "error", err)
	}
}

// transition applies the side effects of moving from current to next.
// Each failure is logged; none aborts the remaining steps.
func (a *OverdueApplicator) transition(ctx context.Context, acct *account.Account, current, next overdue.State) {
	record := &overdue.BlockingRecord{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BLOCKING_STATE),
		AccountID:        acct.ID,
		StateName:        next.Name,
		BlockChanges:     next.BlockChanges,
		DisableBilling:   next.DisableEntitlementAndBilling,
		BlockEntitlement: next.DisableEntitlementAndBilling,
		EffectiveDate:    a.Clock.UTCNow(),
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
	if err := a.BlockingStore.SetCurrent(ctx, record); err != nil {
		a.Logger.Errorw("failed to persist blocking state",
			"account_id", acct.ID, "state", next.Name, "error", err)
	}

	switch {
	case next.DisableEntitlementAndBilling && !current.DisableEntitlementAndBilling:
		if err := a.TagStore.AddTag(ctx, acct.ID, types.ControlTagAutoInvoicingOff); err != nil {
			a.Logger.Errorw("failed to add control tag",
				"account_id", acct.ID, "tag", types.ControlTagAutoInvoicingOff, "error", err)
		} else {
			a.postTagEvent(ctx, types.EventTagAdded, acct.ID, types.ControlTagAutoInvoicingOff)
		}
	case !next.DisableEntitlementAndBilling && current.DisableEntitlementAndBilling:
		// removal tolerates an already-absent tag
		if err := a.TagStore.RemoveTag(ctx, acct.ID, types.ControlTagAutoInvoicingOff); err != nil {
			a.Logger.Errorw("failed to remove control tag",
				"account_id", acct.ID, "tag", types.ControlTagAutoInvoicingOff, "error", err)
		} else {
			a.postTagEvent(ctx, types.EventTagRemoved, acct.ID, types.ControlTagAutoInvoicingOff)
		}
	}

	if next.CancellationPolicy != types.BillingActionPolicyNone {
		a.cancelSubscriptions(ctx, acct.ID, next.CancellationPolicy)
	}

	if next.EmailTemplate != "" && acct.Email != "" {
		// the template may or may not carry an account name placeholder
		body := strings.ReplaceAll(next.EmailTemplate, "%s", acct.Name)
		if err := a.EmailSender.Send(ctx, acct.Email, next.EmailSubject, body); err != nil {
			a.Logger.Errorw("failed to send overdue email",
				"account_id", acct.ID, "state", next.Name, "error", err)
		}
	}
}

// cancelSubscriptions cancels the account's base subscriptions with the
// given policy. Add-ons are skipped; their base cancels them transitively.
func (a *OverdueApplicator) cancelSubscriptions(ctx context.Context, accountID string, policy types.BillingActionPolicy) {
	subs, err := a.Timeline.GetByAccount(ctx, accountID)
	if err != nil {
		a.Logger.Errorw("failed to list subscriptions for cancellation",
			"account_id", accountID, "error", err)
		return
	}
	for _, sub := range subs {
		if sub.Category == types.ProductCategoryAddOn {
			continue
		}
		if err := a.Entitlement.CancelWithPolicy(ctx, sub.ID, policy); err != nil {
			a.Logger.Errorw("failed to cancel subscription",
				"account_id", accountID, "subscription_id", sub.ID, "policy", policy, "error", err)
		}
	}
}

func (a *OverdueApplicator) postOverdueEvent(ctx context.Context, accountID string, current, next overdue.State) {
	event, err := types.NewBusEvent(types.EventOverdueChange, types.GetTenantID(ctx), accountID, map[string]any{
		"previous_state": current.Name,
		"next_state":     next.Name,
	})
	if err != nil {
		a.Logger.Errorw("failed to build overdue event", "error", err)
		return
	}
	a.EventBus.Post(ctx, event)
}

func (a *OverdueApplicator) postTagEvent(ctx context.Context, eventName, accountID string, tag types.ControlTag) {
	event, err := types.NewBusEvent(eventName, types.GetTenantID(ctx), accountID, map[string]any{
		"tag": tag,
	})
	if err != nil {
		a.Logger.Errorw("failed to build tag event", "error", err)
		return
	}
	a.EventBus.Post(ctx, event)
}
