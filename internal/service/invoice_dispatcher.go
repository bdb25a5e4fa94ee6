package service

import (
	"context"
	"time"

	"github.com/dynacloud/killbill/internal/domain/invoice"
	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceDispatcher orchestrates one invoice generation pass for one
// account: resolves the account and its time zone, runs the generator
// under the account lock, persists the result in one transaction per
// aggregate, and posts the downstream events.
type InvoiceDispatcher struct {
	ServiceParams
	generator *InvoiceGenerator
}

func NewInvoiceDispatcher(params ServiceParams) *InvoiceDispatcher {
	return &InvoiceDispatcher{
		ServiceParams: params,
		generator:     NewInvoiceGenerator(params),
	}
}

// GenerateOptions tunes one generation pass.
type GenerateOptions struct {
	// DryRun computes the would-be result without persisting anything.
	DryRun bool

	// Strategy overrides the configured default repair strategy for this
	// pass only. Empty means use the default.
	Strategy types.RepairStrategy
}

// GenerateInvoice runs one generation pass for the account at the given
// local target date. The date is interpreted in the account's time zone.
// Returns ErrNothingToGenerate when the pass produced nothing; callers
// treat that as an empty result, not a failure.
func (d *InvoiceDispatcher) GenerateInvoice(ctx context.Context, accountID string, targetDate time.Time, opts GenerateOptions) (*GenerationResult, error) {
	acct, err := d.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	autoInvoicingOff, err := d.TagStore.HasTag(ctx, acct.ID, types.ControlTagAutoInvoicingOff)
	if err != nil {
		return nil, err
	}
	if autoInvoicingOff {
		d.Logger.Infow("invoicing suppressed by control tag",
			"account_id", acct.ID, "tag", types.ControlTagAutoInvoicingOff)
		return nil, ierr.NewError("invoicing is off for account").
			WithHintf("Account %s carries %s", acct.ID, types.ControlTagAutoInvoicingOff).
			Mark(ierr.ErrNothingToGenerate)
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = d.Config.Invoice.DefaultRepairStrategy
	}

	// resolve the local target date into a processing instant
	processingDate := time.Date(
		targetDate.Year(), targetDate.Month(), targetDate.Day(),
		0, 0, 0, 0, acct.Location()).UTC()

	unlocker, err := d.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return nil, err
	}
	defer unlocker.Unlock()

	result, err := d.generator.Generate(ctx, acct, processingDate, strategy)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return result, nil
	}

	for invoiceID, items := range result.AdjustedItems {
		if err := d.InvoiceRepo.AppendItems(ctx, invoiceID, items); err != nil {
			return nil, err
		}
	}
	if result.NewInvoice != nil {
		if err := d.InvoiceRepo.InsertWithItems(ctx, result.NewInvoice); err != nil {
			return nil, err
		}
	}

	d.postEvents(ctx, acct.ID, result)
	return result, nil
}

// postEvents publishes the pass's outcome. An adjusted invoice triggers an
// invoice-adjustment event so overdue evaluation re-runs; consumers must
// tolerate duplicate delivery.
func (d *InvoiceDispatcher) postEvents(ctx context.Context, accountID string, result *GenerationResult) {
	tenantID := types.GetTenantID(ctx)

	if result.NewInvoice != nil {
		event, err := types.NewBusEvent(types.EventInvoiceCreated, tenantID, accountID, map[string]any{
			"invoice_id":     result.NewInvoice.ID,
			"invoice_number": result.NewInvoice.InvoiceNumber,
			"target_date":    result.NewInvoice.TargetDate,
		})
		if err != nil {
			d.Logger.Errorw("failed to build invoice created event", "error", err)
		} else {
			d.EventBus.Post(ctx, event)
		}
	}

	for invoiceID := range result.AdjustedItems {
		event, err := types.NewBusEvent(types.EventInvoiceAdjusted, tenantID, accountID, map[string]any{
			"invoice_id": invoiceID,
		})
		if err != nil {
			d.Logger.Errorw("failed to build invoice adjusted event", "error", err)
			continue
		}
		d.EventBus.Post(ctx, event)
	}
}

// AddExternalCharge creates a new invoice carrying a single external
// charge. The amount must be positive; zero and negative amounts are
// rejected before anything is persisted.
func (d *InvoiceDispatcher) AddExternalCharge(ctx context.Context, accountID string, amount decimal.Decimal, effectiveDate time.Time) (*invoice.Invoice, error) {
	acct, err := d.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	unlocker, err := d.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return nil, err
	}
	defer unlocker.Unlock()

	inv := invoice.New(acct.ID, acct.Currency, d.Clock.UTCNow(), effectiveDate, types.GetDefaultBaseModel(ctx))
	item, err := invoice.NewExternalChargeItem(inv.ID, acct.ID, effectiveDate, amount, acct.Currency, inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.AddItem(item)

	if err := d.InvoiceRepo.InsertWithItems(ctx, inv); err != nil {
		return nil, err
	}
	d.postEvents(ctx, acct.ID, &GenerationResult{NewInvoice: inv})
	return inv, nil
}

// AddAccountCredit creates a credit invoice: a CREDIT_ADJ for the amount
// paired with a CBA_ADJ moving it into the account's credit balance. The
// pair nets to zero on the invoice; the credit is consumed by later
// invoices.
func (d *InvoiceDispatcher) AddAccountCredit(ctx context.Context, accountID string, amount decimal.Decimal, effectiveDate time.Time) (*invoice.Invoice, error) {
	acct, err := d.AccountProvider.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	unlocker, err := d.Locker.LockAccount(ctx, acct.ExternalKey)
	if err != nil {
		return nil, err
	}
	defer unlocker.Unlock()

	inv := invoice.New(acct.ID, acct.Currency, d.Clock.UTCNow(), effectiveDate, types.GetDefaultBaseModel(ctx))
	credit, err := invoice.NewCreditAdjItem(inv.ID, acct.ID, effectiveDate, amount, acct.Currency, inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.AddItem(credit)
	inv.AddItem(invoice.NewCBAAdjItem(inv.ID, acct.ID, effectiveDate, amount, acct.Currency, inv.CreatedAt))

	if err := d.InvoiceRepo.InsertWithItems(ctx, inv); err != nil {
		return nil, err
	}
	d.postEvents(ctx, acct.ID, &GenerationResult{NewInvoice: inv})
	return inv, nil
}

// ChargedAmountExclTax reports the invoice's originally charged amount
// with the configured tax factor backed out, using the factor in effect
// at the invoice date.
func (d *InvoiceDispatcher) ChargedAmountExclTax(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	inv, err := d.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	charged := invoice.ComputeOriginalAmountCharged(inv, d.Scale(), d.Rounding())
	return invoice.ComputeAmountExclTax(charged, inv.InvoiceDate, d.TaxTable(), d.Scale(), d.Rounding()), nil
}
