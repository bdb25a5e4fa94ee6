package invoice

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	calcScale    = int32(2)
	calcRounding = types.RoundingModeHalfUp
)

func newTestInvoice(t *testing.T, createdAt time.Time) *Invoice {
	t.Helper()
	base := types.BaseModel{
		TenantID:  "tenant_test",
		Status:    types.StatusActive,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return New("account_1", "USD", createdAt, createdAt, base)
}

func addRecurring(t *testing.T, inv *Invoice, amount string, start, end time.Time) *InvoiceItem {
	t.Helper()
	item, err := NewRecurringItem(inv.ID, inv.AccountID, "sub_1", "shotgun-monthly", "evergreen",
		start, end, decimal.RequireFromString(amount), inv.Currency, inv.CreatedAt)
	require.NoError(t, err)
	inv.AddItem(item)
	return item
}

func addPayment(inv *Invoice, paymentType types.InvoicePaymentType, amount string, success bool) {
	inv.Payments = append(inv.Payments, &InvoicePayment{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_PAYMENT),
		InvoiceID:     inv.ID,
		PaymentID:     "payment_1",
		Type:          paymentType,
		Amount:        decimal.RequireFromString(amount),
		Currency:      inv.Currency,
		Success:       success,
		EffectiveDate: inv.InvoiceDate,
	})
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "got %s want %s", got, want)
}

func TestComputeBalanceUnpaidCharge(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))

	assertDecimal(t, "249.95", ComputeAmountCharged(inv, calcScale, calcRounding))
	assertDecimal(t, "0", ComputeAmountPaid(inv, calcScale, calcRounding))
	assertDecimal(t, "249.95", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalancePaidInFull(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))
	addPayment(inv, types.InvoicePaymentTypeAttempt, "249.95", true)

	assertDecimal(t, "249.95", ComputeAmountPaid(inv, calcScale, calcRounding))
	assertDecimal(t, "0", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceFailedAttemptDoesNotCount(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))
	addPayment(inv, types.InvoicePaymentTypeAttempt, "249.95", false)

	assertDecimal(t, "0", ComputeAmountPaid(inv, calcScale, calcRounding))
	assertDecimal(t, "249.95", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceRefundReopensInvoice(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))
	addPayment(inv, types.InvoicePaymentTypeAttempt, "249.95", true)
	addPayment(inv, types.InvoicePaymentTypeRefund, "-249.95", true)

	assertDecimal(t, "-249.95", ComputeAmountRefunded(inv, calcScale, calcRounding))
	assertDecimal(t, "249.95", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceChargebackReopensInvoice(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "100", d(2012, 5, 1), d(2012, 6, 1))
	addPayment(inv, types.InvoicePaymentTypeAttempt, "100", true)
	addPayment(inv, types.InvoicePaymentTypeChargedBack, "-100", true)

	assertDecimal(t, "100", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceAfterItemAdjustmentOnPaidInvoice(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	charge := addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))
	addPayment(inv, types.InvoicePaymentTypeAttempt, "249.95", true)

	adj, err := NewItemAdjItem(inv.ID, inv.AccountID, charge.ID, d(2012, 5, 1),
		decimal.RequireFromString("10"), inv.Currency, now.Add(time.Hour))
	require.NoError(t, err)
	inv.AddItem(adj)

	// Adjusting a paid invoice leaves a credit owed to the account.
	assertDecimal(t, "239.95", ComputeAmountCharged(inv, calcScale, calcRounding))
	assertDecimal(t, "-10", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceAfterRepairWithAccountCredit(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	charge := addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))
	addPayment(inv, types.InvoicePaymentTypeAttempt, "249.95", true)

	later := now.Add(24 * time.Hour)
	repair, err := NewRepairAdjItem(inv.ID, inv.AccountID, charge.ID,
		d(2012, 5, 2), d(2012, 6, 1),
		decimal.RequireFromString("-241.88"), inv.Currency, later)
	require.NoError(t, err)
	inv.AddItem(repair)
	inv.AddItem(NewCBAAdjItem(inv.ID, inv.AccountID, d(2012, 5, 2),
		decimal.RequireFromString("241.88"), inv.Currency, later))

	// The repair and its credit cancel out; the paid invoice stays settled.
	assertDecimal(t, "8.07", ComputeAmountCharged(inv, calcScale, calcRounding))
	assertDecimal(t, "241.88", ComputeAmountCredited(inv, calcScale, calcRounding))
	assertDecimal(t, "0", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceCreditInvoiceIsSettled(t *testing.T) {
	// A credit grant invoice carries exactly a CREDIT_ADJ and the CBA_ADJ
	// consuming it. The pair must cancel without double counting.
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)

	credit, err := NewCreditAdjItem(inv.ID, inv.AccountID, now,
		decimal.RequireFromString("100"), inv.Currency, now)
	require.NoError(t, err)
	inv.AddItem(credit)
	inv.AddItem(NewCBAAdjItem(inv.ID, inv.AccountID, now,
		decimal.RequireFromString("100"), inv.Currency, now))

	assertDecimal(t, "0", ComputeAmountCharged(inv, calcScale, calcRounding))
	assertDecimal(t, "100", ComputeAmountCredited(inv, calcScale, calcRounding))
	assertDecimal(t, "-100", ComputeAmountAdjustedForAccountCredit(inv, calcScale, calcRounding))
	assertDecimal(t, "0", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceCreditAdjWithoutPairedCBAReducesCharges(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))

	credit, err := NewCreditAdjItem(inv.ID, inv.AccountID, now,
		decimal.RequireFromString("50"), inv.Currency, now)
	require.NoError(t, err)
	inv.AddItem(credit)

	assertDecimal(t, "199.95", ComputeAmountCharged(inv, calcScale, calcRounding))
	assertDecimal(t, "0", ComputeAmountAdjustedForAccountCredit(inv, calcScale, calcRounding))
	assertDecimal(t, "199.95", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeBalanceMigratedInvoiceIsAlwaysZero(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	inv.Migrated = true
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))

	assertDecimal(t, "0", ComputeBalance(inv, calcScale, calcRounding))
}

func TestComputeOriginalAmountCharged(t *testing.T) {
	now := d(2012, 5, 1)
	inv := newTestInvoice(t, now)
	addRecurring(t, inv, "249.95", d(2012, 5, 1), d(2012, 6, 1))

	// An external charge appended after creation is not part of the
	// original amount.
	later := now.Add(48 * time.Hour)
	extra, err := NewExternalChargeItem(inv.ID, inv.AccountID, d(2012, 5, 3),
		decimal.RequireFromString("15"), inv.Currency, later)
	require.NoError(t, err)
	inv.AddItem(extra)

	assertDecimal(t, "249.95", ComputeOriginalAmountCharged(inv, calcScale, calcRounding))
	assertDecimal(t, "264.95", ComputeAmountCharged(inv, calcScale, calcRounding))
}

func TestComputeAmountExclTax(t *testing.T) {
	table := []TaxFactor{
		{EffectiveDate: d(2010, 1, 1), Factor: decimal.RequireFromString("1.1")},
		{EffectiveDate: d(2012, 1, 1), Factor: decimal.RequireFromString("1.2")},
	}

	tests := []struct {
		name   string
		amount string
		date   time.Time
		want   string
	}{
		{
			name:   "latest factor applies after its effective date",
			amount: "120",
			date:   d(2012, 5, 1),
			want:   "100",
		},
		{
			name:   "older factor applies between the two entries",
			amount: "110",
			date:   d(2011, 6, 1),
			want:   "100",
		},
		{
			name:   "effective date itself still uses the previous factor",
			amount: "110",
			date:   d(2012, 1, 1),
			want:   "100",
		},
		{
			name:   "before the table the amount is unchanged",
			amount: "100",
			date:   d(2009, 6, 1),
			want:   "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeAmountExclTax(decimal.RequireFromString(tt.amount), tt.date,
				table, calcScale, calcRounding)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s want %s", got, tt.want)
		})
	}
}

// TestComputeBalanceRandomizedLedger builds invoices from random item
// mixes and checks the balance against an independently tracked ledger,
// and against the sum of the component functions. Repair items and their
// paired credits must never move the balance.
func TestComputeBalanceRandomizedLedger(t *testing.T) {
	rng := rand.New(rand.NewSource(20120501))

	for run := 0; run < 250; run++ {
		now := d(2012, 5, 1)
		inv := newTestInvoice(t, now)
		want := decimal.Zero
		cents := func(maxUnits int) decimal.Decimal {
			return decimal.New(int64(rng.Intn(maxUnits*100))+1, -2)
		}

		var charges []*InvoiceItem
		for j := rng.Intn(8) + 1; j > 0; j-- {
			switch rng.Intn(6) {
			case 0, 1:
				amount := cents(300)
				item, err := NewRecurringItem(inv.ID, inv.AccountID, "sub_1", "shotgun-monthly", "evergreen",
					d(2012, 5, 1), d(2012, 6, 1), amount, inv.Currency, inv.CreatedAt)
				require.NoError(t, err)
				inv.AddItem(item)
				charges = append(charges, item)
				want = want.Add(amount)
			case 2:
				amount := cents(100)
				item, err := NewExternalChargeItem(inv.ID, inv.AccountID, d(2012, 5, 3),
					amount, inv.Currency, inv.CreatedAt)
				require.NoError(t, err)
				inv.AddItem(item)
				charges = append(charges, item)
				want = want.Add(amount)
			case 3:
				if len(charges) == 0 {
					continue
				}
				target := charges[rng.Intn(len(charges))]
				adj := target.Amount.Div(decimal.NewFromInt(int64(rng.Intn(3) + 1))).Round(2)
				if !adj.IsPositive() {
					continue
				}
				item, err := NewItemAdjItem(inv.ID, inv.AccountID, target.ID, d(2012, 5, 4),
					adj, inv.Currency, now.Add(time.Hour))
				require.NoError(t, err)
				inv.AddItem(item)
				want = want.Sub(adj)
			case 4:
				if len(charges) == 0 {
					continue
				}
				target := charges[rng.Intn(len(charges))]
				slice := target.Amount.Div(decimal.NewFromInt(2)).Round(2)
				if !slice.IsPositive() {
					continue
				}
				before := ComputeBalance(inv, calcScale, calcRounding)
				repair, err := NewRepairAdjItem(inv.ID, inv.AccountID, target.ID,
					d(2012, 5, 15), d(2012, 6, 1), slice.Neg(), inv.Currency, now.Add(time.Hour))
				require.NoError(t, err)
				inv.AddItem(repair)
				inv.AddItem(NewCBAAdjItem(inv.ID, inv.AccountID, d(2012, 5, 15),
					slice, inv.Currency, now.Add(time.Hour)))
				after := ComputeBalance(inv, calcScale, calcRounding)
				assert.True(t, before.Equal(after),
					"run %d: repair and credit pair moved balance from %s to %s", run, before, after)
			case 5:
				amount := cents(50)
				inv.AddItem(NewCBAAdjItem(inv.ID, inv.AccountID, d(2012, 5, 5),
					amount.Neg(), inv.Currency, inv.CreatedAt))
				want = want.Sub(amount)
			}
		}

		if rng.Intn(2) == 0 {
			paid := cents(200)
			addPayment(inv, types.InvoicePaymentTypeAttempt, paid.String(), true)
			want = want.Sub(paid)

			if rng.Intn(3) == 0 {
				refund := paid.Div(decimal.NewFromInt(2)).Round(2)
				if refund.IsPositive() {
					addPayment(inv, types.InvoicePaymentTypeRefund, refund.Neg().String(), true)
					want = want.Add(refund)
				}
			}
		}

		got := ComputeBalance(inv, calcScale, calcRounding)
		assert.True(t, got.Equal(want), "run %d: balance %s, ledger %s", run, got, want)

		recomposed := ComputeAmountCharged(inv, calcScale, calcRounding).
			Add(ComputeAmountCredited(inv, calcScale, calcRounding)).
			Add(ComputeAmountAdjustedForAccountCredit(inv, calcScale, calcRounding)).
			Sub(ComputeAmountPaid(inv, calcScale, calcRounding)).
			Sub(ComputeAmountRefunded(inv, calcScale, calcRounding))
		assert.True(t, got.Equal(recomposed), "run %d: balance %s, component sum %s", run, got, recomposed)
	}
}
