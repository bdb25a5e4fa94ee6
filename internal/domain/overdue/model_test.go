package overdue

import (
	"testing"
	"time"

	"github.com/dynacloud/killbill/internal/config"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLadder(t *testing.T) *StateSet {
	t.Helper()
	set, err := NewStateSet(config.OverdueConfig{
		InitialReevaluationInterval: 24 * time.Hour,
		States: []config.OverdueStateConfig{
			{Name: "CLEAR", IsClear: true},
			{Name: "OD1", DaysBetween: 30},
			{Name: "OD2", DaysBetween: 40, DisableEntitlement: true},
			{Name: "OD3", DaysBetween: 50, CancellationPolicy: types.BillingActionPolicyEndOfTerm},
		},
	})
	require.NoError(t, err)
	return set
}

func TestNewStateSetRequiresClearState(t *testing.T) {
	_, err := NewStateSet(config.OverdueConfig{
		States: []config.OverdueStateConfig{
			{Name: "OD1", DaysBetween: 30},
		},
	})
	require.Error(t, err)
}

func TestNewStateSetRejectsUnknownCancellationPolicy(t *testing.T) {
	_, err := NewStateSet(config.OverdueConfig{
		States: []config.OverdueStateConfig{
			{Name: "CLEAR", IsClear: true},
			{Name: "OD1", DaysBetween: 30, CancellationPolicy: "WHENEVER"},
		},
	})
	require.Error(t, err)
}

func TestStateSetLookups(t *testing.T) {
	set := testLadder(t)

	clear, err := set.ClearState()
	require.NoError(t, err)
	assert.Equal(t, "CLEAR", clear.Name)

	first, err := set.FirstState()
	require.NoError(t, err)
	assert.Equal(t, "OD1", first.Name)

	od2, err := set.Get("OD2")
	require.NoError(t, err)
	assert.True(t, od2.DisableEntitlementAndBilling)

	_, err = set.Get("OD9")
	require.Error(t, err)
}

func TestCalculateStateFor(t *testing.T) {
	set := testLadder(t)
	now := time.Date(2012, time.May, 11, 0, 0, 0, 0, time.UTC)

	ageDaysAgo := func(days int) *time.Time {
		d := now.AddDate(0, 0, -days)
		return &d
	}

	tests := []struct {
		name    string
		billing *BillingState
		want    string
	}{
		{
			name:    "nil billing state is clear",
			billing: nil,
			want:    "CLEAR",
		},
		{
			name:    "nothing unpaid is clear",
			billing: &BillingState{UnpaidBalance: decimal.Zero},
			want:    "CLEAR",
		},
		{
			name: "young unpaid invoice is clear",
			billing: &BillingState{
				UnpaidInvoiceCount:          1,
				UnpaidBalance:               decimal.RequireFromString("249.95"),
				DateOfEarliestUnpaidInvoice: ageDaysAgo(10),
			},
			want: "CLEAR",
		},
		{
			name: "thirty days old reaches the first tier",
			billing: &BillingState{
				UnpaidInvoiceCount:          1,
				UnpaidBalance:               decimal.RequireFromString("249.95"),
				DateOfEarliestUnpaidInvoice: ageDaysAgo(30),
			},
			want: "OD1",
		},
		{
			name: "just under the next threshold stays in the lower tier",
			billing: &BillingState{
				UnpaidInvoiceCount:          1,
				UnpaidBalance:               decimal.RequireFromString("249.95"),
				DateOfEarliestUnpaidInvoice: ageDaysAgo(39),
			},
			want: "OD1",
		},
		{
			name: "most severe tier wins for very old invoices",
			billing: &BillingState{
				UnpaidInvoiceCount:          2,
				UnpaidBalance:               decimal.RequireFromString("499.90"),
				DateOfEarliestUnpaidInvoice: ageDaysAgo(365),
			},
			want: "OD3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := set.CalculateStateFor(tt.billing, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.Name)
		})
	}
}
