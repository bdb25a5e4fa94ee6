package invoice

import (
	"time"

	ierr "github.com/dynacloud/killbill/internal/errors"
	"github.com/dynacloud/killbill/internal/types"
	"github.com/shopspring/decimal"
)

// Day-count proration. A sub-range of a billing period is charged
//
//	amount × days(sub-range) / days(period)
//
// with the day ratio rounded half-up at twice the monetary scale before the
// multiplication, and the product rounded at the monetary scale. Rounding
// the ratio first keeps repeated prorations of the same period consistent
// with each other.

// DaysBetween returns the number of calendar days in [start, end).
// Times of day are ignored.
func DaysBetween(start, end time.Time) int64 {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int64(e.Sub(s).Hours() / 24)
}

// ProrationFactor returns days(subStart, subEnd) / days(periodStart,
// periodEnd) rounded half-up at 2×scale decimal places.
func ProrationFactor(subStart, subEnd, periodStart, periodEnd time.Time, scale int32) (decimal.Decimal, error) {
	totalDays := DaysBetween(periodStart, periodEnd)
	if totalDays <= 0 {
		return decimal.Zero, ierr.NewError("billing period has no days").
			WithHintf("Period [%s, %s) is empty",
				periodStart.Format(time.DateOnly), periodEnd.Format(time.DateOnly)).
			Mark(ierr.ErrValidation)
	}
	subDays := DaysBetween(subStart, subEnd)
	if subDays < 0 || subDays > totalDays {
		return decimal.Zero, ierr.NewError("sub-range outside billing period").
			WithHintf("Sub-range [%s, %s) does not fit in [%s, %s)",
				subStart.Format(time.DateOnly), subEnd.Format(time.DateOnly),
				periodStart.Format(time.DateOnly), periodEnd.Format(time.DateOnly)).
			Mark(ierr.ErrValidation)
	}
	return decimal.NewFromInt(subDays).DivRound(decimal.NewFromInt(totalDays), 2*scale), nil
}

// Prorate charges the slice [subStart, subEnd) of an amount covering
// [periodStart, periodEnd).
func Prorate(amount decimal.Decimal, subStart, subEnd, periodStart, periodEnd time.Time, scale int32, rounding types.RoundingMode) (decimal.Decimal, error) {
	factor, err := ProrationFactor(subStart, subEnd, periodStart, periodEnd, scale)
	if err != nil {
		return decimal.Zero, err
	}
	return rounding.Apply(amount.Mul(factor), scale), nil
}

// SubRangeAmount is one contiguous slice of a split period with its
// prorated share.
type SubRangeAmount struct {
	StartDate time.Time
	EndDate   time.Time
	Amount    decimal.Decimal
}

// SplitPeriod distributes amount across the contiguous sub-ranges of
// [periodStart, periodEnd) delimited by cuts. Each cut must fall strictly
// inside the period and the cuts must be strictly increasing. Any rounding
// residual is absorbed into the last sub-range so the parts always sum to
// the amount exactly.
func SplitPeriod(amount decimal.Decimal, periodStart, periodEnd time.Time, cuts []time.Time, scale int32, rounding types.RoundingMode) ([]SubRangeAmount, error) {
	bounds := make([]time.Time, 0, len(cuts)+2)
	bounds = append(bounds, periodStart)
	for _, cut := range cuts {
		if !cut.After(bounds[len(bounds)-1]) || !cut.Before(periodEnd) {
			return nil, ierr.NewError("invalid period cut").
				WithHintf("Cut %s must fall strictly inside [%s, %s) in increasing order",
					cut.Format(time.DateOnly),
					periodStart.Format(time.DateOnly), periodEnd.Format(time.DateOnly)).
				Mark(ierr.ErrValidation)
		}
		bounds = append(bounds, cut)
	}
	bounds = append(bounds, periodEnd)

	out := make([]SubRangeAmount, 0, len(bounds)-1)
	allocated := decimal.Zero
	for i := 0; i < len(bounds)-1; i++ {
		sub := SubRangeAmount{StartDate: bounds[i], EndDate: bounds[i+1]}
		if i == len(bounds)-2 {
			// last sub-range takes whatever is left
			sub.Amount = amount.Sub(allocated)
		} else {
			prorated, err := Prorate(amount, sub.StartDate, sub.EndDate, periodStart, periodEnd, scale, rounding)
			if err != nil {
				return nil, err
			}
			sub.Amount = prorated
			allocated = allocated.Add(prorated)
		}
		out = append(out, sub)
	}
	return out, nil
}
