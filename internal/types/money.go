package types

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// RoundingMode selects how monetary amounts are rounded to the configured
// scale.
type RoundingMode string

const (
	RoundingModeHalfUp   RoundingMode = "half_up"
	RoundingModeHalfEven RoundingMode = "half_even"
	RoundingModeDown     RoundingMode = "down"
	RoundingModeUp       RoundingMode = "up"
)

func (m RoundingMode) Validate() error {
	allowed := []RoundingMode{
		RoundingModeHalfUp,
		RoundingModeHalfEven,
		RoundingModeDown,
		RoundingModeUp,
	}
	if !lo.Contains(allowed, m) {
		return fmt.Errorf("invalid rounding mode: %s", m)
	}
	return nil
}

// Apply rounds the amount to the given number of decimals using the mode.
func (m RoundingMode) Apply(amount decimal.Decimal, decimals int32) decimal.Decimal {
	switch m {
	case RoundingModeHalfEven:
		return amount.RoundBank(decimals)
	case RoundingModeDown:
		return amount.RoundDown(decimals)
	case RoundingModeUp:
		return amount.RoundUp(decimals)
	default:
		return amount.Round(decimals)
	}
}
