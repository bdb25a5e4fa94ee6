package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundingModeApply(t *testing.T) {
	tests := []struct {
		name     string
		mode     RoundingMode
		amount   string
		decimals int32
		want     string
	}{
		{
			name:     "half up rounds the midpoint away from zero",
			mode:     RoundingModeHalfUp,
			amount:   "2.345",
			decimals: 2,
			want:     "2.35",
		},
		{
			name:     "half up on a negative midpoint",
			mode:     RoundingModeHalfUp,
			amount:   "-2.345",
			decimals: 2,
			want:     "-2.35",
		},
		{
			name:     "half even rounds the midpoint to the even neighbour",
			mode:     RoundingModeHalfEven,
			amount:   "2.345",
			decimals: 2,
			want:     "2.34",
		},
		{
			name:     "down truncates",
			mode:     RoundingModeDown,
			amount:   "2.349",
			decimals: 2,
			want:     "2.34",
		},
		{
			name:     "up rounds away from zero",
			mode:     RoundingModeUp,
			amount:   "2.341",
			decimals: 2,
			want:     "2.35",
		},
		{
			name:     "zero decimals",
			mode:     RoundingModeHalfUp,
			amount:   "249.95",
			decimals: 0,
			want:     "250",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.mode.Apply(decimal.RequireFromString(tt.amount), tt.decimals)
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("Apply(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, want)
			}
		})
	}
}

func TestRoundingModeValidate(t *testing.T) {
	for _, mode := range []RoundingMode{RoundingModeHalfUp, RoundingModeHalfEven, RoundingModeDown, RoundingModeUp} {
		if err := mode.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", mode, err)
		}
	}
	if err := RoundingMode("ceiling").Validate(); err == nil {
		t.Error("Validate(ceiling) = nil, want error")
	}
}
