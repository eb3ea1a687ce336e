package analytics

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SafeRatio returns num/den, or exactly zero when den is zero.
func SafeRatio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// Percent returns num/den × 100 rounded to 2 places, or zero when den is zero.
func Percent(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Mul(hundred).Div(den).Round(2)
}

// PercentCount is Percent over integer counts.
func PercentCount(num, den int) decimal.Decimal {
	return Percent(decimal.NewFromInt(int64(num)), decimal.NewFromInt(int64(den)))
}

// Growth returns (current-previous)/previous × 100, or zero when previous is zero.
func Growth(current, previous decimal.Decimal) decimal.Decimal {
	return Percent(current.Sub(previous), previous)
}

// Mean averages values, returning zero for an empty slice.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(values)))).Round(2)
}
