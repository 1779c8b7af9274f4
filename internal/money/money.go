// Package money holds the numeric helpers every pricing step goes through.
// All monetary results are rounded to two decimals, half away from zero, at
// each step rather than once at the end.
package money

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Number coerces loosely typed persisted values into a finite float64.
// Anything that cannot be read as a number becomes 0.
func Number(v any) float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// NonNegative is Number clamped at zero.
func NonNegative(v any) float64 {
	return math.Max(0, Number(v))
}

func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func Mul(a, b float64) float64 {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// Percent returns round2(amount × pct / 100).
func Percent(amount, pct float64) float64 {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}

// Steps returns floor(amount / step) and the amount left over. A non-positive
// step yields no steps and keeps the whole amount as remainder.
func Steps(amount, step float64) (float64, float64) {
	if step <= 0 || amount <= 0 {
		return 0, Round2(math.Max(0, amount))
	}
	a := decimal.NewFromFloat(amount)
	s := decimal.NewFromFloat(step)
	count := a.Div(s).Floor()
	remainder := a.Sub(count.Mul(s)).Round(2)
	return count.InexactFloat64(), remainder.InexactFloat64()
}

// Floor returns floor(a / b) using decimal division; b <= 0 gives 0.
func Floor(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)).Floor().InexactFloat64()
}

// Format renders v without trailing zeros, e.g. "2" or "1.5".
func Format(v float64) string {
	return decimal.NewFromFloat(v).String()
}
