// Package ticks implements precision-safe rounding of prices to tick size and
// quantities to lot step. All arithmetic goes through decimal values so the
// results exactly match a venue's own acceptance checks; binary floats are
// only used at the package boundary.
package ticks

import (
	"github.com/shopspring/decimal"
)

// FloorTo rounds v down to the nearest multiple of step.
func FloorTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}

// CeilTo rounds v up to the nearest multiple of step.
func CeilTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Ceil().Mul(s).Float64()
	return f
}

// RoundTo rounds v to the nearest multiple of step, half up.
func RoundTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Round(0).Mul(s).Float64()
	return f
}

// Coarser returns the larger of two steps, so a quantity floored to it is
// valid on both venues.
func Coarser(stepA, stepB float64) float64 {
	if stepA >= stepB {
		return stepA
	}
	return stepB
}

// Precision returns the number of decimal places implied by a step value:
// 0.01 has precision 2, 1 has precision 0.
func Precision(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// Truncate cuts v to the given number of decimal places without rounding up
// and formats it with exactly that many places. Venues reject over-precise
// values and truncation never over-sizes an order.
func Truncate(v float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	return decimal.NewFromFloat(v).Truncate(int32(precision)).StringFixed(int32(precision))
}

// FormatToStep formats v for submission to a venue whose increment is step:
// truncated, never rounded, to the step's precision.
func FormatToStep(v, step float64) string {
	return Truncate(v, Precision(step))
}
