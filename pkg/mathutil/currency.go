// Package mathutil provides common mathematical utility functions.
package mathutil

import (
	"math"

	"github.com/iwvelando/margin-analysis/pkg/constants"
)

// RoundHalfUp rounds to the nearest integer with ties going towards positive
// infinity, so -2.5 becomes -2 and 2.5 becomes 3. Stored metrics have always
// been rounded this way.
func RoundHalfUp(val float64) float64 {
	// val+0.5 can round up in float64, e.g. 0.49999999999999994+0.5 == 1.
	f := math.Floor(val)
	if val-f >= 0.5 {
		return f + 1
	}
	return f
}

// Round rounds a value to two decimals with the same tie rule as RoundHalfUp.
func Round(val float64) float64 {
	return RoundHalfUp(val*constants.DecimalPrecision) / constants.DecimalPrecision
}

// WithinTolerance reports whether two values differ by strictly less than tolerance.
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) < tolerance
}

// SafeDivide returns numerator/denominator, or 0 when the denominator is 0.
func SafeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// Max returns the maximum of two float64 values
func Max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// CalculatePercentage calculates what percentage value is of total
func CalculatePercentage(value, total float64) float64 {
	if total == 0 {
		return 0
	}
	return (value / total) * constants.PercentageMultiplier
}

// Sum adds every value returned by fn over items.
func Sum[T any](items []T, fn func(T) float64) float64 {
	total := 0.0
	for _, item := range items {
		total += fn(item)
	}
	return total
}

// Mean returns the unweighted mean of fn over items, or 0 for an empty slice.
func Mean[T any](items []T, fn func(T) float64) float64 {
	if len(items) == 0 {
		return 0
	}
	return Sum(items, fn) / float64(len(items))
}
