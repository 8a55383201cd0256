package margin

import (
	"fmt"

	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/mathutil"
)

// HoursValidation is the advisory result of reconciling declared hours.
type HoursValidation struct {
	IsValid            bool    `json:"is_valid"`
	TotalBaselineHours float64 `json:"total_baseline_hours"`
	SumOfResourceHours float64 `json:"sum_of_resource_hours"`
	NonBillHours       float64 `json:"non_bill_hours"`
	CalculatedTotal    float64 `json:"calculated_total"`
	Difference         float64 `json:"difference"`
}

// ValidateBaselineHours checks that the declared total equals the resource
// hours plus non-bill hours within 0.01. A mismatch is data, not an error.
func ValidateBaselineHours(totalBaselineHours float64, allocs []Allocation, nonBillHours float64) HoursValidation {
	sum := mathutil.Sum(allocs, func(a Allocation) float64 { return a.Hours })
	calculated := sum + nonBillHours

	return HoursValidation{
		IsValid:            mathutil.WithinTolerance(totalBaselineHours, calculated, constants.HoursTolerance),
		TotalBaselineHours: totalBaselineHours,
		SumOfResourceHours: sum,
		NonBillHours:       nonBillHours,
		CalculatedTotal:    calculated,
		Difference:         totalBaselineHours - calculated,
	}
}

// Warning renders a failed validation for logs and API responses. It returns
// an empty string for a valid result.
func (v HoursValidation) Warning() string {
	if v.IsValid {
		return ""
	}
	return fmt.Sprintf("declared total hours %.2f do not match resource hours %.2f plus non-bill hours %.2f (difference %.2f)",
		v.TotalBaselineHours, v.SumOfResourceHours, v.NonBillHours, v.Difference)
}

// DeriveNonBillHours returns the final hours worked beyond the project-level
// baseline ceiling, never negative.
func DeriveNonBillHours(projectBaselineHours float64, allocs []Allocation) float64 {
	total := mathutil.Sum(allocs, func(a Allocation) float64 { return a.Hours })
	return mathutil.Max(0, total-projectBaselineHours)
}
