package margin

import "github.com/iwvelando/margin-analysis/pkg/mathutil"

// AggregateCosts sums the internal, third-party and non-bill costs. Inputs are
// not validated; negative hours or rates flow straight through.
func AggregateCosts(allocs []Allocation, thirdParty []ThirdPartyCost, nonBillHours, avgCostRate float64) CostBreakdown {
	predefined := mathutil.Sum(allocs, func(a Allocation) float64 { return a.Hours * a.CostRateUSD })
	external := mathutil.Sum(thirdParty, func(c ThirdPartyCost) float64 { return c.CostUSD })
	nonBill := nonBillHours * avgCostRate

	return CostBreakdown{
		PredefinedResourceCosts: predefined,
		ThirdPartyCosts:         external,
		NonBillCosts:            nonBill,
		TotalCosts:              predefined + external + nonBill,
	}
}

// AverageCostRate is the unweighted mean cost rate of the set, 0 when empty.
// Rates are averaged per line regardless of hours, so a zero-hour line still
// pulls the average.
func AverageCostRate(allocs []Allocation) float64 {
	return mathutil.Mean(allocs, func(a Allocation) float64 { return a.CostRateUSD })
}
