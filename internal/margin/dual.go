package margin

import "github.com/iwvelando/margin-analysis/pkg/constants"

// ComputeProjectMetrics computes the final snapshot: final hours, the caller's
// non-bill hours, and non-bill hours costed at the mean rate of the set.
func ComputeProjectMetrics(serviceValueUSD float64, resources []ResourceAllocation, thirdParty []ThirdPartyCost, nonBillHours float64) Metrics {
	allocs := FinalAllocations(resources)
	costs := AggregateCosts(allocs, thirdParty, nonBillHours, AverageCostRate(allocs))
	return ComputeMetrics(serviceValueUSD, costs)
}

// ComputeBaselineMetrics computes the baseline snapshot from baseline hours.
// Baseline has no over-allocation, so non-bill hours never enter it.
func ComputeBaselineMetrics(serviceValueUSD float64, resources []ResourceAllocation, thirdParty []ThirdPartyCost) Metrics {
	costs := AggregateCosts(BaselineAllocations(resources), thirdParty, 0, 0)
	return ComputeMetrics(serviceValueUSD, costs)
}

// VarianceBand summarizes how a final figure compares to its baseline.
type VarianceBand string

const (
	VarianceMet           VarianceBand = "met"
	VarianceSlightlyBelow VarianceBand = "slightly_below"
	VarianceBelow         VarianceBand = "below"
)

// Variance is final minus baseline for every stored metric. Positive values
// mean the final snapshot is better than planned, except for TotalCostsUSD
// where a positive value is an overrun.
type Variance struct {
	TotalCostsUSD float64      `json:"total_costs_usd"`
	MarginPercent float64      `json:"margin_percent"`
	NetRevenueUSD float64      `json:"net_revenue_usd"`
	EBITAUSD      float64      `json:"ebita_usd"`
	PSRatio       float64      `json:"ps_ratio"`
	MarginBand    VarianceBand `json:"margin_band"`
}

// DualMetrics pairs the two snapshots of a project with their variance.
type DualMetrics struct {
	Baseline Metrics  `json:"baseline"`
	Final    Metrics  `json:"final"`
	Variance Variance `json:"variance"`
}

// ComputeDual runs the baseline and final pipelines independently and derives
// the variance between them.
func ComputeDual(serviceValueUSD float64, resources []ResourceAllocation, thirdParty []ThirdPartyCost, nonBillHours float64) DualMetrics {
	baseline := ComputeBaselineMetrics(serviceValueUSD, resources, thirdParty)
	final := ComputeProjectMetrics(serviceValueUSD, resources, thirdParty, nonBillHours)
	return DualMetrics{
		Baseline: baseline,
		Final:    final,
		Variance: CompareMetrics(baseline, final),
	}
}

// CompareMetrics returns final minus baseline over the stored (rounded) figures.
func CompareMetrics(baseline, final Metrics) Variance {
	marginDelta := final.MarginPercent - baseline.MarginPercent
	return Variance{
		TotalCostsUSD: final.TotalCostsUSD - baseline.TotalCostsUSD,
		MarginPercent: marginDelta,
		NetRevenueUSD: final.NetRevenueUSD - baseline.NetRevenueUSD,
		EBITAUSD:      final.EBITAUSD - baseline.EBITAUSD,
		PSRatio:       final.PSRatio - baseline.PSRatio,
		MarginBand:    ClassifyVariance(marginDelta),
	}
}

// ClassifyVariance buckets a final-minus-baseline delta.
func ClassifyVariance(delta float64) VarianceBand {
	switch {
	case delta >= 0:
		return VarianceMet
	case delta >= -constants.VarianceSlightlyBelowBand:
		return VarianceSlightlyBelow
	default:
		return VarianceBelow
	}
}
