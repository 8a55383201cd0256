package margin

import (
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/mathutil"
)

// ComputeMetrics derives the reported metrics from a service value in USD and
// a cost breakdown.
//
// COGS is the third-party cost only and OPEX is the predefined resource cost
// only. Statuses are classified on the unrounded margin and ratio; the stored
// figures are rounded afterwards (integers, ratio to two decimals).
func ComputeMetrics(serviceValueUSD float64, b CostBreakdown) Metrics {
	netRevenue := serviceValueUSD - b.ThirdPartyCosts
	ebita := serviceValueUSD - b.TotalCosts
	marginPct := mathutil.CalculatePercentage(ebita, serviceValueUSD)
	psRatio := mathutil.SafeDivide(netRevenue, b.PredefinedResourceCosts)

	return Metrics{
		TotalCostsUSD: mathutil.RoundHalfUp(b.TotalCosts),
		MarginPercent: mathutil.RoundHalfUp(marginPct),
		NetRevenueUSD: mathutil.RoundHalfUp(netRevenue),
		EBITAUSD:      mathutil.RoundHalfUp(ebita),
		PSRatio:       mathutil.Round(psRatio),
		MarginStatus:  MarginStatus(marginPct),
		PSRatioStatus: PSRatioStatus(psRatio),
		Breakdown:     b,
	}
}

// MarginStatus classifies a margin percentage against the 40% threshold.
func MarginStatus(marginPercent float64) Status {
	if marginPercent >= constants.MarginThresholdPercent {
		return StatusOnTrack
	}
	return StatusBelowTarget
}

// PSRatioStatus classifies a PS ratio against the 2.0 threshold.
func PSRatioStatus(psRatio float64) Status {
	if psRatio >= constants.PSRatioThreshold {
		return StatusOnTrack
	}
	return StatusBelowTarget
}
