// Package margin holds the financial calculation engine: cost aggregation,
// metric derivation, the baseline/final dual computation and the hours
// reconciliation. Everything here is pure and safe for concurrent use.
package margin

// Status classifies a metric against its fixed threshold.
type Status string

const (
	StatusOnTrack     Status = "On Track"
	StatusBelowTarget Status = "Below Target"
)

// ResourceAllocation is one predefined resource line of a project.
type ResourceAllocation struct {
	ResourceType  string  `json:"resource_type" yaml:"resourceType" mapstructure:"resourceType" validate:"required,max=100"`
	BaselineHours float64 `json:"baseline_hours" yaml:"baselineHours" mapstructure:"baselineHours" validate:"gte=0"`
	FinalHours    float64 `json:"final_hours" yaml:"finalHours" mapstructure:"finalHours" validate:"gte=0"`
	CostRateUSD   float64 `json:"cost_rate_usd" yaml:"costRateUsd" mapstructure:"costRateUsd" validate:"gte=0"`
}

// Allocation is the hours/rate pair the cost aggregator works on. Which hours
// field of a ResourceAllocation it carries is decided by the caller.
type Allocation struct {
	Hours       float64
	CostRateUSD float64
}

// ThirdPartyCost is an externally sourced cost line, already in USD.
type ThirdPartyCost struct {
	ResourceName string  `json:"resource_name" yaml:"resourceName" mapstructure:"resourceName" validate:"required,max=255"`
	CostUSD      float64 `json:"cost_usd" yaml:"costUsd" mapstructure:"costUsd" validate:"gte=0"`
	Hours        float64 `json:"hours" yaml:"hours" mapstructure:"hours" validate:"gte=0"`
}

// CostBreakdown holds the unrounded cost subtotals in USD.
type CostBreakdown struct {
	PredefinedResourceCosts float64 `json:"predefined_resource_costs"`
	ThirdPartyCosts         float64 `json:"third_party_costs"`
	NonBillCosts            float64 `json:"non_bill_costs"`
	TotalCosts              float64 `json:"total_costs"`
}

// Metrics is one computed metrics snapshot of a project.
type Metrics struct {
	TotalCostsUSD float64       `json:"total_costs_usd"`
	MarginPercent float64       `json:"margin_percent"`
	NetRevenueUSD float64       `json:"net_revenue_usd"`
	EBITAUSD      float64       `json:"ebita_usd"`
	PSRatio       float64       `json:"ps_ratio"`
	MarginStatus  Status        `json:"margin_status"`
	PSRatioStatus Status        `json:"ps_ratio_status"`
	Breakdown     CostBreakdown `json:"breakdown"`
}

// BaselineAllocations projects resources onto their baseline hours.
func BaselineAllocations(resources []ResourceAllocation) []Allocation {
	allocs := make([]Allocation, len(resources))
	for i, r := range resources {
		allocs[i] = Allocation{Hours: r.BaselineHours, CostRateUSD: r.CostRateUSD}
	}
	return allocs
}

// FinalAllocations projects resources onto their final hours.
func FinalAllocations(resources []ResourceAllocation) []Allocation {
	allocs := make([]Allocation, len(resources))
	for i, r := range resources {
		allocs[i] = Allocation{Hours: r.FinalHours, CostRateUSD: r.CostRateUSD}
	}
	return allocs
}
