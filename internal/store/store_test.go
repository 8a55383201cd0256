package store

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/iwvelando/margin-analysis/pkg/constants"
)

func TestSummarize(t *testing.T) {
	projects := []Project{
		{
			ServiceValueUSD: 100000,
			Final: MetricsSnapshot{
				TotalCostsUSD: 26000, MarginPercent: 74, NetRevenueUSD: 95000, EBITAUSD: 74000, PSRatio: 4.75,
				MarginStatus: constants.StatusOnTrack, PSRatioStatus: constants.StatusOnTrack,
			},
		},
		{
			ServiceValueUSD: 50000.5,
			Final: MetricsSnapshot{
				TotalCostsUSD: 40000, MarginPercent: 20, NetRevenueUSD: 45000, EBITAUSD: 10000, PSRatio: 1.5,
				MarginStatus: constants.StatusBelowTarget, PSRatioStatus: constants.StatusBelowTarget,
			},
		},
		{
			ServiceValueUSD: 10000,
			Final: MetricsSnapshot{
				TotalCostsUSD: 5500, MarginPercent: 45, NetRevenueUSD: 10000, EBITAUSD: 4500, PSRatio: 1.82,
				MarginStatus: constants.StatusOnTrack, PSRatioStatus: constants.StatusBelowTarget,
			},
		},
	}

	expected := DashboardStats{
		TotalProjects:             3,
		AvgMargin:                 46.33,
		AvgPSRatio:                2.69,
		ProjectsOnTrackMargin:     2,
		ProjectsBelowTargetMargin: 1,
		ProjectsOnTrackPS:         1,
		ProjectsBelowTargetPS:     2,
		TotalServiceValueUSD:      160000.5,
		TotalCostsUSD:             71500,
		TotalNetRevenueUSD:        150000,
		TotalEBITAUSD:             88500,
	}

	if diff := cmp.Diff(expected, Summarize(projects)); diff != "" {
		t.Errorf("Summarize() mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if diff := cmp.Diff(DashboardStats{}, Summarize(nil)); diff != "" {
		t.Errorf("Summarize(nil) mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultCostRates(t *testing.T) {
	overlong := strings.Repeat("x", constants.MaxResourceTypeLength+1)
	rates := DefaultCostRates(map[string]float64{
		"Project Manager": 120,
		"Data Engineer":   99,
		" ":               10,
		overlong:          10,
	})

	if len(rates) != len(constants.ResourceTypes)+1 {
		t.Fatalf("expected %d resource types, got %d", len(constants.ResourceTypes)+1, len(rates))
	}
	if rates["Project Manager"] != 120 {
		t.Errorf("expected configured rate 120, got %v", rates["Project Manager"])
	}
	if rates["Project Director"] != 0 {
		t.Errorf("expected unconfigured rate 0, got %v", rates["Project Director"])
	}
	if rates["Data Engineer"] != 99 {
		t.Errorf("configured types extend the catalog, got %v", rates)
	}
}

func TestDefaultExchangeRates(t *testing.T) {
	rates := DefaultExchangeRates(map[string]float64{"AUD": 0.66, "USD": 2, "EUR": -1})

	expected := map[string]float64{
		"USD": 1.00,
		"AUD": 0.66,
		"EUR": 1.08,
		"GBP": 1.27,
		"SGD": 0.74,
		"NZD": 0.61,
	}
	if diff := cmp.Diff(expected, rates); diff != "" {
		t.Errorf("DefaultExchangeRates() mismatch (-want +got):\n%s", diff)
	}
}
