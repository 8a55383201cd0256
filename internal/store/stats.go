package store

import (
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/mathutil"
)

// DashboardStats aggregates the final snapshots of a project list.
type DashboardStats struct {
	TotalProjects             int     `json:"total_projects"`
	AvgMargin                 float64 `json:"avg_margin"`
	AvgPSRatio                float64 `json:"avg_ps_ratio"`
	ProjectsOnTrackMargin     int     `json:"projects_on_track_margin"`
	ProjectsBelowTargetMargin int     `json:"projects_below_target_margin"`
	ProjectsOnTrackPS         int     `json:"projects_on_track_ps"`
	ProjectsBelowTargetPS     int     `json:"projects_below_target_ps"`
	TotalServiceValueUSD      float64 `json:"total_service_value_usd"`
	TotalCostsUSD             float64 `json:"total_costs"`
	TotalNetRevenueUSD        float64 `json:"total_net_revenue"`
	TotalEBITAUSD             float64 `json:"total_ebita"`
}

// Summarize computes dashboard statistics over projects. Averages are rounded
// to two decimals; an empty list yields zero values.
func Summarize(projects []Project) DashboardStats {
	stats := DashboardStats{TotalProjects: len(projects)}
	for _, p := range projects {
		switch p.Final.MarginStatus {
		case constants.StatusOnTrack:
			stats.ProjectsOnTrackMargin++
		case constants.StatusBelowTarget:
			stats.ProjectsBelowTargetMargin++
		}
		switch p.Final.PSRatioStatus {
		case constants.StatusOnTrack:
			stats.ProjectsOnTrackPS++
		case constants.StatusBelowTarget:
			stats.ProjectsBelowTargetPS++
		}
	}

	stats.AvgMargin = mathutil.Round(mathutil.Mean(projects, func(p Project) float64 { return p.Final.MarginPercent }))
	stats.AvgPSRatio = mathutil.Round(mathutil.Mean(projects, func(p Project) float64 { return p.Final.PSRatio }))
	stats.TotalServiceValueUSD = mathutil.Round(mathutil.Sum(projects, func(p Project) float64 { return p.ServiceValueUSD }))
	stats.TotalCostsUSD = mathutil.Sum(projects, func(p Project) float64 { return p.Final.TotalCostsUSD })
	stats.TotalNetRevenueUSD = mathutil.Sum(projects, func(p Project) float64 { return p.Final.NetRevenueUSD })
	stats.TotalEBITAUSD = mathutil.Sum(projects, func(p Project) float64 { return p.Final.EBITAUSD })
	return stats
}
