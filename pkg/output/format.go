// Package output provides utilities for formatting and displaying project results.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/format"
)

// CSVHeader lists the exported columns in order.
var CSVHeader = []string{
	"Client",
	"Project Name",
	"Contract Number",
	"Oracle ID",
	"Currency",
	"Service Value",
	"Service Value (USD)",
	"Baseline Total Costs (USD)",
	"Baseline Margin %",
	"Total Costs (USD)",
	"Margin %",
	"Margin Status",
	"Net Revenue (USD)",
	"EBITA (USD)",
	"PS Ratio",
	"PS Ratio Status",
	"Total Baseline Hours",
	"Non-Bill Hours",
	"Hours Valid",
	"Created At",
}

// PrettyFormat writes a human-readable rather than machine-readable report.
func PrettyFormat(w io.Writer, projects []store.Project) {
	for i, p := range projects {
		title := p.ProjectName
		if p.ClientName != "" {
			title = fmt.Sprintf("%s (%s)", p.ProjectName, p.ClientName)
		}
		fmt.Fprintf(w, "--- Results for project %s ---\n", title)
		fmt.Fprintf(w, "Service value | %s", format.Currency(p.LocalServiceValue, p.CurrencyUsed))
		if p.CurrencyUsed != "" && p.CurrencyUsed != constants.BaseCurrency {
			fmt.Fprintf(w, " (%s)", format.USD(p.ServiceValueUSD))
		}
		fmt.Fprintf(w, "\n")

		fmt.Fprintf(w, "Metric        | Baseline | Final | Variance\n")
		fmt.Fprintf(w, "______        | ________ | _____ | ________\n")
		b, f := p.Baseline, p.Final
		row(w, "Total costs", format.USD(b.TotalCostsUSD), format.USD(f.TotalCostsUSD),
			format.Signed(format.USD(f.TotalCostsUSD-b.TotalCostsUSD), f.TotalCostsUSD-b.TotalCostsUSD))
		row(w, "Net revenue", format.USD(b.NetRevenueUSD), format.USD(f.NetRevenueUSD),
			format.Signed(format.USD(f.NetRevenueUSD-b.NetRevenueUSD), f.NetRevenueUSD-b.NetRevenueUSD))
		row(w, "EBITA", format.USD(b.EBITAUSD), format.USD(f.EBITAUSD),
			format.Signed(format.USD(f.EBITAUSD-b.EBITAUSD), f.EBITAUSD-b.EBITAUSD))
		row(w, "Margin", format.Percent(b.MarginPercent), format.Percent(f.MarginPercent),
			format.Signed(format.Percent(f.MarginPercent-b.MarginPercent), f.MarginPercent-b.MarginPercent))
		row(w, "PS ratio", ratio(b.PSRatio), ratio(f.PSRatio),
			format.Signed(ratio(f.PSRatio-b.PSRatio), f.PSRatio-b.PSRatio))
		row(w, "Status", b.MarginStatus+" / "+b.PSRatioStatus, f.MarginStatus+" / "+f.PSRatioStatus, "")

		hours := "valid"
		if !p.HoursValid {
			hours = "mismatch of " + format.Hours(p.HoursDifference)
		}
		fmt.Fprintf(w, "Hours         | declared %s, non-bill %s, %s\n",
			format.Hours(p.TotalBaselineHours), format.Hours(p.NonBillHours), hours)

		if i < len(projects)-1 {
			fmt.Fprintf(w, "\n")
		}
	}
}

func row(w io.Writer, label, baseline, final, variance string) {
	line := fmt.Sprintf("%-13s | %s | %s", label, baseline, final)
	if variance != "" {
		line += " | " + variance
	}
	fmt.Fprintln(w, line)
}

func ratio(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// CsvFormat writes one row per project in comma-separated value format.
func CsvFormat(w io.Writer, projects []store.Project) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range projects {
		if err := cw.Write(csvRecord(p)); err != nil {
			return fmt.Errorf("failed to write csv row for project %d: %w", p.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(p store.Project) []string {
	amount := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	created := ""
	if !p.CreatedAt.IsZero() {
		created = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		p.ClientName,
		p.ProjectName,
		p.ContractNumber,
		p.OracleID,
		p.CurrencyUsed,
		amount(p.LocalServiceValue),
		amount(p.ServiceValueUSD),
		amount(p.Baseline.TotalCostsUSD),
		amount(p.Baseline.MarginPercent),
		amount(p.Final.TotalCostsUSD),
		amount(p.Final.MarginPercent),
		p.Final.MarginStatus,
		amount(p.Final.NetRevenueUSD),
		amount(p.Final.EBITAUSD),
		amount(p.Final.PSRatio),
		p.Final.PSRatioStatus,
		amount(p.TotalBaselineHours),
		amount(p.NonBillHours),
		strconv.FormatBool(p.HoursValid),
		created,
	}
}
