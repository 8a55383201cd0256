package output

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/iwvelando/margin-analysis/internal/store"
)

func sampleProjects() []store.Project {
	return []store.Project{
		{
			ID:                 1,
			ClientName:         "Acme",
			CurrencyUsed:       "AUD",
			ContractNumber:     "C-100",
			OracleID:           "OR-7",
			ProjectName:        "Core Banking Migration",
			LocalServiceValue:  200000,
			ServiceValueUSD:    100000,
			TotalBaselineHours: 210,
			NonBillHours:       10,
			HoursValid:         true,
			Baseline: store.MetricsSnapshot{
				TotalCostsUSD: 25000, MarginPercent: 75, NetRevenueUSD: 95000, EBITAUSD: 75000, PSRatio: 4.75,
				MarginStatus: "On Track", PSRatioStatus: "On Track",
			},
			Final: store.MetricsSnapshot{
				TotalCostsUSD: 26000, MarginPercent: 74, NetRevenueUSD: 95000, EBITAUSD: 74000, PSRatio: 4.75,
				MarginStatus: "On Track", PSRatioStatus: "On Track",
			},
			CreatedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		},
		{
			ID:                 2,
			CurrencyUsed:       "USD",
			ProjectName:        "Thin Margin, \"Quoted\"",
			LocalServiceValue:  1000,
			ServiceValueUSD:    1000,
			TotalBaselineHours: 12,
			HoursValid:         false,
			HoursDifference:    2,
			Final: store.MetricsSnapshot{
				TotalCostsUSD: 604, MarginPercent: 40, MarginStatus: "Below Target", PSRatioStatus: "Below Target",
			},
		},
	}
}

func TestPrettyFormat(t *testing.T) {
	var buf bytes.Buffer
	PrettyFormat(&buf, sampleProjects())
	output := buf.String()

	expected := []string{
		"--- Results for project Core Banking Migration (Acme) ---",
		"Service value | AUD 200,000.00 ($100,000.00)",
		"Metric        | Baseline | Final | Variance",
		"Total costs   | $25,000.00 | $26,000.00 | +$1,000.00",
		"EBITA         | $75,000.00 | $74,000.00 | -$1,000.00",
		"Margin        | 75.00% | 74.00% | -1.00%",
		"PS ratio      | 4.75 | 4.75 | +0.00",
		"Status        | On Track / On Track | On Track / On Track",
		"Hours         | declared 210.00, non-bill 10.00, valid",
		"--- Results for project Thin Margin, \"Quoted\" ---",
		"Service value | $1,000.00\n",
		"Hours         | declared 12.00, non-bill 0.00, mismatch of 2.00",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("PrettyFormat output missing %q\n%s", want, output)
		}
	}

	if strings.HasSuffix(output, "\n\n") {
		t.Error("PrettyFormat should not end with a blank separator line")
	}
}

func TestPrettyFormatEmptyResults(t *testing.T) {
	var buf bytes.Buffer
	PrettyFormat(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output for no projects, got %q", buf.String())
	}
}

func TestCsvFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := CsvFormat(&buf, sampleProjects()); err != nil {
		t.Fatalf("CsvFormat() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("CsvFormat produced invalid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}

	header := records[0]
	if len(header) != len(CSVHeader) {
		t.Fatalf("expected %d columns, got %d", len(CSVHeader), len(header))
	}
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %q", name)
		return -1
	}

	first := records[1]
	checks := map[string]string{
		"Client":              "Acme",
		"Currency":            "AUD",
		"Service Value":       "200000.00",
		"Service Value (USD)": "100000.00",
		"Margin %":            "74.00",
		"Baseline Margin %":   "75.00",
		"PS Ratio":            "4.75",
		"Hours Valid":         "true",
		"Created At":          "2026-03-02T09:30:00Z",
	}
	for name, want := range checks {
		if got := first[col(name)]; got != want {
			t.Errorf("column %q = %q, expected %q", name, got, want)
		}
	}

	second := records[2]
	if got := second[col("Project Name")]; got != "Thin Margin, \"Quoted\"" {
		t.Errorf("quoted project name not preserved: %q", got)
	}
	if got := second[col("Margin Status")]; got != "Below Target" {
		t.Errorf("Margin Status = %q", got)
	}
	if got := second[col("Created At")]; got != "" {
		t.Errorf("zero creation time should be empty, got %q", got)
	}
}

func TestCsvFormatEmptyResults(t *testing.T) {
	var buf bytes.Buffer
	if err := CsvFormat(&buf, nil); err != nil {
		t.Fatalf("CsvFormat() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "Client,Project Name") {
		t.Errorf("expected only the header, got %q", buf.String())
	}
}
