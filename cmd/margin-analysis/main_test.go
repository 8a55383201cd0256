package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/config"
	"github.com/iwvelando/margin-analysis/internal/margin"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/testutil"
	"github.com/iwvelando/margin-analysis/pkg/validation"
)

func offlineConfig(worksheets ...config.Worksheet) config.Configuration {
	return config.Configuration{
		Currency: config.CurrencyConfig{Offline: true},
		Seed: config.SeedConfig{
			CostRates: []config.CostRateSeed{{ResourceType: "Project Manager", RateUSD: 100}},
		},
		Projects: worksheets,
	}
}

func TestEvaluate(t *testing.T) {
	conf := offlineConfig(
		config.Worksheet{
			Name:               "Core Banking Migration",
			Client:             "Acme",
			Currency:           constants.BaseCurrency,
			ServiceValue:       100000,
			TotalBaselineHours: 210,
			NonBillHours:       10,
			Resources:          []margin.ResourceAllocation{{ResourceType: "Project Manager", BaselineHours: 200, FinalHours: 200}},
			ThirdParty:         []margin.ThirdPartyCost{{ResourceName: "Vendor", CostUSD: 5000}},
		},
		config.Worksheet{
			Name:               "Portal Refresh",
			Currency:           constants.CurrencyAUD,
			ServiceValue:       20000,
			TotalBaselineHours: 100,
			Resources:          []margin.ResourceAllocation{{ResourceType: "Project Manager", BaselineHours: 100, FinalHours: 100}},
		},
	)

	projects, err := evaluate(context.Background(), zap.NewNop(), conf)
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}

	first := testutil.FindProject(projects, "Core Banking Migration")
	if first == nil {
		t.Fatal("expected Core Banking Migration in the results")
	}
	if first.ClientName != "Acme" || first.ProjectName != "Core Banking Migration" {
		t.Errorf("unexpected first project %q (%q)", first.ProjectName, first.ClientName)
	}
	if first.Final.MarginStatus != constants.StatusOnTrack {
		t.Errorf("expected first project on track, got %q", first.Final.MarginStatus)
	}
	if len(first.Resources) != 1 || first.Resources[0].CostRateUSD != 100 {
		t.Errorf("expected the seeded rate on the resource line, got %+v", first.Resources)
	}

	second := projects[1]
	if testutil.FindProject(projects, "Portal Refresh") != &projects[1] {
		t.Error("expected results in worksheet order")
	}
	if second.ClientName != unassignedClient {
		t.Errorf("expected unassigned client, got %q", second.ClientName)
	}
	if second.ServiceValueUSD != 13000 {
		t.Errorf("expected 13000 USD at the default AUD rate, got %v", second.ServiceValueUSD)
	}
	if second.Final.MarginStatus != constants.StatusBelowTarget {
		t.Errorf("expected second project below target, got %q", second.Final.MarginStatus)
	}

	var buf bytes.Buffer
	if err := render(&buf, constants.OutputFormatCSV, projects); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil || len(records) != 3 {
		t.Errorf("expected header plus 2 CSV rows, got %d (%v)", len(records), err)
	}

	buf.Reset()
	if err := render(&buf, constants.OutputFormatPretty, projects); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "--- Results for project Portal Refresh (Unassigned) ---") {
		t.Errorf("unexpected pretty output:\n%s", buf.String())
	}
}

func TestEvaluateRejectsInvalidWorksheet(t *testing.T) {
	conf := offlineConfig(config.Worksheet{
		Name:      "Unpriced",
		Currency:  "JPY",
		Resources: []margin.ResourceAllocation{{ResourceType: "Project Manager", FinalHours: 10}},
	})

	_, err := evaluate(context.Background(), zap.NewNop(), conf)
	if !errors.Is(err, validation.ErrInvalid) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestEvaluateSeededResourceType(t *testing.T) {
	conf := offlineConfig(config.Worksheet{
		Name:         "Data Platform",
		Currency:     constants.BaseCurrency,
		ServiceValue: 50000,
		Resources:    []margin.ResourceAllocation{{ResourceType: "Data Engineer", BaselineHours: 40, FinalHours: 40}},
	})
	conf.Seed.CostRates = append(conf.Seed.CostRates, config.CostRateSeed{ResourceType: "Data Engineer", RateUSD: 120})

	projects, err := evaluate(context.Background(), zap.NewNop(), conf)
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if len(projects) != 1 || len(projects[0].Resources) != 1 || projects[0].Resources[0].CostRateUSD != 120 {
		t.Errorf("expected the seeded Data Engineer rate, got %+v", projects)
	}
}

func TestEvaluateUnknownResourceType(t *testing.T) {
	conf := offlineConfig(config.Worksheet{
		Name:      "Unstaffed",
		Currency:  constants.BaseCurrency,
		Resources: []margin.ResourceAllocation{{ResourceType: "Astronaut", FinalHours: 10}},
	})

	_, err := evaluate(context.Background(), zap.NewNop(), conf)
	if err == nil || !strings.Contains(err.Error(), "Unstaffed") {
		t.Errorf("expected an error naming the project, got %v", err)
	}
}
