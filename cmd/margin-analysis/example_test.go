package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/config"
	"github.com/iwvelando/margin-analysis/pkg/constants"
)

var exampleConfig = filepath.Join("..", "..", constants.ExampleConfigFile)

// TestExampleConfiguration runs the shipped example end to end without
// touching the network.
func TestExampleConfiguration(t *testing.T) {
	conf, err := config.LoadConfiguration(exampleConfig)
	if err != nil {
		t.Fatalf("LoadConfiguration failed: %v", err)
	}
	if warnings := conf.ValidateConfiguration(); len(warnings) != 0 {
		t.Errorf("example should validate cleanly, got %v", warnings)
	}
	conf.Currency.Offline = true

	projects, err := evaluate(context.Background(), zap.NewNop(), *conf)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("Expected 1 project, got %d", len(projects))
	}

	p := projects[0]
	if p.ServiceValueUSD != 162500 {
		t.Errorf("Expected 162500 USD at the default AUD rate, got %v", p.ServiceValueUSD)
	}
	if p.NonBillHours != 80 || !p.HoursValid {
		t.Errorf("Expected 80 valid non-bill hours, got %v (valid=%v)", p.NonBillHours, p.HoursValid)
	}
	if p.Final.MarginStatus != constants.StatusBelowTarget {
		t.Errorf("Expected final margin below target, got %q at %v%%", p.Final.MarginStatus, p.Final.MarginPercent)
	}
}

// TestExamplePerformance tests performance characteristics
func TestExamplePerformance(t *testing.T) {
	if !testing.Verbose() {
		t.Skip("Skipping performance test. Run with -v to enable.")
	}

	start := time.Now()
	conf, err := config.LoadConfiguration(exampleConfig)
	if err != nil {
		t.Fatalf("LoadConfiguration failed: %v", err)
	}
	loadTime := time.Since(start)
	conf.Currency.Offline = true

	start = time.Now()
	if _, err := evaluate(context.Background(), zap.NewNop(), *conf); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	evaluateTime := time.Since(start)

	t.Logf("Config loading: %v", loadTime)
	t.Logf("Evaluation: %v", evaluateTime)

	if evaluateTime > 5*time.Second {
		t.Errorf("Evaluation took too long: %v", evaluateTime)
	}
}
