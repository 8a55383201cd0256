// Package testutil provides common utility functions for testing.
package testutil

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/internal/store/sqlite"
)

// FindProject finds a project by name in the results slice.
// Returns a pointer to the project if found, nil otherwise.
func FindProject(projects []store.Project, name string) *store.Project {
	for i := range projects {
		if projects[i].ProjectName == name {
			return &projects[i]
		}
	}
	return nil
}

// NewSeededStore opens an in-memory SQLite store seeded with the full
// resource catalog (configured rates applied) and the default exchange rates.
// The store is closed when the test ends.
func NewSeededStore(t testing.TB, costRates map[string]float64) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Seed(context.Background(), store.DefaultCostRates(costRates), store.DefaultExchangeRates(nil)); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	return st
}
