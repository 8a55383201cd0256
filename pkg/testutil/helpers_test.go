package testutil

import (
	"context"
	"testing"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
)

func TestFindProject(t *testing.T) {
	projects := []store.Project{
		{ID: 1, ProjectName: "Core Banking Migration"},
		{ID: 2, ProjectName: "Portal Refresh"},
		{ID: 3, ProjectName: "Core Banking Migration Phase 2"},
	}

	tests := []struct {
		name       string
		searchName string
		expectedID int64
	}{
		{name: "Find first project", searchName: "Core Banking Migration", expectedID: 1},
		{name: "Find second project", searchName: "Portal Refresh", expectedID: 2},
		{name: "Exact match only", searchName: "Core Banking", expectedID: 0},
		{name: "Empty name", searchName: "", expectedID: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FindProject(projects, tt.searchName)
			if tt.expectedID == 0 {
				if result != nil {
					t.Errorf("Expected no project, got %d", result.ID)
				}
				return
			}
			if result == nil {
				t.Fatalf("Expected project %d, got nil", tt.expectedID)
			}
			if result.ID != tt.expectedID {
				t.Errorf("Expected project %d, got %d", tt.expectedID, result.ID)
			}
		})
	}

	if FindProject(nil, "anything") != nil {
		t.Error("Expected nil for nil slice")
	}
}

func TestFindProjectReturnsPointerIntoSlice(t *testing.T) {
	projects := []store.Project{{ProjectName: "Portal Refresh"}}
	FindProject(projects, "Portal Refresh").NonBillHours = 12
	if projects[0].NonBillHours != 12 {
		t.Error("Expected FindProject to return a pointer into the slice")
	}
}

func TestNewSeededStore(t *testing.T) {
	st := NewSeededStore(t, map[string]float64{"Project Manager": 100})
	ctx := context.Background()

	rates, err := st.ListCostRates(ctx)
	if err != nil {
		t.Fatalf("ListCostRates() error = %v", err)
	}
	if len(rates) != len(constants.ResourceTypes) {
		t.Errorf("Expected %d cost rates, got %d", len(constants.ResourceTypes), len(rates))
	}

	rate, ok, err := st.CostRate(ctx, "Project Manager")
	if err != nil || !ok || rate != 100 {
		t.Errorf("Expected Project Manager at 100, got %v (found=%v, err=%v)", rate, ok, err)
	}

	aud, ok, err := st.ExchangeRate(ctx, constants.CurrencyAUD)
	if err != nil || !ok || aud != constants.DefaultExchangeRates[constants.CurrencyAUD] {
		t.Errorf("Expected default AUD rate, got %v (found=%v, err=%v)", aud, ok, err)
	}
}
