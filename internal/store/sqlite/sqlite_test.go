package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	err := s.Seed(context.Background(),
		store.DefaultCostRates(map[string]float64{"Project Manager": 100, "Solution Architect": 150}),
		store.DefaultExchangeRates(nil),
	)
	if err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}
	return s
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acme, err := s.CreateClient(ctx, "Acme")
	if err != nil {
		t.Fatalf("CreateClient() failed: %v", err)
	}
	if acme.ID == 0 {
		t.Fatal("expected an assigned client ID")
	}

	if _, err := s.CreateClient(ctx, "Acme"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate client: expected ErrConflict, got %v", err)
	}

	if _, err := s.CreateClient(ctx, "Borealis"); err != nil {
		t.Fatalf("CreateClient() failed: %v", err)
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() failed: %v", err)
	}
	if len(clients) != 2 || clients[0].Name != "Acme" || clients[1].Name != "Borealis" {
		t.Errorf("unexpected client list: %+v", clients)
	}

	renamed, err := s.UpdateClient(ctx, acme.ID, "Acme Corp")
	if err != nil {
		t.Fatalf("UpdateClient() failed: %v", err)
	}
	if renamed.Name != "Acme Corp" {
		t.Errorf("expected renamed client, got %q", renamed.Name)
	}

	if _, err := s.UpdateClient(ctx, 9999, "Ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing client update: expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteClient(ctx, acme.ID); err != nil {
		t.Fatalf("DeleteClient() failed: %v", err)
	}
	if _, err := s.GetClient(ctx, acme.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted client: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteClient(ctx, acme.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func sampleProject(clientID int64) *store.Project {
	ceiling := 150.0
	return &store.Project{
		ClientID:           clientID,
		CurrencyUsed:       "AUD",
		ContractNumber:     "CN-2024-001",
		OracleID:           "ORA-77",
		ProjectName:        "Core Banking Migration",
		LocalServiceValue:  100000,
		ServiceValueUSD:    65000,
		BaselineHours:      &ceiling,
		TotalBaselineHours: 150,
		NonBillHours:       50,
		Final: store.MetricsSnapshot{
			TotalCostsUSD: 30000, MarginPercent: 54, NetRevenueUSD: 60000, EBITAUSD: 35000, PSRatio: 3,
			MarginStatus: constants.StatusOnTrack, PSRatioStatus: constants.StatusOnTrack,
		},
		Baseline: store.MetricsSnapshot{
			TotalCostsUSD: 20000, MarginPercent: 69, NetRevenueUSD: 60000, EBITAUSD: 45000, PSRatio: 4,
			MarginStatus: constants.StatusOnTrack, PSRatioStatus: constants.StatusOnTrack,
		},
		HoursValid: true,
		CreatedBy:  "u-1",
		Resources: []store.ResourceLine{
			{ResourceType: "Solution Architect", BaselineHours: 100, FinalHours: 120, CostRateUSD: 150, TotalCostUSD: 18000},
			{ResourceType: "Project Manager", BaselineHours: 50, FinalHours: 80, CostRateUSD: 100, TotalCostUSD: 8000},
		},
		ThirdParty: []store.ThirdPartyLine{
			{ResourceName: "Pen test vendor", CostUSD: 5000, Hours: 40},
		},
	}
}

func TestProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	client, err := s.CreateClient(ctx, "Acme")
	if err != nil {
		t.Fatalf("CreateClient() failed: %v", err)
	}

	p := sampleProject(client.ID)
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject() insert failed: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected an assigned project ID")
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject() failed: %v", err)
	}
	if got.ClientName != "Acme" {
		t.Errorf("expected client name Acme, got %q", got.ClientName)
	}
	if got.BaselineHours == nil || *got.BaselineHours != 150 {
		t.Errorf("expected baseline ceiling 150, got %v", got.BaselineHours)
	}
	if got.Final.MarginPercent != 54 || got.Baseline.MarginPercent != 69 {
		t.Errorf("snapshots not round-tripped: final %+v baseline %+v", got.Final, got.Baseline)
	}
	if len(got.Resources) != 2 || got.Resources[0].ResourceType != "Project Manager" {
		t.Errorf("expected resources ordered by type, got %+v", got.Resources)
	}
	if len(got.ThirdParty) != 1 || got.ThirdParty[0].CostUSD != 5000 {
		t.Errorf("unexpected third-party lines: %+v", got.ThirdParty)
	}

	if err := s.DeleteClient(ctx, client.ID); !errors.Is(err, store.ErrClientHasProjects) {
		t.Errorf("client with projects: expected ErrClientHasProjects, got %v", err)
	}

	got.ProjectName = "Core Banking Migration Phase 2"
	got.Resources = []store.ResourceLine{
		{ResourceType: "Project Manager", BaselineHours: 60, FinalHours: 60, CostRateUSD: 100, TotalCostUSD: 6000},
	}
	got.ThirdParty = nil
	if err := s.SaveProject(ctx, &got); err != nil {
		t.Fatalf("SaveProject() update failed: %v", err)
	}

	updated, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject() after update failed: %v", err)
	}
	if updated.ProjectName != "Core Banking Migration Phase 2" {
		t.Errorf("expected renamed project, got %q", updated.ProjectName)
	}
	if len(updated.Resources) != 1 || len(updated.ThirdParty) != 0 {
		t.Errorf("line sets not replaced: %d resources, %d third-party", len(updated.Resources), len(updated.ThirdParty))
	}
	if updated.CreatedBy != "u-1" {
		t.Errorf("creator must survive updates, got %q", updated.CreatedBy)
	}

	missing := sampleProject(client.ID)
	missing.ID = 9999
	if err := s.SaveProject(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update of missing project: expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject() failed: %v", err)
	}
	if _, err := s.GetProject(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted project: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}

	var orphans int64
	s.db.Model(&store.ResourceLine{}).Where("project_id = ?", p.ID).Count(&orphans)
	if orphans != 0 {
		t.Errorf("expected resource lines to be removed, found %d", orphans)
	}
	if err := s.DeleteClient(ctx, client.ID); err != nil {
		t.Errorf("client without projects should delete, got %v", err)
	}
}

func TestSaveProjectRejectsStaleUpdate(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	client, _ := s.CreateClient(ctx, "Acme")
	p := sampleProject(client.ID)
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject() insert failed: %v", err)
	}

	first, _ := s.GetProject(ctx, p.ID)
	second, _ := s.GetProject(ctx, p.ID)

	first.ProjectName = "First Writer"
	if err := s.SaveProject(ctx, &first); err != nil {
		t.Fatalf("SaveProject() first update failed: %v", err)
	}

	second.ProjectName = "Second Writer"
	if err := s.SaveProject(ctx, &second); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}

	got, _ := s.GetProject(ctx, p.ID)
	if got.ProjectName != "First Writer" {
		t.Errorf("stale update must not be applied, got %q", got.ProjectName)
	}
	if len(got.Resources) != 2 {
		t.Errorf("stale update must not replace lines, got %d resources", len(got.Resources))
	}
}

func TestListProjectsDateBoundsIgnoreZones(t *testing.T) {
	saved := time.Local
	time.Local = time.FixedZone("AEDT", 11*3600)
	t.Cleanup(func() { time.Local = saved })

	ctx := context.Background()
	s := seededStore(t)

	client, _ := s.CreateClient(ctx, "Acme")
	p := sampleProject(client.ID)
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject() failed: %v", err)
	}
	created := p.CreatedAt

	ahead := time.FixedZone("AEDT", 11*3600)
	behind := time.FixedZone("HST", -10*3600)
	hourBefore := created.Add(-time.Hour)
	hourAfter := created.Add(time.Hour)
	hourAfterUTC := hourAfter.UTC()
	hourBeforeAhead := hourBefore.In(ahead)
	hourAfterAhead := hourAfter.In(ahead)
	hourAfterBehind := hourAfter.In(behind)
	hourBeforeBehind := hourBefore.In(behind)

	tests := []struct {
		name     string
		filter   store.ProjectFilter
		expected int
	}{
		{"UTC start after creation", store.ProjectFilter{StartDate: &hourAfterUTC}, 0},
		{"Start before creation east of UTC", store.ProjectFilter{StartDate: &hourBeforeAhead}, 1},
		{"Start after creation east of UTC", store.ProjectFilter{StartDate: &hourAfterAhead}, 0},
		{"End after creation west of UTC", store.ProjectFilter{EndDate: &hourAfterBehind}, 1},
		{"End before creation west of UTC", store.ProjectFilter{EndDate: &hourBeforeBehind}, 0},
		{"Window spanning creation", store.ProjectFilter{StartDate: &hourBeforeAhead, EndDate: &hourAfterBehind}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			projects, err := s.ListProjects(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListProjects() failed: %v", err)
			}
			if len(projects) != tt.expected {
				t.Errorf("expected %d projects, got %d", tt.expected, len(projects))
			}
		})
	}
}

func TestListProjectsFilters(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	acme, _ := s.CreateClient(ctx, "Acme")
	other, _ := s.CreateClient(ctx, "Borealis")

	first := sampleProject(acme.ID)
	second := sampleProject(other.ID)
	second.ProjectName = "Data Platform"
	second.ContractNumber = "CN-2025-010"
	second.OracleID = "ORA-88"
	second.Final.MarginStatus = constants.StatusBelowTarget
	second.Final.PSRatioStatus = constants.StatusBelowTarget

	for _, p := range []*store.Project{first, second} {
		if err := s.SaveProject(ctx, p); err != nil {
			t.Fatalf("SaveProject() failed: %v", err)
		}
	}

	future := time.Now().Add(time.Hour)
	tests := []struct {
		name     string
		filter   store.ProjectFilter
		expected []string
	}{
		{"No filter newest first", store.ProjectFilter{}, []string{"Data Platform", "Core Banking Migration"}},
		{"By client", store.ProjectFilter{ClientID: acme.ID}, []string{"Core Banking Migration"}},
		{"Contract substring", store.ProjectFilter{ContractNumber: "2025"}, []string{"Data Platform"}},
		{"Oracle substring", store.ProjectFilter{OracleID: "77"}, []string{"Core Banking Migration"}},
		{"Name substring", store.ProjectFilter{ProjectName: "Banking"}, []string{"Core Banking Migration"}},
		{"Margin status", store.ProjectFilter{MarginStatus: constants.StatusBelowTarget}, []string{"Data Platform"}},
		{"PS status", store.ProjectFilter{PSRatioStatus: constants.StatusOnTrack}, []string{"Core Banking Migration"}},
		{"Start in future", store.ProjectFilter{StartDate: &future}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			projects, err := s.ListProjects(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListProjects() failed: %v", err)
			}
			if len(projects) != len(tt.expected) {
				t.Fatalf("expected %d projects, got %d", len(tt.expected), len(projects))
			}
			for i, name := range tt.expected {
				if projects[i].ProjectName != name {
					t.Errorf("position %d: expected %q, got %q", i, name, projects[i].ProjectName)
				}
				if projects[i].ClientName == "" {
					t.Errorf("position %d: client name not attached", i)
				}
			}
		})
	}
}

func TestCostRates(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	rates, err := s.ListCostRates(ctx)
	if err != nil {
		t.Fatalf("ListCostRates() failed: %v", err)
	}
	if len(rates) != len(constants.ResourceTypes) {
		t.Fatalf("expected %d seeded rates, got %d", len(constants.ResourceTypes), len(rates))
	}

	rate, ok, err := s.CostRate(ctx, "Project Manager")
	if err != nil || !ok || rate != 100 {
		t.Errorf("CostRate(Project Manager) = %v, %v, %v", rate, ok, err)
	}
	if _, ok, err := s.CostRate(ctx, "Astronaut"); ok || err != nil {
		t.Errorf("unknown type: expected not found without error, got ok=%v err=%v", ok, err)
	}

	effective := time.Now().UTC().AddDate(0, 0, 1)
	n, err := s.UpdateCostRates(ctx, map[string]float64{"Project Manager": 110, "Astronaut": 500}, effective, "admin-1")
	if err != nil {
		t.Fatalf("UpdateCostRates() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 updated rate, got %d", n)
	}
	if _, err := s.UpdateCostRates(ctx, map[string]float64{"Project Manager": 120}, effective.AddDate(0, 1, 0), "admin-2"); err != nil {
		t.Fatalf("UpdateCostRates() failed: %v", err)
	}

	rate, _, _ = s.CostRate(ctx, "Project Manager")
	if rate != 120 {
		t.Errorf("expected current rate 120, got %v", rate)
	}

	history, err := s.CostRateHistory(ctx, "Project Manager", 0)
	if err != nil {
		t.Fatalf("CostRateHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].CostRateUSD != 110 || history[0].CreatedBy != "admin-2" {
		t.Errorf("expected newest history row first, got %+v", history[0])
	}
	if history[1].CostRateUSD != 100 {
		t.Errorf("expected original rate preserved, got %+v", history[1])
	}

	limited, _ := s.CostRateHistory(ctx, "Project Manager", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d rows", len(limited))
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	if _, err := s.UpdateCostRates(ctx, map[string]float64{"Project Manager": 175}, time.Now(), "admin"); err != nil {
		t.Fatalf("UpdateCostRates() failed: %v", err)
	}
	if err := s.Seed(ctx, store.DefaultCostRates(nil), store.DefaultExchangeRates(nil)); err != nil {
		t.Fatalf("second Seed() failed: %v", err)
	}

	rate, _, _ := s.CostRate(ctx, "Project Manager")
	if rate != 175 {
		t.Errorf("seed must not overwrite existing rates, got %v", rate)
	}
	rates, _ := s.ListCostRates(ctx)
	if len(rates) != len(constants.ResourceTypes) {
		t.Errorf("seed must not duplicate rows, got %d", len(rates))
	}
}

func TestExchangeRates(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	rate, ok, err := s.ExchangeRate(ctx, "AUD")
	if err != nil || !ok || rate != 0.65 {
		t.Errorf("ExchangeRate(AUD) = %v, %v, %v", rate, ok, err)
	}
	if _, ok, _ := s.ExchangeRate(ctx, "JPY"); ok {
		t.Error("expected JPY to be absent")
	}

	if err := s.UpsertExchangeRates(ctx, map[string]float64{"AUD": 0.66, "JPY": 0.0067}); err != nil {
		t.Fatalf("UpsertExchangeRates() failed: %v", err)
	}

	rate, _, _ = s.ExchangeRate(ctx, "AUD")
	if rate != 0.66 {
		t.Errorf("expected updated AUD rate 0.66, got %v", rate)
	}

	all, err := s.ListExchangeRates(ctx)
	if err != nil {
		t.Fatalf("ListExchangeRates() failed: %v", err)
	}
	if len(all) != 7 || all[0].CurrencyCode != "AUD" {
		t.Errorf("expected 7 rates ordered by code, got %+v", all)
	}
}

func TestRecordAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry := store.AuditEntry{
		ID:        uuid.New(),
		UserID:    "u-1",
		Action:    store.ActionCreate,
		Entity:    "projects",
		RecordID:  "1",
		NewValues: `{"project_name":"Core Banking Migration"}`,
	}
	if err := s.RecordAudit(ctx, entry); err != nil {
		t.Fatalf("RecordAudit() failed: %v", err)
	}

	var stored store.AuditEntry
	if err := s.db.First(&stored, "id = ?", entry.ID).Error; err != nil {
		t.Fatalf("audit entry not found: %v", err)
	}
	if stored.Action != store.ActionCreate || stored.Entity != "projects" {
		t.Errorf("unexpected audit entry: %+v", stored)
	}
}
