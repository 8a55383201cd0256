// Package project runs the create/update/delete workflow of a project: it
// converts the service value to USD, resolves the frozen cost rates, derives
// non-bill hours, computes both metric snapshots and persists the result.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/costrate"
	"github.com/iwvelando/margin-analysis/internal/margin"
	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/mathutil"
	"github.com/iwvelando/margin-analysis/pkg/validation"
)

var (
	ErrForbidden      = errors.New("admin role required")
	ErrClientNotFound = errors.New("client not found")
)

// Repository is the persistence the service needs.
type Repository interface {
	GetClient(ctx context.Context, id int64) (store.Client, error)
	GetProject(ctx context.Context, id int64) (store.Project, error)
	ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error)
	SaveProject(ctx context.Context, p *store.Project) error
	DeleteProject(ctx context.Context, id int64) error
	RecordAudit(ctx context.Context, entry store.AuditEntry) error
}

// Converter converts a local amount into USD.
type Converter interface {
	ConvertToUSD(ctx context.Context, amount float64, code string) (float64, error)
}

// Caller identifies who performs an operation.
type Caller struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool {
	return c.Role == constants.RoleAdmin
}

// Input is the caller-supplied part of a project. Cost rates on Resources are
// ignored; they are resolved by the service.
type Input struct {
	ClientID           int64                       `json:"client_id" validate:"gt=0"`
	CurrencyUsed       string                      `json:"currency_used" validate:"currency"`
	ContractNumber     string                      `json:"contract_number" validate:"max=100"`
	OracleID           string                      `json:"oracle_id" validate:"max=100"`
	ProjectName        string                      `json:"project_name" validate:"required,max=255"`
	LocalServiceValue  float64                     `json:"local_service_value" validate:"gte=0"`
	BaselineHours      *float64                    `json:"baseline_hours" validate:"omitempty,gte=0"`
	TotalBaselineHours float64                     `json:"total_baseline_hours" validate:"gte=0"`
	NonBillHours       float64                     `json:"non_bill_hours" validate:"gte=0"`
	Resources          []margin.ResourceAllocation `json:"resources" validate:"dive"`
	ThirdParty         []margin.ThirdPartyCost     `json:"third_party_resources" validate:"dive"`
}

// Result is a persisted project with the data computed alongside it.
type Result struct {
	Project         store.Project          `json:"project"`
	HoursValidation margin.HoursValidation `json:"hours_validation"`
	Variance        margin.Variance        `json:"variance"`
	Warnings        []string               `json:"warnings,omitempty"`
}

// Service implements the project workflow.
type Service struct {
	repo   Repository
	rates  costrate.Lookup
	fx     Converter
	logger *zap.Logger
}

// NewService builds a Service.
func NewService(repo Repository, rates costrate.Lookup, fx Converter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, rates: rates, fx: fx, logger: logger}
}

// Create computes and stores a new project with freshly resolved cost rates.
func (s *Service) Create(ctx context.Context, caller Caller, in Input) (Result, error) {
	p := store.Project{CreatedBy: caller.UserID}
	res, err := s.compute(ctx, in, nil, &p)
	if err != nil {
		return Result{}, err
	}
	if err := s.repo.SaveProject(ctx, &p); err != nil {
		return Result{}, fmt.Errorf("failed to create project: %w", err)
	}

	s.audit(ctx, caller, store.ActionCreate, p.ID, nil, in)
	s.logger.Info("project created",
		zap.String("op", "project.Create"),
		zap.Int64("project_id", p.ID),
		zap.String("user_id", caller.UserID),
		zap.Float64("margin_percent", p.Final.MarginPercent),
		zap.Float64("ps_ratio", p.Final.PSRatio),
	)

	res.Project = p
	return res, nil
}

// Update recomputes a project. Resource types already on the project keep
// their stored rate; new types get the current rate. The save is conditional
// on the project being unchanged since it was read, so a concurrent update
// yields store.ErrConflict instead of overwriting a newer rate snapshot.
func (s *Service) Update(ctx context.Context, caller Caller, id int64, in Input) (Result, error) {
	existing, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load project %d: %w", id, err)
	}

	prior := make(costrate.Snapshot, len(existing.Resources))
	for _, r := range existing.Resources {
		prior[r.ResourceType] = r.CostRateUSD
	}

	p := store.Project{
		ID:        existing.ID,
		CreatedBy: existing.CreatedBy,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: existing.UpdatedAt,
	}
	res, err := s.compute(ctx, in, prior, &p)
	if err != nil {
		return Result{}, err
	}
	if err := s.repo.SaveProject(ctx, &p); err != nil {
		return Result{}, fmt.Errorf("failed to update project %d: %w", id, err)
	}

	s.audit(ctx, caller, store.ActionUpdate, p.ID, existing, in)
	s.logger.Info("project updated",
		zap.String("op", "project.Update"),
		zap.Int64("project_id", p.ID),
		zap.String("user_id", caller.UserID),
		zap.Float64("margin_percent", p.Final.MarginPercent),
		zap.Float64("ps_ratio", p.Final.PSRatio),
	)

	res.Project = p
	return res, nil
}

// Delete removes a project and its lines. Only admins may delete.
func (s *Service) Delete(ctx context.Context, caller Caller, id int64) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	s.audit(ctx, caller, store.ActionDelete, id, nil, nil)
	s.logger.Info("project deleted",
		zap.String("op", "project.Delete"),
		zap.Int64("project_id", id),
		zap.String("user_id", caller.UserID),
	)
	return nil
}

// Get returns a project with its lines. Cost rates are withheld from non-admins.
func (s *Service) Get(ctx context.Context, caller Caller, id int64) (store.Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return store.Project{}, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	if !caller.IsAdmin() {
		HideRates(&p)
	}
	return p, nil
}

// HideRates clears the frozen cost rates of p. Line totals stay visible.
func HideRates(p *store.Project) {
	for i := range p.Resources {
		p.Resources[i].CostRateUSD = 0
	}
}

// List returns the projects matching filter, newest first.
func (s *Service) List(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	projects, err := s.repo.ListProjects(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Stats summarizes the projects matching filter.
func (s *Service) Stats(ctx context.Context, filter store.ProjectFilter) (store.DashboardStats, error) {
	projects, err := s.List(ctx, filter)
	if err != nil {
		return store.DashboardStats{}, err
	}
	return store.Summarize(projects), nil
}

// compute fills p from in and returns everything except the saved project.
func (s *Service) compute(ctx context.Context, in Input, prior costrate.Snapshot, p *store.Project) (Result, error) {
	if err := validation.Struct(in); err != nil {
		return Result{}, err
	}
	if _, err := s.repo.GetClient(ctx, in.ClientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %d", ErrClientNotFound, in.ClientID)
		}
		return Result{}, fmt.Errorf("failed to load client %d: %w", in.ClientID, err)
	}

	serviceValueUSD, err := s.fx.ConvertToUSD(ctx, in.LocalServiceValue, in.CurrencyUsed)
	if err != nil {
		return Result{}, fmt.Errorf("failed to convert service value: %w", err)
	}

	types := make([]string, len(in.Resources))
	for i, r := range in.Resources {
		types[i] = r.ResourceType
	}
	snapshot, err := costrate.Resolve(ctx, s.rates, prior, types)
	if err != nil {
		return Result{}, err
	}

	resources := make([]margin.ResourceAllocation, len(in.Resources))
	for i, r := range in.Resources {
		r.CostRateUSD = snapshot[r.ResourceType]
		resources[i] = r
	}
	finalAllocs := margin.FinalAllocations(resources)

	var warnings []string
	nonBill := in.NonBillHours
	if in.BaselineHours != nil {
		derived := margin.DeriveNonBillHours(*in.BaselineHours, finalAllocs)
		if !mathutil.WithinTolerance(derived, in.NonBillHours, constants.HoursTolerance) {
			msg := fmt.Sprintf("declared non-bill hours %.2f replaced by %.2f derived from the baseline ceiling of %.2f hours",
				in.NonBillHours, derived, *in.BaselineHours)
			warnings = append(warnings, msg)
			s.logger.Warn("non-bill hours disagree with baseline ceiling",
				zap.String("op", "project.compute"),
				zap.Float64("declared", in.NonBillHours),
				zap.Float64("derived", derived),
			)
		}
		nonBill = derived
	}

	hours := margin.ValidateBaselineHours(in.TotalBaselineHours, finalAllocs, nonBill)
	if !hours.IsValid {
		warnings = append(warnings, hours.Warning())
		s.logger.Warn("baseline hours mismatch",
			zap.String("op", "project.compute"),
			zap.String("project_name", in.ProjectName),
			zap.Float64("total_baseline_hours", hours.TotalBaselineHours),
			zap.Float64("calculated_total", hours.CalculatedTotal),
			zap.Float64("difference", hours.Difference),
		)
	}

	dual := margin.ComputeDual(serviceValueUSD, resources, in.ThirdParty, nonBill)

	p.ClientID = in.ClientID
	p.CurrencyUsed = in.CurrencyUsed
	p.ContractNumber = in.ContractNumber
	p.OracleID = in.OracleID
	p.ProjectName = in.ProjectName
	p.LocalServiceValue = in.LocalServiceValue
	p.ServiceValueUSD = serviceValueUSD
	p.BaselineHours = in.BaselineHours
	p.TotalBaselineHours = in.TotalBaselineHours
	p.NonBillHours = nonBill
	p.Final = snapshotOf(dual.Final)
	p.Baseline = snapshotOf(dual.Baseline)
	p.HoursValid = hours.IsValid
	p.HoursDifference = hours.Difference

	p.Resources = make([]store.ResourceLine, len(resources))
	for i, r := range resources {
		p.Resources[i] = store.ResourceLine{
			ResourceType:  r.ResourceType,
			BaselineHours: r.BaselineHours,
			FinalHours:    r.FinalHours,
			CostRateUSD:   r.CostRateUSD,
			TotalCostUSD:  r.FinalHours * r.CostRateUSD,
		}
	}
	p.ThirdParty = make([]store.ThirdPartyLine, len(in.ThirdParty))
	for i, c := range in.ThirdParty {
		p.ThirdParty[i] = store.ThirdPartyLine{ResourceName: c.ResourceName, CostUSD: c.CostUSD, Hours: c.Hours}
	}

	s.logger.Debug("project metrics computed",
		zap.String("op", "project.compute"),
		zap.String("project_name", in.ProjectName),
		zap.Float64("service_value_usd", serviceValueUSD),
		zap.Float64("non_bill_hours", nonBill),
		zap.Float64("baseline_margin", dual.Baseline.MarginPercent),
		zap.Float64("final_margin", dual.Final.MarginPercent),
	)

	return Result{
		HoursValidation: hours,
		Variance:        dual.Variance,
		Warnings:        warnings,
	}, nil
}

func snapshotOf(m margin.Metrics) store.MetricsSnapshot {
	return store.MetricsSnapshot{
		TotalCostsUSD: m.TotalCostsUSD,
		MarginPercent: m.MarginPercent,
		NetRevenueUSD: m.NetRevenueUSD,
		EBITAUSD:      m.EBITAUSD,
		PSRatio:       m.PSRatio,
		MarginStatus:  string(m.MarginStatus),
		PSRatioStatus: string(m.PSRatioStatus),
	}
}

// audit records an action. Failures are logged and never fail the operation.
func (s *Service) audit(ctx context.Context, caller Caller, action string, id int64, oldValues, newValues interface{}) {
	entry := store.AuditEntry{
		ID:        uuid.New(),
		UserID:    caller.UserID,
		Action:    action,
		Entity:    "projects",
		RecordID:  strconv.FormatInt(id, 10),
		OldValues: encode(oldValues),
		NewValues: encode(newValues),
	}
	if err := s.repo.RecordAudit(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit entry",
			zap.String("op", "project.audit"),
			zap.String("action", action),
			zap.Int64("project_id", id),
			zap.Error(err),
		)
	}
}

func encode(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
