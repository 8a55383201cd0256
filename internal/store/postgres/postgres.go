// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store is the pgx-backed store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL and applies the schema.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Debug("postgres store opened",
		zap.String("op", "postgres.Open"),
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
	)
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return store.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return store.ErrConflict
	default:
		return err
	}
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const clientColumns = `id, client_name, created_at, updated_at`

func scanClient(row pgx.Row) (store.Client, error) {
	var c store.Client
	err := row.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) ListClients(ctx context.Context) ([]store.Client, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY client_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []store.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, id int64) (store.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return store.Client{}, fmt.Errorf("failed to get client %d: %w", id, translate(err))
	}
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, name string) (store.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx,
		`INSERT INTO clients (client_name) VALUES ($1) RETURNING `+clientColumns, name))
	if err != nil {
		return store.Client{}, fmt.Errorf("failed to create client %q: %w", name, translate(err))
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, id int64, name string) (store.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx,
		`UPDATE clients SET client_name = $1, updated_at = NOW() WHERE id = $2 RETURNING `+clientColumns, name, id))
	if err != nil {
		return store.Client{}, fmt.Errorf("failed to update client %d: %w", id, translate(err))
	}
	return c, nil
}

func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var count int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM projects WHERE client_id = $1`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return store.ErrClientHasProjects
		}
		tag, err := tx.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete client %d: %w", id, translate(err))
	}
	return nil
}

const projectColumns = `p.id, p.client_id, c.client_name, p.currency_used, p.contract_number, p.oracle_id,
	p.project_name, p.local_service_value, p.service_value_usd, p.baseline_hours, p.total_baseline_hours,
	p.non_bill_hours,
	p.final_total_costs_usd, p.final_margin_percent, p.final_net_revenue_usd, p.final_ebita_usd,
	p.final_ps_ratio, p.final_margin_status, p.final_ps_ratio_status,
	p.baseline_total_costs_usd, p.baseline_margin_percent, p.baseline_net_revenue_usd, p.baseline_ebita_usd,
	p.baseline_ps_ratio, p.baseline_margin_status, p.baseline_ps_ratio_status,
	p.hours_valid, p.hours_difference, p.created_by, p.created_at, p.updated_at`

func scanProject(row pgx.Row) (store.Project, error) {
	var p store.Project
	err := row.Scan(
		&p.ID, &p.ClientID, &p.ClientName, &p.CurrencyUsed, &p.ContractNumber, &p.OracleID,
		&p.ProjectName, &p.LocalServiceValue, &p.ServiceValueUSD, &p.BaselineHours, &p.TotalBaselineHours,
		&p.NonBillHours,
		&p.Final.TotalCostsUSD, &p.Final.MarginPercent, &p.Final.NetRevenueUSD, &p.Final.EBITAUSD,
		&p.Final.PSRatio, &p.Final.MarginStatus, &p.Final.PSRatioStatus,
		&p.Baseline.TotalCostsUSD, &p.Baseline.MarginPercent, &p.Baseline.NetRevenueUSD, &p.Baseline.EBITAUSD,
		&p.Baseline.PSRatio, &p.Baseline.MarginStatus, &p.Baseline.PSRatioStatus,
		&p.HoursValid, &p.HoursDifference, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// buildProjectFilter renders the WHERE clause and its arguments.
func buildProjectFilter(f store.ProjectFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}

	if f.ClientID != 0 {
		add("p.client_id = $%d", f.ClientID)
	}
	if f.StartDate != nil {
		add("p.created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("p.created_at <= $%d", *f.EndDate)
	}
	if f.ContractNumber != "" {
		add("p.contract_number ILIKE $%d", "%"+f.ContractNumber+"%")
	}
	if f.OracleID != "" {
		add("p.oracle_id ILIKE $%d", "%"+f.OracleID+"%")
	}
	if f.ProjectName != "" {
		add("p.project_name ILIKE $%d", "%"+f.ProjectName+"%")
	}
	if f.MarginStatus != "" {
		add("p.final_margin_status = $%d", f.MarginStatus)
	}
	if f.PSRatioStatus != "" {
		add("p.final_ps_ratio_status = $%d", f.PSRatioStatus)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListProjects(ctx context.Context, f store.ProjectFilter) ([]store.Project, error) {
	where, args := buildProjectFilter(f)
	query := `SELECT ` + projectColumns + ` FROM projects p JOIN clients c ON c.id = p.client_id` +
		where + ` ORDER BY p.created_at DESC, p.id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id int64) (store.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects p JOIN clients c ON c.id = p.client_id WHERE p.id = $1`, id))
	if err != nil {
		return store.Project{}, fmt.Errorf("failed to get project %d: %w", id, translate(err))
	}

	if p.Resources, err = s.projectResources(ctx, id); err != nil {
		return store.Project{}, err
	}
	if p.ThirdParty, err = s.projectThirdParty(ctx, id); err != nil {
		return store.Project{}, err
	}
	return p, nil
}

func (s *Store) projectResources(ctx context.Context, projectID int64) ([]store.ResourceLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, resource_type, baseline_hours, final_hours, cost_rate_usd, total_cost_usd
		FROM project_resources WHERE project_id = $1 ORDER BY resource_type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var lines []store.ResourceLine
	for rows.Next() {
		var r store.ResourceLine
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.ResourceType, &r.BaselineHours, &r.FinalHours,
			&r.CostRateUSD, &r.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan resource line: %w", err)
		}
		lines = append(lines, r)
	}
	return lines, rows.Err()
}

func (s *Store) projectThirdParty(ctx context.Context, projectID int64) ([]store.ThirdPartyLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, resource_name, cost_usd, hours
		FROM third_party_resources WHERE project_id = $1 ORDER BY resource_name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load third-party lines for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var lines []store.ThirdPartyLine
	for rows.Next() {
		var l store.ThirdPartyLine
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.ResourceName, &l.CostUSD, &l.Hours); err != nil {
			return nil, fmt.Errorf("failed to scan third-party line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func projectArgs(p *store.Project) []any {
	return []any{
		p.ClientID, p.CurrencyUsed, p.ContractNumber, p.OracleID, p.ProjectName,
		p.LocalServiceValue, p.ServiceValueUSD, p.BaselineHours, p.TotalBaselineHours, p.NonBillHours,
		p.Final.TotalCostsUSD, p.Final.MarginPercent, p.Final.NetRevenueUSD, p.Final.EBITAUSD,
		p.Final.PSRatio, p.Final.MarginStatus, p.Final.PSRatioStatus,
		p.Baseline.TotalCostsUSD, p.Baseline.MarginPercent, p.Baseline.NetRevenueUSD, p.Baseline.EBITAUSD,
		p.Baseline.PSRatio, p.Baseline.MarginStatus, p.Baseline.PSRatioStatus,
		p.HoursValid, p.HoursDifference,
	}
}

func (s *Store) SaveProject(ctx context.Context, p *store.Project) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		args := projectArgs(p)

		if p.ID == 0 {
			err := tx.QueryRow(ctx, `
				INSERT INTO projects (
					client_id, currency_used, contract_number, oracle_id, project_name,
					local_service_value, service_value_usd, baseline_hours, total_baseline_hours, non_bill_hours,
					final_total_costs_usd, final_margin_percent, final_net_revenue_usd, final_ebita_usd,
					final_ps_ratio, final_margin_status, final_ps_ratio_status,
					baseline_total_costs_usd, baseline_margin_percent, baseline_net_revenue_usd, baseline_ebita_usd,
					baseline_ps_ratio, baseline_margin_status, baseline_ps_ratio_status,
					hours_valid, hours_difference, created_by
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
					$19, $20, $21, $22, $23, $24, $25, $26, $27)
				RETURNING id, created_at, updated_at`,
				append(args, p.CreatedBy)...,
			).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
			if err != nil {
				return err
			}
		} else {
			var current time.Time
			err := tx.QueryRow(ctx, `SELECT updated_at FROM projects WHERE id = $1 FOR UPDATE`, p.ID).Scan(&current)
			if err != nil {
				return err
			}
			if !p.UpdatedAt.IsZero() && !current.Equal(p.UpdatedAt) {
				return store.ErrConflict
			}
			err = tx.QueryRow(ctx, `
				UPDATE projects SET
					client_id = $1, currency_used = $2, contract_number = $3, oracle_id = $4, project_name = $5,
					local_service_value = $6, service_value_usd = $7, baseline_hours = $8,
					total_baseline_hours = $9, non_bill_hours = $10,
					final_total_costs_usd = $11, final_margin_percent = $12, final_net_revenue_usd = $13,
					final_ebita_usd = $14, final_ps_ratio = $15, final_margin_status = $16,
					final_ps_ratio_status = $17,
					baseline_total_costs_usd = $18, baseline_margin_percent = $19,
					baseline_net_revenue_usd = $20, baseline_ebita_usd = $21, baseline_ps_ratio = $22,
					baseline_margin_status = $23, baseline_ps_ratio_status = $24,
					hours_valid = $25, hours_difference = $26, updated_at = NOW()
				WHERE id = $27
				RETURNING created_by, created_at, updated_at`,
				append(args, p.ID)...,
			).Scan(&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM project_resources WHERE project_id = $1`, p.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM third_party_resources WHERE project_id = $1`, p.ID); err != nil {
				return err
			}
		}

		for i := range p.Resources {
			r := &p.Resources[i]
			r.ProjectID = p.ID
			err := tx.QueryRow(ctx, `
				INSERT INTO project_resources (project_id, resource_type, baseline_hours, final_hours, cost_rate_usd, total_cost_usd)
				VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				r.ProjectID, r.ResourceType, r.BaselineHours, r.FinalHours, r.CostRateUSD, r.TotalCostUSD,
			).Scan(&r.ID)
			if err != nil {
				return err
			}
		}
		for i := range p.ThirdParty {
			l := &p.ThirdParty[i]
			l.ProjectID = p.ID
			err := tx.QueryRow(ctx, `
				INSERT INTO third_party_resources (project_id, resource_name, cost_usd, hours)
				VALUES ($1, $2, $3, $4) RETURNING id`,
				l.ProjectID, l.ResourceName, l.CostUSD, l.Hours,
			).Scan(&l.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save project %q: %w", p.ProjectName, translate(err))
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete project %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CostRate(ctx context.Context, resourceType string) (float64, bool, error) {
	var rate float64
	err := s.pool.QueryRow(ctx, `SELECT cost_rate_usd FROM admin_cost_rates WHERE resource_type = $1`, resourceType).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cost rate for %q: %w", resourceType, err)
	}
	return rate, true, nil
}

func (s *Store) ListCostRates(ctx context.Context) ([]store.CostRate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, resource_type, cost_rate_usd, effective_date, created_at, updated_at
		FROM admin_cost_rates ORDER BY resource_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost rates: %w", err)
	}
	defer rows.Close()

	var rates []store.CostRate
	for rows.Next() {
		var r store.CostRate
		if err := rows.Scan(&r.ID, &r.ResourceType, &r.CostRateUSD, &r.EffectiveDate, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cost rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func (s *Store) UpdateCostRates(ctx context.Context, rates map[string]float64, effective time.Time, updatedBy string) (int, error) {
	updated := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for resourceType, rate := range rates {
			tag, err := tx.Exec(ctx, `
				INSERT INTO cost_rate_history (resource_type, cost_rate_usd, effective_date, created_by)
				SELECT resource_type, cost_rate_usd, effective_date, $2
				FROM admin_cost_rates WHERE resource_type = $1`,
				resourceType, updatedBy)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `
				UPDATE admin_cost_rates SET cost_rate_usd = $1, effective_date = $2, updated_at = NOW()
				WHERE resource_type = $3`,
				rate, effective, resourceType); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update cost rates: %w", err)
	}
	return updated, nil
}

func (s *Store) CostRateHistory(ctx context.Context, resourceType string, limit int) ([]store.CostRateHistory, error) {
	if limit <= 0 {
		limit = constants.CostRateHistoryLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, resource_type, cost_rate_usd, effective_date, created_by, created_at
		FROM cost_rate_history WHERE resource_type = $1
		ORDER BY effective_date DESC, created_at DESC, id DESC
		LIMIT $2`, resourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get cost rate history for %q: %w", resourceType, err)
	}
	defer rows.Close()

	var history []store.CostRateHistory
	for rows.Next() {
		var h store.CostRateHistory
		if err := rows.Scan(&h.ID, &h.ResourceType, &h.CostRateUSD, &h.EffectiveDate, &h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cost rate history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) ExchangeRate(ctx context.Context, code string) (float64, bool, error) {
	var rate float64
	err := s.pool.QueryRow(ctx, `SELECT rate_to_usd FROM exchange_rates WHERE currency_code = $1`, code).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get exchange rate for %s: %w", code, err)
	}
	return rate, true, nil
}

func (s *Store) UpsertExchangeRates(ctx context.Context, rates map[string]float64) error {
	if len(rates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for code, rate := range rates {
		batch.Queue(`
			INSERT INTO exchange_rates (currency_code, rate_to_usd, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (currency_code) DO UPDATE SET rate_to_usd = EXCLUDED.rate_to_usd, updated_at = NOW()`,
			code, rate)
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to upsert exchange rates: %w", err)
	}
	return nil
}

func (s *Store) ListExchangeRates(ctx context.Context) ([]store.ExchangeRate, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, currency_code, rate_to_usd, updated_at FROM exchange_rates ORDER BY currency_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	defer rows.Close()

	var rates []store.ExchangeRate
	for rows.Next() {
		var r store.ExchangeRate
		if err := rows.Scan(&r.ID, &r.CurrencyCode, &r.RateToUSD, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func (s *Store) RecordAudit(ctx context.Context, entry store.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, user_id, action, table_name, record_id, old_values, new_values)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.Action, entry.Entity, entry.RecordID, entry.OldValues, entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (s *Store) Seed(ctx context.Context, costRates, exchangeRates map[string]float64) error {
	batch := &pgx.Batch{}
	for resourceType, rate := range costRates {
		batch.Queue(`INSERT INTO admin_cost_rates (resource_type, cost_rate_usd) VALUES ($1, $2)
			ON CONFLICT (resource_type) DO NOTHING`, resourceType, rate)
	}
	for code, rate := range exchangeRates {
		batch.Queue(`INSERT INTO exchange_rates (currency_code, rate_to_usd) VALUES ($1, $2)
			ON CONFLICT (currency_code) DO NOTHING`, code, rate)
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	s.logger.Info("database seeded",
		zap.String("op", "postgres.Seed"),
		zap.Int("cost_rates", len(costRates)),
		zap.Int("exchange_rates", len(exchangeRates)),
	)
	return nil
}
