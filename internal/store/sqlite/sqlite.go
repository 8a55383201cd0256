// Package sqlite implements store.Store on an embedded SQLite database via gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/datetime"
)

// Store is the gorm-backed store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the SQLite database at dsn (a file path or ":memory:") and
// migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		dsn = constants.DefaultSQLiteDSN
	}

	// SQLite compares timestamps as text; keep every stored value in UTC.
	db, err := gorm.Open(sqlite.Open(withForeignKeys(dsn)), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&store.Client{},
		&store.CostRate{},
		&store.CostRateHistory{},
		&store.ExchangeRate{},
		&store.Project{},
		&store.ResourceLine{},
		&store.ThirdPartyLine{},
		&store.AuditEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Debug("sqlite store opened",
		zap.String("op", "sqlite.Open"),
		zap.String("dsn", dsn),
	)
	return &Store{db: db, logger: logger}, nil
}

func withForeignKeys(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return store.ErrConflict
	default:
		return err
	}
}

func (s *Store) ListClients(ctx context.Context) ([]store.Client, error) {
	var clients []store.Client
	if err := s.db.WithContext(ctx).Order("client_name").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

func (s *Store) GetClient(ctx context.Context, id int64) (store.Client, error) {
	var c store.Client
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return store.Client{}, fmt.Errorf("failed to get client %d: %w", id, translate(err))
	}
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, name string) (store.Client, error) {
	c := store.Client{Name: name}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return store.Client{}, fmt.Errorf("failed to create client %q: %w", name, translate(err))
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, id int64, name string) (store.Client, error) {
	var c store.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			return err
		}
		c.Name = name
		return tx.Save(&c).Error
	})
	if err != nil {
		return store.Client{}, fmt.Errorf("failed to update client %d: %w", id, translate(err))
	}
	return c, nil
}

func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&store.Project{}).Where("client_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return store.ErrClientHasProjects
		}
		res := tx.Delete(&store.Client{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete client %d: %w", id, translate(err))
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context, f store.ProjectFilter) ([]store.Project, error) {
	q := s.db.WithContext(ctx).Model(&store.Project{})
	if f.ClientID != 0 {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if f.StartDate != nil {
		q = q.Where("created_at >= ?", f.StartDate.UTC())
	}
	if f.EndDate != nil {
		q = q.Where("created_at <= ?", f.EndDate.UTC())
	}
	if f.ContractNumber != "" {
		q = q.Where("contract_number LIKE ?", "%"+f.ContractNumber+"%")
	}
	if f.OracleID != "" {
		q = q.Where("oracle_id LIKE ?", "%"+f.OracleID+"%")
	}
	if f.ProjectName != "" {
		q = q.Where("project_name LIKE ?", "%"+f.ProjectName+"%")
	}
	if f.MarginStatus != "" {
		q = q.Where("final_margin_status = ?", f.MarginStatus)
	}
	if f.PSRatioStatus != "" {
		q = q.Where("final_ps_ratio_status = ?", f.PSRatioStatus)
	}

	var projects []store.Project
	if err := q.Order("created_at DESC").Order("id DESC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	if err := s.attachClientNames(ctx, projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (s *Store) attachClientNames(ctx context.Context, projects []store.Project) error {
	if len(projects) == 0 {
		return nil
	}
	var clients []store.Client
	if err := s.db.WithContext(ctx).Find(&clients).Error; err != nil {
		return fmt.Errorf("failed to load client names: %w", err)
	}
	names := make(map[int64]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}
	for i := range projects {
		projects[i].ClientName = names[projects[i].ClientID]
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (store.Project, error) {
	var p store.Project
	err := s.db.WithContext(ctx).
		Preload("Resources", func(db *gorm.DB) *gorm.DB { return db.Order("resource_type") }).
		Preload("ThirdParty", func(db *gorm.DB) *gorm.DB { return db.Order("resource_name") }).
		First(&p, id).Error
	if err != nil {
		return store.Project{}, fmt.Errorf("failed to get project %d: %w", id, translate(err))
	}
	var c store.Client
	if err := s.db.WithContext(ctx).Select("client_name").First(&c, p.ClientID).Error; err == nil {
		p.ClientName = c.Name
	}
	return p, nil
}

func (s *Store) SaveProject(ctx context.Context, p *store.Project) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		resources, thirdParty := p.Resources, p.ThirdParty

		if p.ID == 0 {
			if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
				return err
			}
		} else {
			var current store.Project
			if err := tx.Select("id", "updated_at").First(&current, p.ID).Error; err != nil {
				return err
			}
			if !p.UpdatedAt.IsZero() && !current.UpdatedAt.Equal(p.UpdatedAt) {
				return store.ErrConflict
			}
			res := tx.Model(&store.Project{}).Where("id = ?", p.ID).
				Select("*").Omit("id", "created_at", "created_by", clause.Associations).
				Updates(p)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return store.ErrNotFound
			}
			if err := tx.Where("project_id = ?", p.ID).Delete(&store.ResourceLine{}).Error; err != nil {
				return err
			}
			if err := tx.Where("project_id = ?", p.ID).Delete(&store.ThirdPartyLine{}).Error; err != nil {
				return err
			}
		}

		for i := range resources {
			resources[i].ID = 0
			resources[i].ProjectID = p.ID
		}
		for i := range thirdParty {
			thirdParty[i].ID = 0
			thirdParty[i].ProjectID = p.ID
		}
		if len(resources) > 0 {
			if err := tx.Create(&resources).Error; err != nil {
				return err
			}
		}
		if len(thirdParty) > 0 {
			if err := tx.Create(&thirdParty).Error; err != nil {
				return err
			}
		}
		p.Resources, p.ThirdParty = resources, thirdParty
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save project %q: %w", p.ProjectName, translate(err))
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&store.ResourceLine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&store.ThirdPartyLine{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&store.Project{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, translate(err))
	}
	return nil
}

func (s *Store) CostRate(ctx context.Context, resourceType string) (float64, bool, error) {
	var r store.CostRate
	err := s.db.WithContext(ctx).Where("resource_type = ?", resourceType).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cost rate for %q: %w", resourceType, err)
	}
	return r.CostRateUSD, true, nil
}

func (s *Store) ListCostRates(ctx context.Context) ([]store.CostRate, error) {
	var rates []store.CostRate
	if err := s.db.WithContext(ctx).Order("resource_type").Find(&rates).Error; err != nil {
		return nil, fmt.Errorf("failed to list cost rates: %w", err)
	}
	return rates, nil
}

func (s *Store) UpdateCostRates(ctx context.Context, rates map[string]float64, effective time.Time, updatedBy string) (int, error) {
	updated := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for resourceType, rate := range rates {
			var current store.CostRate
			err := tx.Where("resource_type = ?", resourceType).First(&current).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			history := store.CostRateHistory{
				ResourceType:  current.ResourceType,
				CostRateUSD:   current.CostRateUSD,
				EffectiveDate: current.EffectiveDate,
				CreatedBy:     updatedBy,
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}

			if err := tx.Model(&current).Updates(map[string]interface{}{
				"cost_rate_usd":  rate,
				"effective_date": effective.UTC(),
			}).Error; err != nil {
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
	var history []store.CostRateHistory
	err := s.db.WithContext(ctx).
		Where("resource_type = ?", resourceType).
		Order("effective_date DESC").Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get cost rate history for %q: %w", resourceType, err)
	}
	return history, nil
}

func (s *Store) ExchangeRate(ctx context.Context, code string) (float64, bool, error) {
	var r store.ExchangeRate
	err := s.db.WithContext(ctx).Where("currency_code = ?", code).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get exchange rate for %s: %w", code, err)
	}
	return r.RateToUSD, true, nil
}

func (s *Store) UpsertExchangeRates(ctx context.Context, rates map[string]float64) error {
	if len(rates) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]store.ExchangeRate, 0, len(rates))
	for code, rate := range rates {
		rows = append(rows, store.ExchangeRate{CurrencyCode: code, RateToUSD: rate, UpdatedAt: now})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "currency_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate_to_usd", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert exchange rates: %w", err)
	}
	return nil
}

func (s *Store) ListExchangeRates(ctx context.Context) ([]store.ExchangeRate, error) {
	var rates []store.ExchangeRate
	if err := s.db.WithContext(ctx).Order("currency_code").Find(&rates).Error; err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	return rates, nil
}

func (s *Store) RecordAudit(ctx context.Context, entry store.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (s *Store) Seed(ctx context.Context, costRates, exchangeRates map[string]float64) error {
	today := datetime.StartOfDay(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for resourceType, rate := range costRates {
			row := store.CostRate{ResourceType: resourceType, CostRateUSD: rate, EffectiveDate: today}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		for code, rate := range exchangeRates {
			row := store.ExchangeRate{CurrencyCode: code, RateToUSD: rate}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	s.logger.Info("database seeded",
		zap.String("op", "sqlite.Seed"),
		zap.Int("cost_rates", len(costRates)),
		zap.Int("exchange_rates", len(exchangeRates)),
	)
	return nil
}
