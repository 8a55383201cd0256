// Package store defines the persisted records of the margin-analysis service
// and the Store interface both database backends implement.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iwvelando/margin-analysis/pkg/constants"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("record already exists")
	ErrClientHasProjects = errors.New("cannot delete client with associated projects")
)

// Store is the persistence surface used by the project service, the currency
// normalizer and the admin API. Implementations must be safe for concurrent use.
type Store interface {
	ListClients(ctx context.Context) ([]Client, error)
	GetClient(ctx context.Context, id int64) (Client, error)
	CreateClient(ctx context.Context, name string) (Client, error)
	UpdateClient(ctx context.Context, id int64, name string) (Client, error)
	DeleteClient(ctx context.Context, id int64) error

	ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	// SaveProject inserts the project when its ID is zero and otherwise replaces
	// the stored row and both line sets. Either everything is written or nothing.
	// A non-zero UpdatedAt on an update must match the stored value, otherwise
	// ErrConflict is returned and nothing is written.
	SaveProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id int64) error

	CostRate(ctx context.Context, resourceType string) (float64, bool, error)
	ListCostRates(ctx context.Context) ([]CostRate, error)
	// UpdateCostRates writes one history row per changed type before updating
	// it. Unknown resource types are skipped; the number updated is returned.
	UpdateCostRates(ctx context.Context, rates map[string]float64, effective time.Time, updatedBy string) (int, error)
	CostRateHistory(ctx context.Context, resourceType string, limit int) ([]CostRateHistory, error)

	ExchangeRate(ctx context.Context, code string) (float64, bool, error)
	UpsertExchangeRates(ctx context.Context, rates map[string]float64) error
	ListExchangeRates(ctx context.Context) ([]ExchangeRate, error)

	RecordAudit(ctx context.Context, entry AuditEntry) error

	// Seed inserts missing cost rates and exchange rates, leaving existing rows untouched.
	Seed(ctx context.Context, costRates, exchangeRates map[string]float64) error
	Close() error
}

// DefaultCostRates returns the predefined resource catalog with configured
// rates applied. Types without a configured rate start at 0. Configured types
// outside the predefined list extend the catalog; blank names are skipped.
func DefaultCostRates(configured map[string]float64) map[string]float64 {
	rates := make(map[string]float64, len(constants.ResourceTypes)+len(configured))
	for _, rt := range constants.ResourceTypes {
		rates[rt] = 0
	}
	for rt, rate := range configured {
		if strings.TrimSpace(rt) == "" || len(rt) > constants.MaxResourceTypeLength {
			continue
		}
		rates[rt] = rate
	}
	return rates
}

// DefaultExchangeRates returns the seed exchange rates with configured rates
// applied. USD is always 1.
func DefaultExchangeRates(configured map[string]float64) map[string]float64 {
	rates := make(map[string]float64, len(constants.DefaultExchangeRates))
	for code, rate := range constants.DefaultExchangeRates {
		rates[code] = rate
	}
	for code, rate := range configured {
		if rate > 0 {
			rates[code] = rate
		}
	}
	rates[constants.BaseCurrency] = 1.0
	return rates
}
