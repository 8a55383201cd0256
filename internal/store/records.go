package store

import (
	"time"

	"github.com/google/uuid"
)

// Client owns projects. Names are unique.
type Client struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:client_name;uniqueIndex;not null" json:"client_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

// CostRate is the current USD hourly rate of a predefined resource type.
type CostRate struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	ResourceType  string    `gorm:"uniqueIndex;not null" json:"resource_type"`
	CostRateUSD   float64   `gorm:"column:cost_rate_usd;not null" json:"cost_rate_usd"`
	EffectiveDate time.Time `json:"effective_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (CostRate) TableName() string { return "admin_cost_rates" }

// CostRateHistory preserves a rate as it was before an update.
type CostRateHistory struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	ResourceType  string    `gorm:"index;not null" json:"resource_type"`
	CostRateUSD   float64   `gorm:"column:cost_rate_usd;not null" json:"cost_rate_usd"`
	EffectiveDate time.Time `json:"effective_date"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func (CostRateHistory) TableName() string { return "cost_rate_history" }

// ExchangeRate is the USD value of one unit of a currency.
type ExchangeRate struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	CurrencyCode string    `gorm:"uniqueIndex;not null" json:"currency_code"`
	RateToUSD    float64   `gorm:"column:rate_to_usd;not null" json:"rate_to_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// MetricsSnapshot is one persisted set of computed project metrics.
type MetricsSnapshot struct {
	TotalCostsUSD float64 `gorm:"column:total_costs_usd" json:"total_costs_usd"`
	MarginPercent float64 `json:"margin_percent"`
	NetRevenueUSD float64 `gorm:"column:net_revenue_usd" json:"net_revenue_usd"`
	EBITAUSD      float64 `gorm:"column:ebita_usd" json:"ebita_usd"`
	PSRatio       float64 `gorm:"column:ps_ratio" json:"ps_ratio"`
	MarginStatus  string  `json:"margin_status"`
	PSRatioStatus string  `gorm:"column:ps_ratio_status" json:"ps_ratio_status"`
}

// Project is a client engagement with its line sets and both metric snapshots.
type Project struct {
	ID                 int64    `gorm:"primaryKey" json:"id"`
	ClientID           int64    `gorm:"index;not null" json:"client_id"`
	ClientName         string   `gorm:"-" json:"client_name,omitempty"`
	CurrencyUsed       string   `gorm:"not null" json:"currency_used"`
	ContractNumber     string   `json:"contract_number"`
	OracleID           string   `gorm:"column:oracle_id" json:"oracle_id"`
	ProjectName        string   `gorm:"not null" json:"project_name"`
	LocalServiceValue  float64  `gorm:"not null" json:"local_service_value"`
	ServiceValueUSD    float64  `gorm:"column:service_value_usd" json:"service_value_usd"`
	BaselineHours      *float64 `json:"baseline_hours"`
	TotalBaselineHours float64  `gorm:"not null" json:"total_baseline_hours"`
	NonBillHours       float64  `json:"non_bill_hours"`

	Final    MetricsSnapshot `gorm:"embedded;embeddedPrefix:final_" json:"final"`
	Baseline MetricsSnapshot `gorm:"embedded;embeddedPrefix:baseline_" json:"baseline"`

	HoursValid      bool    `json:"hours_valid"`
	HoursDifference float64 `json:"hours_difference"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Resources  []ResourceLine   `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"resources"`
	ThirdParty []ThirdPartyLine `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"third_party_resources"`
}

func (Project) TableName() string { return "projects" }

// ResourceLine is one predefined resource allocation with its frozen rate.
// TotalCostUSD is final hours times the rate.
type ResourceLine struct {
	ID            int64   `gorm:"primaryKey" json:"id"`
	ProjectID     int64   `gorm:"index;not null" json:"project_id"`
	ResourceType  string  `gorm:"not null" json:"resource_type"`
	BaselineHours float64 `json:"baseline_hours"`
	FinalHours    float64 `json:"final_hours"`
	CostRateUSD   float64 `gorm:"column:cost_rate_usd;not null" json:"cost_rate_usd,omitempty"`
	TotalCostUSD  float64 `gorm:"column:total_cost_usd;not null" json:"total_cost_usd"`
}

func (ResourceLine) TableName() string { return "project_resources" }

// ThirdPartyLine is an external cost line, already in USD.
type ThirdPartyLine struct {
	ID           int64   `gorm:"primaryKey" json:"id"`
	ProjectID    int64   `gorm:"index;not null" json:"project_id"`
	ResourceName string  `gorm:"not null" json:"resource_name"`
	CostUSD      float64 `gorm:"column:cost_usd;not null" json:"cost_usd"`
	Hours        float64 `json:"hours"`
}

func (ThirdPartyLine) TableName() string { return "third_party_resources" }

// AuditEntry records a mutating action. Old and new values are JSON documents.
type AuditEntry struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey" json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `gorm:"not null" json:"action"`
	Entity    string    `gorm:"column:table_name" json:"table_name"`
	RecordID  string    `json:"record_id"`
	OldValues string    `json:"old_values,omitempty"`
	NewValues string    `json:"new_values,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_log" }

// Audit actions.
const (
	ActionCreate     = "CREATE"
	ActionUpdate     = "UPDATE"
	ActionDelete     = "DELETE"
	ActionBulkUpdate = "BULK_UPDATE"
	ActionRefresh    = "REFRESH"
)

// ProjectFilter narrows ListProjects. Zero values are ignored; text fields
// match as substrings and statuses match exactly.
type ProjectFilter struct {
	ClientID       int64
	StartDate      *time.Time
	EndDate        *time.Time
	ContractNumber string
	OracleID       string
	ProjectName    string
	MarginStatus   string
	PSRatioStatus  string
}
