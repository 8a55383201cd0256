// Package constants provides shared constants for the margin-analysis application.
package constants

import "time"

// Metric thresholds
const (
	// MarginThresholdPercent is the margin at or above which a project is on track
	MarginThresholdPercent = 40.0

	// PSRatioThreshold is the professional-services ratio at or above which a project is on track
	PSRatioThreshold = 2.0

	// StatusOnTrack marks a metric that meets its threshold
	StatusOnTrack = "On Track"

	// StatusBelowTarget marks a metric that misses its threshold
	StatusBelowTarget = "Below Target"

	// VarianceSlightlyBelowBand is how far (in metric units) below baseline a final value may fall
	// before it is reported as below rather than slightly below
	VarianceSlightlyBelowBand = 5.0
)

// Rounding and tolerance constants
const (
	// DecimalPrecision is the precision for two-decimal rounding
	DecimalPrecision = 100

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0

	// HoursTolerance is the allowed gap between declared and calculated hours
	HoursTolerance = 0.01
)

// Currency constants
const (
	// BaseCurrency is the currency every amount is normalized into
	BaseCurrency = "USD"

	// CurrencyAUD is the Australian dollar
	CurrencyAUD = "AUD"

	// CurrencyEUR is the euro
	CurrencyEUR = "EUR"

	// CurrencyGBP is the pound sterling
	CurrencyGBP = "GBP"

	// CurrencySGD is the Singapore dollar
	CurrencySGD = "SGD"

	// CurrencyNZD is the New Zealand dollar
	CurrencyNZD = "NZD"

	// RateCacheTTL is how long a cached exchange rate is trusted
	RateCacheTTL = 4 * time.Hour

	// RateRefreshTimeout bounds a single refresh from the external source
	RateRefreshTimeout = 5 * time.Second

	// DefaultRateSourceURL is the external exchange-rate endpoint (rates quoted per 1 USD)
	DefaultRateSourceURL = "https://api.exchangerate-api.com/v4/latest/USD"

	// DefaultRateSourceRetries is the number of retries for the external source
	DefaultRateSourceRetries = 2
)

// SupportedCurrencies lists every currency a project may be priced in.
var SupportedCurrencies = []string{
	BaseCurrency, CurrencyAUD, CurrencyEUR, CurrencyGBP, CurrencySGD, CurrencyNZD,
}

// RefreshedCurrencies lists the currencies fetched from the external source. USD is implicit.
var RefreshedCurrencies = []string{
	CurrencyAUD, CurrencyEUR, CurrencyGBP, CurrencySGD, CurrencyNZD,
}

// DefaultExchangeRates seeds an empty rate table (USD received per 1 unit).
var DefaultExchangeRates = map[string]float64{
	BaseCurrency: 1.00,
	CurrencyAUD:  0.65,
	CurrencyEUR:  1.08,
	CurrencyGBP:  1.27,
	CurrencySGD:  0.74,
	CurrencyNZD:  0.61,
}

// MaxResourceTypeLength bounds resource type names, matching the request validation.
const MaxResourceTypeLength = 100

// ResourceTypes is the predefined resource catalog. Administrators may seed
// additional types through configuration.
var ResourceTypes = []string{
	"Project Director",
	"Project Manager",
	"PMO Assistant",
	"Implementation Consultant",
	"Solution Architect",
	"System Engineer",
	"Platform Technology Consultant",
	"Integration Consultant",
	"Non-APAC Global resources",
	"APAC Global Test Team",
	"APAC Global PS Roles",
	"Domestic Non-APAC Roles",
}

// Roles
const (
	// RoleAdmin may delete projects, edit rates and see cost rates
	RoleAdmin = "admin"

	// RoleUser may create, edit and read projects
	RoleUser = "user"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default worksheet configuration file name
	DefaultConfigFile = "margin.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "margin.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"

	// EnvPrefix prefixes environment overrides, e.g. MARGIN_DATABASE_DSN
	EnvPrefix = "MARGIN"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxBodySizeBytes is the default maximum request body size (256 KB)
	DefaultMaxBodySizeBytes int64 = 256 * 1024

	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second

	// CostRateHistoryLimit caps the rows returned by a history query
	CostRateHistoryLimit = 50
)

// Database constants
const (
	// DriverSQLite selects the embedded SQLite store
	DriverSQLite = "sqlite"

	// DriverPostgres selects the PostgreSQL store
	DriverPostgres = "postgres"

	// DefaultSQLiteDSN is the default SQLite database file
	DefaultSQLiteDSN = "margin-analysis.db"
)
