// Package config defines the data structures related to configuration and
// includes functions for loading and parsing the config.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/iwvelando/margin-analysis/internal/margin"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/mathutil"
	"github.com/iwvelando/margin-analysis/pkg/validation"
)

// Configuration holds all configuration for margin-analysis.
type Configuration struct {
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Output   OutputConfig   `yaml:"output,omitempty"`
	Server   ServerConfig   `yaml:"server,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty"`
	Currency CurrencyConfig `yaml:"currency,omitempty"`
	Seed     SeedConfig     `yaml:"seed,omitempty"`
	Projects []Worksheet    `yaml:"projects,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Address         string        `yaml:"address,omitempty"`
	MaxBodySize     string        `yaml:"maxBodySize,omitempty" mapstructure:"maxBodySize"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty" mapstructure:"shutdownTimeout"`
}

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver,omitempty"` // sqlite, postgres
	DSN    string `yaml:"dsn,omitempty"`
}

// CurrencyConfig controls the exchange-rate source and cache.
type CurrencyConfig struct {
	SourceURL       string        `yaml:"sourceUrl,omitempty" mapstructure:"sourceUrl"`
	Retries         int           `yaml:"retries,omitempty"`
	TTL             time.Duration `yaml:"ttl,omitempty"`
	RefreshInterval time.Duration `yaml:"refreshInterval,omitempty" mapstructure:"refreshInterval"` // 0 disables the background refresh
	Offline         bool          `yaml:"offline,omitempty"`
}

// SeedConfig holds the rates written into an empty store. Rates are lists
// rather than maps because viper lower-cases map keys.
type SeedConfig struct {
	CostRates     []CostRateSeed     `yaml:"costRates,omitempty" mapstructure:"costRates"`
	ExchangeRates []ExchangeRateSeed `yaml:"exchangeRates,omitempty" mapstructure:"exchangeRates"`
}

// CostRateSeed is the initial hourly USD rate of one resource type.
type CostRateSeed struct {
	ResourceType string  `yaml:"resourceType" mapstructure:"resourceType"`
	RateUSD      float64 `yaml:"rateUsd" mapstructure:"rateUsd"`
}

// ExchangeRateSeed is the initial USD value of one unit of a currency.
type ExchangeRateSeed struct {
	Currency  string  `yaml:"currency"`
	RateToUSD float64 `yaml:"rateToUsd" mapstructure:"rateToUsd"`
}

// CostRateMap returns the seeded cost rates keyed by resource type.
func (s SeedConfig) CostRateMap() map[string]float64 {
	m := make(map[string]float64, len(s.CostRates))
	for _, r := range s.CostRates {
		m[r.ResourceType] = r.RateUSD
	}
	return m
}

// ResourceCatalog returns the resource types worksheets may use: the
// predefined catalog plus any type given a seed rate.
func (s SeedConfig) ResourceCatalog() map[string]bool {
	catalog := make(map[string]bool, len(constants.ResourceTypes)+len(s.CostRates))
	for _, rt := range constants.ResourceTypes {
		catalog[rt] = true
	}
	for _, r := range s.CostRates {
		if validSeedResourceType(r.ResourceType) {
			catalog[r.ResourceType] = true
		}
	}
	return catalog
}

func validSeedResourceType(name string) bool {
	return strings.TrimSpace(name) != "" && len(name) <= constants.MaxResourceTypeLength
}

// ExchangeRateMap returns the seeded exchange rates keyed by currency code.
func (s SeedConfig) ExchangeRateMap() map[string]float64 {
	m := make(map[string]float64, len(s.ExchangeRates))
	for _, r := range s.ExchangeRates {
		m[r.Currency] = r.RateToUSD
	}
	return m
}

// Worksheet is one project evaluated by the offline calculator.
type Worksheet struct {
	Name               string                      `yaml:"name"`
	Client             string                      `yaml:"client,omitempty"`
	Currency           string                      `yaml:"currency"`
	ServiceValue       float64                     `yaml:"serviceValue" mapstructure:"serviceValue"`
	BaselineHours      *float64                    `yaml:"baselineHours,omitempty" mapstructure:"baselineHours"`
	TotalBaselineHours float64                     `yaml:"totalBaselineHours" mapstructure:"totalBaselineHours"`
	NonBillHours       float64                     `yaml:"nonBillHours" mapstructure:"nonBillHours"`
	Resources          []margin.ResourceAllocation `yaml:"resources"`
	ThirdParty         []margin.ThirdPartyCost     `yaml:"thirdParty,omitempty" mapstructure:"thirdParty"`
}

// envKeys are the settings that may be overridden with MARGIN_* variables.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"output.format",
	"server.address",
	"server.maxBodySize",
	"server.shutdownTimeout",
	"database.driver",
	"database.dsn",
	"currency.sourceUrl",
	"currency.retries",
	"currency.refreshInterval",
	"currency.offline",
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there. An empty path loads defaults and the environment only.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s to the environment: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file, %s", err)
		}
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	configuration.normalize()
	return &configuration, nil
}

func (c *Configuration) normalize() {
	if c.Output.Format == "" {
		c.Output.Format = constants.OutputFormatPretty
	}
	if c.Server.Address == "" {
		c.Server.Address = constants.DefaultServerAddress
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = constants.DefaultShutdownTimeout
	}
	if c.Database.Driver == "" {
		c.Database.Driver = constants.DriverSQLite
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.DSN == "" && c.Database.Driver == constants.DriverSQLite {
		c.Database.DSN = constants.DefaultSQLiteDSN
	}
	if c.Currency.SourceURL == "" {
		c.Currency.SourceURL = constants.DefaultRateSourceURL
	}
	if c.Currency.Retries <= 0 {
		c.Currency.Retries = constants.DefaultRateSourceRetries
	}
	if c.Currency.TTL <= 0 {
		c.Currency.TTL = constants.RateCacheTTL
	}
	for i := range c.Projects {
		c.Projects[i].Currency = strings.ToUpper(strings.TrimSpace(c.Projects[i].Currency))
		if c.Projects[i].Currency == "" {
			c.Projects[i].Currency = constants.BaseCurrency
		}
	}
}

// ValidateConfiguration performs general validation of the configuration and returns warnings
func (c *Configuration) ValidateConfiguration() []string {
	var warnings []string

	if c.Database.Driver != constants.DriverSQLite && c.Database.Driver != constants.DriverPostgres {
		warnings = append(warnings, fmt.Sprintf("database driver %q is not one of %s or %s",
			c.Database.Driver, constants.DriverSQLite, constants.DriverPostgres))
	}
	if c.Database.Driver == constants.DriverPostgres && c.Database.DSN == "" {
		warnings = append(warnings, "database driver postgres requires a dsn")
	}

	for _, r := range c.Seed.CostRates {
		if !validSeedResourceType(r.ResourceType) {
			warnings = append(warnings, fmt.Sprintf("seed cost rate for %q ignored: resource type must be 1 to %d characters",
				r.ResourceType, constants.MaxResourceTypeLength))
		} else if r.RateUSD < 0 {
			warnings = append(warnings, fmt.Sprintf("seed cost rate for %q is negative", r.ResourceType))
		}
	}
	for _, r := range c.Seed.ExchangeRates {
		if err := validation.ValidateCurrency(r.Currency); err != nil {
			warnings = append(warnings, fmt.Sprintf("seed exchange rate for %q ignored: unsupported currency", r.Currency))
		} else if r.RateToUSD <= 0 {
			warnings = append(warnings, fmt.Sprintf("seed exchange rate for %q must be positive", r.Currency))
		}
	}

	catalog := c.Seed.ResourceCatalog()
	for _, ws := range c.Projects {
		warnings = append(warnings, ws.warnings(catalog)...)
	}
	return warnings
}

func (w Worksheet) warnings(catalog map[string]bool) []string {
	var warnings []string
	if err := validation.ValidateCurrency(w.Currency); err != nil {
		warnings = append(warnings, fmt.Sprintf("project '%s' uses unsupported currency %s", w.Name, w.Currency))
	}
	if len(w.Resources) == 0 && len(w.ThirdParty) == 0 {
		warnings = append(warnings, fmt.Sprintf("project '%s' has no resources", w.Name))
	}
	for _, r := range w.Resources {
		if !catalog[r.ResourceType] {
			warnings = append(warnings, fmt.Sprintf("project '%s' uses unknown resource type '%s'", w.Name, r.ResourceType))
		}
	}
	if w.BaselineHours != nil {
		allocs := margin.FinalAllocations(w.Resources)
		derived := margin.DeriveNonBillHours(*w.BaselineHours, allocs)
		if !mathutil.WithinTolerance(derived, w.NonBillHours, constants.HoursTolerance) {
			warnings = append(warnings, fmt.Sprintf("project '%s' declares %.2f non-bill hours but its baseline ceiling implies %.2f",
				w.Name, w.NonBillHours, derived))
		}
	}
	return warnings
}

// WriteExample writes an example configuration in YAML.
func WriteExample(w io.Writer) error {
	ceiling := 1000.0
	example := Configuration{
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Output:   OutputConfig{Format: constants.OutputFormatPretty},
		Server:   ServerConfig{Address: constants.DefaultServerAddress, MaxBodySize: "256K"},
		Database: DatabaseConfig{Driver: constants.DriverSQLite, DSN: constants.DefaultSQLiteDSN},
		Currency: CurrencyConfig{
			SourceURL: constants.DefaultRateSourceURL,
			Retries:   constants.DefaultRateSourceRetries,
		},
		Seed: SeedConfig{
			CostRates: []CostRateSeed{
				{ResourceType: "Project Manager", RateUSD: 95},
				{ResourceType: "Solution Architect", RateUSD: 140},
				{ResourceType: "System Engineer", RateUSD: 85},
			},
		},
		Projects: []Worksheet{{
			Name:               "Core Banking Migration",
			Client:             "Example Bank",
			Currency:           constants.CurrencyAUD,
			ServiceValue:       250000,
			BaselineHours:      &ceiling,
			TotalBaselineHours: 1160,
			NonBillHours:       80,
			Resources: []margin.ResourceAllocation{
				{ResourceType: "Project Manager", BaselineHours: 300, FinalHours: 340},
				{ResourceType: "Solution Architect", BaselineHours: 400, FinalHours: 420},
				{ResourceType: "System Engineer", BaselineHours: 300, FinalHours: 320},
			},
			ThirdParty: []margin.ThirdPartyCost{{ResourceName: "Data migration vendor", CostUSD: 12000, Hours: 60}},
		}},
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(example); err != nil {
		return fmt.Errorf("failed to encode example configuration: %w", err)
	}
	return enc.Close()
}
