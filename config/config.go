package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// SourceType identifies the kind of ingestion source behind a domain. The set
// is closed: adapter dispatch is by this tag, never by runtime inspection.
type SourceType string

const (
	SourceSpreadsheet SourceType = "spreadsheet"
	SourceERP         SourceType = "erp"
	SourceCRM         SourceType = "crm"
)

// SourceConfig describes how to reach one ingestion source.
type SourceConfig struct {
	Type SourceType `yaml:"type"`

	// Location is adapter-specific: a file path for spreadsheet exports, a
	// DSN for ERP extracts, an HTTP endpoint for CRM extracts.
	Location string `yaml:"location"`

	// CredentialsRef names the environment variable holding the source
	// credential (API token). Credentials are never stored in the config.
	CredentialsRef string `yaml:"credentials_ref"`

	// Table is the extract table for ERP sources.
	Table string `yaml:"table"`

	// TimestampField is the source field carrying the record timestamp used
	// for incremental extraction.
	TimestampField string `yaml:"timestamp_field"`

	// SequenceField is the source field carrying the monotonic record id
	// used to break timestamp ties. Optional for spreadsheet sources, where
	// the row number is used instead.
	SequenceField string `yaml:"sequence_field"`
}

// DomainConfig describes one data domain end to end.
type DomainConfig struct {
	Name   string       `yaml:"name"`
	Source SourceConfig `yaml:"source"`

	// PollSchedule and RetrainSchedule are cron expressions.
	PollSchedule    string `yaml:"poll_schedule"`
	RetrainSchedule string `yaml:"retrain_schedule"`

	// SourcePriority orders sources for dedup tie-breaks when two sources
	// deliver the same business key with the same source timestamp.
	SourcePriority []string `yaml:"source_priority"`

	// AccountPlanFile and RegionalMapFile are optional lookup tables used to
	// enrich records during standardization (chart of accounts
	// classification, city-to-regional assignment).
	AccountPlanFile string `yaml:"account_plan_file"`
	RegionalMapFile string `yaml:"regional_map_file"`
}

// RetryConfig bounds the stage-level retry loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// UnmarshalYAML accepts delays as duration strings ("5s", "2m"). Absent keys
// keep the values already on the receiver, so file settings layer over the
// defaults.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxAttempts > 0 {
		r.MaxAttempts = raw.MaxAttempts
	}
	if raw.BaseDelay != "" {
		d, err := time.ParseDuration(raw.BaseDelay)
		if err != nil {
			return fmt.Errorf("retry base_delay: %w", err)
		}
		r.BaseDelay = d
	}
	if raw.MaxDelay != "" {
		d, err := time.ParseDuration(raw.MaxDelay)
		if err != nil {
			return fmt.Errorf("retry max_delay: %w", err)
		}
		r.MaxDelay = d
	}
	return nil
}

// ForecastConfig tunes the forecast pipeline.
type ForecastConfig struct {
	// WindowDays is the trailing training window over dimensional rows.
	WindowDays int `yaml:"window_days"`
	// HorizonDays is how far ahead forecasts are generated.
	HorizonDays int `yaml:"horizon_days"`
	// ConfidenceLevel for forecast intervals (0.90, 0.95, 0.99).
	ConfidenceLevel float64 `yaml:"confidence_level"`
	// MinR2Threshold is the minimum R² for a model to be publishable.
	MinR2Threshold float64 `yaml:"min_r2_threshold"`
	// MinImprovement is the minimum R² gain over the currently published
	// model required for promotion.
	MinImprovement float64 `yaml:"min_improvement"`
	// ValueField is the dimensional attribute aggregated into the training
	// series.
	ValueField string `yaml:"value_field"`
}

// DatabaseConfig holds warehouse connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// Config is the full pipeline configuration.
type Config struct {
	Warehouse DatabaseConfig `yaml:"warehouse"`
	Domains   []DomainConfig `yaml:"domains"`

	// ContractsDir holds the versioned schema contract files.
	ContractsDir string `yaml:"contracts_dir"`

	// StagingDir holds compressed raw batch archives for audit and replay.
	StagingDir string `yaml:"staging_dir"`

	// BatchLotSize is the number of rows written per warehouse transaction.
	BatchLotSize int `yaml:"batch_lot_size"`

	// FetchLimit caps the number of records pulled per ingestion run.
	FetchLimit int `yaml:"fetch_limit"`

	Retry    RetryConfig    `yaml:"retry"`
	Forecast ForecastConfig `yaml:"forecast"`

	// StatusAddr is the listen address of the status HTTP API.
	StatusAddr string `yaml:"status_addr"`

	EnableDetailedLogging bool `yaml:"enable_detailed_logging"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		Warehouse: DatabaseConfig{
			Driver: "mysql",
			Host:   "localhost",
			Port:   3306,
			User:   "root",
			DBName: "finance_dw",
		},
		ContractsDir: "contracts",
		StagingDir:   "staging",
		BatchLotSize: 5000,
		FetchLimit:   10000,
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   2 * time.Second,
			MaxDelay:    1 * time.Minute,
		},
		Forecast: ForecastConfig{
			WindowDays:      30,
			HorizonDays:     14,
			ConfidenceLevel: 0.95,
			MinR2Threshold:  0.30,
			MinImprovement:  0.01,
			ValueField:      "valor",
		},
		StatusAddr:            ":8090",
		EnableDetailedLogging: true,
	}
}

// DefaultSourcePriority orders sources for dedup tie-breaks when a domain does
// not configure its own order. ERP extracts are the system of record, ahead of
// CRM extracts and spreadsheet exports.
var DefaultSourcePriority = []string{"erp", "crm", "spreadsheet"}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// cronParser accepts standard 5-field cron expressions and descriptors like
// @hourly, matching what the scheduler runs.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks domain definitions for dispatchable source types and
// parseable schedules.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Domains))

	for _, d := range c.Domains {
		if d.Name == "" {
			return fmt.Errorf("domain with empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("domain %q defined twice", d.Name)
		}
		seen[d.Name] = true

		switch d.Source.Type {
		case SourceSpreadsheet, SourceERP, SourceCRM:
		default:
			return fmt.Errorf("domain %q: unknown source type %q", d.Name, d.Source.Type)
		}

		if d.Source.Location == "" {
			return fmt.Errorf("domain %q: source location is required", d.Name)
		}

		if d.PollSchedule != "" {
			if _, err := cronParser.Parse(d.PollSchedule); err != nil {
				return fmt.Errorf("domain %q: bad poll schedule %q: %w", d.Name, d.PollSchedule, err)
			}
		}
		if d.RetrainSchedule != "" {
			if _, err := cronParser.Parse(d.RetrainSchedule); err != nil {
				return fmt.Errorf("domain %q: bad retrain schedule %q: %w", d.Name, d.RetrainSchedule, err)
			}
		}
	}

	if c.BatchLotSize <= 0 {
		return fmt.Errorf("batch_lot_size must be positive, got %d", c.BatchLotSize)
	}

	return nil
}

// Domain returns the configuration of a single domain.
func (c Config) Domain(name string) (DomainConfig, error) {
	for _, d := range c.Domains {
		if d.Name == name {
			return d, nil
		}
	}
	return DomainConfig{}, fmt.Errorf("domain %q is not configured", name)
}

// Priority returns the domain's source priority order, falling back to the
// default order.
func (d DomainConfig) Priority() []string {
	if len(d.SourcePriority) > 0 {
		return d.SourcePriority
	}
	return DefaultSourcePriority
}
