package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDomain(name string) DomainConfig {
	return DomainConfig{
		Name: name,
		Source: SourceConfig{
			Type:           SourceSpreadsheet,
			Location:       "/data/exports/" + name + ".csv",
			TimestampField: "data_lancamento",
		},
		PollSchedule:    "*/15 * * * *",
		RetrainSchedule: "@daily",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name: "empty domain name",
			mutate: func(c *Config) {
				c.Domains[0].Name = ""
			},
			wantErr: "empty name",
		},
		{
			name: "duplicate domain",
			mutate: func(c *Config) {
				c.Domains = append(c.Domains, validDomain("dre_lancamentos"))
			},
			wantErr: "defined twice",
		},
		{
			name: "unknown source type",
			mutate: func(c *Config) {
				c.Domains[0].Source.Type = "mainframe"
			},
			wantErr: "unknown source type",
		},
		{
			name: "missing location",
			mutate: func(c *Config) {
				c.Domains[0].Source.Location = ""
			},
			wantErr: "source location is required",
		},
		{
			name: "bad poll schedule",
			mutate: func(c *Config) {
				c.Domains[0].PollSchedule = "every sunday"
			},
			wantErr: "bad poll schedule",
		},
		{
			name: "bad retrain schedule",
			mutate: func(c *Config) {
				c.Domains[0].RetrainSchedule = "0 0 0 0 0 0 0"
			},
			wantErr: "bad retrain schedule",
		},
		{
			name: "bad lot size",
			mutate: func(c *Config) {
				c.BatchLotSize = 0
			},
			wantErr: "batch_lot_size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Domains = []DomainConfig{validDomain("dre_lancamentos")}
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	content := `
warehouse:
  host: dw.internal
  dbname: finance_dw
domains:
  - name: dre_lancamentos
    source:
      type: erp
      location: "user:pass@tcp(erp.internal:3306)/erp"
      table: lancamentos
      timestamp_field: updated_at
      sequence_field: id
    poll_schedule: "0 */2 * * *"
    source_priority: [erp, spreadsheet]
retry:
  max_attempts: 6
  base_delay: 5s
  max_delay: 2m
forecast:
  window_days: 60
  value_field: valor
`
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dw.internal", cfg.Warehouse.Host)
	require.Len(t, cfg.Domains, 1)
	assert.Equal(t, SourceERP, cfg.Domains[0].Source.Type)
	assert.Equal(t, "lancamentos", cfg.Domains[0].Source.Table)
	assert.Equal(t, []string{"erp", "spreadsheet"}, cfg.Domains[0].SourcePriority)

	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, 60, cfg.Forecast.WindowDays)

	// Untouched settings keep their defaults.
	assert.Equal(t, 5000, cfg.BatchLotSize)
	assert.Equal(t, ":8090", cfg.StatusAddr)
	assert.Equal(t, 0.95, cfg.Forecast.ConfidenceLevel)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	content := `
domains:
  - name: dre_lancamentos
    source:
      type: fax
      location: somewhere
`
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source type")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	content := `
retry:
  base_delay: soon
`
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_delay")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDomainLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Domains = []DomainConfig{validDomain("dre_lancamentos")}

	d, err := cfg.Domain("dre_lancamentos")
	require.NoError(t, err)
	assert.Equal(t, "dre_lancamentos", d.Name)

	_, err = cfg.Domain("base_clientes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSourcePriorityFallback(t *testing.T) {
	d := validDomain("dre_lancamentos")
	assert.Equal(t, DefaultSourcePriority, d.Priority())

	d.SourcePriority = []string{"spreadsheet", "erp"}
	assert.Equal(t, []string{"spreadsheet", "erp"}, d.Priority())
}
