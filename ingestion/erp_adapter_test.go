package ingestion

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func erpSource() config.SourceConfig {
	return config.SourceConfig{
		Type:           config.SourceERP,
		Location:       "user:pass@tcp(erp.internal:3306)/erp",
		Table:          "lancamentos",
		TimestampField: "updated_at",
		SequenceField:  "id",
	}
}

func TestERPRejectsBadIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *config.SourceConfig)
	}{
		{name: "table injection", mutate: func(s *config.SourceConfig) { s.Table = "lancamentos; DROP TABLE x" }},
		{name: "empty table", mutate: func(s *config.SourceConfig) { s.Table = "" }},
		{name: "timestamp column", mutate: func(s *config.SourceConfig) { s.TimestampField = "updated_at--" }},
		{name: "sequence column", mutate: func(s *config.SourceConfig) { s.SequenceField = "id or 1=1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := erpSource()
			tt.mutate(&source)

			adapter := NewERPAdapter("dre_lancamentos", source, 100, testLogger())
			_, err := adapter.Fetch(context.Background(), models.Watermark{})
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrSourceFormat)
		})
	}
}

func TestERPConnectionFailureIsRetryable(t *testing.T) {
	adapter := NewERPAdapter("dre_lancamentos", erpSource(), 100, testLogger())
	adapter.openDB = func(dsn string) (*sql.DB, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}

	_, err := adapter.Fetch(context.Background(), models.Watermark{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.True(t, models.IsRetryable(err))
}
