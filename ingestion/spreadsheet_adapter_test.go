package ingestion

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *utils.PipelineLogger {
	return utils.NewPipelineLoggerTo(io.Discard, false)
}

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func spreadsheetAdapter(path string, limit int) *SpreadsheetAdapter {
	return NewSpreadsheetAdapter("dre_lancamentos", config.SourceConfig{
		Type:           config.SourceSpreadsheet,
		Location:       path,
		TimestampField: "data_lancamento",
	}, limit, testLogger())
}

const exportCSV = `conta,data_lancamento,valor
Receita de Vendas,02/08/2026,100
Despesas Gerais,01/08/2026,50
Receita Financeira,03/08/2026,30
`

func TestSpreadsheetFetchAll(t *testing.T) {
	adapter := spreadsheetAdapter(writeExport(t, exportCSV), 0)

	records, err := adapter.Fetch(context.Background(), models.Watermark{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Records come ordered by (timestamp, sequence) regardless of file
	// order; the row number is the sequence.
	assert.Equal(t, "Despesas Gerais", records[0].Values["conta"])
	assert.Equal(t, "Receita de Vendas", records[1].Values["conta"])
	assert.Equal(t, "Receita Financeira", records[2].Values["conta"])

	assert.Equal(t, "spreadsheet", records[0].Source)
	assert.Equal(t, int64(2), records[0].Sequence)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), records[0].SourceTimestamp)

	// All rows share one batch id.
	assert.Equal(t, records[0].BatchID, records[2].BatchID)
}

func TestSpreadsheetFetchIncremental(t *testing.T) {
	adapter := spreadsheetAdapter(writeExport(t, exportCSV), 0)

	since := models.Watermark{
		Domain:       "dre_lancamentos",
		BatchTime:    time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		LastSequence: 1,
	}

	records, err := adapter.Fetch(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Receita Financeira", records[0].Values["conta"])
}

func TestSpreadsheetFetchLimit(t *testing.T) {
	adapter := spreadsheetAdapter(writeExport(t, exportCSV), 2)

	records, err := adapter.Fetch(context.Background(), models.Watermark{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSpreadsheetMissingFileIsRetryable(t *testing.T) {
	adapter := spreadsheetAdapter(filepath.Join(t.TempDir(), "missing.csv"), 0)

	_, err := adapter.Fetch(context.Background(), models.Watermark{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.True(t, models.IsRetryable(err))
}

func TestSpreadsheetFormatErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "bad timestamp",
			content: `conta,data_lancamento,valor
Receita de Vendas,quando,100
`,
		},
		{
			name: "ragged row",
			content: `conta,data_lancamento,valor
"Receita de Vendas",02/08/2026
`,
		},
		{
			name: "missing timestamp column",
			content: `conta,valor
Receita de Vendas,100
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := spreadsheetAdapter(writeExport(t, tt.content), 0)

			_, err := adapter.Fetch(context.Background(), models.Watermark{})
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrSourceFormat)
			assert.False(t, models.IsRetryable(err))
		})
	}
}

func TestParseSourceTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2026-08-01T10:30:00Z", time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)},
		{"2026-08-01 10:30:00", time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)},
		{"2026-08-01", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{"01/08/2026 10:30:00", time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)},
		{"01/08/2026", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := parseSourceTimestamp(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.True(t, got.Equal(tt.want), tt.raw)
	}

	_, err := parseSourceTimestamp("ontem")
	assert.Error(t, err)
}
