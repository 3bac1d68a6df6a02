package validation

import (
	"io"
	"testing"
	"time"

	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/registry"
	"github.com/rmachado/financedw/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *utils.PipelineLogger {
	return utils.NewPipelineLoggerTo(io.Discard, false)
}

func ledgerContract() *registry.SchemaContract {
	return &registry.SchemaContract{
		Domain:  "dre_lancamentos",
		Version: 1,
		Fields: []registry.FieldDef{
			{Name: "conta", Type: registry.FieldString, Rule: "nonempty"},
			{Name: "data_lancamento", Type: registry.FieldDate},
			{Name: "valor", Type: registry.FieldFloat, Rule: "nonnegative"},
			{Name: "tipo", Type: registry.FieldString, Rule: "oneof:debito|credito"},
			{Name: "descricao", Type: registry.FieldString, Nullable: true},
		},
		BusinessKeyField:   "conta",
		EffectiveDateField: "data_lancamento",
	}
}

func rawLedgerRecord(seq int64, values map[string]string) models.RawRecord {
	return models.RawRecord{
		Domain:          "dre_lancamentos",
		Source:          "erp",
		BatchID:         "batch-1",
		Sequence:        seq,
		Values:          values,
		SourceTimestamp: time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC),
		IngestedAt:      time.Date(2026, 8, 10, 12, 5, 0, 0, time.UTC),
	}
}

func TestValidateBatchAccepts(t *testing.T) {
	v := NewValidator(ledgerContract(), nil, nil, testLogger())

	result := v.ValidateBatch([]models.RawRecord{
		rawLedgerRecord(1, map[string]string{
			"conta":           "Receita de Vendas",
			"data_lancamento": "2026-08-01",
			"valor":           "1.234,56",
			"tipo":            "credito",
			"extra":           "dropped silently",
		}),
	})

	require.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)

	rec := result.Accepted[0]
	assert.Equal(t, models.ValidationPassed, rec.Status)
	assert.Equal(t, "Receita de Vendas", rec.BusinessKey)
	assert.Equal(t, 1, rec.ContractVersion)

	// Decimal comma and thousand separator are normalized.
	assert.Equal(t, 1234.56, rec.Values["valor"])

	// The effective date comes from the contract's effective_date field, not
	// the source timestamp.
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), rec.EffectiveDate)

	// Fields outside the contract are dropped.
	_, hasExtra := rec.Values["extra"]
	assert.False(t, hasExtra)
}

func TestValidateBatchRejectionsDoNotBlock(t *testing.T) {
	v := NewValidator(ledgerContract(), nil, nil, testLogger())

	result := v.ValidateBatch([]models.RawRecord{
		rawLedgerRecord(1, map[string]string{
			"conta":           "Receita de Vendas",
			"data_lancamento": "2026-08-01",
			"valor":           "100",
			"tipo":            "credito",
		}),
		rawLedgerRecord(2, map[string]string{
			"conta":           "Despesas Gerais",
			"data_lancamento": "not-a-date",
			"valor":           "50",
			"tipo":            "debito",
		}),
	})

	// A rejected record is recorded but never blocks its neighbors.
	require.Len(t, result.Accepted, 1)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "Receita de Vendas", result.Accepted[0].BusinessKey)
	assert.Equal(t, models.ValidationFailed, result.Rejected[0].Status)
	assert.Contains(t, result.Rejected[0].FailureReasons[0], "not a date")
}

func TestValidateOneChecksInDeclarationOrder(t *testing.T) {
	v := NewValidator(ledgerContract(), nil, nil, testLogger())

	// Both valor and tipo are invalid; only the first failure in field
	// declaration order is recorded.
	result := v.ValidateBatch([]models.RawRecord{
		rawLedgerRecord(1, map[string]string{
			"conta":           "Receita de Vendas",
			"data_lancamento": "2026-08-01",
			"valor":           "-10",
			"tipo":            "transferencia",
		}),
	})

	require.Len(t, result.Rejected, 1)
	require.Len(t, result.Rejected[0].FailureReasons, 1)
	assert.Contains(t, result.Rejected[0].FailureReasons[0], "rule:nonnegative")
}

func TestValidateOneRequiredAndNullable(t *testing.T) {
	v := NewValidator(ledgerContract(), nil, nil, testLogger())

	result := v.ValidateBatch([]models.RawRecord{
		// descricao is nullable and may be absent.
		rawLedgerRecord(1, map[string]string{
			"conta":           "Receita de Vendas",
			"data_lancamento": "2026-08-01",
			"valor":           "10",
			"tipo":            "credito",
		}),
		// valor is required; whitespace-only counts as missing.
		rawLedgerRecord(2, map[string]string{
			"conta":           "Despesas Gerais",
			"data_lancamento": "2026-08-01",
			"valor":           "   ",
			"tipo":            "debito",
		}),
	})

	require.Len(t, result.Accepted, 1)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].FailureReasons[0], `field "valor" is required`)
}

func TestValidateBatchEnrichment(t *testing.T) {
	plan := map[string]AccountClass{
		"Receita de Vendas": {Item: "RECEITA BRUTA", Detail: "VENDAS", Nature: "RECEITA"},
	}
	v := NewValidator(ledgerContract(), NewEnricher(plan, nil, testLogger()), nil, testLogger())

	result := v.ValidateBatch([]models.RawRecord{
		rawLedgerRecord(1, map[string]string{
			"conta":           "Receita  de   Vendas", // sloppy spacing
			"data_lancamento": "2026-08-01",
			"valor":           "10",
			"tipo":            "credito",
		}),
		rawLedgerRecord(2, map[string]string{
			"conta":           "Conta Fantasma",
			"data_lancamento": "2026-08-01",
			"valor":           "10",
			"tipo":            "credito",
		}),
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "RECEITA BRUTA", result.Accepted[0].Values["item"])
	assert.Equal(t, "VENDAS", result.Accepted[0].Values["detalhe"])
	assert.Equal(t, "RECEITA", result.Accepted[0].Values["natureza"])

	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].FailureReasons[0], "not in chart of accounts")
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		field   registry.FieldDef
		raw     string
		want    any
		wantErr bool
	}{
		{name: "int", field: registry.FieldDef{Name: "n", Type: registry.FieldInt}, raw: " 42 ", want: int64(42)},
		{name: "bad int", field: registry.FieldDef{Name: "n", Type: registry.FieldInt}, raw: "4.2", wantErr: true},
		{name: "plain float", field: registry.FieldDef{Name: "v", Type: registry.FieldFloat}, raw: "10.5", want: 10.5},
		{name: "brazilian float", field: registry.FieldDef{Name: "v", Type: registry.FieldFloat}, raw: "1.234,56", want: 1234.56},
		{name: "bool sim", field: registry.FieldDef{Name: "b", Type: registry.FieldBool}, raw: "Sim", want: true},
		{name: "bool nao", field: registry.FieldDef{Name: "b", Type: registry.FieldBool}, raw: "não", want: false},
		{name: "iso date", field: registry.FieldDef{Name: "d", Type: registry.FieldDate}, raw: "2026-08-01", want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{name: "day first date", field: registry.FieldDef{Name: "d", Type: registry.FieldDate}, raw: "01/08/2026", want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{name: "bad date", field: registry.FieldDef{Name: "d", Type: registry.FieldDate}, raw: "2026-13-01", wantErr: true},
		{name: "datetime", field: registry.FieldDef{Name: "d", Type: registry.FieldDateTime}, raw: "2026-08-01 09:30:00", want: time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.field, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
