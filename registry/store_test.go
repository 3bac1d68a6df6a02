package registry

import (
	"testing"

	"github.com/rmachado/financedw/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContract(domain string, version int) *SchemaContract {
	return &SchemaContract{
		Domain:  domain,
		Version: version,
		Fields: []FieldDef{
			{Name: "conta", Type: FieldString, Rule: "nonempty"},
			{Name: "data_lancamento", Type: FieldDate},
			{Name: "valor", Type: FieldFloat},
		},
		BusinessKeyField:   "conta",
		EffectiveDateField: "data_lancamento",
	}
}

func TestMemoryStoreRegisterAndGet(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.Register(testContract("dre_lancamentos", 1)))

	got, err := store.Get("dre_lancamentos", 1)
	require.NoError(t, err)
	assert.Equal(t, "dre_lancamentos", got.Domain)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, got.Fields, 3)
}

func TestMemoryStoreRegisterConflict(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.Register(testContract("dre_lancamentos", 1)))

	// Contracts are immutable: re-registering the same version fails even
	// with identical content.
	err := store.Register(testContract("dre_lancamentos", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrContractConflict)

	// A new version is fine.
	require.NoError(t, store.Register(testContract("dre_lancamentos", 2)))
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get("dre_lancamentos", 1)
	assert.ErrorIs(t, err, models.ErrContractNotFound)

	_, err = store.Latest("dre_lancamentos")
	assert.ErrorIs(t, err, models.ErrContractNotFound)
}

func TestMemoryStoreLatest(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.Register(testContract("base_clientes", 1)))
	require.NoError(t, store.Register(testContract("base_clientes", 3)))
	require.NoError(t, store.Register(testContract("base_clientes", 2)))

	got, err := store.Latest("base_clientes")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
}

func TestContractValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *SchemaContract)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *SchemaContract) {},
		},
		{
			name:    "missing domain",
			mutate:  func(c *SchemaContract) { c.Domain = "" },
			wantErr: "without domain",
		},
		{
			name:    "zero version",
			mutate:  func(c *SchemaContract) { c.Version = 0 },
			wantErr: "version must be positive",
		},
		{
			name:    "duplicate field",
			mutate:  func(c *SchemaContract) { c.Fields = append(c.Fields, FieldDef{Name: "conta", Type: FieldString}) },
			wantErr: "defined twice",
		},
		{
			name:    "unknown type",
			mutate:  func(c *SchemaContract) { c.Fields[0].Type = "decimal" },
			wantErr: "unknown type",
		},
		{
			name:    "business key not a field",
			mutate:  func(c *SchemaContract) { c.BusinessKeyField = "id_cliente" },
			wantErr: "not a defined field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contract := testContract("dre_lancamentos", 1)
			tt.mutate(contract)

			err := contract.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
