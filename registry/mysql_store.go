package registry

import (
	"database/sql"
	"fmt"

	"github.com/rmachado/financedw/models"
	"gopkg.in/yaml.v3"
)

// MySQLStore is the warehouse-backed contract store shared by all domain
// pipelines. Immutability is enforced by the (domain, version) primary key:
// an INSERT IGNORE that affects no rows is a registration conflict.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a contract store on the warehouse database.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureTableExists creates the schema_contracts table if it is missing.
func (s *MySQLStore) EnsureTableExists() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_contracts (
			domain VARCHAR(100) NOT NULL,
			version INT NOT NULL,
			definition TEXT NOT NULL,
			registered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (domain, version)
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("creating schema_contracts table: %w", err)
	}
	return nil
}

// Register stores a new contract version.
func (s *MySQLStore) Register(contract *SchemaContract) error {
	if err := contract.Validate(); err != nil {
		return err
	}

	definition, err := yaml.Marshal(contract)
	if err != nil {
		return fmt.Errorf("serializing contract %q v%d: %w", contract.Domain, contract.Version, err)
	}

	result, err := s.db.Exec(`
		INSERT IGNORE INTO schema_contracts (domain, version, definition)
		VALUES (?, ?, ?)
	`, contract.Domain, contract.Version, string(definition))
	if err != nil {
		return fmt.Errorf("registering contract %q v%d: %w", contract.Domain, contract.Version, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking contract registration: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("domain %q version %d: %w", contract.Domain, contract.Version, models.ErrContractConflict)
	}

	return nil
}

// Get returns one contract version of a domain.
func (s *MySQLStore) Get(domain string, version int) (*SchemaContract, error) {
	var definition string
	err := s.db.QueryRow(`
		SELECT definition FROM schema_contracts
		WHERE domain = ? AND version = ?
	`, domain, version).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("domain %q version %d: %w", domain, version, models.ErrContractNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying contract %q v%d: %w", domain, version, err)
	}

	return decodeContract(definition)
}

// Latest returns the highest registered contract version of a domain.
func (s *MySQLStore) Latest(domain string) (*SchemaContract, error) {
	var definition string
	err := s.db.QueryRow(`
		SELECT definition FROM schema_contracts
		WHERE domain = ?
		ORDER BY version DESC
		LIMIT 1
	`, domain).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("domain %q: %w", domain, models.ErrContractNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest contract for %q: %w", domain, err)
	}

	return decodeContract(definition)
}

func decodeContract(definition string) (*SchemaContract, error) {
	var contract SchemaContract
	if err := yaml.Unmarshal([]byte(definition), &contract); err != nil {
		return nil, fmt.Errorf("decoding stored contract: %w", err)
	}
	return &contract, nil
}
