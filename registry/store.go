package registry

import (
	"fmt"
	"sync"

	"github.com/rmachado/financedw/models"
)

// Store is the schema registry contract store. Registered contracts are
// immutable: Register fails with models.ErrContractConflict when the version
// already exists, Get fails with models.ErrContractNotFound when it does not.
type Store interface {
	// Register stores a new contract version.
	Register(contract *SchemaContract) error

	// Get returns one contract version of a domain.
	Get(domain string, version int) (*SchemaContract, error)

	// Latest returns the highest registered contract version of a domain.
	Latest(domain string) (*SchemaContract, error)
}

// MemoryStore is a mutex-guarded in-memory Store. Multiple domain pipelines
// read it concurrently; per-domain writes are serialized by the lock.
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]map[int]*SchemaContract
}

// NewMemoryStore creates an empty in-memory contract store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[string]map[int]*SchemaContract),
	}
}

// Register stores a new contract version.
func (s *MemoryStore) Register(contract *SchemaContract) error {
	if err := contract.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.contracts[contract.Domain]
	if !ok {
		versions = make(map[int]*SchemaContract)
		s.contracts[contract.Domain] = versions
	}

	if _, exists := versions[contract.Version]; exists {
		return fmt.Errorf("domain %q version %d: %w", contract.Domain, contract.Version, models.ErrContractConflict)
	}

	versions[contract.Version] = contract
	return nil
}

// Get returns one contract version of a domain.
func (s *MemoryStore) Get(domain string, version int) (*SchemaContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[domain][version]
	if !ok {
		return nil, fmt.Errorf("domain %q version %d: %w", domain, version, models.ErrContractNotFound)
	}
	return contract, nil
}

// Latest returns the highest registered contract version of a domain.
func (s *MemoryStore) Latest(domain string) (*SchemaContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.contracts[domain]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("domain %q: %w", domain, models.ErrContractNotFound)
	}

	best := 0
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return versions[best], nil
}
