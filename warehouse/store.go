package warehouse

import (
	"context"
	"sort"
	"sync"

	"github.com/rmachado/financedw/models"
)

// Store is the dimensional row store behind the Loader. The write surface is
// used only by the Loader; CurrentRows and RowVersions form the read-only
// query surface for downstream consumers.
type Store interface {
	// CurrentRows returns the current row of each listed business key. A nil
	// key list returns every current row of the domain.
	CurrentRows(ctx context.Context, domain string, keys []string) ([]models.DimensionalRow, error)

	// RowVersions returns every historical version of one business key,
	// ordered by validity start.
	RowVersions(ctx context.Context, domain, businessKey string) ([]models.DimensionalRow, error)

	// Apply executes a merge plan in lot-sized transactions and reports how
	// many rows were inserted and superseded.
	Apply(ctx context.Context, domain string, plan []Action) (inserted, superseded int, err error)
}

// MemoryStore is an in-process Store guarded by a mutex. It backs tests and
// dry runs; the production store is MySQLStore.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]models.DimensionalRow // keyed by domain
}

// NewMemoryStore creates an empty in-memory dimensional store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]models.DimensionalRow)}
}

// CurrentRows returns the current row of each listed business key.
func (s *MemoryStore) CurrentRows(ctx context.Context, domain string, keys []string) ([]models.DimensionalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[string]bool
	if keys != nil {
		wanted = make(map[string]bool, len(keys))
		for _, k := range keys {
			wanted[k] = true
		}
	}

	var result []models.DimensionalRow
	for _, row := range s.rows[domain] {
		if !row.IsCurrent {
			continue
		}
		if wanted != nil && !wanted[row.BusinessKey] {
			continue
		}
		result = append(result, row)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].BusinessKey < result[j].BusinessKey })
	return result, nil
}

// RowVersions returns every version of one business key.
func (s *MemoryStore) RowVersions(ctx context.Context, domain, businessKey string) ([]models.DimensionalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.DimensionalRow
	for _, row := range s.rows[domain] {
		if row.BusinessKey == businessKey {
			result = append(result, row)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ValidFrom.Before(result[j].ValidFrom) })
	return result, nil
}

// Apply executes a merge plan.
func (s *MemoryStore) Apply(ctx context.Context, domain string, plan []Action) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, superseded := 0, 0
	rows := s.rows[domain]

	for _, action := range plan {
		switch action.Kind {
		case ActionSupersede:
			for i := range rows {
				if rows[i].IsCurrent &&
					rows[i].BusinessKey == action.Row.BusinessKey &&
					rows[i].AttributeHash == action.Row.AttributeHash {
					rows[i].IsCurrent = false
					rows[i].ValidTo = action.CloseAt
					superseded++
					break
				}
			}
		case ActionInsert:
			rows = append(rows, action.Row)
			inserted++
		}
	}

	s.rows[domain] = rows
	return inserted, superseded, nil
}
