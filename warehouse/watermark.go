package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rmachado/financedw/models"
)

// WatermarkStore tracks the last successfully loaded position per domain.
// Advance is compare-and-set: it succeeds only when the stored watermark
// still equals the one the caller read, so concurrent domain pipelines cannot
// lose updates. Domains are independent keys; there is no cross-domain lock.
type WatermarkStore interface {
	// Get returns the domain's watermark; the zero watermark when none is
	// stored yet.
	Get(ctx context.Context, domain string) (models.Watermark, error)

	// Advance replaces old with new, failing with
	// models.ErrWatermarkConflict when the stored value is no longer old.
	Advance(ctx context.Context, domain string, old, new models.Watermark) error
}

// MemoryWatermarkStore is a mutex-guarded in-memory WatermarkStore.
type MemoryWatermarkStore struct {
	mu    sync.Mutex
	marks map[string]models.Watermark
}

// NewMemoryWatermarkStore creates an empty in-memory watermark store.
func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{marks: make(map[string]models.Watermark)}
}

// Get returns the domain's watermark.
func (s *MemoryWatermarkStore) Get(ctx context.Context, domain string) (models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark, ok := s.marks[domain]
	if !ok {
		return models.Watermark{Domain: domain}, nil
	}
	return mark, nil
}

// Advance replaces old with new under compare-and-set semantics.
func (s *MemoryWatermarkStore) Advance(ctx context.Context, domain string, old, new models.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.marks[domain]
	if !stored.BatchTime.Equal(old.BatchTime) || stored.LastSequence != old.LastSequence {
		return fmt.Errorf("domain %q: %w", domain, models.ErrWatermarkConflict)
	}

	new.Domain = domain
	s.marks[domain] = new
	return nil
}

// MySQLWatermarkStore persists watermarks in the warehouse database.
type MySQLWatermarkStore struct {
	db *sql.DB
}

// NewMySQLWatermarkStore creates a watermark store on the warehouse database.
func NewMySQLWatermarkStore(db *sql.DB) *MySQLWatermarkStore {
	return &MySQLWatermarkStore{db: db}
}

// EnsureTableExists creates the watermarks table if it is missing.
func (s *MySQLWatermarkStore) EnsureTableExists() error {
	query := `
		CREATE TABLE IF NOT EXISTS watermarks (
			domain VARCHAR(100) PRIMARY KEY,
			batch_time DATETIME(6) NOT NULL,
			last_sequence BIGINT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("creating watermarks table: %w", err)
	}
	return nil
}

// Get returns the domain's watermark.
func (s *MySQLWatermarkStore) Get(ctx context.Context, domain string) (models.Watermark, error) {
	mark := models.Watermark{Domain: domain}

	var batchTime time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT batch_time, last_sequence FROM watermarks WHERE domain = ?
	`, domain).Scan(&batchTime, &mark.LastSequence)
	if err == sql.ErrNoRows {
		return mark, nil
	}
	if err != nil {
		return mark, fmt.Errorf("querying watermark for %q: %w", domain, err)
	}

	mark.BatchTime = batchTime
	return mark, nil
}

// Advance replaces old with new under compare-and-set semantics. A fresh
// domain is inserted; INSERT IGNORE affecting no rows means another pipeline
// got there first.
func (s *MySQLWatermarkStore) Advance(ctx context.Context, domain string, old, new models.Watermark) error {
	if old.IsZero() {
		result, err := s.db.ExecContext(ctx, `
			INSERT IGNORE INTO watermarks (domain, batch_time, last_sequence)
			VALUES (?, ?, ?)
		`, domain, new.BatchTime, new.LastSequence)
		if err != nil {
			return fmt.Errorf("inserting watermark for %q: %w", domain, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("domain %q: %w", domain, models.ErrWatermarkConflict)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE watermarks
		SET batch_time = ?, last_sequence = ?
		WHERE domain = ? AND batch_time = ? AND last_sequence = ?
	`, new.BatchTime, new.LastSequence, domain, old.BatchTime, old.LastSequence)
	if err != nil {
		return fmt.Errorf("advancing watermark for %q: %w", domain, err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("domain %q: %w", domain, models.ErrWatermarkConflict)
	}
	return nil
}
