package warehouse

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rmachado/financedw/models"
)

// RunLogRepository journals pipeline runs per domain. Every run is accounted
// for: start, end, counts of ingested/accepted/rejected records and the error
// message of a failed run.
type RunLogRepository interface {
	// StartRun opens a journal entry and returns its id.
	StartRun(domain, runID string, startTime time.Time) (int64, error)

	// CompleteRun closes an entry with its final counts and status.
	CompleteRun(id int64, log *models.RunLog) error

	// LastSuccessfulRun returns the most recent successful entry of a
	// domain, or nil when the domain never ran successfully.
	LastSuccessfulRun(domain string) (*models.RunLog, error)
}

// MySQLRunLogRepository persists the run journal in the warehouse database.
type MySQLRunLogRepository struct {
	db *sql.DB
}

// NewMySQLRunLogRepository creates a run journal on the warehouse database.
func NewMySQLRunLogRepository(db *sql.DB) *MySQLRunLogRepository {
	return &MySQLRunLogRepository{db: db}
}

// EnsureTableExists creates the pipeline_runs table if it is missing.
func (r *MySQLRunLogRepository) EnsureTableExists() error {
	query := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id CHAR(36) NOT NULL,
			domain VARCHAR(100) NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'in_progress',
			records_ingested INT NOT NULL DEFAULT 0,
			records_accepted INT NOT NULL DEFAULT 0,
			records_rejected INT NOT NULL DEFAULT 0,
			rows_inserted INT NOT NULL DEFAULT 0,
			rows_superseded INT NOT NULL DEFAULT 0,
			error_message TEXT,
			INDEX idx_domain_status (domain, status),
			INDEX idx_start_time (start_time)
		)
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("creating pipeline_runs table: %w", err)
	}
	return nil
}

// StartRun opens a journal entry.
func (r *MySQLRunLogRepository) StartRun(domain, runID string, startTime time.Time) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO pipeline_runs (run_id, domain, start_time, status)
		VALUES (?, ?, ?, 'in_progress')
	`, runID, domain, startTime)
	if err != nil {
		return 0, fmt.Errorf("creating run journal entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run journal entry id: %w", err)
	}
	return id, nil
}

// CompleteRun closes a journal entry.
func (r *MySQLRunLogRepository) CompleteRun(id int64, log *models.RunLog) error {
	_, err := r.db.Exec(`
		UPDATE pipeline_runs
		SET end_time = ?, status = ?, records_ingested = ?, records_accepted = ?,
		    records_rejected = ?, rows_inserted = ?, rows_superseded = ?, error_message = ?
		WHERE id = ?
	`, log.EndTime, log.Status, log.RecordsIngested, log.RecordsAccepted,
		log.RecordsRejected, log.RowsInserted, log.RowsSuperseded, log.ErrorMessage, id)
	if err != nil {
		return fmt.Errorf("updating run journal entry %d: %w", id, err)
	}
	return nil
}

// LastSuccessfulRun returns the most recent successful entry of a domain.
func (r *MySQLRunLogRepository) LastSuccessfulRun(domain string) (*models.RunLog, error) {
	var log models.RunLog
	var errorMessage sql.NullString

	err := r.db.QueryRow(`
		SELECT id, run_id, domain, start_time, end_time, status,
		       records_ingested, records_accepted, records_rejected,
		       rows_inserted, rows_superseded, error_message
		FROM pipeline_runs
		WHERE domain = ? AND status = 'success'
		ORDER BY end_time DESC
		LIMIT 1
	`, domain).Scan(&log.ID, &log.RunID, &log.Domain, &log.StartTime, &log.EndTime, &log.Status,
		&log.RecordsIngested, &log.RecordsAccepted, &log.RecordsRejected,
		&log.RowsInserted, &log.RowsSuperseded, &errorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last successful run for %q: %w", domain, err)
	}

	log.ErrorMessage = errorMessage.String
	return &log, nil
}

// MemoryRunLogRepository is an in-memory run journal used in tests.
type MemoryRunLogRepository struct {
	mu     sync.Mutex
	nextID int64
	Runs   map[int64]*models.RunLog
}

// NewMemoryRunLogRepository creates an empty in-memory run journal.
func NewMemoryRunLogRepository() *MemoryRunLogRepository {
	return &MemoryRunLogRepository{Runs: make(map[int64]*models.RunLog)}
}

// StartRun opens a journal entry.
func (r *MemoryRunLogRepository) StartRun(domain, runID string, startTime time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.Runs[r.nextID] = &models.RunLog{
		ID:        r.nextID,
		RunID:     runID,
		Domain:    domain,
		StartTime: startTime,
		Status:    "in_progress",
	}
	return r.nextID, nil
}

// CompleteRun closes a journal entry.
func (r *MemoryRunLogRepository) CompleteRun(id int64, log *models.RunLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.Runs[id]
	if !ok {
		return fmt.Errorf("run journal entry %d not found", id)
	}

	entry.EndTime = log.EndTime
	entry.Status = log.Status
	entry.RecordsIngested = log.RecordsIngested
	entry.RecordsAccepted = log.RecordsAccepted
	entry.RecordsRejected = log.RecordsRejected
	entry.RowsInserted = log.RowsInserted
	entry.RowsSuperseded = log.RowsSuperseded
	entry.ErrorMessage = log.ErrorMessage
	return nil
}

// LastSuccessfulRun returns the most recent successful entry of a domain.
func (r *MemoryRunLogRepository) LastSuccessfulRun(domain string) (*models.RunLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *models.RunLog
	for _, entry := range r.Runs {
		if entry.Domain != domain || entry.Status != "success" {
			continue
		}
		if best == nil || entry.EndTime.After(best.EndTime) {
			best = entry
		}
	}
	return best, nil
}
