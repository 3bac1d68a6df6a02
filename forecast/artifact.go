package forecast

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact statuses. Rejected and superseded artifacts are retained for
// reproducibility audits, never deleted.
const (
	ArtifactPublished  = "published"
	ArtifactRejected   = "rejected"
	ArtifactSuperseded = "superseded"
)

// ModelArtifact is a trained model with its training-window metadata and
// evaluation metrics. It traces to a bounded, reproducible window of
// dimensional rows: retraining over the same window yields the same
// coefficients.
type ModelArtifact struct {
	ID          string
	Domain      string
	A           float64
	B           float64
	R2          float64
	WindowStart time.Time
	WindowEnd   time.Time
	DataPoints  int
	TrainedAt   time.Time
	Status      string
}

// NewArtifact builds an artifact from a regression result.
func NewArtifact(domain string, result *RegressionResult) ModelArtifact {
	return ModelArtifact{
		ID:          uuid.NewString(),
		Domain:      domain,
		A:           result.A,
		B:           result.B,
		R2:          result.R2,
		WindowStart: result.PeriodStart,
		WindowEnd:   result.PeriodEnd,
		DataPoints:  len(result.DataPoints),
		TrainedAt:   time.Now(),
	}
}

// ArtifactRepository stores model artifacts per domain.
type ArtifactRepository interface {
	// Save stores a new artifact with its status.
	Save(artifact ModelArtifact) error

	// Published returns the currently published artifact of a domain, or
	// nil when none was ever promoted.
	Published(domain string) (*ModelArtifact, error)

	// History returns every artifact of a domain, most recent first.
	History(domain string) ([]ModelArtifact, error)

	// MarkSuperseded demotes a previously published artifact.
	MarkSuperseded(id string) error
}

// MemoryArtifactRepository is an in-memory ArtifactRepository.
type MemoryArtifactRepository struct {
	mu        sync.Mutex
	artifacts map[string]ModelArtifact
}

// NewMemoryArtifactRepository creates an empty in-memory repository.
func NewMemoryArtifactRepository() *MemoryArtifactRepository {
	return &MemoryArtifactRepository{artifacts: make(map[string]ModelArtifact)}
}

// Save stores a new artifact.
func (r *MemoryArtifactRepository) Save(artifact ModelArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[artifact.ID] = artifact
	return nil
}

// Published returns the currently published artifact of a domain.
func (r *MemoryArtifactRepository) Published(domain string) (*ModelArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.artifacts {
		if a.Domain == domain && a.Status == ArtifactPublished {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

// History returns every artifact of a domain, most recent first.
func (r *MemoryArtifactRepository) History(domain string) ([]ModelArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []ModelArtifact
	for _, a := range r.artifacts {
		if a.Domain == domain {
			result = append(result, a)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].TrainedAt.After(result[j].TrainedAt) })
	return result, nil
}

// MarkSuperseded demotes a published artifact.
func (r *MemoryArtifactRepository) MarkSuperseded(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, ok := r.artifacts[id]
	if !ok {
		return fmt.Errorf("artifact %s not found", id)
	}
	artifact.Status = ArtifactSuperseded
	r.artifacts[id] = artifact
	return nil
}

// MySQLArtifactRepository persists artifacts in the warehouse database.
type MySQLArtifactRepository struct {
	db *sql.DB
}

// NewMySQLArtifactRepository creates an artifact repository on the warehouse
// database.
func NewMySQLArtifactRepository(db *sql.DB) *MySQLArtifactRepository {
	return &MySQLArtifactRepository{db: db}
}

// EnsureTableExists creates the forecast_models table if it is missing.
func (r *MySQLArtifactRepository) EnsureTableExists() error {
	query := `
		CREATE TABLE IF NOT EXISTS forecast_models (
			id CHAR(36) PRIMARY KEY,
			domain VARCHAR(100) NOT NULL,
			a DECIMAL(12,3) NOT NULL,
			b DECIMAL(12,3) NOT NULL,
			r2 DECIMAL(5,3) NOT NULL,
			window_start DATE NOT NULL,
			window_end DATE NOT NULL,
			data_points INT NOT NULL,
			trained_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(20) NOT NULL,
			INDEX idx_domain_status (domain, status)
		)
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("creating forecast_models table: %w", err)
	}
	return nil
}

// Save stores a new artifact.
func (r *MySQLArtifactRepository) Save(artifact ModelArtifact) error {
	_, err := r.db.Exec(`
		INSERT INTO forecast_models
		(id, domain, a, b, r2, window_start, window_end, data_points, trained_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, artifact.ID, artifact.Domain, artifact.A, artifact.B, artifact.R2,
		artifact.WindowStart, artifact.WindowEnd, artifact.DataPoints, artifact.TrainedAt, artifact.Status)
	if err != nil {
		return fmt.Errorf("saving model artifact %s: %w", artifact.ID, err)
	}
	return nil
}

// Published returns the currently published artifact of a domain.
func (r *MySQLArtifactRepository) Published(domain string) (*ModelArtifact, error) {
	var artifact ModelArtifact
	err := r.db.QueryRow(`
		SELECT id, domain, a, b, r2, window_start, window_end, data_points, trained_at, status
		FROM forecast_models
		WHERE domain = ? AND status = ?
		ORDER BY trained_at DESC
		LIMIT 1
	`, domain, ArtifactPublished).Scan(&artifact.ID, &artifact.Domain, &artifact.A, &artifact.B,
		&artifact.R2, &artifact.WindowStart, &artifact.WindowEnd, &artifact.DataPoints,
		&artifact.TrainedAt, &artifact.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying published model for %q: %w", domain, err)
	}
	return &artifact, nil
}

// History returns every artifact of a domain, most recent first.
func (r *MySQLArtifactRepository) History(domain string) ([]ModelArtifact, error) {
	rows, err := r.db.Query(`
		SELECT id, domain, a, b, r2, window_start, window_end, data_points, trained_at, status
		FROM forecast_models
		WHERE domain = ?
		ORDER BY trained_at DESC
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("querying model history for %q: %w", domain, err)
	}
	defer rows.Close()

	var result []ModelArtifact
	for rows.Next() {
		var artifact ModelArtifact
		if err := rows.Scan(&artifact.ID, &artifact.Domain, &artifact.A, &artifact.B,
			&artifact.R2, &artifact.WindowStart, &artifact.WindowEnd, &artifact.DataPoints,
			&artifact.TrainedAt, &artifact.Status); err != nil {
			return nil, fmt.Errorf("scanning model artifact: %w", err)
		}
		result = append(result, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating model history: %w", err)
	}
	return result, nil
}

// MarkSuperseded demotes a published artifact.
func (r *MySQLArtifactRepository) MarkSuperseded(id string) error {
	_, err := r.db.Exec(`
		UPDATE forecast_models SET status = ? WHERE id = ?
	`, ArtifactSuperseded, id)
	if err != nil {
		return fmt.Errorf("superseding model artifact %s: %w", id, err)
	}
	return nil
}
