package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
)

// MySQLStore is the warehouse dimensional store. Rows are append-only:
// supersession closes a validity interval, nothing is deleted.
type MySQLStore struct {
	db      *sql.DB
	lotSize int
	logger  *utils.PipelineLogger
}

// NewMySQLStore creates the store. lotSize bounds rows per transaction.
func NewMySQLStore(db *sql.DB, lotSize int, logger *utils.PipelineLogger) *MySQLStore {
	return &MySQLStore{db: db, lotSize: lotSize, logger: logger}
}

// EnsureTableExists creates the dimensional_rows table if it is missing.
func (s *MySQLStore) EnsureTableExists() error {
	query := `
		CREATE TABLE IF NOT EXISTS dimensional_rows (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			domain VARCHAR(100) NOT NULL,
			business_key VARCHAR(255) NOT NULL,
			attribute_hash CHAR(32) NOT NULL,
			attributes JSON NOT NULL,
			valid_from DATETIME NOT NULL,
			valid_to DATETIME NULL,
			is_current BOOLEAN NOT NULL DEFAULT TRUE,
			loaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			record_sequence BIGINT NOT NULL DEFAULT 0,
			UNIQUE KEY uq_current_version (domain, business_key, valid_from, attribute_hash),
			INDEX idx_domain_current (domain, is_current),
			INDEX idx_business_key (domain, business_key)
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("creating dimensional_rows table: %w", err)
	}
	return nil
}

// CurrentRows returns the current row of each listed business key.
func (s *MySQLStore) CurrentRows(ctx context.Context, domain string, keys []string) ([]models.DimensionalRow, error) {
	query := `
		SELECT domain, business_key, attribute_hash, attributes,
		       valid_from, valid_to, is_current, loaded_at, record_sequence
		FROM dimensional_rows
		WHERE domain = ? AND is_current = TRUE
	`
	args := []interface{}{domain}

	if keys != nil {
		if len(keys) == 0 {
			return nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND business_key IN (%s)", placeholders)
		for _, k := range keys {
			args = append(args, k)
		}
	}
	query += " ORDER BY business_key"

	return s.queryRows(ctx, query, args...)
}

// RowVersions returns every version of one business key.
func (s *MySQLStore) RowVersions(ctx context.Context, domain, businessKey string) ([]models.DimensionalRow, error) {
	query := `
		SELECT domain, business_key, attribute_hash, attributes,
		       valid_from, valid_to, is_current, loaded_at, record_sequence
		FROM dimensional_rows
		WHERE domain = ? AND business_key = ?
		ORDER BY valid_from
	`
	return s.queryRows(ctx, query, domain, businessKey)
}

// Apply executes a merge plan in lot-sized transactions. Each lot commits
// atomically; a failure mid-plan leaves earlier lots committed, which the
// caller accounts for by advancing the watermark only past committed work.
func (s *MySQLStore) Apply(ctx context.Context, domain string, plan []Action) (int, int, error) {
	inserted, superseded := 0, 0

	for start := 0; start < len(plan); start += s.lotSize {
		end := start + s.lotSize
		if end > len(plan) {
			end = len(plan)
		}

		ins, sup, err := s.applyLot(ctx, plan[start:end])
		inserted += ins
		superseded += sup
		if err != nil {
			return inserted, superseded, fmt.Errorf("applying lot %d: %w", start/s.lotSize+1, err)
		}

		s.logger.Debug("[%s] Lot %d applied: %d inserted, %d superseded",
			domain, start/s.lotSize+1, ins, sup)
	}

	return inserted, superseded, nil
}

func (s *MySQLStore) applyLot(ctx context.Context, lot []Action) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}

	closeStmt, err := tx.PrepareContext(ctx, `
		UPDATE dimensional_rows
		SET valid_to = ?, is_current = FALSE
		WHERE domain = ? AND business_key = ? AND attribute_hash = ? AND is_current = TRUE
	`)
	if err != nil {
		tx.Rollback()
		return 0, 0, fmt.Errorf("preparing supersede statement: %w", err)
	}
	defer closeStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT IGNORE INTO dimensional_rows
		(domain, business_key, attribute_hash, attributes, valid_from, valid_to, is_current, record_sequence)
		VALUES (?, ?, ?, ?, ?, NULL, TRUE, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, 0, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer insertStmt.Close()

	inserted, superseded := 0, 0
	for _, action := range lot {
		switch action.Kind {
		case ActionSupersede:
			result, err := closeStmt.ExecContext(ctx,
				action.CloseAt, action.Row.Domain, action.Row.BusinessKey, action.Row.AttributeHash)
			if err != nil {
				tx.Rollback()
				return 0, 0, fmt.Errorf("superseding row %s/%s: %w", action.Row.Domain, action.Row.BusinessKey, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				superseded++
			}

		case ActionInsert:
			attributes, err := json.Marshal(encodeAttributes(action.Row.Attributes))
			if err != nil {
				tx.Rollback()
				return 0, 0, fmt.Errorf("encoding attributes of %s: %w", action.Row.BusinessKey, err)
			}

			// INSERT IGNORE plus the unique version key keeps replays of an
			// already-committed lot from creating duplicate rows.
			result, err := insertStmt.ExecContext(ctx,
				action.Row.Domain, action.Row.BusinessKey, action.Row.AttributeHash,
				attributes, action.Row.ValidFrom, action.Row.Sequence)
			if err != nil {
				tx.Rollback()
				return 0, 0, fmt.Errorf("inserting row %s/%s: %w", action.Row.Domain, action.Row.BusinessKey, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				inserted++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return 0, 0, fmt.Errorf("committing lot: %w", err)
	}

	return inserted, superseded, nil
}

func (s *MySQLStore) queryRows(ctx context.Context, query string, args ...interface{}) ([]models.DimensionalRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dimensional rows: %w", err)
	}
	defer rows.Close()

	var result []models.DimensionalRow
	for rows.Next() {
		var row models.DimensionalRow
		var attributes []byte
		var validTo sql.NullTime

		if err := rows.Scan(&row.Domain, &row.BusinessKey, &row.AttributeHash, &attributes,
			&row.ValidFrom, &validTo, &row.IsCurrent, &row.LoadedAt, &row.Sequence); err != nil {
			return nil, fmt.Errorf("scanning dimensional row: %w", err)
		}

		if validTo.Valid {
			row.ValidTo = validTo.Time
		}
		if err := json.Unmarshal(attributes, &row.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes of %s: %w", row.BusinessKey, err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dimensional rows: %w", err)
	}
	return result, nil
}

// encodeAttributes renders timestamps in a stable format before JSON
// storage so re-reads hash identically.
func encodeAttributes(attributes map[string]any) map[string]any {
	encoded := make(map[string]any, len(attributes))
	for k, v := range attributes {
		if ts, ok := v.(time.Time); ok {
			encoded[k] = ts.UTC().Format(time.RFC3339Nano)
			continue
		}
		encoded[k] = v
	}
	return encoded
}
