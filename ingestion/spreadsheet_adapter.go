package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
)

// SpreadsheetAdapter reads CSV exports dropped at a configured path. The
// first row is the header; the row number doubles as the record sequence when
// the export carries no sequence column of its own.
type SpreadsheetAdapter struct {
	domain string
	source config.SourceConfig
	limit  int
	logger *utils.PipelineLogger
}

// NewSpreadsheetAdapter creates a new SpreadsheetAdapter.
func NewSpreadsheetAdapter(domain string, source config.SourceConfig, limit int, logger *utils.PipelineLogger) *SpreadsheetAdapter {
	return &SpreadsheetAdapter{
		domain: domain,
		source: source,
		limit:  limit,
		logger: logger,
	}
}

// Fetch reads the export file and returns records newer than the watermark.
func (a *SpreadsheetAdapter) Fetch(ctx context.Context, since models.Watermark) ([]models.RawRecord, error) {
	a.logger.Debug("[%s] Reading spreadsheet export %s (since %v/%d)",
		a.domain, a.source.Location, since.BatchTime, since.LastSequence)

	file, err := os.Open(a.source.Location)
	if err != nil {
		// A missing export usually means the drop has not been delivered
		// yet; the orchestrator retries with backoff.
		return nil, fmt.Errorf("opening export %s: %v: %w", a.source.Location, err, models.ErrSourceUnavailable)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading export header %s: %v: %w", a.source.Location, err, models.ErrSourceFormat)
	}

	if a.source.TimestampField == "" {
		return nil, fmt.Errorf("domain %q: spreadsheet source needs timestamp_field: %w", a.domain, models.ErrSourceFormat)
	}

	tsCol := -1
	seqCol := -1
	for i, name := range header {
		if name == a.source.TimestampField {
			tsCol = i
		}
		if a.source.SequenceField != "" && name == a.source.SequenceField {
			seqCol = i
		}
	}
	if tsCol < 0 {
		return nil, fmt.Errorf("export %s: timestamp column %q not found: %w",
			a.source.Location, a.source.TimestampField, models.ErrSourceFormat)
	}

	batchID := uuid.NewString()
	ingestedAt := time.Now()

	var records []models.RawRecord
	rowNum := int64(0)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("export %s row %d: %v: %w", a.source.Location, rowNum+2, err, models.ErrSourceFormat)
			}
			return nil, fmt.Errorf("reading export %s: %v: %w", a.source.Location, err, models.ErrSourceUnavailable)
		}
		rowNum++

		if len(row) != len(header) {
			return nil, fmt.Errorf("export %s row %d: %d columns, header has %d: %w",
				a.source.Location, rowNum+1, len(row), len(header), models.ErrSourceFormat)
		}

		ts, err := parseSourceTimestamp(row[tsCol])
		if err != nil {
			return nil, fmt.Errorf("export %s row %d: %v: %w", a.source.Location, rowNum+1, err, models.ErrSourceFormat)
		}

		seq := rowNum
		if seqCol >= 0 {
			seq, err = strconv.ParseInt(row[seqCol], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("export %s row %d: bad sequence %q: %w",
					a.source.Location, rowNum+1, row[seqCol], models.ErrSourceFormat)
			}
		}

		// Skip records already covered by the watermark.
		if since.Covers(ts, seq) {
			continue
		}

		values := make(map[string]string, len(header))
		for i, name := range header {
			values[name] = row[i]
		}

		records = append(records, models.RawRecord{
			Domain:          a.domain,
			Source:          string(config.SourceSpreadsheet),
			BatchID:         batchID,
			Sequence:        seq,
			Values:          values,
			SourceTimestamp: ts,
			IngestedAt:      ingestedAt,
		})

		if a.limit > 0 && len(records) >= a.limit {
			break
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].SourceTimestamp.Equal(records[j].SourceTimestamp) {
			return records[i].Sequence < records[j].Sequence
		}
		return records[i].SourceTimestamp.Before(records[j].SourceTimestamp)
	})

	a.logger.Debug("[%s] Spreadsheet export yielded %d new records", a.domain, len(records))
	return records, nil
}
