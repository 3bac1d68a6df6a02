package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
)

// Adapter pulls raw records from one ingestion source. Every fetch is
// incremental: only records strictly newer than the supplied watermark are
// returned, so re-running with the same watermark never re-delivers processed
// records. Fetches are finite and restartable.
//
// Errors wrap models.ErrSourceUnavailable for transient connectivity loss
// (retryable) or models.ErrSourceFormat for unreadable payloads (fatal for
// the batch).
type Adapter interface {
	Fetch(ctx context.Context, since models.Watermark) ([]models.RawRecord, error)
}

// NewAdapter builds the adapter for a domain from its source configuration.
// Dispatch is over the closed source type set.
func NewAdapter(domain config.DomainConfig, limit int, logger *utils.PipelineLogger) (Adapter, error) {
	switch domain.Source.Type {
	case config.SourceSpreadsheet:
		return NewSpreadsheetAdapter(domain.Name, domain.Source, limit, logger), nil
	case config.SourceERP:
		return NewERPAdapter(domain.Name, domain.Source, limit, logger), nil
	case config.SourceCRM:
		return NewCRMAdapter(domain.Name, domain.Source, limit, logger), nil
	default:
		return nil, fmt.Errorf("domain %q: unknown source type %q", domain.Name, domain.Source.Type)
	}
}

// timestampLayouts are the formats accepted for source timestamps, most
// specific first. ERP exports use datetimes, spreadsheet exports frequently
// carry Brazilian day-first dates.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// parseSourceTimestamp parses a timestamp value coming from any source.
func parseSourceTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
