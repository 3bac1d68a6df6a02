package models

import (
	"time"
)

// RawRecord is a source-tagged, schema-less record as delivered by an
// ingestion adapter. It is immutable once ingested; a re-ingestion produces a
// new record that supersedes it downstream, the original is never edited.
type RawRecord struct {
	Domain          string            // data domain the record belongs to (e.g. "dre_lancamentos")
	Source          string            // adapter type that produced it: "erp", "crm" or "spreadsheet"
	BatchID         string            // identifier of the ingestion batch
	Sequence        int64             // monotonic position within the source (row id, offset)
	Values          map[string]string // raw field values as read from the source
	SourceTimestamp time.Time         // timestamp carried by the source record
	IngestedAt      time.Time         // when the adapter pulled the record
}

// ValidationStatus is the outcome of contract enforcement for one record.
type ValidationStatus string

const (
	ValidationPassed ValidationStatus = "passed"
	ValidationFailed ValidationStatus = "failed"
)

// ValidatedRecord is a raw record after contract enforcement. It traces to
// exactly one RawRecord and one schema contract version.
type ValidatedRecord struct {
	Raw             RawRecord
	ContractVersion int
	BusinessKey     string
	EffectiveDate   time.Time
	Values          map[string]any // coerced and enriched values
	Status          ValidationStatus
	FailureReasons  []string
}

// Watermark marks the last successfully loaded position of a domain. The zero
// value means "from the beginning". It mirrors the (last run time, last
// processed id) pair of the run log: BatchTime orders records by source
// timestamp, LastSequence breaks ties within the same timestamp.
type Watermark struct {
	Domain       string
	BatchTime    time.Time
	LastSequence int64
}

// IsZero reports whether the watermark marks the beginning of the stream.
func (w Watermark) IsZero() bool {
	return w.BatchTime.IsZero() && w.LastSequence == 0
}

// Covers reports whether a record at (ts, seq) is at or before the watermark,
// i.e. already processed.
func (w Watermark) Covers(ts time.Time, seq int64) bool {
	if ts.Before(w.BatchTime) {
		return true
	}
	if ts.Equal(w.BatchTime) {
		return seq <= w.LastSequence
	}
	return false
}

// DimensionalRow is a warehouse-resident row keyed by business key and
// versioned by validity interval (Type-2 slowly changing dimension). Rows are
// append-only: a changed attribute closes the prior row and opens a new one,
// nothing is physically deleted.
type DimensionalRow struct {
	Domain        string
	BusinessKey   string
	Attributes    map[string]any
	AttributeHash string
	ValidFrom     time.Time
	ValidTo       time.Time // zero while the row is current
	IsCurrent     bool
	LoadedAt      time.Time
	Sequence      int64 // sequence of the validated record that produced the row
}

// LoadResult summarizes one Loader invocation.
type LoadResult struct {
	Inserted   int
	Superseded int
	Watermark  Watermark
}

// RunLog is one entry of the pipeline run journal.
type RunLog struct {
	ID              int64
	RunID           string
	Domain          string
	StartTime       time.Time
	EndTime         time.Time
	Status          string // "in_progress", "success", "partial", "failed"
	RecordsIngested int
	RecordsAccepted int
	RecordsRejected int
	RowsInserted    int
	RowsSuperseded  int
	ErrorMessage    string
}
