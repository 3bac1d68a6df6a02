package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Stage names of the domain pipeline, in execution order.
const (
	StageIngest   = "ingest"
	StageValidate = "validate"
	StageLoad     = "load"
	StageForecast = "forecast"
)

// PipelineStages lists the stages in execution order.
var PipelineStages = []string{StageIngest, StageValidate, StageLoad, StageForecast}

// Stage statuses visible to observers.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
)

// Outcome is the aggregate result of a run.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailed          Outcome = "failed"
	OutcomePartiallyFailed Outcome = "partially_failed"
)

// StatusTracker holds the stage status of every domain in atomic cells, read
// concurrently by the status API while domain pipelines write them.
type StatusTracker struct {
	mu      sync.RWMutex
	domains map[string]map[string]*atomic.String
	listers []func(domain, stage, status string)
}

// NewStatusTracker creates a tracker for the listed domains with every stage
// Pending.
func NewStatusTracker(domains []string) *StatusTracker {
	t := &StatusTracker{domains: make(map[string]map[string]*atomic.String, len(domains))}
	for _, domain := range domains {
		stages := make(map[string]*atomic.String, len(PipelineStages))
		for _, stage := range PipelineStages {
			stages[stage] = atomic.NewString(StatusPending)
		}
		t.domains[domain] = stages
	}
	return t
}

// Subscribe registers a callback invoked on every status transition. Used by
// the live status stream.
func (t *StatusTracker) Subscribe(fn func(domain, stage, status string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listers = append(t.listers, fn)
}

// Set updates one stage status.
func (t *StatusTracker) Set(domain, stage, status string) {
	t.mu.RLock()
	cell := t.domains[domain][stage]
	listeners := t.listers
	t.mu.RUnlock()

	if cell == nil {
		return
	}
	cell.Store(status)

	for _, fn := range listeners {
		fn(domain, stage, status)
	}
}

// Get returns one stage status.
func (t *StatusTracker) Get(domain, stage string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cell := t.domains[domain][stage]
	if cell == nil {
		return ""
	}
	return cell.Load()
}

// Snapshot returns the full status map, for the status API.
func (t *StatusTracker) Snapshot() map[string]map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]map[string]string, len(t.domains))
	for domain, stages := range t.domains {
		view := make(map[string]string, len(stages))
		for stage, cell := range stages {
			view[stage] = cell.Load()
		}
		snapshot[domain] = view
	}
	return snapshot
}

// ResetDomain marks every stage of a domain Pending before a new run.
func (t *StatusTracker) ResetDomain(domain string) {
	for _, stage := range PipelineStages {
		t.Set(domain, stage, StatusPending)
	}
}

// RunReport summarizes one domain run for callers and the run journal.
type RunReport struct {
	Domain          string    `json:"domain"`
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Outcome         Outcome   `json:"outcome"`
	RecordsIngested int       `json:"records_ingested"`
	RecordsAccepted int       `json:"records_accepted"`
	RecordsRejected int       `json:"records_rejected"`
	RowsInserted    int       `json:"rows_inserted"`
	RowsSuperseded  int       `json:"rows_superseded"`
	Error           string    `json:"error,omitempty"`
}
