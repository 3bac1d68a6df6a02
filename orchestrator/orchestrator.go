package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/forecast"
	"github.com/rmachado/financedw/ingestion"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/registry"
	"github.com/rmachado/financedw/utils"
	"github.com/rmachado/financedw/validation"
	"github.com/rmachado/financedw/warehouse"
)

// Orchestrator sequences the pipeline stages per data domain: ingest,
// validate, load, forecast. Within a domain the stages run strictly
// sequentially; independent domains run in parallel and never block each
// other. The orchestrator supervises every stage without owning data.
type Orchestrator struct {
	cfg       config.Config
	contracts registry.Store
	adapters  map[string]ingestion.Adapter
	enrichers map[string]*validation.Enricher
	staging   *ingestion.StagingArchive
	loader    *warehouse.Loader
	store     warehouse.Store
	artifacts forecast.ArtifactRepository
	marks     warehouse.WatermarkStore
	runlog    warehouse.RunLogRepository
	tracker   *StatusTracker
	retrier   *retrier
	logger    *utils.PipelineLogger

	mu        sync.Mutex
	forecasts map[string]*forecast.Pipeline
}

// Deps bundles the stores and repositories the orchestrator runs against.
type Deps struct {
	Contracts registry.Store
	Adapters  map[string]ingestion.Adapter
	Enrichers map[string]*validation.Enricher
	Staging   *ingestion.StagingArchive
	Store     warehouse.Store
	Watermark warehouse.WatermarkStore
	RunLog    warehouse.RunLogRepository
	Artifacts forecast.ArtifactRepository
}

// New creates an orchestrator over the configured domains.
func New(cfg config.Config, deps Deps, logger *utils.PipelineLogger) *Orchestrator {
	domains := make([]string, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domains = append(domains, d.Name)
	}

	return &Orchestrator{
		cfg:       cfg,
		contracts: deps.Contracts,
		adapters:  deps.Adapters,
		enrichers: deps.Enrichers,
		staging:   deps.Staging,
		loader:    warehouse.NewLoader(deps.Store, deps.Watermark, logger),
		store:     deps.Store,
		artifacts: deps.Artifacts,
		marks:     deps.Watermark,
		runlog:    deps.RunLog,
		tracker:   NewStatusTracker(domains),
		retrier:   newRetrier(cfg.Retry, logger),
		logger:    logger,
		forecasts: make(map[string]*forecast.Pipeline),
	}
}

// Tracker exposes stage statuses for the status API.
func (o *Orchestrator) Tracker() *StatusTracker {
	return o.tracker
}

// RunAll runs every listed domain in parallel and aggregates the outcome:
// all succeeded -> Succeeded, all failed -> Failed, otherwise
// PartiallyFailed. One domain's failure never blocks another domain.
func (o *Orchestrator) RunAll(ctx context.Context, domains []string) (Outcome, []*RunReport) {
	reports := make([]*RunReport, len(domains))

	var wg sync.WaitGroup
	for i, domain := range domains {
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			reports[i] = o.RunDomain(ctx, domain)
		}(i, domain)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, report := range reports {
		switch report.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		}
	}

	switch {
	case failed == 0 && succeeded == len(reports):
		return OutcomeSucceeded, reports
	case succeeded == 0 && failed == len(reports):
		return OutcomeFailed, reports
	default:
		return OutcomePartiallyFailed, reports
	}
}

// RunDomain runs the full pipeline of one domain. Cancellation is honored
// between stages only; a cancelled run leaves the watermark unadvanced so a
// retry is safe.
func (o *Orchestrator) RunDomain(ctx context.Context, domain string) *RunReport {
	report := &RunReport{
		Domain:    domain,
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	o.tracker.ResetDomain(domain)
	o.logger.LogRunStart(domain, report.RunID)

	journalID, err := o.runlog.StartRun(domain, report.RunID, report.StartedAt)
	if err != nil {
		o.logger.Error("[%s] Could not open run journal entry: %v", domain, err)
	}

	err = o.runStages(ctx, domain, report)
	report.FinishedAt = time.Now()

	switch {
	case err == nil:
		report.Outcome = OutcomeSucceeded
	case errors.Is(err, models.ErrBelowThreshold):
		// Data landed in the warehouse; only the model promotion was
		// blocked. Operators see it, the run is not a failure.
		report.Outcome = OutcomePartiallyFailed
		report.Error = err.Error()
	default:
		report.Outcome = OutcomeFailed
		report.Error = err.Error()
	}

	o.completeJournal(journalID, report)
	o.logger.LogRunComplete(domain, report.RunID, report.StartedAt, string(report.Outcome))

	return report
}

// runStages executes the four stages sequentially, checking for cancellation
// at every stage boundary.
func (o *Orchestrator) runStages(ctx context.Context, domain string, report *RunReport) error {
	domainCfg, err := o.cfg.Domain(domain)
	if err != nil {
		o.tracker.Set(domain, StageIngest, StatusFailed)
		return err
	}

	adapter, ok := o.adapters[domain]
	if !ok {
		o.tracker.Set(domain, StageIngest, StatusFailed)
		return fmt.Errorf("domain %q has no ingestion adapter", domain)
	}

	// 1. Ingest.
	var raw []models.RawRecord
	err = o.stage(ctx, domain, StageIngest, func() error {
		mark, err := o.marks.Get(ctx, domain)
		if err != nil {
			return err
		}

		raw, err = adapter.Fetch(ctx, mark)
		if err != nil {
			return err
		}

		if len(raw) > 0 && o.staging != nil {
			if err := o.staging.WriteBatch(domain, raw[0].BatchID, raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	report.RecordsIngested = len(raw)

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(raw) == 0 {
		o.logger.Info("[%s] No new records, skipping remaining stages", domain)
		o.tracker.Set(domain, StageValidate, StatusSucceeded)
		o.tracker.Set(domain, StageLoad, StatusSucceeded)
		o.tracker.Set(domain, StageForecast, StatusSucceeded)
		return nil
	}

	// 2. Validate against the latest registered contract.
	var result validation.Result
	err = o.stage(ctx, domain, StageValidate, func() error {
		contract, err := o.contracts.Latest(domain)
		if err != nil {
			return err
		}

		validator := validation.NewValidator(contract, o.enrichers[domain], domainCfg.Priority(), o.logger)
		result = validator.ValidateBatch(raw)
		return nil
	})
	if err != nil {
		return err
	}
	report.RecordsAccepted = len(result.Accepted)
	report.RecordsRejected = len(result.Rejected)

	if err := ctx.Err(); err != nil {
		return err
	}

	// 3. Load.
	err = o.stage(ctx, domain, StageLoad, func() error {
		loadResult, err := o.loader.Load(ctx, domain, result.Accepted)
		report.RowsInserted = loadResult.Inserted
		report.RowsSuperseded = loadResult.Superseded
		return err
	})
	if err != nil {
		return err
	}

	// The batch is committed; its staging archives are no longer needed.
	if o.staging != nil {
		if err := o.staging.PruneDomain(domain); err != nil {
			o.logger.Error("[%s] Staging prune failed: %v", domain, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// 4. Forecast retrain.
	return o.stage(ctx, domain, StageForecast, func() error {
		_, _, err := o.forecastPipeline(domain).Run(ctx)
		return err
	})
}

// stage runs one stage under the retry policy, reporting status transitions.
func (o *Orchestrator) stage(ctx context.Context, domain, name string, fn func() error) error {
	startTime := time.Now()
	o.tracker.Set(domain, name, StatusRunning)
	o.logger.LogStageStart(domain, name)

	err := o.retrier.Do(ctx, name, fn, func(attempt int) {
		o.tracker.Set(domain, name, StatusRetrying)
	})
	if err != nil {
		o.tracker.Set(domain, name, StatusFailed)
		o.logger.Error("[%s] Stage %s failed: %v", domain, name, err)
		return fmt.Errorf("domain %q stage %s: %w", domain, name, err)
	}

	o.tracker.Set(domain, name, StatusSucceeded)
	o.logger.LogStageComplete(domain, name, time.Since(startTime))
	return nil
}

// Retrain runs only the forecast pipeline of a domain, for manual invocation
// and the retrain schedule.
func (o *Orchestrator) Retrain(ctx context.Context, domain string) error {
	return o.stage(ctx, domain, StageForecast, func() error {
		_, _, err := o.forecastPipeline(domain).Run(ctx)
		return err
	})
}

// forecastPipeline returns the domain's forecast pipeline, creating it on
// first use so its state machine survives across runs.
func (o *Orchestrator) forecastPipeline(domain string) *forecast.Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.forecasts[domain]
	if !ok {
		p = forecast.NewPipeline(domain, o.store, o.artifacts, o.cfg.Forecast, o.logger)
		o.forecasts[domain] = p
	}
	return p
}

func (o *Orchestrator) completeJournal(journalID int64, report *RunReport) {
	if journalID == 0 {
		return
	}

	status := "success"
	switch report.Outcome {
	case OutcomeFailed:
		status = "failed"
	case OutcomePartiallyFailed:
		status = "partial"
	}

	err := o.runlog.CompleteRun(journalID, &models.RunLog{
		EndTime:         report.FinishedAt,
		Status:          status,
		RecordsIngested: report.RecordsIngested,
		RecordsAccepted: report.RecordsAccepted,
		RecordsRejected: report.RecordsRejected,
		RowsInserted:    report.RowsInserted,
		RowsSuperseded:  report.RowsSuperseded,
		ErrorMessage:    report.Error,
	})
	if err != nil {
		o.logger.Error("[%s] Could not close run journal entry: %v", report.Domain, err)
	}
}
