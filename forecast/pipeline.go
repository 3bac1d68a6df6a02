package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
	"github.com/rmachado/financedw/warehouse"
)

// Pipeline derives model-ready features from warehouse facts and retrains
// the domain's forecasting model. Promotion to Published requires the new
// model to beat the currently published one by the configured minimum
// improvement; a model below threshold is retained for audit but never
// served.
type Pipeline struct {
	domain    string
	store     warehouse.Store
	artifacts ArtifactRepository
	machine   *StateMachine
	cfg       config.ForecastConfig
	logger    *utils.PipelineLogger

	// now is swapped by tests for a fixed training window.
	now func() time.Time
}

// NewPipeline creates the forecast pipeline of one domain.
func NewPipeline(domain string, store warehouse.Store, artifacts ArtifactRepository, cfg config.ForecastConfig, logger *utils.PipelineLogger) *Pipeline {
	return &Pipeline{
		domain:    domain,
		store:     store,
		artifacts: artifacts,
		machine:   NewStateMachine(domain),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the pipeline's current phase.
func (p *Pipeline) State() State {
	return p.machine.Current()
}

// Run executes one full retrain cycle. It is triggered by the retrain
// schedule or a manual invocation.
func (p *Pipeline) Run(ctx context.Context) (*ModelArtifact, []ForecastPoint, error) {
	startTime := time.Now()
	p.machine.Reset()
	p.logger.Info("[%s] Starting forecast retrain", p.domain)

	fail := func(err error) (*ModelArtifact, []ForecastPoint, error) {
		if terr := p.machine.Transition(StateFailed); terr != nil {
			p.logger.Error("[%s] %v", p.domain, terr)
		}
		return nil, nil, err
	}

	// 1. Extracting: fixed trailing window over dimensional rows.
	if err := p.machine.Transition(StateExtracting); err != nil {
		return nil, nil, err
	}

	windowEnd := p.now().Truncate(24 * time.Hour)
	windowStart := windowEnd.AddDate(0, 0, -p.cfg.WindowDays)

	rows, err := p.store.CurrentRows(ctx, p.domain, nil)
	if err != nil {
		return fail(fmt.Errorf("extracting dimensional rows: %w", err))
	}

	points := BuildDailySeries(rows, p.cfg.ValueField, windowStart, windowEnd)
	p.logger.Info("[%s] Training series has %d daily points over %s..%s",
		p.domain, len(points), windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	// 2. Training.
	if err := p.machine.Transition(StateTraining); err != nil {
		return nil, nil, err
	}

	result, err := LinearRegression(points)
	if err != nil {
		return fail(fmt.Errorf("training model: %w", err))
	}

	p.logger.Info("[%s] Trained model: a=%.3f b=%.3f R²=%.3f", p.domain, result.A, result.B, result.R2)

	// 3. Evaluating against the published model.
	if err := p.machine.Transition(StateEvaluating); err != nil {
		return nil, nil, err
	}

	published, err := p.artifacts.Published(p.domain)
	if err != nil {
		return fail(fmt.Errorf("reading published model: %w", err))
	}

	artifact := NewArtifact(p.domain, result)

	if !p.promotable(result, published) {
		artifact.Status = ArtifactRejected
		if err := p.artifacts.Save(artifact); err != nil {
			return fail(fmt.Errorf("saving rejected model: %w", err))
		}
		p.logger.Info("[%s] Model rejected (R²=%.3f), published model stays active", p.domain, result.R2)
		return fail(fmt.Errorf("domain %q: R²=%.3f: %w", p.domain, result.R2, models.ErrBelowThreshold))
	}

	// 4. Promotion.
	artifact.Status = ArtifactPublished
	if err := p.artifacts.Save(artifact); err != nil {
		return fail(fmt.Errorf("saving published model: %w", err))
	}
	if published != nil {
		if err := p.artifacts.MarkSuperseded(published.ID); err != nil {
			return fail(fmt.Errorf("superseding prior model: %w", err))
		}
	}

	if err := p.machine.Transition(StatePublished); err != nil {
		return nil, nil, err
	}

	forecasts := GenerateForecasts(result, p.cfg.HorizonDays, p.cfg.ConfidenceLevel)

	p.logger.Info("[%s] Model %s published, %d forecasts generated. Duration: %v",
		p.domain, artifact.ID, len(forecasts), time.Since(startTime))

	return &artifact, forecasts, nil
}

// promotable decides whether a freshly trained model may replace the
// published one.
func (p *Pipeline) promotable(result *RegressionResult, published *ModelArtifact) bool {
	if result.R2 < p.cfg.MinR2Threshold {
		return false
	}
	if published == nil {
		return true
	}
	return result.R2-published.R2 >= p.cfg.MinImprovement
}
