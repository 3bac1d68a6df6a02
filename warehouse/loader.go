package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
)

// Loader performs the idempotent incremental upsert of validated records into
// the dimensional store and advances the domain watermark afterwards.
// Delivery to the Loader is at-least-once; the merge plan and the version
// unique key make the warehouse effect exactly-once.
type Loader struct {
	store      Store
	watermarks WatermarkStore
	logger     *utils.PipelineLogger
}

// NewLoader creates a new Loader.
func NewLoader(store Store, watermarks WatermarkStore, logger *utils.PipelineLogger) *Loader {
	return &Loader{
		store:      store,
		watermarks: watermarks,
		logger:     logger,
	}
}

// Load merges accepted records into the warehouse. The watermark advances
// only past fully committed records: on a partial store failure the stored
// watermark is left where it was, so a retry re-delivers the batch and the
// merge plan skips what already committed.
func (l *Loader) Load(ctx context.Context, domain string, records []models.ValidatedRecord) (models.LoadResult, error) {
	startTime := time.Now()
	result := models.LoadResult{}

	if len(records) == 0 {
		l.logger.Debug("[%s] No accepted records to load", domain)
		mark, err := l.watermarks.Get(ctx, domain)
		if err != nil {
			return result, err
		}
		result.Watermark = mark
		return result, nil
	}

	l.logger.Info("[%s] Loading %d validated records", domain, len(records))

	// 1. Read the watermark the batch was fetched against.
	oldMark, err := l.watermarks.Get(ctx, domain)
	if err != nil {
		return result, fmt.Errorf("reading watermark: %w", err)
	}

	// 2. Plan the Type-2 merge against the current rows of touched keys.
	current, err := l.store.CurrentRows(ctx, domain, BusinessKeys(records))
	if err != nil {
		return result, fmt.Errorf("fetching current rows: %w", err)
	}

	plan := PlanMerge(current, records)
	if len(plan) == 0 {
		l.logger.Info("[%s] Merge plan is empty, warehouse already reflects the batch", domain)
	}

	// 3. Apply the plan.
	inserted, superseded, err := l.store.Apply(ctx, domain, plan)
	result.Inserted = inserted
	result.Superseded = superseded
	if err != nil {
		// Committed lots stay; the watermark does not move past them.
		return result, fmt.Errorf("applying merge plan: %w", err)
	}

	// 4. Advance the watermark past the batch.
	newMark := batchWatermark(domain, records)
	if newMark.Covers(oldMark.BatchTime, oldMark.LastSequence) && !oldMark.Covers(newMark.BatchTime, newMark.LastSequence) {
		if err := l.watermarks.Advance(ctx, domain, oldMark, newMark); err != nil {
			return result, fmt.Errorf("advancing watermark: %w", err)
		}
		result.Watermark = newMark
	} else {
		result.Watermark = oldMark
	}

	l.logger.Info("[%s] Load finished: %d inserted, %d superseded, watermark %v/%d. Duration: %v",
		domain, inserted, superseded, result.Watermark.BatchTime, result.Watermark.LastSequence, time.Since(startTime))

	return result, nil
}

// batchWatermark computes the high-water position of a record batch.
func batchWatermark(domain string, records []models.ValidatedRecord) models.Watermark {
	mark := models.Watermark{Domain: domain}
	for _, r := range records {
		ts := r.Raw.SourceTimestamp
		if ts.After(mark.BatchTime) {
			mark.BatchTime = ts
			mark.LastSequence = r.Raw.Sequence
		} else if ts.Equal(mark.BatchTime) && r.Raw.Sequence > mark.LastSequence {
			mark.LastSequence = r.Raw.Sequence
		}
	}
	return mark
}
