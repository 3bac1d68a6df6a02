package forecast

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
	"github.com/rmachado/financedw/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trainEnd = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

func forecastTestConfig() config.ForecastConfig {
	return config.ForecastConfig{
		WindowDays:      30,
		HorizonDays:     7,
		ConfidenceLevel: 0.95,
		MinR2Threshold:  0.3,
		MinImprovement:  0.05,
		ValueField:      "valor",
	}
}

// seedFacts loads one current row per day with values following a line plus
// the given per-day noise.
func seedFacts(t *testing.T, store *warehouse.MemoryStore, days int, noise func(i int) float64) {
	t.Helper()

	var plan []warehouse.Action
	for i := 0; i < days; i++ {
		day := trainEnd.AddDate(0, 0, -days+1+i)
		attrs := map[string]any{"valor": 100.0 + 2.0*float64(i) + noise(i)}
		plan = append(plan, warehouse.Action{
			Kind: warehouse.ActionInsert,
			Row: models.DimensionalRow{
				Domain:        "dre_lancamentos",
				BusinessKey:   day.Format("2006-01-02"),
				Attributes:    attrs,
				AttributeHash: warehouse.HashAttributes(attrs),
				ValidFrom:     day,
				IsCurrent:     true,
			},
		})
	}

	_, _, err := store.Apply(context.Background(), "dre_lancamentos", plan)
	require.NoError(t, err)
}

func newTestPipeline(store *warehouse.MemoryStore, artifacts ArtifactRepository) *Pipeline {
	logger := utils.NewPipelineLoggerTo(io.Discard, false)
	p := NewPipeline("dre_lancamentos", store, artifacts, forecastTestConfig(), logger)
	p.now = func() time.Time { return trainEnd }
	return p
}

func TestPipelinePublishesFirstModel(t *testing.T) {
	store := warehouse.NewMemoryStore()
	seedFacts(t, store, 20, func(i int) float64 { return 0 })
	artifacts := NewMemoryArtifactRepository()
	p := newTestPipeline(store, artifacts)

	artifact, forecasts, err := p.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, artifact)
	assert.Equal(t, ArtifactPublished, artifact.Status)
	assert.Equal(t, 1.0, artifact.R2)
	assert.Equal(t, 20, artifact.DataPoints)
	assert.Len(t, forecasts, 7)
	assert.Equal(t, StatePublished, p.State())

	published, err := artifacts.Published("dre_lancamentos")
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, artifact.ID, published.ID)
}

func TestPipelineBelowThresholdKeepsPublished(t *testing.T) {
	store := warehouse.NewMemoryStore()
	seedFacts(t, store, 20, func(i int) float64 { return 0 })
	artifacts := NewMemoryArtifactRepository()
	p := newTestPipeline(store, artifacts)

	first, _, err := p.Run(context.Background())
	require.NoError(t, err)

	// Overwrite the facts with alternating noise large enough to push R²
	// below the threshold.
	store = warehouse.NewMemoryStore()
	seedFacts(t, store, 20, func(i int) float64 {
		if i%2 == 0 {
			return 400
		}
		return -400
	})
	p = newTestPipeline(store, artifacts)

	_, _, err = p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBelowThreshold)
	assert.Equal(t, StateFailed, p.State())

	// The prior model stays active; the rejected one is kept for audit.
	published, err := artifacts.Published("dre_lancamentos")
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, first.ID, published.ID)

	history, err := artifacts.History("dre_lancamentos")
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestPipelineInsufficientImprovementKeepsPublished(t *testing.T) {
	store := warehouse.NewMemoryStore()
	seedFacts(t, store, 20, func(i int) float64 { return 0 })
	artifacts := NewMemoryArtifactRepository()
	p := newTestPipeline(store, artifacts)

	first, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.R2)

	// A retrain over the same perfect data cannot improve on R²=1.0 by the
	// configured minimum, so the published model is retained.
	p = newTestPipeline(store, artifacts)
	_, _, err = p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBelowThreshold)

	published, err := artifacts.Published("dre_lancamentos")
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, first.ID, published.ID)
}

func TestPipelinePromotionSupersedesPrior(t *testing.T) {
	store := warehouse.NewMemoryStore()
	seedFacts(t, store, 20, func(i int) float64 {
		if i%2 == 0 {
			return 9
		}
		return -9
	})
	artifacts := NewMemoryArtifactRepository()
	p := newTestPipeline(store, artifacts)

	first, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, first.R2, 1.0)

	// Cleaner data trains a clearly better model, which replaces the
	// published one.
	store = warehouse.NewMemoryStore()
	seedFacts(t, store, 20, func(i int) float64 { return 0 })
	p = newTestPipeline(store, artifacts)

	second, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, second.R2)

	published, err := artifacts.Published("dre_lancamentos")
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, second.ID, published.ID)

	history, err := artifacts.History("dre_lancamentos")
	require.NoError(t, err)
	statuses := make(map[string]string, len(history))
	for _, a := range history {
		statuses[a.ID] = a.Status
	}
	assert.Equal(t, ArtifactSuperseded, statuses[first.ID])
}

func TestPipelineFailsOnSparseWindow(t *testing.T) {
	store := warehouse.NewMemoryStore()
	seedFacts(t, store, 1, func(i int) float64 { return 0 })
	artifacts := NewMemoryArtifactRepository()
	p := newTestPipeline(store, artifacts)

	_, _, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 points")
	assert.Equal(t, StateFailed, p.State())
}

func TestBuildDailySeries(t *testing.T) {
	windowStart := trainEnd.AddDate(0, 0, -30)

	rows := []models.DimensionalRow{
		// Two rows on the same day are summed.
		{ValidFrom: windowStart, Attributes: map[string]any{"valor": 10.0}, IsCurrent: true},
		{ValidFrom: windowStart, Attributes: map[string]any{"valor": 5.0}, IsCurrent: true},
		// A later day.
		{ValidFrom: windowStart.AddDate(0, 0, 3), Attributes: map[string]any{"valor": 7.0}, IsCurrent: true},
		// Outside the window.
		{ValidFrom: windowStart.AddDate(0, 0, -1), Attributes: map[string]any{"valor": 99.0}, IsCurrent: true},
		// No numeric value attribute.
		{ValidFrom: windowStart.AddDate(0, 0, 5), Attributes: map[string]any{"valor": "n/a"}, IsCurrent: true},
	}

	points := BuildDailySeries(rows, "valor", windowStart, trainEnd)
	require.Len(t, points, 2)

	assert.Equal(t, 0.0, points[0].X)
	assert.Equal(t, 15.0, points[0].Y)
	assert.Equal(t, 3.0, points[1].X)
	assert.Equal(t, 7.0, points[1].Y)
}
