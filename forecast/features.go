package forecast

import (
	"sort"
	"time"

	"github.com/rmachado/financedw/models"
)

// BuildDailySeries aggregates current dimensional rows into a daily training
// series over [windowStart, windowEnd]. The series is deterministic for a
// given row set and window: rows are bucketed by effective date and summed
// over the configured value attribute, days are emitted in order, and days
// without rows are skipped rather than zero-filled so sparse domains do not
// drown the fit.
func BuildDailySeries(rows []models.DimensionalRow, valueField string, windowStart, windowEnd time.Time) []DataPoint {
	totals := make(map[time.Time]float64)

	for _, row := range rows {
		day := row.ValidFrom.Truncate(24 * time.Hour)
		if day.Before(windowStart) || day.After(windowEnd) {
			continue
		}

		value, ok := numericAttribute(row.Attributes, valueField)
		if !ok {
			continue
		}
		totals[day] += value
	}

	days := make([]time.Time, 0, len(totals))
	for day := range totals {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	points := make([]DataPoint, 0, len(days))
	for _, day := range days {
		points = append(points, DataPoint{
			X:    day.Sub(windowStart).Hours() / 24,
			Y:    RoundToThousandth(totals[day]),
			Date: day,
		})
	}

	return points
}

func numericAttribute(attributes map[string]any, name string) (float64, bool) {
	switch v := attributes[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
