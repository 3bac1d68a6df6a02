package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linePoints(start time.Time, slope, intercept float64, n int) []DataPoint {
	points := make([]DataPoint, 0, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		points = append(points, DataPoint{
			X:    x,
			Y:    slope*x + intercept,
			Date: start.AddDate(0, 0, i),
		})
	}
	return points
}

func TestLinearRegressionKnownLine(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	result, err := LinearRegression(linePoints(start, 2.5, 100, 10))
	require.NoError(t, err)

	assert.Equal(t, 2.5, result.A)
	assert.Equal(t, 100.0, result.B)
	assert.Equal(t, 1.0, result.R2)
	assert.Equal(t, start, result.PeriodStart)
	assert.Equal(t, start.AddDate(0, 0, 9), result.PeriodEnd)

	assert.Equal(t, 125.0, Predict(result, 10))
}

func TestLinearRegressionDeterministic(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	points := []DataPoint{
		{X: 0, Y: 103.7, Date: start},
		{X: 1, Y: 98.2, Date: start.AddDate(0, 0, 1)},
		{X: 3, Y: 110.9, Date: start.AddDate(0, 0, 3)},
		{X: 4, Y: 107.4, Date: start.AddDate(0, 0, 4)},
	}

	first, err := LinearRegression(points)
	require.NoError(t, err)
	second, err := LinearRegression(points)
	require.NoError(t, err)

	// Same window, same coefficients. Rounding keeps them comparable.
	assert.Equal(t, first.A, second.A)
	assert.Equal(t, first.B, second.B)
	assert.Equal(t, first.R2, second.R2)
	assert.Equal(t, first.A, RoundToThousandth(first.A))
}

func TestLinearRegressionDegenerateInput(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := LinearRegression(linePoints(start, 1, 0, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 points")

	_, err = LinearRegression([]DataPoint{
		{X: 2, Y: 10, Date: start},
		{X: 2, Y: 20, Date: start.AddDate(0, 0, 1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slope is undefined")
}

func TestGenerateForecasts(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	result, err := LinearRegression(linePoints(start, 3, 50, 31))
	require.NoError(t, err)

	forecasts := GenerateForecasts(result, 7, 0.95)
	require.Len(t, forecasts, 7)

	// Forecast dates continue daily from the window end.
	assert.Equal(t, result.PeriodEnd.AddDate(0, 0, 1), forecasts[0].Date)
	assert.Equal(t, result.PeriodEnd.AddDate(0, 0, 7), forecasts[6].Date)

	for _, f := range forecasts {
		assert.LessOrEqual(t, f.CILower, f.ForecastValue)
		assert.GreaterOrEqual(t, f.CIUpper, f.ForecastValue)
	}

	// A perfect fit forecasts the line itself.
	assert.Equal(t, Predict(result, 31), forecasts[0].ForecastValue)
}
