package forecast

import (
	"fmt"
	"math"
	"time"
)

// DataPoint is one observation of the training series.
type DataPoint struct {
	X    float64   // day index relative to the window start
	Y    float64   // aggregated fact value for the day
	Date time.Time // the day itself
}

// RegressionResult holds a fitted least-squares line with its quality
// measures. Given the same data points the fit is bit-for-bit reproducible:
// all coefficients are rounded to thousandths.
type RegressionResult struct {
	A           float64 // slope
	B           float64 // intercept
	R           float64 // Pearson correlation coefficient
	R2          float64 // coefficient of determination
	PeriodStart time.Time
	PeriodEnd   time.Time
	DataPoints  []DataPoint
}

// ForecastPoint is one forecast value with its confidence bounds.
type ForecastPoint struct {
	Date          time.Time
	ForecastValue float64
	CILower       float64
	CIUpper       float64
}

// RoundToThousandth rounds to 3 decimal places.
func RoundToThousandth(value float64) float64 {
	return math.Round(value*1000) / 1000
}

// LinearRegression fits a least-squares line over the data points.
//
//	a = (n*sum(x*y) - sum(x)*sum(y)) / (n*sum(x^2) - (sum(x))^2)
//	b = (sum(y) - a*sum(x)) / n
func LinearRegression(points []DataPoint) (*RegressionResult, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("linear regression needs at least 2 points, got %d", len(points))
	}

	minDate := points[0].Date
	maxDate := points[0].Date
	for _, p := range points {
		if p.Date.Before(minDate) {
			minDate = p.Date
		}
		if p.Date.After(maxDate) {
			maxDate = p.Date
		}
	}

	n := float64(len(points))
	sumX := 0.0
	sumY := 0.0
	sumXY := 0.0
	sumX2 := 0.0
	sumY2 := 0.0

	for _, p := range points {
		sumX += p.X
		sumY += p.Y
		sumXY += p.X * p.Y
		sumX2 += p.X * p.X
		sumY2 += p.Y * p.Y
	}

	denominator := n*sumX2 - sumX*sumX
	if math.Abs(denominator) < 1e-10 {
		return nil, fmt.Errorf("all X values are identical, slope is undefined")
	}

	a := (n*sumXY - sumX*sumY) / denominator
	b := (sumY - a*sumX) / n

	// Pearson correlation coefficient.
	numerator := n*sumXY - sumX*sumY
	denominator = math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))

	var r float64
	if math.Abs(denominator) < 1e-10 {
		r = 0
	} else {
		r = numerator / denominator
	}

	r2 := r * r

	return &RegressionResult{
		A:           RoundToThousandth(a),
		B:           RoundToThousandth(b),
		R:           RoundToThousandth(r),
		R2:          RoundToThousandth(r2),
		PeriodStart: minDate,
		PeriodEnd:   maxDate,
		DataPoints:  points,
	}, nil
}

// Predict evaluates the fitted line at x.
func Predict(result *RegressionResult, x float64) float64 {
	return RoundToThousandth(result.A*x + result.B)
}

// CalculateConfidenceInterval returns the forecast interval bounds at x for
// the given confidence level.
func CalculateConfidenceInterval(result *RegressionResult, x float64, confidenceLevel float64) (float64, float64) {
	n := float64(len(result.DataPoints))

	meanX := 0.0
	for _, p := range result.DataPoints {
		meanX += p.X
	}
	meanX /= n

	sumSqDevX := 0.0
	sumSqResiduals := 0.0
	for _, p := range result.DataPoints {
		predY := Predict(result, p.X)
		sumSqDevX += (p.X - meanX) * (p.X - meanX)
		sumSqResiduals += (p.Y - predY) * (p.Y - predY)
	}

	standardError := math.Sqrt(sumSqResiduals / (n - 2))

	// t-statistic approximation per confidence level; adequate for n > 30.
	tStat := 2.0
	if confidenceLevel == 0.99 {
		tStat = 2.58
	} else if confidenceLevel == 0.90 {
		tStat = 1.64
	}

	predictionStdError := standardError * math.Sqrt(1+1/n+(x-meanX)*(x-meanX)/sumSqDevX)

	margin := tStat * predictionStdError
	yPred := Predict(result, x)

	return RoundToThousandth(yPred - margin), RoundToThousandth(yPred + margin)
}

// GenerateForecasts projects the fitted line daysAhead days past the end of
// the training window.
func GenerateForecasts(result *RegressionResult, daysAhead int, confidenceLevel float64) []ForecastPoint {
	forecasts := make([]ForecastPoint, 0, daysAhead)

	lastX := 0.0
	for _, p := range result.DataPoints {
		if p.X > lastX {
			lastX = p.X
		}
	}

	for day := 1; day <= daysAhead; day++ {
		x := lastX + float64(day)
		lower, upper := CalculateConfidenceInterval(result, x, confidenceLevel)

		forecasts = append(forecasts, ForecastPoint{
			Date:          result.PeriodEnd.AddDate(0, 0, day),
			ForecastValue: Predict(result, x),
			CILower:       lower,
			CIUpper:       upper,
		})
	}

	return forecasts
}
