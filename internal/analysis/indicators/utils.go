package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trinity-trader/internal/analysis"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = fmt.Errorf("insufficient data for calculation: %w", apperrors.ErrInsufficientHistory)
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
)

// Decimal places applied to reported readings.
const (
	priceDecimals      = 8
	oscillatorDecimals = 2
	macdDecimals       = 4
)

// round rounds half away from zero to the given number of decimal places.
// NaN and infinities are returned unchanged.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// trueRange calculates the true range for a candle.
func trueRange(current, previous models.Candle) float64 {
	highLow := current.High - current.Low
	highClose := abs(current.High - previous.Close)
	lowClose := abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

// closePrices extracts close prices from candles.
func closePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func direction(a, b float64) string {
	switch {
	case a > b:
		return analysis.Bullish
	case a < b:
		return analysis.Bearish
	default:
		return analysis.Neutral
	}
}
