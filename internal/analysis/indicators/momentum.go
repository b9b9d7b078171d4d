package indicators

import (
	"fmt"

	"trinity-trader/internal/models"
)

// RSI calculates the Relative Strength Index. Value reports the index of
// the first period deltas of the series, the figure claims are checked
// against. Calculate gives the Wilder-smoothed series seeded from the same
// window.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", r.period)
}

// Period returns the number of candles needed for the first value.
func (r *RSI) Period() int {
	return r.period + 1
}

// Calculate returns one value per candle. Entries before index period are zero.
func (r *RSI) Calculate(candles []models.Candle) ([]float64, error) {
	if r.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < r.Period() {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	result := make([]float64, n)
	closes := closePrices(candles)

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	avgGain := mean(gains[1 : r.period+1])
	avgLoss := mean(losses[1 : r.period+1])
	result[r.period] = rsiValue(avgGain, avgLoss)

	p := float64(r.period)
	for i := r.period + 1; i < n; i++ {
		avgGain = (avgGain*(p-1) + gains[i]) / p
		avgLoss = (avgLoss*(p-1) + losses[i]) / p
		result[i] = rsiValue(avgGain, avgLoss)
	}

	return result, nil
}

// Value returns the RSI from the mean gain and loss of the first period
// deltas.
func (r *RSI) Value(candles []models.Candle) (float64, error) {
	values, err := r.Calculate(candles)
	if err != nil {
		return 0, err
	}
	return values[r.period], nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
