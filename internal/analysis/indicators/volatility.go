package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

// BollingerBands calculates Bollinger Bands from the SMA and the population
// standard deviation of closes.
type BollingerBands struct {
	period    int
	stdDevMul float64
}

// NewBollingerBands creates a new Bollinger Bands indicator.
func NewBollingerBands(period int, stdDevMul float64) *BollingerBands {
	return &BollingerBands{
		period:    period,
		stdDevMul: stdDevMul,
	}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BB_%d_%.1f", b.period, b.stdDevMul)
}

func (b *BollingerBands) Period() int {
	return b.period
}

// Calculate returns "upper", "middle", "lower" and "width" series, where
// width is the band spread as a percentage of the middle band.
func (b *BollingerBands) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if b.period <= 1 || b.stdDevMul <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < b.period {
		return nil, ErrInsufficientData
	}

	closes := closePrices(candles)
	middle := talib.Sma(closes, b.period)
	std := talib.StdDev(closes, b.period, 1.0)

	n := len(closes)
	upper := make([]float64, n)
	lower := make([]float64, n)
	width := make([]float64, n)

	for i := b.period - 1; i < n; i++ {
		upper[i] = middle[i] + b.stdDevMul*std[i]
		lower[i] = middle[i] - b.stdDevMul*std[i]
		if middle[i] != 0 {
			width[i] = (upper[i] - lower[i]) / middle[i] * 100
		}
	}

	return map[string][]float64{
		"upper":  upper,
		"middle": middle,
		"lower":  lower,
		"width":  width,
	}, nil
}

// BandPosition places price relative to the bands.
func BandPosition(price, upper, lower float64) string {
	switch {
	case price > upper:
		return analysis.PositionAbove
	case price < lower:
		return analysis.PositionBelow
	default:
		return analysis.PositionInside
	}
}
