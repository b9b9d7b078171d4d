package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

// TrendCross tracks a fast and a slow EMA for crossovers and grades the
// broader trend from two simple moving averages.
type TrendCross struct {
	fastPeriod int
	slowPeriod int
	midPeriod  int
	longPeriod int
}

// NewTrendCross creates a trend-cross indicator, typically (20, 40, 50, 150).
func NewTrendCross(fast, slow, mid, long int) *TrendCross {
	return &TrendCross{
		fastPeriod: fast,
		slowPeriod: slow,
		midPeriod:  mid,
		longPeriod: long,
	}
}

func (t *TrendCross) Name() string {
	return fmt.Sprintf("TrendCross_%d_%d", t.fastPeriod, t.slowPeriod)
}

// Period is the slow period plus the prior bar needed to detect a cross.
func (t *TrendCross) Period() int {
	return t.slowPeriod + 1
}

// Evaluate computes the reading for the final candle. When fewer candles
// than the mid or long period exist, the mean of all closes is used.
func (t *TrendCross) Evaluate(candles []models.Candle) (*analysis.TrendCrossValue, error) {
	if t.fastPeriod <= 0 || t.slowPeriod <= t.fastPeriod || t.midPeriod <= 0 || t.longPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < t.Period() {
		return nil, ErrInsufficientData
	}

	closes := closePrices(candles)
	fast := CalculateEMA(closes, t.fastPeriod)
	slow := CalculateEMA(closes, t.slowPeriod)

	n := len(closes)
	fastNow, slowNow := fast[n-1], slow[n-1]
	fastPrev, slowPrev := fast[n-2], slow[n-2]

	crossover := analysis.CrossNone
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		crossover = analysis.CrossBullish
	case fastPrev >= slowPrev && fastNow < slowNow:
		crossover = analysis.CrossBearish
	}

	price := closes[n-1]
	mid := trailingMean(closes, t.midPeriod)
	long := trailingMean(closes, t.longPeriod)

	trend := analysis.TrendNeutral
	switch {
	case price > mid && mid > long:
		trend = analysis.TrendUp
	case price < mid && mid < long:
		trend = analysis.TrendDown
	}

	return &analysis.TrendCrossValue{
		FastMA:    fastNow,
		SlowMA:    slowNow,
		MidMA:     mid,
		LongMA:    long,
		Signal:    direction(fastNow, slowNow),
		Crossover: crossover,
		Trend:     trend,
	}, nil
}

func trailingMean(values []float64, period int) float64 {
	if len(values) < period {
		return mean(values)
	}
	return last(talib.Sma(values, period))
}
