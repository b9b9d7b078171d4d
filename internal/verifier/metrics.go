package verifier

import (
	"math"

	"trinity-trader/internal/analysis"
)

// Claimable metric names.
const (
	MetricRSI           = "rsi"
	MetricADX           = "adx"
	MetricPlusDI        = "plus_di"
	MetricMinusDI       = "minus_di"
	MetricMACD          = "macd"
	MetricMACDSignal    = "macd_signal"
	MetricMACDHistogram = "macd_histogram"
	MetricBBUpper       = "bb_upper"
	MetricBBMiddle      = "bb_middle"
	MetricBBLower       = "bb_lower"
	MetricBBWidth       = "bb_width"
	MetricEMAFast       = "ema_fast"
	MetricEMASlow       = "ema_slow"
	MetricPrice         = "price"
)

// Metrics lists every claimable metric.
func Metrics() []string {
	return []string{
		MetricRSI, MetricADX, MetricPlusDI, MetricMinusDI,
		MetricMACD, MetricMACDSignal, MetricMACDHistogram,
		MetricBBUpper, MetricBBMiddle, MetricBBLower, MetricBBWidth,
		MetricEMAFast, MetricEMASlow, MetricPrice,
	}
}

// Tolerances bound the accepted difference between a claim and the
// recomputed value. PricePct is relative, in percent of the actual value.
type Tolerances struct {
	RSI      float64
	ADX      float64
	MACD     float64
	Width    float64
	PricePct float64
}

// DefaultTolerances returns the standard tolerances.
func DefaultTolerances() Tolerances {
	return Tolerances{
		RSI:      2.0,
		ADX:      2.0,
		MACD:     0.5,
		Width:    0.5,
		PricePct: 0.5,
	}
}

type metricKind int

const (
	kindUnknown metricKind = iota
	kindOscillator
	kindDirectional
	kindMACD
	kindWidth
	kindPrice
)

func kindOf(metric string) metricKind {
	switch metric {
	case MetricRSI:
		return kindOscillator
	case MetricADX, MetricPlusDI, MetricMinusDI:
		return kindDirectional
	case MetricMACD, MetricMACDSignal, MetricMACDHistogram:
		return kindMACD
	case MetricBBWidth:
		return kindWidth
	case MetricBBUpper, MetricBBMiddle, MetricBBLower, MetricEMAFast, MetricEMASlow, MetricPrice:
		return kindPrice
	}
	return kindUnknown
}

// tolerance returns the absolute tolerance for metric at actual.
func (t Tolerances) tolerance(kind metricKind, actual float64) float64 {
	switch kind {
	case kindOscillator:
		return t.RSI
	case kindDirectional:
		return t.ADX
	case kindMACD:
		return t.MACD
	case kindWidth:
		return t.Width
	case kindPrice:
		return math.Abs(actual) * t.PricePct / 100
	}
	return 0
}

// lookup returns the recomputed value of metric, or false when the
// indicator it belongs to is absent.
func lookup(set *analysis.IndicatorSet, metric string) (float64, bool) {
	if set == nil {
		return 0, false
	}
	switch metric {
	case MetricRSI:
		if set.RSI != nil {
			return *set.RSI, true
		}
	case MetricADX, MetricPlusDI, MetricMinusDI:
		if set.ADX != nil {
			switch metric {
			case MetricADX:
				return set.ADX.ADX, true
			case MetricPlusDI:
				return set.ADX.PlusDI, true
			default:
				return set.ADX.MinusDI, true
			}
		}
	case MetricMACD, MetricMACDSignal, MetricMACDHistogram:
		if set.MACD != nil {
			switch metric {
			case MetricMACD:
				return set.MACD.Line, true
			case MetricMACDSignal:
				return set.MACD.Signal, true
			default:
				return set.MACD.Histogram, true
			}
		}
	case MetricBBUpper, MetricBBMiddle, MetricBBLower, MetricBBWidth:
		if set.Bollinger != nil {
			switch metric {
			case MetricBBUpper:
				return set.Bollinger.Upper, true
			case MetricBBMiddle:
				return set.Bollinger.Middle, true
			case MetricBBLower:
				return set.Bollinger.Lower, true
			default:
				return set.Bollinger.WidthPct, true
			}
		}
	case MetricEMAFast, MetricEMASlow:
		if set.TrendCross != nil {
			if metric == MetricEMAFast {
				return set.TrendCross.FastMA, true
			}
			return set.TrendCross.SlowMA, true
		}
	case MetricPrice:
		return set.Price, true
	}
	return 0, false
}
