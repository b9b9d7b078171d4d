package verifier

import (
	"trinity-trader/internal/analysis"
)

// Reasons attached to a regime assessment.
const (
	ReasonFavorable    = "Conditions favorable"
	ReasonWeakTrend    = "ADX too low (weak trend)"
	ReasonSqueeze      = "Low volatility squeeze"
	ReasonInsufficient = "Insufficient history for regime classification"
)

// RegimeConfig holds the regime thresholds.
type RegimeConfig struct {
	// TrendingADX is the ADX above which the market is trending.
	TrendingADX float64
	// RangingWidth is the band width (percent) below which a non-trending
	// market is ranging rather than volatile.
	RangingWidth float64
	// WeakADX is the ADX below which trading is disallowed.
	WeakADX float64
	// SqueezeWidth is the band width under which an inside-band price is a squeeze.
	SqueezeWidth float64
}

// DefaultRegimeConfig returns the standard thresholds.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		TrendingADX:  25,
		RangingWidth: 5,
		WeakADX:      20,
		SqueezeWidth: 3,
	}
}

// Classify labels the regime and decides whether trading is allowed.
// Without ADX or Bollinger readings the regime is unknown and trading is
// disallowed.
func Classify(set *analysis.IndicatorSet, cfg RegimeConfig) (analysis.Regime, bool, []string) {
	if set == nil || set.ADX == nil || set.Bollinger == nil {
		return analysis.RegimeUnknown, false, []string{ReasonInsufficient}
	}

	adx := set.ADX.ADX
	width := set.Bollinger.WidthPct

	regime := analysis.RegimeVolatile
	switch {
	case adx > cfg.TrendingADX:
		regime = analysis.RegimeTrending
	case width < cfg.RangingWidth:
		regime = analysis.RegimeRanging
	}

	var reasons []string
	if adx < cfg.WeakADX {
		reasons = append(reasons, ReasonWeakTrend)
	}
	if set.Bollinger.Position == analysis.PositionInside && width < cfg.SqueezeWidth {
		reasons = append(reasons, ReasonSqueeze)
	}
	if len(reasons) > 0 {
		return regime, false, reasons
	}
	return regime, true, []string{ReasonFavorable}
}
