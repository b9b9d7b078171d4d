// Package scoring turns a verified regime assessment into a bounded
// confluence score and, when the evidence is strong enough, an entry plan.
package scoring

import (
	"fmt"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

// Breakdown keys.
const (
	ComponentTrend     = "trend_signal"
	ComponentCrossover = "crossover"
	ComponentRSI       = "rsi"
	ComponentADX       = "adx"
	ComponentADXBonus  = "adx_bonus"
	ComponentBollinger = "bollinger"
	ComponentRegime    = "regime"
)

// Weights holds the points each condition contributes. Penalties are
// positive numbers that are subtracted.
type Weights struct {
	TrendBullish    int
	TrendBearish    int
	CrossBullish    int
	CrossBearish    int
	RSIOversold     int // RSI < 30
	RSIWeak         int // 30 <= RSI < 40
	RSINeutral      int // 40 < RSI < 60
	RSIOverbought   int // RSI > 70
	ADXStrong       int // ADX > ADXStrongAbove
	ADXVeryStrong   int // ADX > ADXVeryStrongAbove, on top of ADXStrong
	BandBelow       int
	BandInside      int
	RangingPenalty  int
	VolatilePenalty int

	// ADX cut-offs for the strong and very strong tiers.
	ADXStrongAbove     float64
	ADXVeryStrongAbove float64
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		TrendBullish:    15,
		TrendBearish:    10,
		CrossBullish:    15,
		CrossBearish:    10,
		RSIOversold:     20,
		RSIWeak:         15,
		RSINeutral:      10,
		RSIOverbought:   5,
		ADXStrong:       15,
		ADXVeryStrong:   5,
		BandBelow:       15,
		BandInside:      5,
		RangingPenalty:  10,
		VolatilePenalty: 5,

		ADXStrongAbove:     25,
		ADXVeryStrongAbove: 35,
	}
}

// DefaultThreshold is the minimum score for a directional signal.
const DefaultThreshold = 70

// ConfluenceScorer combines indicator readings into a 0-100 score.
type ConfluenceScorer struct {
	weights   Weights
	threshold int
}

// NewConfluenceScorer creates a scorer with default weights.
func NewConfluenceScorer() *ConfluenceScorer {
	return NewConfluenceScorerWithWeights(DefaultWeights(), DefaultThreshold)
}

// NewConfluenceScorerWithWeights creates a scorer with custom weights.
func NewConfluenceScorerWithWeights(weights Weights, threshold int) *ConfluenceScorer {
	return &ConfluenceScorer{
		weights:   weights,
		threshold: threshold,
	}
}

// Threshold returns the signal threshold.
func (s *ConfluenceScorer) Threshold() int {
	return s.threshold
}

// Score grades an assessment. A disallowed assessment is FILTERED with the
// assessment's reasons; the score is still reported.
func (s *ConfluenceScorer) Score(assessment *analysis.RegimeAssessment) *analysis.ConfluenceResult {
	ind := assessment.Indicators
	if ind == nil {
		ind = &analysis.IndicatorSet{}
	}

	breakdown := s.breakdown(ind, assessment.Regime)
	total := 0
	for _, points := range breakdown {
		total += points
	}
	score := clamp(total, 0, 100)

	result := &analysis.ConfluenceResult{
		Symbol:    assessment.Symbol,
		Score:     score,
		Breakdown: breakdown,
		Price:     ind.Price,
		Regime:    assessment.Regime,
	}

	if !assessment.TradeAllowed {
		result.Status = analysis.StatusFiltered
		result.Reasons = append([]string(nil), assessment.Reasons...)
		return result
	}

	if score < s.threshold {
		result.Status = analysis.StatusNoSignal
		result.Reasons = []string{fmt.Sprintf("Score %d below threshold %d", score, s.threshold)}
		return result
	}

	var action models.Action
	switch {
	case ind.TrendCross != nil && ind.TrendCross.Signal == analysis.Bullish:
		action = models.ActionLong
	case ind.TrendCross != nil && ind.TrendCross.Signal == analysis.Bearish:
		action = models.ActionShort
	default:
		result.Status = analysis.StatusNoSignal
		result.Reasons = []string{"No trend direction"}
		return result
	}

	if ind.Bollinger == nil {
		result.Status = analysis.StatusNoSignal
		result.Reasons = []string{"Bollinger bands unavailable for stop and target"}
		return result
	}

	rec := &analysis.Recommendation{
		Action:     action,
		Entry:      ind.Price,
		Confidence: fmt.Sprintf("%d%%", score),
	}
	if action == models.ActionLong {
		result.Status = analysis.StatusLongSignal
		rec.StopLoss = ind.Bollinger.Lower
		rec.TakeProfit = ind.Bollinger.Upper
	} else {
		result.Status = analysis.StatusShortSignal
		rec.StopLoss = ind.Bollinger.Upper
		rec.TakeProfit = ind.Bollinger.Lower
	}
	result.Recommendation = rec
	result.Reasons = []string{fmt.Sprintf("Score %d meets threshold %d", score, s.threshold)}

	return result
}

// breakdown returns the points per component. Absent indicators
// contribute nothing.
func (s *ConfluenceScorer) breakdown(ind *analysis.IndicatorSet, regime analysis.Regime) map[string]int {
	w := s.weights
	b := map[string]int{
		ComponentTrend:     0,
		ComponentCrossover: 0,
		ComponentRSI:       0,
		ComponentADX:       0,
		ComponentADXBonus:  0,
		ComponentBollinger: 0,
		ComponentRegime:    0,
	}

	if tc := ind.TrendCross; tc != nil {
		switch tc.Signal {
		case analysis.Bullish:
			b[ComponentTrend] = w.TrendBullish
		case analysis.Bearish:
			b[ComponentTrend] = w.TrendBearish
		}
		switch tc.Crossover {
		case analysis.CrossBullish:
			b[ComponentCrossover] = w.CrossBullish
		case analysis.CrossBearish:
			b[ComponentCrossover] = w.CrossBearish
		}
	}

	if ind.RSI != nil {
		b[ComponentRSI] = s.rsiPoints(*ind.RSI)
	}

	if adx := ind.ADX; adx != nil {
		if adx.ADX > w.ADXStrongAbove {
			b[ComponentADX] = w.ADXStrong
		}
		if adx.ADX > w.ADXVeryStrongAbove {
			b[ComponentADXBonus] = w.ADXVeryStrong
		}
	}

	if bb := ind.Bollinger; bb != nil {
		switch bb.Position {
		case analysis.PositionBelow:
			b[ComponentBollinger] = w.BandBelow
		case analysis.PositionInside:
			b[ComponentBollinger] = w.BandInside
		}
	}

	switch regime {
	case analysis.RegimeRanging:
		b[ComponentRegime] = -w.RangingPenalty
	case analysis.RegimeVolatile:
		b[ComponentRegime] = -w.VolatilePenalty
	}

	return b
}

func (s *ConfluenceScorer) rsiPoints(rsi float64) int {
	switch {
	case rsi < 30:
		return s.weights.RSIOversold
	case rsi < 40:
		return s.weights.RSIWeak
	case rsi > 40 && rsi < 60:
		return s.weights.RSINeutral
	case rsi > 70:
		return s.weights.RSIOverbought
	default:
		return 0
	}
}

func clamp(value, minVal, maxVal int) int {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}
