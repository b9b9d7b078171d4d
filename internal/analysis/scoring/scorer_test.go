package scoring

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

// Property: the confluence score is always within [0, 100] and, with every
// other input held fixed, never decreases as ADX rises.

func float64Ptr(v float64) *float64 {
	return &v
}

func strongBullishAssessment() *analysis.RegimeAssessment {
	return &analysis.RegimeAssessment{
		Symbol:       "BTC/USDT",
		Timeframe:    "4h",
		Regime:       analysis.RegimeTrending,
		TradeAllowed: true,
		Reasons:      []string{"Conditions favorable"},
		Indicators: &analysis.IndicatorSet{
			Price: 100,
			RSI:   float64Ptr(25),
			ADX: &analysis.ADXValue{
				ADX: 40, PlusDI: 35, MinusDI: 10,
				TrendStrength: analysis.TrendStrong, TrendDirection: analysis.Bullish,
			},
			Bollinger: &analysis.BollingerValue{
				Upper: 110, Middle: 104, Lower: 98, WidthPct: 11.5, Position: analysis.PositionBelow,
			},
			TrendCross: &analysis.TrendCrossValue{
				FastMA: 101, SlowMA: 100, Signal: analysis.Bullish, Crossover: analysis.CrossBullish, Trend: analysis.TrendUp,
			},
		},
		AssessedAt: time.Now(),
	}
}

func assessmentGen() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.OneConstOf(analysis.Bullish, analysis.Bearish, analysis.Neutral),
		gen.OneConstOf(analysis.CrossBullish, analysis.CrossBearish, analysis.CrossNone),
		gen.OneConstOf(analysis.PositionAbove, analysis.PositionInside, analysis.PositionBelow),
		gen.OneConstOf(analysis.RegimeTrending, analysis.RegimeRanging, analysis.RegimeVolatile, analysis.RegimeUnknown),
		gen.Bool(),
	).Map(func(values []interface{}) *analysis.RegimeAssessment {
		a := strongBullishAssessment()
		a.Indicators.RSI = float64Ptr(values[0].(float64))
		a.Indicators.ADX.ADX = values[1].(float64)
		a.Indicators.TrendCross.Signal = values[2].(string)
		a.Indicators.TrendCross.Crossover = values[3].(string)
		a.Indicators.Bollinger.Position = values[4].(string)
		a.Regime = values[5].(analysis.Regime)
		a.TradeAllowed = values[6].(bool)
		return a
	})
}

func TestProperty_ScoreIsClamped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	scorer := NewConfluenceScorer()
	heavy := NewConfluenceScorerWithWeights(Weights{
		TrendBullish: 60, CrossBullish: 60, RSIOversold: 60, ADXStrong: 60,
		RangingPenalty: 300, VolatilePenalty: 300,
	}, DefaultThreshold)

	properties.Property("score is within [0, 100]", prop.ForAll(
		func(a *analysis.RegimeAssessment) bool {
			for _, s := range []*ConfluenceScorer{scorer, heavy} {
				r := s.Score(a)
				if r.Score < 0 || r.Score > 100 {
					return false
				}
			}
			return true
		},
		assessmentGen(),
	))

	properties.TestingRun(t)
}

func TestProperty_ScoreMonotoneInADX(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	scorer := NewConfluenceScorer()

	properties.Property("raising ADX within [20, 35] never lowers the score", prop.ForAll(
		func(a *analysis.RegimeAssessment, lo, hi float64) bool {
			if lo > hi {
				lo, hi = hi, lo
			}
			a.Indicators.ADX.ADX = lo
			low := scorer.Score(a).Score
			a.Indicators.ADX.ADX = hi
			high := scorer.Score(a).Score
			return high >= low
		},
		assessmentGen(),
		gen.Float64Range(20, 35),
		gen.Float64Range(20, 35),
	))

	properties.TestingRun(t)
}

func TestScoreStrongBullishIsLongSignal(t *testing.T) {
	r := NewConfluenceScorer().Score(strongBullishAssessment())

	if r.Score != 85 {
		t.Errorf("expected score 85, got %d (%v)", r.Score, r.Breakdown)
	}
	if r.Status != analysis.StatusLongSignal {
		t.Fatalf("expected LONG_SIGNAL, got %s", r.Status)
	}
	rec := r.Recommendation
	if rec == nil {
		t.Fatal("expected a recommendation")
	}
	if rec.Action != models.ActionLong || rec.Entry != 100 || rec.StopLoss != 98 || rec.TakeProfit != 110 {
		t.Errorf("unexpected recommendation: %+v", rec)
	}
	if rec.Confidence != "85%" {
		t.Errorf("expected confidence 85%%, got %s", rec.Confidence)
	}
}

func TestScoreBearishUsesUpperBandAsStop(t *testing.T) {
	a := strongBullishAssessment()
	a.Indicators.TrendCross.Signal = analysis.Bearish
	a.Indicators.TrendCross.Crossover = analysis.CrossBearish

	r := NewConfluenceScorer().Score(a)
	// 10 + 10 + 20 + 15 + 5 + 15
	if r.Score != 75 || r.Status != analysis.StatusShortSignal {
		t.Fatalf("expected SHORT_SIGNAL at 75, got %s at %d", r.Status, r.Score)
	}
	if r.Recommendation.StopLoss != 110 || r.Recommendation.TakeProfit != 98 {
		t.Errorf("unexpected short plan: %+v", r.Recommendation)
	}
}

func TestScoreFilteredKeepsReasons(t *testing.T) {
	a := strongBullishAssessment()
	a.TradeAllowed = false
	a.Reasons = []string{"ADX too low (weak trend)", "Low volatility squeeze"}

	r := NewConfluenceScorer().Score(a)
	if r.Status != analysis.StatusFiltered {
		t.Fatalf("expected FILTERED, got %s", r.Status)
	}
	if len(r.Reasons) != 2 || r.Reasons[0] != "ADX too low (weak trend)" || r.Reasons[1] != "Low volatility squeeze" {
		t.Errorf("expected verifier reasons unchanged, got %v", r.Reasons)
	}
	if r.Recommendation != nil {
		t.Errorf("filtered result must not carry a recommendation")
	}
}

func TestScoreBelowThreshold(t *testing.T) {
	a := strongBullishAssessment()
	a.Indicators.TrendCross.Crossover = analysis.CrossNone
	a.Indicators.Bollinger.Position = analysis.PositionAbove
	a.Indicators.RSI = float64Ptr(65)

	r := NewConfluenceScorer().Score(a)
	// 15 + 0 + 0 + 15 + 5 + 0
	if r.Score != 35 || r.Status != analysis.StatusNoSignal {
		t.Fatalf("expected NO_SIGNAL at 35, got %s at %d", r.Status, r.Score)
	}
	if r.Reasons[0] != "Score 35 below threshold 70" {
		t.Errorf("unexpected reason: %q", r.Reasons[0])
	}
}

func TestScoreAbsentRSIContributesNothing(t *testing.T) {
	a := strongBullishAssessment()
	a.Indicators.RSI = nil

	r := NewConfluenceScorer().Score(a)
	if r.Breakdown[ComponentRSI] != 0 || r.Score != 65 {
		t.Errorf("expected no RSI points and score 65, got %v", r.Breakdown)
	}
}

func TestRSITiers(t *testing.T) {
	s := NewConfluenceScorer()
	tests := []struct {
		rsi  float64
		want int
	}{
		{10, 20}, {29.99, 20}, {30, 15}, {39.9, 15}, {40, 0},
		{50, 10}, {60, 0}, {65, 0}, {70, 0}, {70.1, 5},
	}
	for _, tt := range tests {
		if got := s.rsiPoints(tt.rsi); got != tt.want {
			t.Errorf("rsiPoints(%v) = %d, want %d", tt.rsi, got, tt.want)
		}
	}
}

func TestADXCutOffsAreConfigurable(t *testing.T) {
	tests := []struct {
		name       string
		strong     float64
		veryStrong float64
		adx        float64
		wantADX    int
		wantBonus  int
	}{
		{"defaults above both", 25, 35, 40, 15, 5},
		{"defaults between", 25, 35, 30, 15, 0},
		{"raised cut-offs", 45, 50, 40, 0, 0},
		{"lowered cut-offs", 20, 30, 31, 15, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := DefaultWeights()
			w.ADXStrongAbove = tt.strong
			w.ADXVeryStrongAbove = tt.veryStrong
			a := strongBullishAssessment()
			a.Indicators.ADX.ADX = tt.adx

			r := NewConfluenceScorerWithWeights(w, DefaultThreshold).Score(a)
			if r.Breakdown[ComponentADX] != tt.wantADX || r.Breakdown[ComponentADXBonus] != tt.wantBonus {
				t.Errorf("ADX %v: breakdown %v, want adx %d bonus %d", tt.adx, r.Breakdown, tt.wantADX, tt.wantBonus)
			}
		})
	}
}

func TestRegimePenalties(t *testing.T) {
	a := strongBullishAssessment()
	a.Regime = analysis.RegimeRanging
	if r := NewConfluenceScorer().Score(a); r.Breakdown[ComponentRegime] != -10 || r.Score != 75 {
		t.Errorf("expected ranging penalty -10 and score 75, got %v", r.Breakdown)
	}
	a.Regime = analysis.RegimeVolatile
	if r := NewConfluenceScorer().Score(a); r.Breakdown[ComponentRegime] != -5 || r.Score != 80 {
		t.Errorf("expected volatile penalty -5 and score 80, got %v", r.Breakdown)
	}
}

func TestTopSignals(t *testing.T) {
	results := []*analysis.ConfluenceResult{
		{Symbol: "A", Score: 72, Status: analysis.StatusLongSignal},
		{Symbol: "B", Score: 95, Status: analysis.StatusFiltered},
		{Symbol: "C", Score: 88, Status: analysis.StatusShortSignal},
		{Symbol: "D", Score: 40, Status: analysis.StatusNoSignal},
		{Symbol: "E", Score: 80, Status: analysis.StatusLongSignal},
	}

	top := TopSignals(results, 2)
	if len(top) != 2 || top[0].Symbol != "C" || top[1].Symbol != "E" {
		t.Fatalf("unexpected top signals: %+v", top)
	}
	if all := TopSignals(results, 0); len(all) != 3 {
		t.Errorf("expected 3 actionable results, got %d", len(all))
	}
}
