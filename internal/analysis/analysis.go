// Package analysis provides the shared result types of the analysis stages:
// computed indicators, regime assessment, claim verification and confluence
// scoring.
package analysis

import (
	"time"

	"trinity-trader/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple values.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

// Direction labels used by indicator readings.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Bollinger band positions.
const (
	PositionAbove  = "above"
	PositionInside = "inside"
	PositionBelow  = "below"
)

// Crossover events.
const (
	CrossBullish = "bullish_cross"
	CrossBearish = "bearish_cross"
	CrossNone    = "none"
)

// Trend labels.
const (
	TrendUp      = "uptrend"
	TrendDown    = "downtrend"
	TrendNeutral = "neutral"
	TrendStrong  = "strong"
	TrendWeak    = "weak"
)

// MACDValue is the latest MACD reading.
type MACDValue struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	Trend     string  `json:"trend"`
}

// ADXValue is the latest directional movement reading.
type ADXValue struct {
	ADX            float64 `json:"adx"`
	PlusDI         float64 `json:"plus_di"`
	MinusDI        float64 `json:"minus_di"`
	TrendStrength  string  `json:"trend_strength"`
	TrendDirection string  `json:"trend_direction"`
}

// BollingerValue is the latest band reading.
type BollingerValue struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	WidthPct float64 `json:"width_pct"`
	Position string  `json:"position"`
}

// TrendCrossValue is the latest fast/slow moving average reading.
type TrendCrossValue struct {
	FastMA    float64 `json:"fast_ma"`
	SlowMA    float64 `json:"slow_ma"`
	MidMA     float64 `json:"mid_ma"`
	LongMA    float64 `json:"long_ma"`
	Signal    string  `json:"signal"`
	Crossover string  `json:"crossover"`
	Trend     string  `json:"trend"`
}

// IndicatorSet holds every indicator computed for one candle series.
// A nil member means the series was too short for that indicator.
type IndicatorSet struct {
	Price      float64          `json:"price"`
	Volume     float64          `json:"volume"`
	Bars       int              `json:"bars"`
	RSI        *float64         `json:"rsi,omitempty"`
	MACD       *MACDValue       `json:"macd,omitempty"`
	ADX        *ADXValue        `json:"adx,omitempty"`
	Bollinger  *BollingerValue  `json:"bollinger,omitempty"`
	TrendCross *TrendCrossValue `json:"trend_cross,omitempty"`
}

// Regime classifies market conditions.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)

// RegimeAssessment is the verified snapshot the later stages work from.
type RegimeAssessment struct {
	Symbol       string        `json:"symbol"`
	Timeframe    string        `json:"timeframe"`
	Regime       Regime        `json:"regime"`
	Indicators   *IndicatorSet `json:"indicators"`
	TradeAllowed bool          `json:"trade_allowed"`
	Reasons      []string      `json:"reasons"`
	AssessedAt   time.Time     `json:"assessed_at"`
}

// VerificationStatus is the overall or per-metric verification outcome.
type VerificationStatus string

const (
	StatusVerified VerificationStatus = "VERIFIED"
	StatusRejected VerificationStatus = "REJECTED"
)

// MetricVerdict compares one claimed value with its recomputed value.
type MetricVerdict struct {
	Metric    string             `json:"metric"`
	Claimed   float64            `json:"claimed"`
	Actual    *float64           `json:"actual,omitempty"`
	Tolerance float64            `json:"tolerance"`
	Status    VerificationStatus `json:"status"`
	Message   string             `json:"message,omitempty"`
}

// VerificationReport is the result of checking a symbol's claims.
type VerificationReport struct {
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	Status     VerificationStatus `json:"status"`
	Verdicts   []MetricVerdict    `json:"verdicts,omitempty"`
	Assessment *RegimeAssessment  `json:"assessment,omitempty"`
	Error      string             `json:"error,omitempty"`
	Err        error              `json:"-"`
}

// Verified reports whether every claim held and data was available.
func (r *VerificationReport) Verified() bool {
	return r != nil && r.Status == StatusVerified
}

// ConfluenceStatus is the scorer's verdict.
type ConfluenceStatus string

const (
	StatusLongSignal  ConfluenceStatus = "LONG_SIGNAL"
	StatusShortSignal ConfluenceStatus = "SHORT_SIGNAL"
	StatusNoSignal    ConfluenceStatus = "NO_SIGNAL"
	StatusFiltered    ConfluenceStatus = "FILTERED"
)

// Recommendation is the entry plan attached to an actionable signal.
type Recommendation struct {
	Action     models.Action `json:"action"`
	Entry      float64       `json:"entry"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Confidence string        `json:"confidence"`
}

// ConfluenceResult is the bounded evidence score for one symbol.
type ConfluenceResult struct {
	Symbol         string           `json:"symbol"`
	Score          int              `json:"score"`
	Breakdown      map[string]int   `json:"breakdown"`
	Status         ConfluenceStatus `json:"status"`
	Reasons        []string         `json:"reasons,omitempty"`
	Recommendation *Recommendation  `json:"recommendation,omitempty"`
	Price          float64          `json:"price"`
	Regime         Regime           `json:"regime"`
}

// Actionable reports whether the result carries a directional signal.
func (r *ConfluenceResult) Actionable() bool {
	return r.Status == StatusLongSignal || r.Status == StatusShortSignal
}
