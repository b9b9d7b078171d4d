// Package mtf provides multi-timeframe alignment analysis: the trend of a
// pair on several candle intervals at once and how far they agree.
package mtf

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trinity-trader/internal/analysis/indicators"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/market"
	"trinity-trader/internal/models"
	"trinity-trader/pkg/utils"
)

// Direction is the trend read from one timeframe.
type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
	DirectionRanging Direction = "RANGING"
)

// Alignment represents how many timeframes agree on a direction.
type Alignment string

const (
	AlignmentStrong   Alignment = "STRONG"   // every timeframe agrees
	AlignmentModerate Alignment = "MODERATE" // at least three quarters agree
	AlignmentWeak     Alignment = "WEAK"     // at least half agree
	AlignmentNone     Alignment = "NONE"
)

// Bias is the directional stance taken from the highest timeframe.
type Bias string

const (
	BiasBullish       Bias = "BULLISH_BIAS"
	BiasBearish       Bias = "BEARISH_BIAS"
	BiasCautionLongs  Bias = "CAUTION_LONGS"
	BiasCautionShorts Bias = "CAUTION_SHORTS"
	BiasNeutral       Bias = "NEUTRAL"
)

// RSI conditions.
const (
	RSIOverbought = "OVERBOUGHT"
	RSIOversold   = "OVERSOLD"
	RSINeutral    = "NEUTRAL"
)

// DefaultTimeframes is the daily, 4h, 1h and 15m matrix.
var DefaultTimeframes = []string{"1d", "4h", "1h", "15m"}

// Config holds the alignment parameters.
type Config struct {
	FastEMA   int
	SlowEMA   int
	MacroEMA  int
	RSIPeriod int
	Bars      int

	Overbought float64
	Oversold   float64

	// BiasStrength is the trend strength the top timeframe must exceed
	// before a directional bias is taken.
	BiasStrength float64
}

// DefaultConfig returns EMA 9/21/50, RSI 14 and 100 bars per timeframe.
func DefaultConfig() Config {
	return Config{
		FastEMA:      9,
		SlowEMA:      21,
		MacroEMA:     50,
		RSIPeriod:    14,
		Bars:         100,
		Overbought:   70,
		Oversold:     30,
		BiasStrength: 0.6,
	}
}

// TimeframeView is the trend reading of one interval.
type TimeframeView struct {
	Timeframe    string    `json:"timeframe"`
	Price        float64   `json:"price,omitempty"`
	Direction    Direction `json:"direction,omitempty"`
	Strength     float64   `json:"strength"`
	EMAFast      float64   `json:"ema_fast,omitempty"`
	EMASlow      float64   `json:"ema_slow,omitempty"`
	EMAMacro     float64   `json:"ema_macro,omitempty"`
	RSI          *float64  `json:"rsi,omitempty"`
	RSICondition string    `json:"rsi_condition,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// OK reports whether the timeframe was analyzed.
func (v *TimeframeView) OK() bool {
	return v != nil && v.Error == ""
}

// Result is the alignment of a pair across timeframes, highest first.
type Result struct {
	Symbol     string           `json:"symbol"`
	Timeframes []*TimeframeView `json:"timeframes"`
	Bullish    int              `json:"bullish"`
	Bearish    int              `json:"bearish"`
	Ranging    int              `json:"ranging"`
	Failed     int              `json:"failed"`
	Alignment  Alignment        `json:"alignment"`
	Direction  Direction        `json:"direction"`
	Bias       Bias             `json:"bias"`
	Score      int              `json:"score"`
	Factors    []string         `json:"factors,omitempty"`
}

// Aligned reports whether at least three quarters of the timeframes agree.
func (r *Result) Aligned() bool {
	return r.Alignment == AlignmentStrong || r.Alignment == AlignmentModerate
}

// Analyzer reads the trend of a pair on several timeframes concurrently.
type Analyzer struct {
	source market.Source
	cfg    Config
	logger zerolog.Logger
}

// NewAnalyzer creates an analyzer over source.
func NewAnalyzer(source market.Source, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.Bars < cfg.MacroEMA {
		cfg.Bars = cfg.MacroEMA
	}
	return &Analyzer{source: source, cfg: cfg, logger: logger}
}

// ParseTimeframes splits a comma separated interval list, drops duplicates
// and orders the result from the longest interval to the shortest.
func ParseTimeframes(list string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, tf := range strings.Split(list, ",") {
		tf = strings.TrimSpace(tf)
		if tf == "" || seen[tf] {
			continue
		}
		if !utils.ValidInterval(tf) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidTimeframe, tf)
		}
		seen[tf] = true
		out = append(out, tf)
	}
	if len(out) == 0 {
		return nil, apperrors.NewValidationError("timeframes", list, "at least one timeframe is required")
	}
	sortTimeframes(out)
	return out, nil
}

func sortTimeframes(tfs []string) {
	sort.SliceStable(tfs, func(i, j int) bool {
		return utils.IntervalDuration(tfs[i]) > utils.IntervalDuration(tfs[j])
	})
}

// Analyze fetches every timeframe concurrently and scores their alignment.
// A timeframe that cannot be fetched or is too short is reported in its
// view and counts against the alignment; the error is returned only when
// no timeframe could be analyzed.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, timeframes []string) (*Result, error) {
	tfs := append([]string(nil), timeframes...)
	if len(tfs) == 0 {
		tfs = append(tfs, DefaultTimeframes...)
	}
	sortTimeframes(tfs)

	symbol = utils.NormalizeSymbol(symbol)
	views := make([]*TimeframeView, len(tfs))

	var g errgroup.Group
	for i, tf := range tfs {
		g.Go(func() error {
			view, err := a.analyzeTimeframe(ctx, symbol, tf)
			if err != nil {
				a.logger.Debug().Err(err).Str("symbol", symbol).Str("timeframe", tf).Msg("Timeframe skipped")
				view = &TimeframeView{Timeframe: tf, Error: err.Error()}
			}
			views[i] = view
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := a.Align(symbol, views)
	if result.Failed == len(views) {
		return result, fmt.Errorf("%w: no timeframe of %s could be analyzed", apperrors.ErrDataUnavailable, symbol)
	}
	return result, nil
}

func (a *Analyzer) analyzeTimeframe(ctx context.Context, symbol, tf string) (*TimeframeView, error) {
	candles, err := a.source.FetchCandles(ctx, symbol, tf, a.cfg.Bars)
	if err != nil {
		return nil, err
	}
	return a.View(tf, candles)
}

// View reads the trend of one timeframe from candles (oldest first).
func (a *Analyzer) View(tf string, candles []models.Candle) (*TimeframeView, error) {
	if len(candles) < a.cfg.MacroEMA {
		return nil, fmt.Errorf("%w: %s has %d candles, need %d",
			apperrors.ErrInsufficientHistory, tf, len(candles), a.cfg.MacroEMA)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := len(closes) - 1
	price := closes[last]
	fast := indicators.CalculateEMA(closes, a.cfg.FastEMA)[last]
	slow := indicators.CalculateEMA(closes, a.cfg.SlowEMA)[last]
	macro := indicators.CalculateEMA(closes, a.cfg.MacroEMA)[last]

	direction, strength := trend(price, fast, slow, macro)
	view := &TimeframeView{
		Timeframe:    tf,
		Price:        price,
		Direction:    direction,
		Strength:     strength,
		EMAFast:      fast,
		EMASlow:      slow,
		EMAMacro:     macro,
		RSICondition: RSINeutral,
	}

	if rsi, err := indicators.NewRSI(a.cfg.RSIPeriod).Value(candles); err == nil {
		view.RSI = &rsi
		switch {
		case rsi > a.cfg.Overbought:
			view.RSICondition = RSIOverbought
		case rsi < a.cfg.Oversold:
			view.RSICondition = RSIOversold
		}
	}
	return view, nil
}

// trend counts five votes: price against each EMA and the ordering of the
// EMAs. Strength is the vote margin over five.
func trend(price, fast, slow, macro float64) (Direction, float64) {
	checks := []bool{price > fast, price > slow, price > macro, fast > slow, slow > macro}
	bull := 0
	for _, up := range checks {
		if up {
			bull++
		}
	}
	bear := len(checks) - bull

	strength := math.Abs(float64(bull-bear)) / float64(len(checks))
	switch {
	case bull > bear:
		return DirectionBullish, strength
	case bear > bull:
		return DirectionBearish, strength
	default:
		return DirectionRanging, strength
	}
}

// Align scores views ordered from the highest timeframe down.
func (a *Analyzer) Align(symbol string, views []*TimeframeView) *Result {
	result := &Result{
		Symbol:     symbol,
		Timeframes: views,
		Alignment:  AlignmentNone,
		Direction:  DirectionRanging,
		Bias:       BiasNeutral,
	}

	for _, v := range views {
		if !v.OK() {
			result.Failed++
			continue
		}
		switch v.Direction {
		case DirectionBullish:
			result.Bullish++
		case DirectionBearish:
			result.Bearish++
		default:
			result.Ranging++
		}
	}

	agree := max(result.Bullish, result.Bearish)
	total := len(views)
	switch {
	case agree == 0:
	case agree == total:
		result.Alignment = AlignmentStrong
	case agree*4 >= total*3:
		result.Alignment = AlignmentModerate
	case agree*2 >= total:
		result.Alignment = AlignmentWeak
	}

	if result.Bullish > result.Bearish {
		result.Direction = DirectionBullish
	} else if result.Bearish > result.Bullish {
		result.Direction = DirectionBearish
	}

	if len(views) > 0 && views[0].OK() {
		result.Bias = a.bias(views[0])
		result.Score, result.Factors = a.score(views)
	}
	return result
}

func (a *Analyzer) bias(top *TimeframeView) Bias {
	if top.RSI == nil {
		return BiasNeutral
	}
	rsi := *top.RSI
	switch {
	case top.Direction == DirectionBullish && rsi < a.cfg.Overbought && top.Strength > a.cfg.BiasStrength:
		return BiasBullish
	case top.Direction == DirectionBearish && rsi > a.cfg.Oversold && top.Strength > a.cfg.BiasStrength:
		return BiasBearish
	case top.RSICondition == RSIOverbought:
		return BiasCautionLongs
	case top.RSICondition == RSIOversold:
		return BiasCautionShorts
	}
	return BiasNeutral
}

// score awards 3 points for a trending top timeframe, 2 for each middle
// timeframe trending the same way and 2 when the lowest timeframe offers a
// pullback entry (oversold in a bullish top trend, overbought in a bearish
// one). The result is capped at 10.
func (a *Analyzer) score(views []*TimeframeView) (int, []string) {
	top := views[0]
	if top.Direction == DirectionRanging {
		return 0, nil
	}

	score := 3
	factors := []string{fmt.Sprintf("%s %s", top.Timeframe, strings.ToLower(string(top.Direction)))}
	if len(views) == 1 {
		return score, factors
	}

	for _, v := range views[1 : len(views)-1] {
		if v.OK() && v.Direction == top.Direction {
			score += 2
			factors = append(factors, v.Timeframe+" aligned")
		}
	}

	entry := views[len(views)-1]
	if entry.OK() {
		switch {
		case entry.Direction == top.Direction:
			score += 2
			factors = append(factors, entry.Timeframe+" aligned")
		case top.Direction == DirectionBullish && entry.RSICondition == RSIOversold:
			score += 2
			factors = append(factors, entry.Timeframe+" RSI oversold in "+top.Timeframe+" uptrend")
		case top.Direction == DirectionBearish && entry.RSICondition == RSIOverbought:
			score += 2
			factors = append(factors, entry.Timeframe+" RSI overbought in "+top.Timeframe+" downtrend")
		}
	}

	return min(score, 10), factors
}
