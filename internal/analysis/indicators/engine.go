// Package indicators provides technical indicator calculations and an
// engine that evaluates the full indicator set concurrently.
package indicators

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

// EngineConfig holds the indicator periods.
type EngineConfig struct {
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	ADXPeriod       int
	StrongADX       float64
	BollingerPeriod int
	BollingerStdDev float64
	CrossFast       int
	CrossSlow       int
	TrendMid        int
	TrendLong       int
}

// DefaultEngineConfig returns the standard periods.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ADXPeriod:       14,
		StrongADX:       25,
		BollingerPeriod: 20,
		BollingerStdDev: 2,
		CrossFast:       20,
		CrossSlow:       40,
		TrendMid:        50,
		TrendLong:       150,
	}
}

// Engine computes an IndicatorSet from a candle series.
type Engine struct {
	rsi       *RSI
	macd      *MACD
	adx       *ADX
	bollinger *BollingerBands
	cross     *TrendCross
	strongADX float64
}

// NewEngine creates an engine with the given periods.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		rsi:       NewRSI(cfg.RSIPeriod),
		macd:      NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		adx:       NewADX(cfg.ADXPeriod),
		bollinger: NewBollingerBands(cfg.BollingerPeriod, cfg.BollingerStdDev),
		cross:     NewTrendCross(cfg.CrossFast, cfg.CrossSlow, cfg.TrendMid, cfg.TrendLong),
		strongADX: cfg.StrongADX,
	}
}

// NewDefaultEngine creates an engine with the standard periods.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultEngineConfig())
}

// MinBars returns the number of candles needed for every indicator to be present.
func (e *Engine) MinBars() int {
	bars := e.rsi.Period()
	for _, p := range []int{e.macd.Period(), e.adx.Period(), e.bollinger.Period(), e.cross.Period()} {
		if p > bars {
			bars = p
		}
	}
	return bars
}

// Compute evaluates all indicators on candles (oldest first). Indicators
// the series is too short for are left nil.
func (e *Engine) Compute(ctx context.Context, candles []models.Candle) (*analysis.IndicatorSet, error) {
	if len(candles) == 0 {
		return nil, ErrInsufficientData
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latest := candles[len(candles)-1]
	set := &analysis.IndicatorSet{
		Price:  round(latest.Close, priceDecimals),
		Volume: latest.Volume,
		Bars:   len(candles),
	}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := e.rsi.Value(candles)
		if err != nil {
			return optional(e.rsi.Name(), err)
		}
		rsi := round(v, oscillatorDecimals)
		set.RSI = &rsi
		return nil
	})

	g.Go(func() error {
		values, err := e.macd.Calculate(candles)
		if err != nil {
			return optional(e.macd.Name(), err)
		}
		hist := last(values["histogram"])
		trend := analysis.Bearish
		if hist > 0 {
			trend = analysis.Bullish
		}
		set.MACD = &analysis.MACDValue{
			Line:      round(last(values["macd"]), macdDecimals),
			Signal:    round(last(values["signal"]), macdDecimals),
			Histogram: round(hist, macdDecimals),
			Trend:     trend,
		}
		return nil
	})

	g.Go(func() error {
		values, err := e.adx.Calculate(candles)
		if err != nil {
			return optional(e.adx.Name(), err)
		}
		adx := last(values["adx"])
		plusDI := last(values["plus_di"])
		minusDI := last(values["minus_di"])
		strength := analysis.TrendWeak
		if adx > e.strongADX {
			strength = analysis.TrendStrong
		}
		set.ADX = &analysis.ADXValue{
			ADX:            round(adx, oscillatorDecimals),
			PlusDI:         round(plusDI, oscillatorDecimals),
			MinusDI:        round(minusDI, oscillatorDecimals),
			TrendStrength:  strength,
			TrendDirection: direction(plusDI, minusDI),
		}
		return nil
	})

	g.Go(func() error {
		values, err := e.bollinger.Calculate(candles)
		if err != nil {
			return optional(e.bollinger.Name(), err)
		}
		upper := last(values["upper"])
		lower := last(values["lower"])
		set.Bollinger = &analysis.BollingerValue{
			Upper:    round(upper, priceDecimals),
			Middle:   round(last(values["middle"]), priceDecimals),
			Lower:    round(lower, priceDecimals),
			WidthPct: round(last(values["width"]), oscillatorDecimals),
			Position: BandPosition(latest.Close, upper, lower),
		}
		return nil
	})

	g.Go(func() error {
		v, err := e.cross.Evaluate(candles)
		if err != nil {
			return optional(e.cross.Name(), err)
		}
		v.FastMA = round(v.FastMA, priceDecimals)
		v.SlowMA = round(v.SlowMA, priceDecimals)
		v.MidMA = round(v.MidMA, priceDecimals)
		v.LongMA = round(v.LongMA, priceDecimals)
		set.TrendCross = v
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

// optional swallows insufficient-history errors so the indicator stays nil.
func optional(name string, err error) error {
	if errors.Is(err, ErrInsufficientData) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
