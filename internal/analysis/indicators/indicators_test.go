package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
)

func candlesFromCloses(closes []float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

func risingCandles(n int) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return candlesFromCloses(closes)
}

func TestRSIAlternatingIsFifty(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}

	v, err := NewRSI(14).Value(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 50 {
		t.Errorf("expected RSI 50, got %.4f", v)
	}
}

func TestRSIUsesFirstPeriodDeltas(t *testing.T) {
	closes := make([]float64, 0, 40)
	for i := 0; i < 15; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 0; i < 25; i++ {
		closes = append(closes, 113-float64(i))
	}
	candles := candlesFromCloses(closes)

	v, err := NewRSI(14).Value(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 100 {
		t.Errorf("expected RSI 100 from 14 rising deltas, got %.4f", v)
	}

	set, err := NewDefaultEngine().Compute(t.Context(), candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.RSI == nil || *set.RSI != 100 {
		t.Errorf("expected engine RSI 100, got %v", set.RSI)
	}
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := NewRSI(14).Calculate(risingCandles(14))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrInsufficientHistory) {
		t.Errorf("expected error to match ErrInsufficientHistory")
	}
}

func TestCalculateEMASeededWithFirstValue(t *testing.T) {
	ema := CalculateEMA([]float64{10, 20, 30}, 3)
	if ema[0] != 10 {
		t.Fatalf("expected seed 10, got %v", ema[0])
	}
	// k = 0.5
	if ema[1] != 15 || ema[2] != 22.5 {
		t.Errorf("unexpected EMA values: %v", ema)
	}
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 50
	}
	values, err := NewMACD(12, 26, 9).Calculate(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{"macd", "signal", "histogram"} {
		if v := last(values[key]); v != 0 {
			t.Errorf("expected %s 0, got %v", key, v)
		}
	}
}

func TestADXMonotonicUpIsBullish(t *testing.T) {
	set, err := NewDefaultEngine().Compute(t.Context(), risingCandles(60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.ADX == nil {
		t.Fatal("expected ADX to be present")
	}
	if set.ADX.PlusDI <= set.ADX.MinusDI {
		t.Errorf("expected +DI > -DI, got %.2f <= %.2f", set.ADX.PlusDI, set.ADX.MinusDI)
	}
	if set.ADX.TrendDirection != "bullish" {
		t.Errorf("expected bullish direction, got %s", set.ADX.TrendDirection)
	}
	if set.ADX.ADX != 100 || set.ADX.TrendStrength != "strong" {
		t.Errorf("expected strong ADX 100, got %.2f %s", set.ADX.ADX, set.ADX.TrendStrength)
	}
}

func TestBollingerKnownValues(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 99
		} else {
			closes[i] = 101
		}
	}
	set, err := NewDefaultEngine().Compute(t.Context(), candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bb := set.Bollinger
	if bb == nil {
		t.Fatal("expected Bollinger to be present")
	}
	// population stdev of alternating 99/101 is 1
	if math.Abs(bb.Middle-100) > 1e-9 || math.Abs(bb.Upper-102) > 1e-6 || math.Abs(bb.Lower-98) > 1e-6 {
		t.Errorf("unexpected bands: %+v", bb)
	}
	if bb.WidthPct != 4 {
		t.Errorf("expected width 4%%, got %v", bb.WidthPct)
	}
	if bb.Position != "inside" {
		t.Errorf("expected inside, got %s", bb.Position)
	}
}

func TestTrendCrossDetectsBullishCross(t *testing.T) {
	closes := make([]float64, 45)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 200

	v, err := NewTrendCross(20, 40, 50, 150).Evaluate(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Crossover != "bullish_cross" {
		t.Errorf("expected bullish_cross, got %s", v.Crossover)
	}
	if v.Signal != "bullish" {
		t.Errorf("expected bullish signal, got %s", v.Signal)
	}
	// fewer than 50 bars: both trend means fall back to the mean of all closes
	if v.MidMA != v.LongMA {
		t.Errorf("expected equal fallback means, got %v and %v", v.MidMA, v.LongMA)
	}
}

func TestTrendCrossEqualAveragesIsNeutral(t *testing.T) {
	closes := make([]float64, 45)
	for i := range closes {
		closes[i] = 100
	}
	v, err := NewTrendCross(20, 40, 50, 150).Evaluate(candlesFromCloses(closes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Signal != "neutral" || v.Crossover != "none" || v.Trend != "neutral" {
		t.Errorf("expected neutral reading, got %+v", v)
	}
}

func TestTrendCrossUptrend(t *testing.T) {
	v, err := NewTrendCross(20, 40, 50, 150).Evaluate(risingCandles(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Trend != "uptrend" || v.Signal != "bullish" {
		t.Errorf("expected bullish uptrend, got %+v", v)
	}
}

func TestEngineRoundsReadings(t *testing.T) {
	set, err := NewDefaultEngine().Compute(t.Context(), risingCandles(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.RSI == nil || *set.RSI != 100 {
		t.Fatalf("expected RSI 100 on a rising series, got %v", set.RSI)
	}
	hist := set.MACD.Histogram * 1e4
	if math.Abs(hist-math.Round(hist)) > 1e-6 {
		t.Errorf("expected histogram rounded to 4 places, got %v", set.MACD.Histogram)
	}
	if set.Bars != 200 || set.Price != 299 {
		t.Errorf("unexpected price/bars: %v %d", set.Price, set.Bars)
	}
}

func TestEngineEmptySeries(t *testing.T) {
	if _, err := NewDefaultEngine().Compute(t.Context(), nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
