package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"trinity-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trinity.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: saving candles and reading back the latest N returns the same
// candles in oldest-first order.
func TestProperty_CandleRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "DOGE/USDT", "ARB/USDT"}
	timeframeGen := gen.OneConstOf("1m", "15m", "1h", "4h", "1d")

	run := 0
	properties.Property("Candle round-trip: save then retrieve produces equivalent data", prop.ForAll(
		func(symbolIdx int, timeframe string, count int, basePrice float64, limit int) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s_%d", symbols[symbolIdx%len(symbols)], run)

			candles := generateTestCandles(count, basePrice)
			if err := store.SaveCandles(ctx, symbol, timeframe, candles); err != nil {
				t.Logf("Failed to save candles: %v", err)
				return false
			}

			retrieved, err := store.GetCandles(ctx, symbol, timeframe, limit)
			if err != nil {
				t.Logf("Failed to get candles: %v", err)
				return false
			}

			want := candles
			if len(want) > limit {
				want = want[len(want)-limit:]
			}
			if len(retrieved) != len(want) {
				t.Logf("Count mismatch: expected %d, got %d", len(want), len(retrieved))
				return false
			}
			for i := range want {
				if !candlesEqual(want[i], retrieved[i]) {
					t.Logf("Candle mismatch at index %d: original=%+v, retrieved=%+v", i, want[i], retrieved[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		timeframeGen,
		gen.IntRange(1, 30),
		gen.Float64Range(0.0001, 70000),
		gen.IntRange(1, 40),
	))

	properties.Property("Empty candles: saving empty slice should succeed", prop.ForAll(
		func(timeframe string) bool {
			return store.SaveCandles(context.Background(), "EMPTY/USDT", timeframe, []models.Candle{}) == nil
		},
		timeframeGen,
	))

	properties.TestingRun(t)
}

// generateTestCandles creates valid candles for testing
func generateTestCandles(count int, basePrice float64) []models.Candle {
	candles := make([]models.Candle, count)
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		close := basePrice + variation*0.5

		candles[i] = models.Candle{
			Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, close) * 1.01,
			Low:       math.Min(open, close) * 0.99,
			Close:     close,
			Volume:    1000.5 + float64(i),
		}
	}

	return candles
}

// candlesEqual compares two candles for equality with floating point tolerance.
func candlesEqual(a, b models.Candle) bool {
	const tolerance = 1e-9

	if !a.Timestamp.Equal(b.Timestamp) {
		return false
	}
	return floatEqual(a.Open, b.Open, tolerance) &&
		floatEqual(a.High, b.High, tolerance) &&
		floatEqual(a.Low, b.Low, tolerance) &&
		floatEqual(a.Close, b.Close, tolerance) &&
		floatEqual(a.Volume, b.Volume, tolerance)
}

// floatEqual compares two floats with a relative tolerance.
func floatEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Abs(a))
}
