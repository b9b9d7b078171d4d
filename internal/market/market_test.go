package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/internal/resilience"
)

func series(closes ...float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

type flakySource struct {
	calls    atomic.Int32
	failures int32
	err      error
	candles  []models.Candle
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, f.err
	}
	return f.candles, nil
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]models.Candle
}

func (m *memoryStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]models.Candle)
	}
	m.data[symbol+"|"+timeframe] = candles
	return nil
}

func (m *memoryStore) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.data[symbol+"|"+timeframe]
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func (m *memoryStore) LatestCandle(ctx context.Context, symbol string) (*models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Candle
	for key, c := range m.data {
		if !strings.HasPrefix(key, symbol+"|") || len(c) == 0 {
			continue
		}
		if last := c[len(c)-1]; latest == nil || last.Timestamp.After(latest.Timestamp) {
			latest = &last
		}
	}
	return latest, nil
}

func TestBinanceSourceParsesKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			[1704067200000,"42000.10","42500.00","41800.50","42300.25","1200.5",1704081599999,"0",10,"0","0","0"],
			[1704081600000,"42300.25","42900.00","42100.00","42850.75","980.25",1704095999999,"0",12,"0","0","0"]
		]`)
	}))
	defer srv.Close()

	src := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, Timeout: time.Second})
	candles, err := src.FetchCandles(context.Background(), "btc/usdt", "4h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, 42000.10, candles[0].Open)
	assert.Equal(t, 42850.75, candles[1].Close)
	assert.Equal(t, 980.25, candles[1].Volume)
	assert.Equal(t, time.UnixMilli(1704081600000).UTC(), candles[1].Timestamp)
}

func TestBinanceSourceInvalidSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	src := NewBinanceSource(BinanceConfig{BaseURL: srv.URL})
	_, err := src.FetchCandles(context.Background(), "NOPE/USDT", "1h", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestBinanceSourceEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	src := NewBinanceSource(BinanceConfig{BaseURL: srv.URL})
	_, err := src.FetchCandles(context.Background(), "BTC/USDT", "1h", 10)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
}

func TestValidateRequest(t *testing.T) {
	src := NewStaticSource()
	_, err := src.FetchCandles(context.Background(), "BTC/USDT", "7m", 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTimeframe)

	_, err = src.FetchCandles(context.Background(), "", "1h", 10)
	var verr *apperrors.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = src.FetchCandles(context.Background(), "BTC/USDT", "1h", 0)
	assert.ErrorAs(t, err, &verr)
}

func TestStaticSourceTrimsToLimit(t *testing.T) {
	src := NewStaticSource()
	src.Set("ETHUSDT", series(1, 2, 3, 4, 5))

	candles, err := src.FetchCandles(context.Background(), "ETH/USDT", "1h", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 3.0, candles[0].Close)

	price, err := LastPrice(context.Background(), src, "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, 5.0, price)

	_, err = src.FetchCandles(context.Background(), "SOL/USDT", "1h", 3)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
}

func TestResilientSourceRetriesOnce(t *testing.T) {
	inner := &flakySource{failures: 1, err: errors.New("connection reset"), candles: series(1, 2)}
	src := NewResilientSource(inner, ResilientConfig{MaxAttempts: 2, RetryDelay: time.Millisecond}, zerolog.Nop())

	candles, err := src.FetchCandles(context.Background(), "BTC/USDT", "1h", 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestResilientSourceWrapsFailure(t *testing.T) {
	inner := &flakySource{failures: 10, err: errors.New("timeout")}
	src := NewResilientSource(inner, ResilientConfig{MaxAttempts: 2, RetryDelay: time.Millisecond}, zerolog.Nop())

	_, err := src.FetchCandles(context.Background(), "BTC/USDT", "1h", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)

	var dataErr *apperrors.DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, "Failed to fetch data", dataErr.Message)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestResilientSourceSkipsRetryForInvalidSymbol(t *testing.T) {
	inner := &flakySource{failures: 10, err: fmt.Errorf("%w: XYZUSDT", ErrInvalidSymbol)}
	src := NewResilientSource(inner, ResilientConfig{MaxAttempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())

	_, err := src.FetchCandles(context.Background(), "XYZ/USDT", "1h", 2)
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, resilience.CircuitClosed, src.Breaker().State())
}

func TestResilientSourceOpensCircuit(t *testing.T) {
	inner := &flakySource{failures: 100, err: errors.New("503")}
	src := NewResilientSource(inner, ResilientConfig{
		MaxAttempts:     1,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := src.FetchCandles(context.Background(), "BTC/USDT", "1h", 2)
		require.Error(t, err)
	}
	_, err := src.FetchCandles(context.Background(), "BTC/USDT", "1h", 2)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedSourceFallsThroughWhenRedisDown(t *testing.T) {
	inner := &flakySource{candles: series(10, 11, 12)}
	src := NewCachedSource(inner, CacheConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	defer src.Close()

	candles, err := src.FetchCandles(context.Background(), "BTC/USDT", "1h", 3)
	require.NoError(t, err)
	assert.Len(t, candles, 3)

	stats := src.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.Hits)
	assert.Positive(t, stats.Failures)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "trinity:candles:BTCUSDT:4h:200", cacheKey("btc/usdt", "4h", 200))
}

func TestArchivingSourceRoundTrip(t *testing.T) {
	store := &memoryStore{}
	live := NewStaticSource()
	live.Set("BTC/USDT", series(1, 2, 3))

	archiving := NewArchivingSource(live, store, zerolog.Nop())
	_, err := archiving.FetchCandles(context.Background(), "btcusdt", "1h", 3)
	require.NoError(t, err)

	offline := NewArchiveSource(store)
	candles, err := offline.FetchCandles(context.Background(), "BTC/USDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 3.0, candles[1].Close)

	_, err = offline.FetchCandles(context.Background(), "ETH/USDT", "1h", 2)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
}

func TestArchiveSourcePriceFallsBackAcrossTimeframes(t *testing.T) {
	store := &memoryStore{}
	require.NoError(t, store.SaveCandles(context.Background(), "BTC/USDT", "4h", series(10, 11, 12)))

	offline := NewArchiveSource(store)
	price, err := LastPrice(context.Background(), offline, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 12.0, price)

	_, err = offline.FetchCandles(context.Background(), "BTC/USDT", "1h", 50)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable, "a full series request must not fall back")

	_, err = LastPrice(context.Background(), offline, "ETH/USDT")
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
}
