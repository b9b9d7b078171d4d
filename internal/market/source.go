// Package market fetches candle series from the exchange and layers retry,
// circuit breaking, caching and archiving on top of the raw feed.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/pkg/utils"
)

// ErrInvalidSymbol is returned when the exchange does not list a pair.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Source provides OHLCV candles, oldest first.
type Source interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

func validateRequest(symbol, timeframe string, limit int) error {
	if symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol is required")
	}
	if !utils.ValidInterval(timeframe) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidTimeframe, timeframe)
	}
	if limit <= 0 {
		return apperrors.NewValidationError("limit", fmt.Sprint(limit), "limit must be positive")
	}
	return nil
}

// LastPrice returns the close of the most recent one-minute candle.
func LastPrice(ctx context.Context, src Source, symbol string) (float64, error) {
	candles, err := src.FetchCandles(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, apperrors.NewDataError(src.Name(), symbol, "no recent price", nil)
	}
	return candles[len(candles)-1].Close, nil
}

// StaticSource serves fixed candle series. Symbols without a series fail
// with a DataError.
type StaticSource struct {
	mu      sync.RWMutex
	candles map[string][]models.Candle
	errs    map[string]error
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		candles: make(map[string][]models.Candle),
		errs:    make(map[string]error),
	}
}

// Set stores the series returned for symbol.
func (s *StaticSource) Set(symbol string, candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[utils.NormalizeSymbol(symbol)] = candles
}

// Fail makes every fetch for symbol return err.
func (s *StaticSource) Fail(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[utils.NormalizeSymbol(symbol)] = err
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if err := validateRequest(symbol, timeframe, limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := utils.NormalizeSymbol(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.errs[key]; ok {
		return nil, apperrors.NewDataError(s.Name(), key, "fetch failed", err)
	}
	candles, ok := s.candles[key]
	if !ok || len(candles) == 0 {
		return nil, apperrors.NewDataError(s.Name(), key, "no candles", nil)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, nil
}
