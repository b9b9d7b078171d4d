package market

import (
	"context"

	"github.com/rs/zerolog"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/pkg/utils"
)

// CandleStore persists candle series.
type CandleStore interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	LatestCandle(ctx context.Context, symbol string) (*models.Candle, error)
}

// ArchivingSource records every successful fetch in a CandleStore.
type ArchivingSource struct {
	inner  Source
	store  CandleStore
	logger zerolog.Logger
}

// NewArchivingSource wraps inner.
func NewArchivingSource(inner Source, store CandleStore, logger zerolog.Logger) *ArchivingSource {
	return &ArchivingSource{inner: inner, store: store, logger: logger}
}

func (s *ArchivingSource) Name() string { return s.inner.Name() }

func (s *ArchivingSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := s.inner.FetchCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveCandles(ctx, utils.NormalizeSymbol(symbol), timeframe, candles); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to archive candles")
	}
	return candles, nil
}

// ArchiveSource replays candles previously archived to a CandleStore. A
// single-candle request for a timeframe that was never archived is served
// the newest candle of any timeframe, so price lookups work offline.
type ArchiveSource struct {
	store CandleStore
}

// NewArchiveSource creates an offline source.
func NewArchiveSource(store CandleStore) *ArchiveSource {
	return &ArchiveSource{store: store}
}

func (s *ArchiveSource) Name() string { return "archive" }

func (s *ArchiveSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if err := validateRequest(symbol, timeframe, limit); err != nil {
		return nil, err
	}
	symbol = utils.NormalizeSymbol(symbol)
	candles, err := s.store.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, apperrors.NewDataError(s.Name(), symbol, "archive read failed", err)
	}
	if len(candles) == 0 && limit == 1 {
		latest, err := s.store.LatestCandle(ctx, symbol)
		if err != nil {
			return nil, apperrors.NewDataError(s.Name(), symbol, "archive read failed", err)
		}
		if latest != nil {
			candles = []models.Candle{*latest}
		}
	}
	if len(candles) == 0 {
		return nil, apperrors.NewDataError(s.Name(), symbol, "no archived candles", nil)
	}
	return candles, nil
}
