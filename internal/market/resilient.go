package market

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/internal/resilience"
	"trinity-trader/pkg/utils"
)

// ResilientConfig controls the guard around a raw feed.
type ResilientConfig struct {
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	OnStateChange   func(name string, from, to resilience.CircuitState)
}

// ResilientSource bounds each fetch with a timeout, retries transient
// failures and stops calling the feed while its circuit is open. Every
// failure it returns is a DataError.
type ResilientSource struct {
	inner   Source
	breaker *resilience.CircuitBreaker
	retry   utils.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewResilientSource wraps inner.
func NewResilientSource(inner Source, cfg ResilientConfig, logger zerolog.Logger) *ResilientSource {
	retry := utils.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}
	retry.Retryable = transient

	bc := resilience.DefaultConfig()
	if cfg.BreakerFailures > 0 {
		bc.FailureThreshold = cfg.BreakerFailures
	}
	if cfg.BreakerCooldown > 0 {
		bc.Cooldown = cfg.BreakerCooldown
	}
	bc.IsFailure = countsAgainstFeed
	bc.OnStateChange = cfg.OnStateChange

	return &ResilientSource{
		inner:   inner,
		breaker: resilience.NewCircuitBreaker(inner.Name(), bc),
		retry:   retry,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "market").Str("source", inner.Name()).Logger(),
	}
}

func (s *ResilientSource) Name() string { return s.inner.Name() }

// Breaker exposes the feed circuit for status reporting.
func (s *ResilientSource) Breaker() *resilience.CircuitBreaker { return s.breaker }

func (s *ResilientSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	attempt := 0
	candles, err := utils.RetryWithResult(ctx, s.retry, func() ([]models.Candle, error) {
		attempt++
		candles, err := resilience.Execute(ctx, s.breaker, func(ctx context.Context) ([]models.Candle, error) {
			if s.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			return s.inner.FetchCandles(ctx, symbol, timeframe, limit)
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("Candle fetch failed")
		}
		return candles, err
	})
	if err != nil {
		var dataErr *apperrors.DataError
		if errors.As(err, &dataErr) {
			return nil, err
		}
		return nil, apperrors.NewDataError(s.Name(), symbol, "Failed to fetch data", err)
	}
	if len(candles) == 0 {
		return nil, apperrors.NewDataError(s.Name(), symbol, "empty candle series", nil)
	}
	return candles, nil
}

// transient reports whether another attempt could succeed.
func transient(err error) bool {
	return countsAgainstFeed(err) && !errors.Is(err, resilience.ErrCircuitOpen)
}

// countsAgainstFeed excludes caller mistakes from the breaker's failure count.
func countsAgainstFeed(err error) bool {
	var validation *apperrors.ValidationError
	switch {
	case errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, apperrors.ErrInvalidTimeframe),
		errors.Is(err, context.Canceled),
		errors.As(err, &validation):
		return false
	}
	return true
}
