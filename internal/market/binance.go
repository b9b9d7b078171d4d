package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/pkg/utils"
)

const (
	testnetBaseURL = "https://testnet.binance.vision"
	// maxKlines is the largest page the klines endpoint serves.
	maxKlines = 1000
	// codeInvalidSymbol is the exchange error code for an unknown pair.
	codeInvalidSymbol = -1121
)

// BinanceConfig configures the public klines client.
type BinanceConfig struct {
	BaseURL           string
	Testnet           bool
	Timeout           time.Duration
	RequestsPerSecond float64
}

// BinanceSource reads public spot klines. No API key is needed.
type BinanceSource struct {
	client  *binance.Client
	limiter *rate.Limiter
}

// NewBinanceSource creates a klines client.
func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := binance.NewClient("", "")
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.Testnet:
		client.BaseURL = testnetBaseURL
	}
	if cfg.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &BinanceSource{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (s *BinanceSource) Name() string { return "binance" }

// FetchCandles returns up to limit closed and in-progress candles.
func (s *BinanceSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if err := validateRequest(symbol, timeframe, limit); err != nil {
		return nil, err
	}
	if limit > maxKlines {
		limit = maxKlines
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pair := utils.ExchangeSymbol(symbol)
	klines, err := s.client.NewKlinesService().
		Symbol(pair).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, pair)
		}
		return nil, err
	}
	if len(klines) == 0 {
		return nil, apperrors.NewDataError(s.Name(), symbol, "empty kline response", nil)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := convertKline(k)
		if err != nil {
			return nil, apperrors.NewDataError(s.Name(), symbol, "malformed kline", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func convertKline(k *binance.Kline) (models.Candle, error) {
	if k == nil {
		return models.Candle{}, errors.New("nil kline")
	}
	var (
		c   models.Candle
		err error
	)
	c.Timestamp = time.UnixMilli(k.OpenTime).UTC()
	if c.Open, err = parseFloat("open", k.Open); err != nil {
		return c, err
	}
	if c.High, err = parseFloat("high", k.High); err != nil {
		return c, err
	}
	if c.Low, err = parseFloat("low", k.Low); err != nil {
		return c, err
	}
	if c.Close, err = parseFloat("close", k.Close); err != nil {
		return c, err
	}
	if c.Volume, err = parseFloat("volume", k.Volume); err != nil {
		return c, err
	}
	return c, nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return v, nil
}
