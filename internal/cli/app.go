package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trinity-trader/internal/agents"
	"trinity-trader/internal/analysis/mtf"
	"trinity-trader/internal/analysis/scoring"
	"trinity-trader/internal/config"
	"trinity-trader/internal/market"
	"trinity-trader/internal/metrics"
	"trinity-trader/internal/notify"
	"trinity-trader/internal/store"
	"trinity-trader/internal/trading"
	"trinity-trader/internal/verifier"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Store     *store.SQLiteStore
	Metrics   *metrics.Recorder
	Source    market.Source
	Verifier  *verifier.Verifier
	Scorer    *scoring.ConfluenceScorer
	Engine    *agents.Engine
	Executor  *trading.Executor
	Pipeline  *trading.Pipeline
	Alignment *mtf.Analyzer

	cache    *market.CachedSource
	notifier *notify.Dispatcher
	ready    bool
}

// Open builds the pipeline from the configuration. It is called by every
// command that touches market data or the ledger and is a no-op once it
// has succeeded.
func (a *App) Open(ctx context.Context) error {
	if a.ready {
		return nil
	}
	cfg := a.Config

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.Store = st
	a.Logger.Debug().Str("path", cfg.Storage.Path).Msg("SQLite store initialized")

	a.Metrics = metrics.New(cfg.Metrics.Namespace)
	a.Source = a.buildSource(ctx)
	a.Alignment = mtf.NewAnalyzer(a.Source, mtf.DefaultConfig(), a.Logger)

	var observer trading.Observer = a.Metrics
	if cfg.Notify.Enabled {
		a.notifier, err = a.buildNotifier()
		if err != nil {
			a.Close()
			return fmt.Errorf("building notifier: %w", err)
		}
		observer = trading.Observers{a.Metrics, a.notifier}
	}

	a.Verifier = verifier.New(a.Source, nil, verifier.Config{
		Tolerances: verifier.Tolerances{
			RSI:      cfg.Verification.RSITolerance,
			ADX:      cfg.Verification.ADXTolerance,
			MACD:     cfg.Verification.MACDTolerance,
			Width:    cfg.Verification.WidthTolerance,
			PricePct: cfg.Verification.PriceTolerancePct,
		},
		Regime: verifier.RegimeConfig{
			TrendingADX:  cfg.Regime.TrendingADX,
			RangingWidth: cfg.Regime.RangingWidth,
			WeakADX:      cfg.Regime.WeakADX,
			SqueezeWidth: cfg.Regime.SqueezeWidth,
		},
		Candles: cfg.Market.Candles,
	}, a.Logger)

	a.Scorer = scoring.NewConfluenceScorerWithWeights(scoringWeights(cfg.Scoring), cfg.Scoring.Threshold)

	a.Engine, err = agents.NewEngineFromConfig(cfg.Consensus, cfg.Credentials.OpenAI, a.Logger)
	if err != nil {
		a.Close()
		return fmt.Errorf("building voter panel: %w", err)
	}
	a.Logger.Debug().Int("voters", len(a.Engine.Voters())).Msg("Consensus panel initialized")

	a.Executor, err = trading.NewExecutor(ctx, trading.RiskConfig{
		InitialCapital:       cfg.Risk.InitialCapital,
		MaxPositionPercent:   cfg.Risk.MaxPositionPercent,
		MaxDrawdownPercent:   cfg.Risk.MaxDrawdownPercent,
		CircuitBreakerLosses: cfg.Risk.CircuitBreakerLosses,
		MaxOpenTrades:        cfg.Risk.MaxOpenTrades,
		StopLossPercent:      cfg.Risk.StopLossPercent,
		TakeProfitPercent:    cfg.Risk.TakeProfitPercent,

		TrailingPercent:           cfg.Risk.TrailingPercent,
		TrailingActivationPercent: cfg.Risk.TrailingActivationPercent,
	}, a.Store, a.Logger, trading.WithObserver(observer))
	if err != nil {
		a.Close()
		return fmt.Errorf("restoring ledger: %w", err)
	}

	a.Pipeline = trading.NewPipeline(a.Verifier, a.Scorer, a.Engine, a.Executor, a.Store, observer,
		trading.PipelineConfig{Concurrency: cfg.Scan.Concurrency}, a.Logger)

	a.ready = true
	return nil
}

// buildSource layers the feed decorators: instrumentation sits closest to
// the feed, then the resilience guard, the archive and the cache.
func (a *App) buildSource(ctx context.Context) market.Source {
	cfg := a.Config.Market

	var raw market.Source
	if cfg.Provider == "archive" {
		raw = market.NewArchiveSource(a.Store)
	} else {
		raw = market.NewBinanceSource(market.BinanceConfig{
			BaseURL:           cfg.BaseURL,
			Testnet:           cfg.Testnet,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}

	var src market.Source = market.NewResilientSource(a.Metrics.Instrument(raw), market.ResilientConfig{
		Timeout:         cfg.Timeout,
		MaxAttempts:     cfg.MaxAttempts,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
		OnStateChange:   a.Metrics.FeedStateChanged,
	}, a.Logger)

	if cfg.Archive && cfg.Provider != "archive" {
		src = market.NewArchivingSource(src, a.Store, a.Logger)
	}

	if cfg.Cache.Enabled {
		cached := market.NewCachedSource(src, market.CacheConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		}, a.Logger)
		if err := cached.Ping(ctx); err != nil {
			a.Logger.Warn().Err(err).Str("addr", cfg.Cache.Addr).Msg("Candle cache unreachable, fetches fall through")
		}
		a.cache = cached
		src = cached
	}

	a.Logger.Debug().Str("provider", cfg.Provider).Bool("archive", cfg.Archive).Bool("cache", cfg.Cache.Enabled).Msg("Market source initialized")
	return src
}

func (a *App) buildNotifier() (*notify.Dispatcher, error) {
	cfg := a.Config.Notify

	var channels []notify.Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.WebhookURL))
	}
	if cfg.TelegramChatID != "" {
		channels = append(channels, notify.NewTelegramChannel("", a.Config.Credentials.Telegram.BotToken, cfg.TelegramChatID))
	}
	if len(cfg.KafkaBrokers) > 0 {
		ch, err := notify.NewKafkaChannel(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	a.Logger.Debug().Int("channels", len(channels)).Str("level", cfg.Level).Msg("Notifications enabled")
	return notify.NewDispatcher(channels, notify.Config{
		Level:   notify.NotificationLevel(cfg.Level),
		Buffer:  cfg.Buffer,
		Timeout: cfg.Timeout,
	}, a.Logger), nil
}

// Close flushes pending notifications and releases the store and the cache
// connection.
func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Notify.Timeout+time.Second)
		if err := a.notifier.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Pending notifications abandoned")
		}
		cancel()
		stats := a.notifier.Stats()
		a.Logger.Debug().Int64("sent", stats.Sent).Int64("failed", stats.Failed).Int64("dropped", stats.Dropped).Msg("Notifier closed")
		a.notifier = nil
	}
	if a.cache != nil {
		stats := a.cache.Stats()
		a.Logger.Debug().Int64("hits", stats.Hits).Int64("misses", stats.Misses).Msg("Candle cache closed")
		errs = append(errs, a.cache.Close())
		a.cache = nil
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
		a.Store = nil
	}
	a.ready = false
	return errors.Join(errs...)
}

func scoringWeights(c config.ScoringConfig) scoring.Weights {
	return scoring.Weights{
		TrendBullish:    c.TrendBullish,
		TrendBearish:    c.TrendBearish,
		CrossBullish:    c.CrossBullish,
		CrossBearish:    c.CrossBearish,
		RSIOversold:     c.RSIOversold,
		RSIWeak:         c.RSIWeak,
		RSINeutral:      c.RSINeutral,
		RSIOverbought:   c.RSIOverbought,
		ADXStrong:       c.ADXStrong,
		ADXVeryStrong:   c.ADXVeryStrong,
		BandBelow:       c.BandBelow,
		BandInside:      c.BandInside,
		RangingPenalty:  c.RangingPenalty,
		VolatilePenalty: c.VolatilePenalty,

		ADXStrongAbove:     c.ADXStrongAbove,
		ADXVeryStrongAbove: c.ADXVeryStrongAbove,
	}
}
