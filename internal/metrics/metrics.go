// Package metrics exports pipeline, feed and ledger metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trinity-trader/internal/market"
	"trinity-trader/internal/models"
	"trinity-trader/internal/resilience"
)

// Recorder implements trading.Observer using Prometheus. Each Recorder owns
// its registry so several can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	analyses     *prometheus.CounterVec
	analysisTime prometheus.Histogram
	consensus    *prometheus.CounterVec
	agreement    prometheus.Histogram
	tradesOpened *prometheus.CounterVec
	tradesClosed *prometheus.CounterVec
	realizedLoss prometheus.Counter
	blocked      *prometheus.CounterVec
	capital      prometheus.Gauge
	peakCapital  prometheus.Gauge
	drawdown     prometheus.Gauge
	lossStreak   prometheus.Gauge
	breaker      prometheus.Gauge
	fetches      *prometheus.CounterVec
	fetchTime    *prometheus.HistogramVec
	feedCircuit  *prometheus.GaugeVec
}

// New creates a recorder whose metric names start with namespace.
func New(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "analyses_total",
			Help:      "Symbol analyses by outcome",
		}, []string{"outcome"}),
		analysisTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "analysis_duration_seconds",
			Help:      "Duration of one symbol analysis",
			Buckets:   prometheus.DefBuckets,
		}),
		consensus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "results_total",
			Help:      "Panel results by signal and trade decision",
		}, []string{"signal", "should_trade"}),
		agreement: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "agreement_ratio",
			Help:      "Share of voters agreeing with the majority",
			Buckets:   []float64{0.25, 0.5, 0.75, 1},
		}),
		tradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_opened_total",
			Help:      "Paper trades opened",
		}, []string{"symbol", "action"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_closed_total",
			Help:      "Paper trades closed by result and reason",
		}, []string{"result", "reason"}),
		realizedLoss: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "realized_loss_total",
			Help:      "Absolute realized losses",
		}),
		blocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_blocked_total",
			Help:      "Opens refused by risk rule",
		}, []string{"rule"}),
		capital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "capital",
			Help:      "Current paper capital",
		}),
		peakCapital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "peak_capital",
			Help:      "Highest paper capital reached",
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "drawdown_percent",
			Help:      "Current drawdown from peak capital",
		}),
		lossStreak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "consecutive_losses",
			Help:      "Current losing streak",
		}),
		breaker: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "circuit_breaker_active",
			Help:      "1 while the loss circuit breaker blocks new trades",
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "fetches_total",
			Help:      "Candle fetches by source and result",
		}, []string{"source", "result"}),
		fetchTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "fetch_duration_seconds",
			Help:      "Candle fetch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		feedCircuit: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "circuit_state",
			Help:      "Feed circuit state (0 closed, 1 half-open, 2 open)",
		}, []string{"source"}),
	}
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) TradeOpened(symbol string, action models.Action) {
	r.tradesOpened.WithLabelValues(symbol, string(action)).Inc()
}

func (r *Recorder) TradeClosed(symbol, reason string, pnl float64) {
	result := "breakeven"
	switch {
	case pnl > 0:
		result = "win"
	case pnl < 0:
		result = "loss"
		r.realizedLoss.Add(-pnl)
	}
	r.tradesClosed.WithLabelValues(result, reason).Inc()
}

func (r *Recorder) TradeBlocked(rule string) {
	r.blocked.WithLabelValues(rule).Inc()
}

func (r *Recorder) CapitalChanged(state models.RiskState) {
	r.capital.Set(state.Capital)
	r.peakCapital.Set(state.PeakCapital)
	r.drawdown.Set(state.RealizedDrawdownPct)
	r.lossStreak.Set(float64(state.ConsecutiveLosses))
	if state.CircuitBreakerActive {
		r.breaker.Set(1)
	} else {
		r.breaker.Set(0)
	}
}

func (r *Recorder) ConsensusReached(result *models.ConsensusResult) {
	if result == nil {
		return
	}
	should := "false"
	if result.ShouldTrade {
		should = "true"
	}
	r.consensus.WithLabelValues(string(result.Signal), should).Inc()
	r.agreement.Observe(result.AgreementRatio)
}

func (r *Recorder) SymbolAnalyzed(outcome string, elapsed time.Duration) {
	r.analyses.WithLabelValues(outcome).Inc()
	r.analysisTime.Observe(elapsed.Seconds())
}

// FeedStateChanged records a feed circuit transition. It matches the
// resilience.Config OnStateChange signature.
func (r *Recorder) FeedStateChanged(name string, _, to resilience.CircuitState) {
	var v float64
	switch to {
	case resilience.CircuitHalfOpen:
		v = 1
	case resilience.CircuitOpen:
		v = 2
	}
	r.feedCircuit.WithLabelValues(name).Set(v)
}

// InstrumentedSource records fetch counts and latency for a market source.
type InstrumentedSource struct {
	inner    market.Source
	recorder *Recorder
}

// Instrument wraps src.
func (r *Recorder) Instrument(src market.Source) *InstrumentedSource {
	return &InstrumentedSource{inner: src, recorder: r}
}

func (s *InstrumentedSource) Name() string { return s.inner.Name() }

func (s *InstrumentedSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	start := time.Now()
	candles, err := s.inner.FetchCandles(ctx, symbol, timeframe, limit)

	result := "ok"
	if err != nil {
		result = "error"
	}
	s.recorder.fetches.WithLabelValues(s.inner.Name(), result).Inc()
	s.recorder.fetchTime.WithLabelValues(s.inner.Name()).Observe(time.Since(start).Seconds())
	return candles, err
}

// Server exposes the registry over HTTP.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a /metrics server for r on addr.
func NewServer(addr string, r *Recorder, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Serving metrics")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
