// Package verifier recomputes indicators from raw candles, checks claimed
// values against them and classifies the market regime. It never scores
// or trades.
package verifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/analysis/indicators"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/logging"
	"trinity-trader/internal/market"
	"trinity-trader/pkg/utils"
)

// DefaultCandles is the number of candles fetched per verification.
const DefaultCandles = 200

// Config holds verifier settings.
type Config struct {
	Tolerances Tolerances
	Regime     RegimeConfig
	Candles    int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Tolerances: DefaultTolerances(),
		Regime:     DefaultRegimeConfig(),
		Candles:    DefaultCandles,
	}
}

// Verifier is the anti-hallucination gate in front of scoring.
type Verifier struct {
	source market.Source
	engine *indicators.Engine
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a verifier reading candles from source.
func New(source market.Source, engine *indicators.Engine, cfg Config, logger zerolog.Logger) *Verifier {
	if engine == nil {
		engine = indicators.NewDefaultEngine()
	}
	if cfg.Candles <= 0 {
		cfg.Candles = DefaultCandles
	}
	return &Verifier{
		source: source,
		engine: engine,
		cfg:    cfg,
		logger: logger.With().Str("component", "verifier").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the assessment timestamp source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Assess fetches candles and returns the regime assessment.
func (v *Verifier) Assess(ctx context.Context, symbol, timeframe string) (*analysis.RegimeAssessment, error) {
	symbol = utils.NormalizeSymbol(symbol)

	candles, err := v.source.FetchCandles(ctx, symbol, timeframe, v.cfg.Candles)
	if err != nil {
		return nil, err
	}

	set, err := v.engine.Compute(ctx, candles)
	if err != nil {
		return nil, apperrors.NewDataError(v.source.Name(), symbol, "failed to compute indicators", err)
	}

	regime, allowed, reasons := Classify(set, v.cfg.Regime)
	return &analysis.RegimeAssessment{
		Symbol:       symbol,
		Timeframe:    timeframe,
		Regime:       regime,
		Indicators:   set,
		TradeAllowed: allowed,
		Reasons:      reasons,
		AssessedAt:   v.now().UTC(),
	}, nil
}

// Verify checks claims against freshly computed indicators. Every claim
// must hold for the report to be VERIFIED; unknown metrics and claims on
// absent indicators are rejected. A fetch failure yields a REJECTED report
// with no assessment.
func (v *Verifier) Verify(ctx context.Context, symbol, timeframe string, claims map[string]float64) *analysis.VerificationReport {
	symbol = utils.NormalizeSymbol(symbol)
	log := logging.WithSymbol(v.logger, symbol)

	report := &analysis.VerificationReport{
		Symbol:    symbol,
		Timeframe: timeframe,
		Status:    analysis.StatusRejected,
	}

	assessment, err := v.Assess(ctx, symbol, timeframe)
	if err != nil {
		report.Error = "Failed to fetch data: " + err.Error()
		report.Err = err
		logging.LogVerification(log, symbol, string(report.Status), []string{report.Error})
		return report
	}
	report.Assessment = assessment

	metrics := make([]string, 0, len(claims))
	for m := range claims {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var mismatches []string
	for _, metric := range metrics {
		verdict := v.check(assessment.Indicators, metric, claims[metric])
		if verdict.Status == analysis.StatusRejected {
			mismatches = append(mismatches, fmt.Sprintf("%s: %s", metric, verdict.Message))
		}
		report.Verdicts = append(report.Verdicts, verdict)
	}

	if len(mismatches) > 0 {
		report.Err = apperrors.NewVerificationError(symbol, mismatches)
		report.Error = report.Err.Error()
	} else {
		report.Status = analysis.StatusVerified
	}

	logging.LogVerification(log, symbol, string(report.Status), mismatches)
	return report
}

func (v *Verifier) check(set *analysis.IndicatorSet, metric string, claimed float64) analysis.MetricVerdict {
	verdict := analysis.MetricVerdict{
		Metric:  metric,
		Claimed: claimed,
		Status:  analysis.StatusRejected,
	}

	kind := kindOf(metric)
	if kind == kindUnknown {
		verdict.Message = "unknown metric"
		return verdict
	}
	actual, ok := lookup(set, metric)
	if !ok {
		verdict.Message = "indicator unavailable"
		return verdict
	}

	verdict.Actual = &actual
	verdict.Tolerance = v.cfg.Tolerances.tolerance(kind, actual)

	diff := math.Abs(claimed - actual)
	if math.IsNaN(diff) || diff >= verdict.Tolerance {
		verdict.Message = fmt.Sprintf("claimed %g, actual %g (tolerance %g)", claimed, actual, verdict.Tolerance)
		return verdict
	}
	verdict.Status = analysis.StatusVerified
	return verdict
}
