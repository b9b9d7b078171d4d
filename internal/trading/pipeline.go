package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trinity-trader/internal/agents"
	"trinity-trader/internal/analysis"
	"trinity-trader/internal/analysis/scoring"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/logging"
	"trinity-trader/internal/models"
	"trinity-trader/internal/verifier"
	"trinity-trader/pkg/utils"
)

// Analysis outcomes, used for the decision summary and metrics labels.
const (
	OutcomeTraded   = "traded"
	OutcomeBlocked  = "blocked"
	OutcomeNoTrade  = "no_trade"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// ConsensusLog persists panel results for audit.
type ConsensusLog interface {
	SaveConsensus(ctx context.Context, result *models.ConsensusResult) error
}

// PipelineConfig holds the orchestration settings.
type PipelineConfig struct {
	Concurrency int
}

// Pipeline chains verification, scoring, consensus and execution for one
// symbol at a time.
type Pipeline struct {
	verifier  *verifier.Verifier
	scorer    *scoring.ConfluenceScorer
	consensus *agents.Engine
	executor  *Executor
	audit     ConsensusLog
	observer  Observer
	logger    zerolog.Logger
	cfg       PipelineConfig
	now       func() time.Time
}

// NewPipeline creates a decision pipeline. audit and observer may be nil.
func NewPipeline(
	v *verifier.Verifier,
	scorer *scoring.ConfluenceScorer,
	consensus *agents.Engine,
	executor *Executor,
	audit ConsensusLog,
	observer Observer,
	cfg PipelineConfig,
	logger zerolog.Logger,
) *Pipeline {
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		verifier:  v,
		scorer:    scorer,
		consensus: consensus,
		executor:  executor,
		audit:     audit,
		observer:  observer,
		logger:    logging.WithOperation(logger, "pipeline"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Gate is the final trade decision before execution.
type Gate struct {
	Passed  bool     `json:"passed"`
	Action  string   `json:"action"`
	Reasons []string `json:"reasons,omitempty"`
}

// Decision is the full record of one symbol's analysis.
type Decision struct {
	Symbol       string                       `json:"symbol"`
	Timeframe    string                       `json:"timeframe"`
	Outcome      string                       `json:"outcome"`
	Verification *analysis.VerificationReport `json:"verification"`
	Confluence   *analysis.ConfluenceResult   `json:"confluence,omitempty"`
	Consensus    *models.ConsensusResult      `json:"consensus,omitempty"`
	Gate         Gate                         `json:"gate"`
	Execution    *OpenOutcome                 `json:"execution,omitempty"`
	Rationale    string                       `json:"rationale,omitempty"`
	AnalyzedAt   time.Time                    `json:"analyzed_at"`
}

// Tradeable reports whether the gate passed.
func (d *Decision) Tradeable() bool {
	return d != nil && d.Gate.Passed
}

// Analyze runs verify, score, consensus and gate for one symbol and opens
// a trade when the gate passes. A rejected verification stops the symbol
// and is returned as the error together with the partial decision.
func (p *Pipeline) Analyze(ctx context.Context, symbol, timeframe string) (*Decision, error) {
	start := p.now()
	symbol = utils.NormalizeSymbol(symbol)
	log := logging.WithSymbol(p.logger, symbol)

	decision := &Decision{
		Symbol:     symbol,
		Timeframe:  timeframe,
		AnalyzedAt: start.UTC(),
		Gate:       Gate{Action: string(models.SignalWait)},
	}
	defer func() {
		p.observer.SymbolAnalyzed(decision.Outcome, p.now().Sub(start))
	}()

	report := p.verifier.Verify(ctx, symbol, timeframe, nil)
	decision.Verification = report
	if !report.Verified() {
		decision.Outcome = OutcomeRejected
		err := report.Err
		if err == nil {
			err = fmt.Errorf("%w: %s", apperrors.ErrVerificationMismatch, report.Error)
		}
		return decision, err
	}

	assessment := report.Assessment
	confluence := p.scorer.Score(assessment)
	decision.Confluence = confluence

	consensus := p.consensus.Run(ctx, agents.Snapshot{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Assessment: assessment,
		Confluence: confluence,
	})
	decision.Consensus = consensus
	p.observer.ConsensusReached(consensus)
	if p.audit != nil {
		if err := p.audit.SaveConsensus(ctx, consensus); err != nil {
			log.Warn().Err(err).Msg("Failed to save consensus")
		}
	}

	decision.Gate = p.gate(assessment, confluence, consensus)
	if !decision.Gate.Passed {
		decision.Outcome = OutcomeNoTrade
		log.Info().
			Strs("reasons", decision.Gate.Reasons).
			Msg("No trade")
		return decision, nil
	}

	action, _ := models.ActionFromSignal(consensus.Signal)
	decision.Rationale = Rationale(consensus, confluence, assessment)

	justification, err := json.Marshal(struct {
		Assessment *analysis.RegimeAssessment `json:"assessment"`
		Confluence *analysis.ConfluenceResult `json:"confluence"`
		Consensus  *models.ConsensusResult    `json:"consensus"`
	}{assessment, confluence, consensus})
	if err != nil {
		decision.Outcome = OutcomeFailed
		return decision, fmt.Errorf("encoding justification: %w", err)
	}

	outcome, err := p.executor.Open(ctx, OpenRequest{
		Symbol:        symbol,
		Action:        action,
		Price:         assessment.Indicators.Price,
		Rationale:     decision.Rationale,
		Justification: justification,
	})
	if err != nil {
		decision.Outcome = OutcomeFailed
		return decision, err
	}
	decision.Execution = &outcome
	if outcome.Allowed {
		decision.Outcome = OutcomeTraded
	} else {
		decision.Outcome = OutcomeBlocked
	}
	return decision, nil
}

// gate requires an allowed regime, a score at threshold and a directional
// consensus that should trade.
func (p *Pipeline) gate(a *analysis.RegimeAssessment, c *analysis.ConfluenceResult, r *models.ConsensusResult) Gate {
	var reasons []string
	if !a.TradeAllowed {
		reasons = append(reasons, "Regime does not allow trading: "+strings.Join(a.Reasons, "; "))
	}
	if c.Score < p.scorer.Threshold() {
		reasons = append(reasons, fmt.Sprintf("Confluence %d below threshold %d", c.Score, p.scorer.Threshold()))
	}
	if !r.ShouldTrade {
		reasons = append(reasons, "Consensus: "+r.Reasoning)
	} else if !r.Signal.Directional() {
		reasons = append(reasons, "Consensus signal is not directional")
	}

	g := Gate{Passed: len(reasons) == 0, Action: string(models.SignalWait), Reasons: reasons}
	if g.Passed {
		g.Action = string(r.Signal)
	}
	return g
}

// Rationale renders the pipe-joined trade summary.
func Rationale(r *models.ConsensusResult, c *analysis.ConfluenceResult, a *analysis.RegimeAssessment) string {
	rsi, adx := "n/a", "n/a"
	if a.Indicators != nil {
		if a.Indicators.RSI != nil {
			rsi = fmt.Sprintf("%.1f", *a.Indicators.RSI)
		}
		if a.Indicators.ADX != nil {
			adx = fmt.Sprintf("%.1f", a.Indicators.ADX.ADX)
		}
	}
	parts := []string{
		"Ensemble voted " + string(r.Signal),
		fmt.Sprintf("with %.0f%% agreement", r.AgreementRatio*100),
		fmt.Sprintf("Confluence: %d%%", c.Score),
		"Regime: " + string(a.Regime),
		"RSI: " + rsi,
		"ADX: " + adx,
	}
	return strings.Join(parts, " | ")
}

// SymbolResult is one symbol's entry in a scan.
type SymbolResult struct {
	Symbol   string    `json:"symbol"`
	Decision *Decision `json:"decision,omitempty"`
	Error    string    `json:"error,omitempty"`
	Err      error     `json:"-"`
}

// ScanReport aggregates a batch of analyses.
type ScanReport struct {
	Timeframe string          `json:"timeframe"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Results   []SymbolResult  `json:"results"`
	Tradeable []string        `json:"tradeable"`
	Opened    []*models.Trade `json:"opened,omitempty"`
	Failed    []string        `json:"failed,omitempty"`
}

// Confluence returns the confluence results of every verified symbol.
func (r *ScanReport) Confluence() []*analysis.ConfluenceResult {
	var out []*analysis.ConfluenceResult
	for _, res := range r.Results {
		if res.Decision != nil && res.Decision.Confluence != nil {
			out = append(out, res.Decision.Confluence)
		}
	}
	return out
}

// TopSignals returns the best actionable confluence results.
func (r *ScanReport) TopSignals(limit int) []*analysis.ConfluenceResult {
	return scoring.TopSignals(r.Confluence(), limit)
}

// DataUnavailable reports whether market data could not be fetched for
// any symbol.
func (r *ScanReport) DataUnavailable() bool {
	for _, res := range r.Results {
		if errors.Is(res.Err, apperrors.ErrDataUnavailable) {
			return true
		}
	}
	return false
}

// Scan analyzes symbols in order, or concurrently when configured. A
// failing symbol is recorded and the batch continues. Cancelling ctx stops
// the batch between symbols.
func (p *Pipeline) Scan(ctx context.Context, symbols []string, timeframe string) (*ScanReport, error) {
	start := p.now()
	results := make([]SymbolResult, len(symbols))

	analyze := func(i int) {
		d, err := p.Analyze(ctx, symbols[i], timeframe)
		results[i] = SymbolResult{Symbol: utils.NormalizeSymbol(symbols[i]), Decision: d, Err: err}
		if err != nil {
			results[i].Error = err.Error()
			p.logger.Warn().Err(err).Str("symbol", results[i].Symbol).Msg("Symbol analysis failed")
		}
	}

	var scanErr error
	if p.cfg.Concurrency <= 1 {
		for i := range symbols {
			if err := ctx.Err(); err != nil {
				scanErr = err
				results = results[:i]
				break
			}
			analyze(i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)
		done := make([]bool, len(symbols))
		for i := range symbols {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				analyze(i)
				done[i] = true
				return nil
			})
		}
		_ = g.Wait()
		scanErr = ctx.Err()
		kept := results[:0]
		for i, r := range results {
			if done[i] {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	report := &ScanReport{
		Timeframe: timeframe,
		StartedAt: start.UTC(),
		Results:   results,
	}
	for _, r := range results {
		if r.Err != nil {
			report.Failed = append(report.Failed, r.Symbol)
			continue
		}
		if r.Decision.Tradeable() {
			report.Tradeable = append(report.Tradeable, r.Symbol)
		}
		if ex := r.Decision.Execution; ex != nil && ex.Trade != nil {
			report.Opened = append(report.Opened, ex.Trade)
		}
	}
	report.Duration = p.now().Sub(start)

	p.logger.Info().
		Int("symbols", len(results)).
		Int("tradeable", len(report.Tradeable)).
		Int("opened", len(report.Opened)).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("Scan complete")

	return report, scanErr
}
