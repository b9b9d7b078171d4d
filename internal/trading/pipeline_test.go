package trading

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trinity-trader/internal/agents"
	"trinity-trader/internal/analysis"
	"trinity-trader/internal/analysis/scoring"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/market"
	"trinity-trader/internal/models"
	"trinity-trader/internal/verifier"
)

// uptrend rises one point per bar with a fixed two-point range, which
// gives a bullish trend cross, ADX far above 35 and a close inside the
// bands.
func uptrend(n int, start float64) []models.Candle {
	from := fixedNow.Add(-time.Duration(n) * 4 * time.Hour)
	out := make([]models.Candle, n)
	for i := range out {
		c := start + float64(i)
		out[i] = models.Candle{
			Timestamp: from.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

type fixedVoter struct {
	id         string
	signal     models.Signal
	confidence float64
}

func (v fixedVoter) ID() string { return v.id }

func (v fixedVoter) CastVote(ctx context.Context, snap agents.Snapshot) (models.Vote, error) {
	return models.Vote{
		VoterID:    v.id,
		Model:      "fixed",
		Signal:     v.signal,
		Confidence: v.confidence,
		Rationale:  "fixed opinion",
	}, nil
}

func panelOf(signal models.Signal, confidence float64) []agents.Voter {
	var voters []agents.Voter
	for _, id := range []string{"atlas", "nova", "orion", "flash"} {
		voters = append(voters, fixedVoter{id: id, signal: signal, confidence: confidence})
	}
	return voters
}

type memoryAudit struct {
	mu      sync.Mutex
	results []*models.ConsensusResult
}

func (m *memoryAudit) SaveConsensus(ctx context.Context, r *models.ConsensusResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

type pipelineFixture struct {
	source   *market.StaticSource
	executor *Executor
	audit    *memoryAudit
	pipeline *Pipeline
}

// trendScorer weights the trend term heavily so a clean uptrend clears the
// default threshold of 70.
func trendScorer() *scoring.ConfluenceScorer {
	w := scoring.DefaultWeights()
	w.TrendBullish = 50
	return scoring.NewConfluenceScorerWithWeights(w, scoring.DefaultThreshold)
}

func newFixture(t *testing.T, voters []agents.Voter, concurrency int) *pipelineFixture {
	t.Helper()
	src := market.NewStaticSource()
	v := verifier.New(src, nil, verifier.DefaultConfig(), zerolog.Nop())
	engine := agents.NewEngine(voters, agents.DefaultEngineConfig(), zerolog.Nop())
	exec := newTestExecutor(t, DefaultRiskConfig(), nil)
	audit := &memoryAudit{}

	return &pipelineFixture{
		source:   src,
		executor: exec,
		audit:    audit,
		pipeline: NewPipeline(v, trendScorer(), engine, exec, audit, nil,
			PipelineConfig{Concurrency: concurrency}, zerolog.Nop()),
	}
}

func TestAnalyzeOpensLongOnUnanimousPanel(t *testing.T) {
	f := newFixture(t, panelOf(models.SignalLong, 80), 1)
	f.source.Set("BTC/USDT", uptrend(200, 100))

	d, err := f.pipeline.Analyze(context.Background(), "BTC/USDT", "4h")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if d.Confluence.Status != analysis.StatusLongSignal || d.Confluence.Score < 70 {
		t.Fatalf("confluence = %s %d, want LONG_SIGNAL >= 70 (%v)", d.Confluence.Status, d.Confluence.Score, d.Confluence.Breakdown)
	}
	if !d.Consensus.ShouldTrade || d.Consensus.AgreementRatio != 1 {
		t.Fatalf("consensus = %+v", d.Consensus)
	}
	if !d.Tradeable() || d.Outcome != OutcomeTraded {
		t.Fatalf("decision = %s gate %+v", d.Outcome, d.Gate)
	}

	trade := d.Execution.Trade
	if trade == nil || trade.Action != models.ActionLong || !trade.IsOpen() {
		t.Fatalf("execution = %+v, want an open LONG", d.Execution)
	}
	if trade.EntryPrice != 299 {
		t.Errorf("EntryPrice = %v, want last close 299", trade.EntryPrice)
	}
	if !strings.HasPrefix(trade.Rationale, "Ensemble voted LONG | with 100% agreement | Confluence: ") ||
		!strings.Contains(trade.Rationale, "| Regime: trending |") {
		t.Errorf("Rationale = %q", trade.Rationale)
	}

	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(trade.Justification, &snapshot); err != nil {
		t.Fatalf("justification is not JSON: %v", err)
	}
	for _, key := range []string{"assessment", "confluence", "consensus"} {
		if _, ok := snapshot[key]; !ok {
			t.Errorf("justification missing %q", key)
		}
	}

	if len(f.audit.results) != 1 || f.audit.results[0].Symbol != "BTC/USDT" {
		t.Errorf("audit = %+v, want one BTC/USDT entry", f.audit.results)
	}
	if len(f.executor.OpenTrades()) != 1 {
		t.Errorf("executor holds %d open trades, want 1", len(f.executor.OpenTrades()))
	}
}

func TestAnalyzeNoTradeWithoutConsensus(t *testing.T) {
	voters := []agents.Voter{
		fixedVoter{"atlas", models.SignalLong, 80},
		fixedVoter{"nova", models.SignalLong, 80},
		fixedVoter{"orion", models.SignalWait, 40},
		fixedVoter{"flash", models.SignalShort, 70},
	}
	f := newFixture(t, voters, 1)
	f.source.Set("BTC/USDT", uptrend(200, 100))

	d, err := f.pipeline.Analyze(context.Background(), "BTC/USDT", "4h")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if d.Tradeable() || d.Outcome != OutcomeNoTrade || d.Execution != nil {
		t.Errorf("decision = %s %+v, want no trade", d.Outcome, d.Gate)
	}
	if d.Gate.Action != string(models.SignalWait) {
		t.Errorf("gate action = %s, want WAIT", d.Gate.Action)
	}
	if len(f.executor.Trades()) != 0 {
		t.Error("trade opened without consensus")
	}
}

func TestAnalyzeBlockedByRisk(t *testing.T) {
	f := newFixture(t, panelOf(models.SignalLong, 90), 1)
	f.source.Set("BTC/USDT", uptrend(200, 100))

	for i := 0; i < 3; i++ {
		trade := mustOpen(t, f.executor, "ETH/USDT", models.ActionLong, 100)
		mustClose(t, f.executor, trade.ID, 99)
	}

	d, err := f.pipeline.Analyze(context.Background(), "BTC/USDT", "4h")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if d.Outcome != OutcomeBlocked || d.Execution == nil || d.Execution.Allowed {
		t.Errorf("decision = %s %+v, want blocked", d.Outcome, d.Execution)
	}
}

func TestAnalyzeFetchFailureStopsSymbol(t *testing.T) {
	f := newFixture(t, panelOf(models.SignalLong, 80), 1)
	f.source.Fail("BTC/USDT", errors.New("connection refused"))

	d, err := f.pipeline.Analyze(context.Background(), "BTC/USDT", "4h")
	if !errors.Is(err, apperrors.ErrDataUnavailable) {
		t.Fatalf("Analyze() error = %v, want ErrDataUnavailable", err)
	}
	if d.Outcome != OutcomeRejected || d.Consensus != nil || d.Confluence != nil {
		t.Errorf("decision = %+v, later stages must not run", d)
	}
	if len(f.audit.results) != 0 {
		t.Error("consensus recorded for a rejected symbol")
	}
}

func TestScanContinuesPastFailures(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		f := newFixture(t, panelOf(models.SignalLong, 80), concurrency)
		f.source.Set("BTC/USDT", uptrend(200, 100))
		f.source.Set("ETH/USDT", uptrend(200, 50))
		f.source.Fail("XRP/USDT", errors.New("timeout"))

		report, err := f.pipeline.Scan(context.Background(), []string{"BTC/USDT", "XRP/USDT", "ETH/USDT"}, "4h")
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if len(report.Results) != 3 {
			t.Fatalf("concurrency %d: results = %d, want 3", concurrency, len(report.Results))
		}
		if report.Results[1].Symbol != "XRP/USDT" || report.Results[1].Err == nil {
			t.Errorf("concurrency %d: results out of order or failure lost: %+v", concurrency, report.Results[1])
		}
		if len(report.Failed) != 1 || report.Failed[0] != "XRP/USDT" {
			t.Errorf("concurrency %d: Failed = %v", concurrency, report.Failed)
		}
		if len(report.Tradeable) != 2 || len(report.Opened) != 2 {
			t.Errorf("concurrency %d: tradeable %v opened %d", concurrency, report.Tradeable, len(report.Opened))
		}
		if !report.DataUnavailable() {
			t.Errorf("concurrency %d: DataUnavailable() = false", concurrency)
		}
		if top := report.TopSignals(5); len(top) != 2 {
			t.Errorf("concurrency %d: TopSignals = %d, want 2", concurrency, len(top))
		}
	}
}

func TestScanStopsWhenCancelled(t *testing.T) {
	f := newFixture(t, panelOf(models.SignalLong, 80), 1)
	f.source.Set("BTC/USDT", uptrend(200, 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.pipeline.Scan(ctx, []string{"BTC/USDT", "ETH/USDT"}, "4h")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("results = %d, want none after cancellation", len(report.Results))
	}
}

func TestRationale(t *testing.T) {
	rsi := 25.0
	got := Rationale(
		&models.ConsensusResult{Signal: models.SignalLong, AgreementRatio: 1},
		&analysis.ConfluenceResult{Score: 85},
		&analysis.RegimeAssessment{
			Regime: analysis.RegimeTrending,
			Indicators: &analysis.IndicatorSet{
				RSI: &rsi,
				ADX: &analysis.ADXValue{ADX: 40},
			},
		},
	)
	want := "Ensemble voted LONG | with 100% agreement | Confluence: 85% | Regime: trending | RSI: 25.0 | ADX: 40.0"
	if got != want {
		t.Errorf("Rationale() = %q\nwant %q", got, want)
	}
}
