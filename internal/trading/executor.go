// Package trading provides the paper executor, exit handling, performance
// reporting and the per-symbol decision pipeline.
package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/logging"
	"trinity-trader/internal/models"
	"trinity-trader/internal/store"
	"trinity-trader/pkg/utils"
)

// Risk rule names used in refusal reasons and metrics labels.
const (
	RuleCircuitBreaker    = "circuit_breaker"
	RuleConsecutiveLosses = "consecutive_losses"
	RuleMaxOpenTrades     = "max_open_trades"
	RuleMaxDrawdown       = "max_drawdown"
)

const (
	sizeDecimals  = 2
	priceDecimals = 8
	pnlDecimals   = 2
	pctDecimals   = 4
)

// RiskConfig holds the executor limits.
type RiskConfig struct {
	InitialCapital       float64
	MaxPositionPercent   float64
	MaxDrawdownPercent   float64
	CircuitBreakerLosses int
	MaxOpenTrades        int
	StopLossPercent      float64
	TakeProfitPercent    float64

	// TrailingPercent is the trailing stop distance behind the best price.
	// Zero disables trailing.
	TrailingPercent float64

	// TrailingActivationPercent is the profit needed before the stop trails.
	TrailingActivationPercent float64
}

// DefaultRiskConfig returns the standard paper trading limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		InitialCapital:            10000,
		MaxPositionPercent:        5,
		MaxDrawdownPercent:        50,
		CircuitBreakerLosses:      3,
		MaxOpenTrades:             5,
		StopLossPercent:           2,
		TakeProfitPercent:         4,
		TrailingPercent:           1,
		TrailingActivationPercent: 0.5,
	}
}

// Observer receives executor and pipeline events. metrics.Recorder
// implements it.
type Observer interface {
	TradeOpened(symbol string, action models.Action)
	TradeClosed(symbol, reason string, pnl float64)
	TradeBlocked(rule string)
	CapitalChanged(state models.RiskState)
	ConsensusReached(result *models.ConsensusResult)
	SymbolAnalyzed(outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TradeOpened(string, models.Action) {}
func (nopObserver) TradeClosed(string, string, float64) {}
func (nopObserver) TradeBlocked(string) {}
func (nopObserver) CapitalChanged(models.RiskState) {}
func (nopObserver) ConsensusReached(*models.ConsensusResult) {}
func (nopObserver) SymbolAnalyzed(string, time.Duration) {}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (o Observers) TradeOpened(symbol string, action models.Action) {
	for _, ob := range o {
		ob.TradeOpened(symbol, action)
	}
}

func (o Observers) TradeClosed(symbol, reason string, pnl float64) {
	for _, ob := range o {
		ob.TradeClosed(symbol, reason, pnl)
	}
}

func (o Observers) TradeBlocked(rule string) {
	for _, ob := range o {
		ob.TradeBlocked(rule)
	}
}

func (o Observers) CapitalChanged(state models.RiskState) {
	for _, ob := range o {
		ob.CapitalChanged(state)
	}
}

func (o Observers) ConsensusReached(result *models.ConsensusResult) {
	for _, ob := range o {
		ob.ConsensusReached(result)
	}
}

func (o Observers) SymbolAnalyzed(outcome string, elapsed time.Duration) {
	for _, ob := range o {
		ob.SymbolAnalyzed(outcome, elapsed)
	}
}

// OpenRequest asks the executor to open a paper position.
type OpenRequest struct {
	Symbol        string
	Action        models.Action
	Price         float64
	Rationale     string
	Justification json.RawMessage
}

// OpenOutcome reports whether a trade was opened. A refusal is an outcome,
// not an error.
type OpenOutcome struct {
	Trade   *models.Trade `json:"trade,omitempty"`
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason"`
	Rule    string        `json:"rule,omitempty"`
}

// Executor is the risk-managed paper trading ledger. One mutex guards the
// risk state, the trade set and persistence.
type Executor struct {
	cfg      RiskConfig
	store    store.TradeStore
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	state  models.RiskState
	trades []*models.Trade
	index  map[string]*models.Trade
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock sets the executor's time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithIDGenerator overrides trade id generation.
func WithIDGenerator(gen func() string) ExecutorOption {
	return func(e *Executor) { e.newID = gen }
}

// NewExecutor creates an executor. When st is non-nil the persisted ledger
// is restored; otherwise the executor starts fresh and keeps state in memory.
func NewExecutor(ctx context.Context, cfg RiskConfig, st store.TradeStore, logger zerolog.Logger, opts ...ExecutorOption) (*Executor, error) {
	if cfg.InitialCapital <= 0 {
		return nil, apperrors.NewValidationError("initial_capital", cfg.InitialCapital, "must be positive")
	}
	if cfg.CircuitBreakerLosses < 1 {
		return nil, apperrors.NewValidationError("circuit_breaker_losses", cfg.CircuitBreakerLosses, "must be at least 1")
	}

	e := &Executor{
		cfg:      cfg,
		store:    st,
		logger:   logging.WithOperation(logger, "executor"),
		observer: nopObserver{},
		now:      time.Now,
		newID:    uuid.NewString,
		index:    make(map[string]*models.Trade),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.state = models.RiskState{
		InitialCapital: cfg.InitialCapital,
		Capital:        cfg.InitialCapital,
		PeakCapital:    cfg.InitialCapital,
		UpdatedAt:      e.now().UTC(),
	}

	if st != nil {
		ledger, err := st.LoadLedger(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading trade ledger: %w", err)
		}
		if ledger.RiskState != nil {
			e.state = *ledger.RiskState
		}
		for _, t := range ledger.Trades {
			e.trades = append(e.trades, t)
			e.index[t.ID] = t
		}
		e.logger.Debug().
			Int("trades", len(e.trades)).
			Float64("capital", e.state.Capital).
			Msg("Ledger restored")
	}

	e.observer.CapitalChanged(e.state)
	return e, nil
}

// Config returns the executor limits.
func (e *Executor) Config() RiskConfig {
	return e.cfg
}

// CanOpen reports whether a new trade would be accepted right now.
func (e *Executor) CanOpen() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rerr := e.checkLimits(); rerr != nil {
		return false, rerr.Message
	}
	return true, "OK"
}

// checkLimits evaluates every risk rule against the current state.
// Caller must hold e.mu.
func (e *Executor) checkLimits() *apperrors.RiskError {
	s := e.state
	if s.CircuitBreakerActive {
		return apperrors.NewRiskError(RuleCircuitBreaker, float64(s.ConsecutiveLosses), float64(e.cfg.CircuitBreakerLosses),
			fmt.Sprintf("Circuit breaker active (%d consecutive losses)", s.ConsecutiveLosses))
	}
	if s.ConsecutiveLosses >= e.cfg.CircuitBreakerLosses {
		return apperrors.NewRiskError(RuleConsecutiveLosses, float64(s.ConsecutiveLosses), float64(e.cfg.CircuitBreakerLosses),
			fmt.Sprintf("Consecutive loss limit reached (%d)", s.ConsecutiveLosses))
	}
	if open := e.openCount(); open >= e.cfg.MaxOpenTrades {
		return apperrors.NewRiskError(RuleMaxOpenTrades, float64(open), float64(e.cfg.MaxOpenTrades),
			fmt.Sprintf("Max open trades reached (%d)", open))
	}
	if dd := drawdownPct(s.PeakCapital, s.Capital); dd >= e.cfg.MaxDrawdownPercent {
		return apperrors.NewRiskError(RuleMaxDrawdown, dd, e.cfg.MaxDrawdownPercent,
			fmt.Sprintf("Max drawdown reached (%.1f%%)", dd))
	}
	return nil
}

func (e *Executor) openCount() int {
	n := 0
	for _, t := range e.trades {
		if t.IsOpen() {
			n++
		}
	}
	return n
}

// PositionSize returns the notional size of the next trade.
func (e *Executor) PositionSize() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionSize()
}

func (e *Executor) positionSize() float64 {
	size := decimal.NewFromFloat(e.state.Capital).
		Mul(decimal.NewFromFloat(e.cfg.MaxPositionPercent)).
		Div(decimal.NewFromInt(100)).
		Round(sizeDecimals)
	return size.InexactFloat64()
}

// Open opens a paper position if the risk limits allow it.
func (e *Executor) Open(ctx context.Context, req OpenRequest) (OpenOutcome, error) {
	if req.Action != models.ActionLong && req.Action != models.ActionShort {
		return OpenOutcome{}, apperrors.NewValidationError("action", req.Action, "must be LONG or SHORT")
	}
	if req.Price <= 0 {
		return OpenOutcome{}, apperrors.NewValidationError("price", req.Price, "must be positive")
	}
	symbol := utils.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return OpenOutcome{}, apperrors.NewValidationError("symbol", req.Symbol, "is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rerr := e.checkLimits(); rerr != nil {
		logging.LogRiskBlock(e.logger, symbol, rerr.Message)
		e.observer.TradeBlocked(rerr.Rule)
		return OpenOutcome{Allowed: false, Reason: rerr.Message, Rule: rerr.Rule}, nil
	}

	stopLoss, takeProfit := e.exitLevels(req.Action, req.Price)
	now := e.now().UTC()
	trade := &models.Trade{
		ID:            e.newID(),
		Symbol:        symbol,
		Action:        req.Action,
		Status:        models.TradeOpen,
		OpenedAt:      now,
		EntryPrice:    req.Price,
		PositionSize:  e.positionSize(),
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		Rationale:     req.Rationale,
		Justification: req.Justification,
	}

	state := e.state
	state.UpdatedAt = now
	if e.store != nil {
		if err := e.store.RecordOpen(ctx, trade, state); err != nil {
			return OpenOutcome{}, fmt.Errorf("recording trade open: %w", err)
		}
	}

	e.state = state
	e.trades = append(e.trades, trade)
	e.index[trade.ID] = trade

	logging.LogTradeOpened(e.logger, trade.ID, symbol, string(trade.Action), trade.EntryPrice, trade.PositionSize)
	e.observer.TradeOpened(symbol, trade.Action)

	return OpenOutcome{Trade: trade.Clone(), Allowed: true, Reason: "Trade opened"}, nil
}

// exitLevels returns the stop loss and take profit for an entry.
func (e *Executor) exitLevels(action models.Action, price float64) (float64, float64) {
	p := decimal.NewFromFloat(price)
	hundred := decimal.NewFromInt(100)
	sl := decimal.NewFromFloat(e.cfg.StopLossPercent).Div(hundred)
	tp := decimal.NewFromFloat(e.cfg.TakeProfitPercent).Div(hundred)
	one := decimal.NewFromInt(1)

	if action == models.ActionShort {
		return p.Mul(one.Add(sl)).Round(priceDecimals).InexactFloat64(),
			p.Mul(one.Sub(tp)).Round(priceDecimals).InexactFloat64()
	}
	return p.Mul(one.Sub(sl)).Round(priceDecimals).InexactFloat64(),
		p.Mul(one.Add(tp)).Round(priceDecimals).InexactFloat64()
}

// Close closes an open trade at exitPrice. Closing a trade twice returns
// ErrDuplicateClose and leaves state unchanged.
func (e *Executor) Close(ctx context.Context, id string, exitPrice float64, reason string) (*models.Trade, error) {
	if exitPrice <= 0 {
		return nil, apperrors.NewValidationError("exit_price", exitPrice, "must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trade, ok := e.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTradeNotFound, id)
	}
	if !trade.IsOpen() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateClose, id)
	}
	if reason == "" {
		reason = ReasonManual
	}

	now := e.now().UTC()
	pct, pnl := ProfitAndLoss(trade.Action, trade.EntryPrice, exitPrice, trade.PositionSize)

	closed := trade.Clone()
	closed.Status = models.TradeClosed
	closed.ClosedAt = &now
	closed.ExitPrice = exitPrice
	closed.PnLPercent = pct
	closed.PnL = pnl
	closed.CloseReason = reason
	closed.HoldDuration = now.Sub(trade.OpenedAt)

	state := e.applyClose(e.state, pnl)
	state.UpdatedAt = now

	if e.store != nil {
		if err := e.store.RecordClose(ctx, closed, state); err != nil {
			return nil, fmt.Errorf("recording trade close: %w", err)
		}
	}

	tripped := state.CircuitBreakerActive && !e.state.CircuitBreakerActive
	*trade = *closed
	e.state = state

	logging.LogTradeClosed(logging.WithTradeID(e.logger, id), id, trade.Symbol, reason, exitPrice, pnl)
	if tripped {
		e.logger.Warn().
			Int("consecutive_losses", state.ConsecutiveLosses).
			Msg("Circuit breaker tripped")
	}
	e.observer.TradeClosed(trade.Symbol, reason, pnl)
	e.observer.CapitalChanged(state)

	return trade.Clone(), nil
}

// applyClose returns the risk state after realizing pnl.
func (e *Executor) applyClose(s models.RiskState, pnl float64) models.RiskState {
	s.Capital = decimal.NewFromFloat(s.Capital).Add(decimal.NewFromFloat(pnl)).Round(pnlDecimals).InexactFloat64()
	if s.Capital > s.PeakCapital {
		s.PeakCapital = s.Capital
	}
	s.RealizedDrawdownPct = drawdownPct(s.PeakCapital, s.Capital)

	if pnl < 0 {
		s.ConsecutiveLosses++
		if s.ConsecutiveLosses >= e.cfg.CircuitBreakerLosses {
			s.CircuitBreakerActive = true
		}
	} else {
		s.ConsecutiveLosses = 0
	}
	return s
}

// ProfitAndLoss returns the percentage move in the trade's favour and the
// realized amount for a position of size.
func ProfitAndLoss(action models.Action, entry, exit, size float64) (float64, float64) {
	entryD := decimal.NewFromFloat(entry)
	move := decimal.NewFromFloat(exit).Sub(entryD)
	if action == models.ActionShort {
		move = move.Neg()
	}
	pct := move.Div(entryD).Mul(decimal.NewFromInt(100))
	pnl := decimal.NewFromFloat(size).Mul(pct).Div(decimal.NewFromInt(100))
	return pct.Round(pctDecimals).InexactFloat64(), pnl.Round(pnlDecimals).InexactFloat64()
}

func drawdownPct(peak, capital float64) float64 {
	if peak <= 0 || capital >= peak {
		return 0
	}
	return decimal.NewFromFloat(peak).Sub(decimal.NewFromFloat(capital)).
		Div(decimal.NewFromFloat(peak)).
		Mul(decimal.NewFromInt(100)).
		Round(pctDecimals).
		InexactFloat64()
}

// ResetCircuitBreaker clears the breaker and the loss streak.
func (e *Executor) ResetCircuitBreaker(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.state
	state.CircuitBreakerActive = false
	state.ConsecutiveLosses = 0
	state.UpdatedAt = e.now().UTC()

	if e.store != nil {
		if err := e.store.SaveRiskState(ctx, state); err != nil {
			return fmt.Errorf("saving risk state: %w", err)
		}
	}
	e.state = state
	e.logger.Info().Msg("Circuit breaker reset")
	e.observer.CapitalChanged(state)
	return nil
}

// RiskState returns a copy of the current risk state.
func (e *Executor) RiskState() models.RiskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Trades returns copies of every trade in open order.
func (e *Executor) Trades() []*models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter(func(*models.Trade) bool { return true })
}

// OpenTrades returns copies of the open trades.
func (e *Executor) OpenTrades() []*models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter((*models.Trade).IsOpen)
}

// Trade returns a copy of one trade.
func (e *Executor) Trade(id string) (*models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTradeNotFound, id)
	}
	return t.Clone(), nil
}

func (e *Executor) filter(keep func(*models.Trade) bool) []*models.Trade {
	out := make([]*models.Trade, 0, len(e.trades))
	for _, t := range e.trades {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}
