package models

import (
	"encoding/json"
	"time"
)

// TradeStatus is the lifecycle state of a trade. OPEN moves to CLOSED once.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Trade represents a simulated position from open to close.
type Trade struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Action        Action          `json:"action"`
	Status        TradeStatus     `json:"status"`
	OpenedAt      time.Time       `json:"opened_at"`
	EntryPrice    float64         `json:"entry_price"`
	PositionSize  float64         `json:"position_size"`
	StopLoss      float64         `json:"stop_loss"`
	TakeProfit    float64         `json:"take_profit"`
	Rationale     string          `json:"rationale"`
	Justification json.RawMessage `json:"justification,omitempty"`

	// BestPrice and TrailingStop are set once the trailing stop activates.
	BestPrice    float64 `json:"best_price,omitempty"`
	TrailingStop float64 `json:"trailing_stop,omitempty"`

	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
	ExitPrice    float64       `json:"exit_price,omitempty"`
	PnL          float64       `json:"pnl"`
	PnLPercent   float64       `json:"pnl_percent"`
	CloseReason  string        `json:"close_reason,omitempty"`
	HoldDuration time.Duration `json:"hold_duration,omitempty"`
}

// IsOpen reports whether the trade is still open.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeOpen
}

// Clone returns a copy that does not share mutable state with t.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		c.ClosedAt = &closed
	}
	if t.Justification != nil {
		c.Justification = append(json.RawMessage(nil), t.Justification...)
	}
	return &c
}

// RiskState is the executor's capital and loss-streak bookkeeping.
type RiskState struct {
	InitialCapital       float64   `json:"initial_capital"`
	Capital              float64   `json:"capital"`
	PeakCapital          float64   `json:"peak_capital"`
	ConsecutiveLosses    int       `json:"consecutive_losses"`
	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
	RealizedDrawdownPct  float64   `json:"realized_drawdown_pct"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TradeEvent is one append-only entry in the trade log.
type TradeEvent struct {
	ID        int64     `json:"id"`
	TradeID   string    `json:"trade_id"`
	Kind      string    `json:"kind"` // OPENED, TRAILED, CLOSED
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceSummary is recomputed from the trade log on demand.
type PerformanceSummary struct {
	TotalTrades          int     `json:"total_trades"`
	OpenTrades           int     `json:"open_trades"`
	ClosedTrades         int     `json:"closed_trades"`
	Wins                 int     `json:"wins"`
	Losses               int     `json:"losses"`
	WinRate              float64 `json:"win_rate"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	TotalPnL             float64 `json:"total_pnl"`
	TotalReturnPct       float64 `json:"total_return_pct"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`
	InitialCapital       float64 `json:"initial_capital"`
	Capital              float64 `json:"capital"`
	ConsecutiveLosses    int     `json:"consecutive_losses"`
	CircuitBreakerActive bool    `json:"circuit_breaker_active"`
}
