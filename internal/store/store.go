// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"trinity-trader/internal/models"
)

// TradeStore persists the paper trading ledger, the consensus audit log
// and archived candles.
type TradeStore interface {
	// Ledger
	LoadLedger(ctx context.Context) (*Ledger, error)
	RecordOpen(ctx context.Context, trade *models.Trade, state models.RiskState) error
	RecordClose(ctx context.Context, trade *models.Trade, state models.RiskState) error
	RecordTrail(ctx context.Context, trade *models.Trade, at time.Time) error
	SaveRiskState(ctx context.Context, state models.RiskState) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	ListEvents(ctx context.Context, tradeID string) ([]models.TradeEvent, error)

	// Consensus audit
	SaveConsensus(ctx context.Context, result *models.ConsensusResult) error
	ListConsensus(ctx context.Context, filter ConsensusFilter) ([]models.ConsensusResult, error)

	// Candles
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	LatestCandle(ctx context.Context, symbol string) (*models.Candle, error)

	// Lifecycle
	Close() error
}

// Ledger is the persisted executor state. RiskState is nil when nothing
// has been saved yet.
type Ledger struct {
	Trades    []*models.Trade
	RiskState *models.RiskState
}

// Trade event kinds.
const (
	EventOpened  = "OPENED"
	EventTrailed = "TRAILED"
	EventClosed  = "CLOSED"
)

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol string
	Status models.TradeStatus
	Limit  int
}

// ConsensusFilter represents filters for querying the consensus audit log.
type ConsensusFilter struct {
	Symbol string
	Limit  int
}
