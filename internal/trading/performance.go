package trading

import (
	"sort"

	"github.com/shopspring/decimal"

	"trinity-trader/internal/models"
)

// PerformanceSummary recomputes the statistics from the trade log.
func (e *Executor) PerformanceSummary() models.PerformanceSummary {
	e.mu.Lock()
	trades := e.filter(func(*models.Trade) bool { return true })
	state := e.state
	e.mu.Unlock()

	return Summarize(trades, state)
}

// Summarize computes performance statistics for trades. Breakeven closes
// count as neither wins nor losses.
func Summarize(trades []*models.Trade, state models.RiskState) models.PerformanceSummary {
	summary := models.PerformanceSummary{
		TotalTrades:          len(trades),
		InitialCapital:       state.InitialCapital,
		Capital:              state.Capital,
		ConsecutiveLosses:    state.ConsecutiveLosses,
		CircuitBreakerActive: state.CircuitBreakerActive,
	}

	var closed []*models.Trade
	for _, t := range trades {
		if t.IsOpen() {
			summary.OpenTrades++
			continue
		}
		closed = append(closed, t)
	}
	summary.ClosedTrades = len(closed)

	total := decimal.Zero
	wins, losses := decimal.Zero, decimal.Zero
	for _, t := range closed {
		pnl := decimal.NewFromFloat(t.PnL)
		total = total.Add(pnl)
		switch {
		case t.PnL > 0:
			summary.Wins++
			wins = wins.Add(pnl)
		case t.PnL < 0:
			summary.Losses++
			losses = losses.Add(pnl)
		}
	}

	summary.TotalPnL = total.Round(pnlDecimals).InexactFloat64()
	if summary.ClosedTrades > 0 {
		summary.WinRate = round(float64(summary.Wins) / float64(summary.ClosedTrades) * 100)
	}
	if summary.Wins > 0 {
		summary.AvgWin = wins.Div(decimal.NewFromInt(int64(summary.Wins))).Round(pnlDecimals).InexactFloat64()
	}
	if summary.Losses > 0 {
		summary.AvgLoss = losses.Div(decimal.NewFromInt(int64(summary.Losses))).Round(pnlDecimals).InexactFloat64()
	}
	if state.InitialCapital > 0 {
		summary.TotalReturnPct = total.Div(decimal.NewFromFloat(state.InitialCapital)).
			Mul(decimal.NewFromInt(100)).
			Round(pnlDecimals).
			InexactFloat64()
	}
	summary.MaxDrawdownPct = MaxDrawdown(state.InitialCapital, closed)

	return summary
}

// MaxDrawdown walks the equity curve formed by closes in close order and
// returns the largest peak-to-trough decline in percent.
func MaxDrawdown(initial float64, closed []*models.Trade) float64 {
	ordered := make([]*models.Trade, 0, len(closed))
	for _, t := range closed {
		if t.ClosedAt != nil {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClosedAt.Before(*ordered[j].ClosedAt)
	})

	equity := decimal.NewFromFloat(initial)
	peak := equity
	maxDD := 0.0
	for _, t := range ordered {
		equity = equity.Add(decimal.NewFromFloat(t.PnL))
		if equity.GreaterThan(peak) {
			peak = equity
			continue
		}
		if dd := drawdownPct(peak.InexactFloat64(), equity.InexactFloat64()); dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(pnlDecimals).InexactFloat64()
}
