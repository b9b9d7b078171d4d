package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/market"
	"trinity-trader/internal/models"
)

// Close reasons.
const (
	ReasonTakeProfit   = "Take profit"
	ReasonStopLoss     = "Stop loss"
	ReasonTrailingStop = "Trailing stop"
	ReasonEndOfSession = "End of session"
	ReasonManual       = "Manual close"
)

// ExitTriggered reports whether price hits the trade's take profit, stop
// loss or active trailing stop, and which.
func ExitTriggered(t *models.Trade, price float64) (bool, string) {
	if t == nil || !t.IsOpen() || price <= 0 {
		return false, ""
	}
	switch t.Action {
	case models.ActionLong:
		if price >= t.TakeProfit {
			return true, ReasonTakeProfit
		}
		if price <= t.StopLoss {
			return true, ReasonStopLoss
		}
		if t.TrailingStop > 0 && price <= t.TrailingStop {
			return true, ReasonTrailingStop
		}
	case models.ActionShort:
		if price <= t.TakeProfit {
			return true, ReasonTakeProfit
		}
		if price >= t.StopLoss {
			return true, ReasonStopLoss
		}
		if t.TrailingStop > 0 && price >= t.TrailingStop {
			return true, ReasonTrailingStop
		}
	}
	return false, ""
}

// AdvanceTrail returns the trade's best price and trailing stop after
// observing price. The stop activates once the trade is activationPct in
// profit and then follows new best prices at trailPct behind them; it
// never moves back. moved reports whether either value changed.
func AdvanceTrail(t *models.Trade, price, trailPct, activationPct float64) (best, stop float64, moved bool) {
	if t == nil {
		return 0, 0, false
	}
	best, stop = t.BestPrice, t.TrailingStop
	if !t.IsOpen() || trailPct <= 0 || price <= 0 {
		return best, stop, false
	}

	if stop == 0 {
		pct, _ := ProfitAndLoss(t.Action, t.EntryPrice, price, 0)
		if pct < activationPct {
			return best, stop, false
		}
	} else if !beats(t.Action, price, best) {
		return best, stop, false
	}

	offset := decimal.NewFromFloat(trailPct).Div(decimal.NewFromInt(100))
	if t.Action == models.ActionShort {
		offset = offset.Neg()
	}
	best = price
	stop = decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Sub(offset)).Round(priceDecimals).InexactFloat64()
	return best, stop, true
}

// beats reports whether price is better than best for the trade direction.
func beats(action models.Action, price, best float64) bool {
	if action == models.ActionShort {
		return price < best
	}
	return price > best
}

// Trail moves the trailing stop of an open trade for price and persists
// the change. It reports whether the stop moved.
func (e *Executor) Trail(ctx context.Context, id string, price float64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trade, ok := e.index[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", apperrors.ErrTradeNotFound, id)
	}
	best, stop, moved := AdvanceTrail(trade, price, e.cfg.TrailingPercent, e.cfg.TrailingActivationPercent)
	if !moved {
		return false, nil
	}

	next := trade.Clone()
	next.BestPrice = best
	next.TrailingStop = stop
	if e.store != nil {
		if err := e.store.RecordTrail(ctx, next, e.now().UTC()); err != nil {
			return false, fmt.Errorf("recording trailing stop: %w", err)
		}
	}
	activated := trade.TrailingStop == 0
	*trade = *next

	e.logger.Debug().
		Str("trade_id", id).
		Float64("best_price", best).
		Float64("trailing_stop", stop).
		Bool("activated", activated).
		Msg("Trailing stop moved")
	return true, nil
}

// CheckExits evaluates every open trade against the latest price and closes
// the ones that hit their levels. Trades left open have their trailing stop
// advanced. A price failure for one symbol does not
// stop the others; all failures are joined into the returned error.
func (e *Executor) CheckExits(ctx context.Context, src market.Source) ([]*models.Trade, error) {
	prices := newPriceBook(src)
	var closed []*models.Trade
	var errs []error

	for _, t := range e.OpenTrades() {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		price, err := prices.get(ctx, t.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
			continue
		}
		hit, reason := ExitTriggered(t, price)
		if !hit {
			if _, err := e.Trail(ctx, t.ID, price); err != nil {
				errs = append(errs, fmt.Errorf("trailing %s: %w", t.ID, err))
			}
			continue
		}
		c, err := e.Close(ctx, t.ID, price, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", t.ID, err))
			continue
		}
		closed = append(closed, c)
	}
	return closed, errors.Join(errs...)
}

// CloseAll closes every open trade at its latest price.
func (e *Executor) CloseAll(ctx context.Context, src market.Source, reason string) ([]*models.Trade, error) {
	if reason == "" {
		reason = ReasonEndOfSession
	}
	prices := newPriceBook(src)
	var closed []*models.Trade
	var errs []error

	for _, t := range e.OpenTrades() {
		price, err := prices.get(ctx, t.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
			continue
		}
		c, err := e.Close(ctx, t.ID, price, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", t.ID, err))
			continue
		}
		closed = append(closed, c)
	}
	return closed, errors.Join(errs...)
}

// Monitor runs CheckExits every interval until ctx is cancelled. onPass is
// called after each pass with the trades it closed.
func (e *Executor) Monitor(ctx context.Context, src market.Source, interval time.Duration, onPass func([]*models.Trade, error)) error {
	if interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		closed, err := e.CheckExits(ctx, src)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Exit check incomplete")
		}
		if onPass != nil {
			onPass(closed, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// priceBook fetches each symbol's latest price at most once per pass.
type priceBook struct {
	src    market.Source
	prices map[string]float64
}

func newPriceBook(src market.Source) *priceBook {
	return &priceBook{src: src, prices: make(map[string]float64)}
}

func (b *priceBook) get(ctx context.Context, symbol string) (float64, error) {
	if p, ok := b.prices[symbol]; ok {
		return p, nil
	}
	p, err := market.LastPrice(ctx, b.src, symbol)
	if err != nil {
		return 0, err
	}
	b.prices[symbol] = p
	return p, nil
}
