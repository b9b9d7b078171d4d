package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/internal/store"
	"trinity-trader/internal/trading"
	"trinity-trader/pkg/utils"
)

// addLedgerCommands adds the paper ledger commands.
func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPerformanceCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newTradeCmd(app))
	rootCmd.AddCommand(newCloseCmd(app))
	rootCmd.AddCommand(newCloseAllCmd(app))
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newResetBreakerCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newPerformanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Summarize paper trading performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			s := app.Executor.PerformanceSummary()
			if output.IsJSON() {
				return output.JSON(s)
			}

			output.Bold("Paper Trading Performance")
			output.Printf("  Capital:          %s (started %s)\n", utils.FormatUSD(s.Capital), utils.FormatUSD(s.InitialCapital))
			output.Printf("  Total P&L:        %s\n", output.Signed(s.TotalPnL, utils.FormatPnL(s.TotalPnL)))
			output.Printf("  Total Return:     %s\n", output.Signed(s.TotalReturnPct, utils.FormatPercent(s.TotalReturnPct)))
			output.Printf("  Max Drawdown:     %.2f%%\n", s.MaxDrawdownPct)
			output.Println()
			output.Printf("  Trades:           %d (%d open, %d closed)\n", s.TotalTrades, s.OpenTrades, s.ClosedTrades)
			output.Printf("  Wins / Losses:    %d / %d\n", s.Wins, s.Losses)
			output.Printf("  Win Rate:         %.2f%%\n", s.WinRate)
			output.Printf("  Avg Win:          %s\n", output.Green(utils.FormatUSD(s.AvgWin)))
			output.Printf("  Avg Loss:         %s\n", output.Red(utils.FormatUSD(s.AvgLoss)))
			output.Println()
			output.Printf("  Losing Streak:    %d\n", s.ConsecutiveLosses)
			if s.CircuitBreakerActive {
				output.Error("  Circuit breaker ACTIVE: run 'trinity reset-breaker' to resume trading")
			} else {
				output.Printf("  Circuit Breaker:  %s\n", output.Green("inactive"))
			}
			return nil
		},
	}
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List paper trades",
		Example: `  trinity trades
  trinity trades --status open
  trinity trades --symbol BTC/USDT --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			status, _ := cmd.Flags().GetString("status")
			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.TradeFilter{Limit: limit}
			switch strings.ToLower(status) {
			case "", "all":
			case "open":
				filter.Status = models.TradeOpen
			case "closed":
				filter.Status = models.TradeClosed
			default:
				return fmt.Errorf("invalid status %q: expected open, closed or all", status)
			}
			if symbol != "" {
				filter.Symbol = utils.NormalizeSymbol(symbol)
			}

			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			trades, err := app.Store.ListTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades")
				return nil
			}

			table := NewTable(output, "ID", "Symbol", "Side", "Status", "Opened", "Entry", "Exit", "Size", "P&L", "Reason")
			for i := range trades {
				t := &trades[i]
				exit, pnl := "-", "-"
				if !t.IsOpen() {
					exit = utils.FormatPrice(t.ExitPrice)
					pnl = output.Signed(t.PnL, fmt.Sprintf("%s (%s)", utils.FormatPnL(t.PnL), utils.FormatPercent(t.PnLPercent)))
				}
				table.AddRow(ShortID(t.ID), t.Symbol, sideText(output, t.Action), string(t.Status),
					FormatTime(t.OpenedAt), utils.FormatPrice(t.EntryPrice), exit,
					utils.FormatUSD(t.PositionSize), pnl, t.CloseReason)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("status", "all", "Filter by status (open, closed, all)")
	cmd.Flags().String("symbol", "", "Filter by symbol")
	cmd.Flags().Int("limit", 50, "Maximum trades to list")

	return cmd
}

func newTradeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <id>",
		Short: "Show one trade with its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveTradeID(app.Executor, args[0])
			if err != nil {
				return err
			}
			t, err := app.Executor.Trade(id)
			if err != nil {
				return err
			}
			events, err := app.Store.ListEvents(cmd.Context(), id)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(struct {
					Trade  *models.Trade       `json:"trade"`
					Events []models.TradeEvent `json:"events"`
				}{t, events})
			}

			output.Bold("%s %s %s  [%s]", sideText(output, t.Action), t.Symbol, t.Status, t.ID)
			output.Printf("  Entry:       %s at %s\n", utils.FormatPrice(t.EntryPrice), FormatTime(t.OpenedAt))
			output.Printf("  Size:        %s\n", utils.FormatUSD(t.PositionSize))
			output.Printf("  Stop/Target: %s / %s\n", utils.FormatPrice(t.StopLoss), utils.FormatPrice(t.TakeProfit))
			if t.TrailingStop > 0 {
				output.Printf("  Trailing:    %s (best %s)\n", utils.FormatPrice(t.TrailingStop), utils.FormatPrice(t.BestPrice))
			}
			if !t.IsOpen() {
				output.Printf("  Exit:        %s at %s (%s)\n", utils.FormatPrice(t.ExitPrice), FormatTime(*t.ClosedAt), t.CloseReason)
				output.Printf("  P&L:         %s\n", output.Signed(t.PnL, fmt.Sprintf("%s (%s)", utils.FormatPnL(t.PnL), utils.FormatPercent(t.PnLPercent))))
				output.Printf("  Held:        %s\n", utils.FormatDuration(t.HoldDuration))
			}
			output.Dim("  %s", t.Rationale)

			if len(events) > 0 {
				output.Println()
				table := NewTable(output, "Time", "Event", "Price", "P&L", "Reason")
				for _, e := range events {
					table.AddRow(FormatTime(e.Timestamp), e.Kind, utils.FormatPrice(e.Price), utils.FormatPnL(e.PnL), e.Reason)
				}
				table.Render()
			}
			return nil
		},
	}
}

func newCloseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id> <price>",
		Short: "Close an open paper trade at a price",
		Example: `  trinity close 3f2a9c1e 64250.5
  trinity close 3f2a9c1e 64250.5 --reason "Thesis invalidated"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			reason, _ := cmd.Flags().GetString("reason")

			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			id, err := resolveTradeID(app.Executor, args[0])
			if err != nil {
				return err
			}
			t, err := app.Executor.Close(cmd.Context(), id, price, reason)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(t)
			}
			renderClosed(output, t)
			warnBreaker(output, app.Executor)
			return nil
		},
	}

	cmd.Flags().String("reason", trading.ReasonManual, "Close reason")

	return cmd
}

func newCloseAllCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close-all",
		Short: "Close every open paper trade at the latest price",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			reason, _ := cmd.Flags().GetString("reason")

			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			closed, err := app.Executor.CloseAll(cmd.Context(), app.Source, reason)
			if output.IsJSON() {
				if jerr := output.JSON(closed); jerr != nil {
					return jerr
				}
				return err
			}
			if len(closed) == 0 && err == nil {
				output.Dim("No open trades")
				return nil
			}
			for _, t := range closed {
				renderClosed(output, t)
			}
			warnBreaker(output, app.Executor)
			return err
		},
	}

	cmd.Flags().String("reason", trading.ReasonEndOfSession, "Close reason")

	return cmd
}

func newMonitorCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Close open trades that hit their stop loss or take profit",
		Long: `Check every open trade against the latest price once, or repeatedly
with --interval until interrupted.`,
		Example: `  trinity monitor
  trinity monitor --interval 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			interval, _ := cmd.Flags().GetDuration("interval")

			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			report := func(closed []*models.Trade, err error) {
				if output.IsJSON() {
					output.JSON(closed)
					return
				}
				for _, t := range closed {
					renderClosed(output, t)
				}
				if err != nil {
					output.Warning("Exit check incomplete: %v", err)
				}
				output.Dim("%s  %d open, %d closed this pass", FormatTime(time.Now()), len(app.Executor.OpenTrades()), len(closed))
			}

			if interval <= 0 {
				closed, err := app.Executor.CheckExits(ctx, app.Source)
				report(closed, err)
				warnBreaker(output, app.Executor)
				return err
			}

			stop := startMetrics(app)
			defer stop()

			if !output.IsJSON() {
				output.Info("Monitoring %d open trades every %s (Ctrl+C to stop)", len(app.Executor.OpenTrades()), interval)
			}
			err := app.Executor.Monitor(ctx, app.Source, interval, report)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().Duration("interval", 0, "Repeat the check until interrupted")

	return cmd
}

func newResetBreakerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker",
		Short: "Clear the loss circuit breaker and the losing streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			was := app.Executor.RiskState()
			if err := app.Executor.ResetCircuitBreaker(cmd.Context()); err != nil {
				return err
			}
			state := app.Executor.RiskState()
			if output.IsJSON() {
				return output.JSON(state)
			}
			if was.CircuitBreakerActive {
				output.Success("✓ Circuit breaker reset after %d consecutive losses", was.ConsecutiveLosses)
			} else {
				output.Info("Circuit breaker was not active; losing streak cleared")
			}
			if ok, reason := app.Executor.CanOpen(); !ok {
				output.Warning("Trading still blocked: %s", reason)
			}
			return nil
		},
	}
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent consensus panel results",
		Example: `  trinity history
  trinity history --symbol ETH/USDT --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")
			if symbol != "" {
				symbol = utils.NormalizeSymbol(symbol)
			}

			if err := app.Open(cmd.Context()); err != nil {
				return err
			}
			defer app.Close()

			results, err := app.Store.ListConsensus(cmd.Context(), store.ConsensusFilter{Symbol: symbol, Limit: limit})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Dim("No consensus results recorded")
				return nil
			}

			table := NewTable(output, "Time", "Symbol", "Signal", "Agreement", "Confidence", "Trade", "Votes")
			for _, r := range results {
				trade := output.DimText("no")
				if r.ShouldTrade {
					trade = output.Green("yes")
				}
				table.AddRow(FormatTime(r.DecidedAt), r.Symbol, output.signalText(r.Signal),
					FormatAgreement(r.AgreementRatio), FormatConfidence(r.Confidence), trade, voteTally(r.Votes))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "Filter by symbol")
	cmd.Flags().Int("limit", 20, "Maximum results to list")

	return cmd
}

// resolveTradeID accepts a full id or a unique prefix of one.
func resolveTradeID(e *trading.Executor, ref string) (string, error) {
	var match string
	for _, t := range e.Trades() {
		if t.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("trade id %q is ambiguous", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", apperrors.ErrTradeNotFound, ref)
	}
	return match, nil
}

func renderClosed(output *Output, t *models.Trade) {
	line := fmt.Sprintf("Closed %s %s @ %s  %s (%s)  %s", t.Symbol, t.Action, utils.FormatPrice(t.ExitPrice),
		utils.FormatPnL(t.PnL), utils.FormatPercent(t.PnLPercent), t.CloseReason)
	switch {
	case t.PnL > 0:
		output.Success("%s", line)
	case t.PnL < 0:
		output.Error("%s", line)
	default:
		output.Println(line)
	}
}

func warnBreaker(output *Output, e *trading.Executor) {
	if output.IsJSON() {
		return
	}
	if s := e.RiskState(); s.CircuitBreakerActive {
		output.Warning("Circuit breaker active after %d consecutive losses: new trades are blocked", s.ConsecutiveLosses)
	}
}

func sideText(output *Output, a models.Action) string {
	if a == models.ActionLong {
		return output.Green(string(a))
	}
	return output.Red(string(a))
}

// voteTally renders votes as e.g. "3L 1W".
func voteTally(votes []models.Vote) string {
	counts := make(map[models.Signal]int)
	for _, v := range votes {
		counts[v.Signal]++
	}
	var parts []string
	for _, s := range []models.Signal{models.SignalLong, models.SignalShort, models.SignalWait} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%c", n, s[0]))
		}
	}
	return strings.Join(parts, " ")
}
