package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/analysis/mtf"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/metrics"
	"trinity-trader/internal/trading"
	"trinity-trader/internal/verifier"
	"trinity-trader/pkg/utils"
)

// addPipelineCommands adds the commands that run market data through the
// verify, score and consensus stages.
func addPipelineCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newVerifyCmd(app))
}

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [symbols...]",
		Short: "Run the full pipeline over a batch of pairs",
		Long: `Scan every symbol through verification, confluence scoring and the
consensus panel, opening paper trades where all three agree.

Without arguments the configured symbol list is scanned. A symbol whose
data cannot be fetched is reported and the batch continues; the command
then exits non-zero.

With --timeframes the pipeline is skipped and each symbol's trend is read
on every listed interval instead, showing how far the timeframes agree
and the bias taken from the highest one. No trades are opened.`,
		Example: `  trinity scan
  trinity scan BTC/USDT ETH/USDT --timeframe 1h
  trinity scan --top 3 --save scan.json
  trinity scan --interval 15m
  trinity scan BTC/USDT --timeframes 1d,4h,1h,15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			timeframe, err := timeframeFlag(cmd, app)
			if err != nil {
				return err
			}
			top, _ := cmd.Flags().GetInt("top")
			if top <= 0 {
				top = app.Config.Scan.Top
			}
			savePath, _ := cmd.Flags().GetString("save")
			interval, _ := cmd.Flags().GetDuration("interval")

			symbols := app.Config.ScanSymbols()
			if len(args) > 0 {
				symbols = make([]string, len(args))
				for i, a := range args {
					symbols[i] = utils.NormalizeSymbol(a)
				}
			}

			if list, _ := cmd.Flags().GetString("timeframes"); list != "" {
				timeframes, err := mtf.ParseTimeframes(list)
				if err != nil {
					return err
				}
				return runAlignment(ctx, app, output, symbols, timeframes)
			}

			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			stop := startMetrics(app)
			defer stop()

			run := func() error {
				if !output.IsJSON() {
					output.Info("Scanning %d symbols on %s...", len(symbols), timeframe)
				}
				report, err := app.Pipeline.Scan(ctx, symbols, timeframe)
				if err != nil {
					return err
				}
				if savePath != "" {
					if err := saveJSON(savePath, report); err != nil {
						return err
					}
					if !output.IsJSON() {
						output.Dim("Report saved to %s", savePath)
					}
				}
				if output.IsJSON() {
					if err := output.JSON(report); err != nil {
						return err
					}
				} else {
					renderScan(output, report, top)
				}
				if report.DataUnavailable() {
					return fmt.Errorf("%w: %s", apperrors.ErrDataUnavailable, strings.Join(report.Failed, ", "))
				}
				return nil
			}

			if interval <= 0 {
				return run()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := run(); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					output.Warning("Scan failed: %v", err)
				}
				if !output.IsJSON() {
					output.Dim("Next scan in %s (Ctrl+C to stop)", interval)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", "Candle interval (default from config)")
	cmd.Flags().Int("top", 0, "Number of top signals to list (default from config)")
	cmd.Flags().String("save", "", "Write the scan report to a JSON file")
	cmd.Flags().Duration("interval", 0, "Rescan periodically until interrupted")
	cmd.Flags().String("timeframes", "", "Show trend alignment across intervals, e.g. 1d,4h,1h,15m")

	return cmd
}

// runAlignment reads every symbol across timeframes and prints the matrix.
func runAlignment(ctx context.Context, app *App, output *Output, symbols, timeframes []string) error {
	if err := app.Open(ctx); err != nil {
		return err
	}
	defer app.Close()

	if !output.IsJSON() {
		output.Info("Aligning %d symbols across %s...", len(symbols), strings.Join(timeframes, ", "))
	}

	results := make([]*mtf.Result, len(symbols))
	errs := make([]error, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(app.Config.Scan.Concurrency, 1))
	for i, symbol := range symbols {
		g.Go(func() error {
			results[i], errs[i] = app.Alignment.Analyze(gctx, symbol, timeframes)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, symbols[i])
		}
	}

	if output.IsJSON() {
		if err := output.JSON(results); err != nil {
			return err
		}
	} else {
		renderAlignment(output, results, timeframes)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrDataUnavailable, strings.Join(failed, ", "))
	}
	return nil
}

func renderAlignment(output *Output, results []*mtf.Result, timeframes []string) {
	headers := append([]string{"Symbol"}, timeframes...)
	headers = append(headers, "Alignment", "Bias", "Score")

	output.Println()
	table := NewTable(output, headers...)
	for _, r := range results {
		if r == nil {
			continue
		}
		row := []string{r.Symbol}
		for _, v := range r.Timeframes {
			row = append(row, timeframeCell(output, v))
		}
		row = append(row, alignmentText(output, r.Alignment), biasText(output, r.Bias), fmt.Sprintf("%d/10", r.Score))
		table.AddRow(row...)
	}
	table.Render()

	for _, r := range results {
		if r != nil && len(r.Factors) > 0 {
			output.Dim("  %s: %s", r.Symbol, strings.Join(r.Factors, ", "))
		}
	}
}

func timeframeCell(output *Output, v *mtf.TimeframeView) string {
	if !v.OK() {
		return output.DimText("n/a")
	}
	text := string(v.Direction)
	if v.RSI != nil {
		text += fmt.Sprintf(" %.0f", *v.RSI)
	}
	switch v.Direction {
	case mtf.DirectionBullish:
		return output.Green(text)
	case mtf.DirectionBearish:
		return output.Red(text)
	default:
		return output.Yellow(text)
	}
}

func alignmentText(output *Output, a mtf.Alignment) string {
	switch a {
	case mtf.AlignmentStrong, mtf.AlignmentModerate:
		return output.Green(string(a))
	case mtf.AlignmentWeak:
		return output.Yellow(string(a))
	default:
		return output.DimText(string(a))
	}
}

func biasText(output *Output, b mtf.Bias) string {
	switch b {
	case mtf.BiasBullish:
		return output.Green(string(b))
	case mtf.BiasBearish:
		return output.Red(string(b))
	case mtf.BiasCautionLongs, mtf.BiasCautionShorts:
		return output.Yellow(string(b))
	default:
		return output.DimText(string(b))
	}
}

func renderScan(output *Output, report *trading.ScanReport, top int) {
	output.Println()
	output.Bold("Scan Results (%s, %s)", report.Timeframe, utils.FormatDuration(report.Duration))

	table := NewTable(output, "Symbol", "Price", "Regime", "Score", "Status", "Consensus", "Agreement", "Outcome")
	for _, res := range report.Results {
		d := res.Decision
		if d == nil || d.Confluence == nil {
			reason := res.Error
			if reason == "" && d != nil && d.Verification != nil {
				reason = d.Verification.Error
			}
			table.AddRow(res.Symbol, "-", "-", "-", output.Red("ERROR"), "-", "-", output.DimText(TruncateString(reason, 48)))
			continue
		}
		consensus, agreement := "-", "-"
		if d.Consensus != nil {
			consensus = output.signalText(d.Consensus.Signal)
			agreement = FormatAgreement(d.Consensus.AgreementRatio)
		}
		table.AddRow(
			res.Symbol,
			utils.FormatPrice(d.Confluence.Price),
			string(d.Confluence.Regime),
			FormatScore(d.Confluence.Score),
			output.statusText(d.Confluence.Status),
			consensus,
			agreement,
			outcomeText(output, d.Outcome),
		)
	}
	table.Render()

	if signals := report.TopSignals(top); len(signals) > 0 {
		output.Println()
		output.Bold("Top Signals")
		for i, s := range signals {
			line := fmt.Sprintf("  %d. %s %s %s", i+1, s.Symbol, output.statusText(s.Status), FormatScore(s.Score))
			if rec := s.Recommendation; rec != nil {
				line += fmt.Sprintf("  entry %s  SL %s  TP %s  (%s)",
					utils.FormatPrice(rec.Entry), utils.FormatPrice(rec.StopLoss), utils.FormatPrice(rec.TakeProfit), rec.Confidence)
			}
			output.Println(line)
		}
	}

	if len(report.Opened) > 0 {
		output.Println()
		output.Bold("Trades Opened")
		for _, t := range report.Opened {
			output.Success("  %s %s %s @ %s  size %s  SL %s  TP %s", ShortID(t.ID), t.Symbol, t.Action,
				utils.FormatPrice(t.EntryPrice), utils.FormatUSD(t.PositionSize),
				utils.FormatPrice(t.StopLoss), utils.FormatPrice(t.TakeProfit))
		}
	}

	output.Println()
	output.Printf("Verified: %d  Tradeable: %d  Opened: %d  Failed: %d\n",
		len(report.Confluence()), len(report.Tradeable), len(report.Opened), len(report.Failed))
}

func outcomeText(output *Output, outcome string) string {
	switch outcome {
	case trading.OutcomeTraded:
		return output.Green(outcome)
	case trading.OutcomeBlocked:
		return output.Yellow(outcome)
	case trading.OutcomeRejected, trading.OutcomeFailed:
		return output.Red(outcome)
	default:
		return output.DimText(outcome)
	}
}

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Run the full pipeline for one pair",
		Long: `Verify indicators, score confluence, poll the consensus panel and
apply the trade gate for a single symbol. A paper trade is opened when the
gate passes and the risk limits allow it.`,
		Example: `  trinity analyze BTC/USDT
  trinity analyze ethusdt --timeframe 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			timeframe, err := timeframeFlag(cmd, app)
			if err != nil {
				return err
			}

			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			symbol := utils.NormalizeSymbol(args[0])
			if !output.IsJSON() {
				output.Info("Analyzing %s on %s timeframe...", symbol, timeframe)
			}

			decision, err := app.Pipeline.Analyze(ctx, symbol, timeframe)
			if output.IsJSON() {
				if jerr := output.JSON(decision); jerr != nil {
					return jerr
				}
				return err
			}
			if decision != nil {
				renderDecision(output, decision)
			}
			return err
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", "Candle interval (default from config)")

	return cmd
}

func renderDecision(output *Output, d *trading.Decision) {
	output.Println()
	if v := d.Verification; v != nil {
		if v.Verified() {
			output.Success("✓ Verification %s", v.Status)
		} else {
			output.Error("✗ Verification %s: %s", v.Status, v.Error)
			return
		}
		if v.Assessment != nil {
			renderAssessment(output, v.Assessment)
		}
	}

	if c := d.Confluence; c != nil {
		output.Println()
		output.Bold("Confluence %s  %s", FormatScore(c.Score), output.statusText(c.Status))
		keys := make([]string, 0, len(c.Breakdown))
		for k := range c.Breakdown {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			points := c.Breakdown[k]
			output.Printf("  %-12s %s\n", k, output.Signed(float64(points), fmt.Sprintf("%+d", points)))
		}
		for _, r := range c.Reasons {
			output.Dim("  %s", r)
		}
	}

	if r := d.Consensus; r != nil {
		output.Println()
		output.Bold("Consensus %s  agreement %s  confidence %s",
			output.signalText(r.Signal), FormatAgreement(r.AgreementRatio), FormatConfidence(r.Confidence))
		table := NewTable(output, "Voter", "Model", "Signal", "Conf", "Rationale")
		for _, v := range r.Votes {
			table.AddRow(v.VoterID, v.Model, output.signalText(v.Signal), FormatConfidence(v.Confidence), TruncateString(v.Rationale, 60))
		}
		table.Render()
		output.Dim("  %s", r.Reasoning)
	}

	output.Println()
	if d.Gate.Passed {
		output.Success("Gate passed: %s", d.Gate.Action)
	} else {
		output.Warning("Gate closed: %s", d.Gate.Action)
		for _, r := range d.Gate.Reasons {
			output.Dim("  %s", r)
		}
	}

	if e := d.Execution; e != nil {
		if e.Allowed && e.Trade != nil {
			t := e.Trade
			output.Success("Opened %s %s @ %s  size %s  SL %s  TP %s  [%s]", t.Action, t.Symbol,
				utils.FormatPrice(t.EntryPrice), utils.FormatUSD(t.PositionSize),
				utils.FormatPrice(t.StopLoss), utils.FormatPrice(t.TakeProfit), ShortID(t.ID))
			output.Dim("  %s", t.Rationale)
		} else {
			output.Warning("Blocked by risk limits: %s", e.Reason)
		}
	}
}

func renderAssessment(output *Output, a *analysis.RegimeAssessment) {
	ind := a.Indicators
	output.Bold("Regime %s  trade allowed: %v", a.Regime, a.TradeAllowed)
	for _, r := range a.Reasons {
		output.Dim("  %s", r)
	}
	if ind == nil {
		return
	}
	output.Printf("  Price        %s (%d bars)\n", utils.FormatPrice(ind.Price), ind.Bars)
	output.Printf("  RSI          %s\n", FormatOptional(ind.RSI, 2))
	if ind.MACD != nil {
		output.Printf("  MACD         %.4f / %.4f  hist %.4f  %s\n", ind.MACD.Line, ind.MACD.Signal, ind.MACD.Histogram, ind.MACD.Trend)
	}
	if ind.ADX != nil {
		output.Printf("  ADX          %.2f  +DI %.2f  -DI %.2f  %s\n", ind.ADX.ADX, ind.ADX.PlusDI, ind.ADX.MinusDI, ind.ADX.TrendStrength)
	}
	if ind.Bollinger != nil {
		output.Printf("  Bollinger    %s / %s / %s  width %.2f%%  %s\n",
			utils.FormatPrice(ind.Bollinger.Lower), utils.FormatPrice(ind.Bollinger.Middle), utils.FormatPrice(ind.Bollinger.Upper),
			ind.Bollinger.WidthPct, ind.Bollinger.Position)
	}
	if ind.TrendCross != nil {
		output.Printf("  Trend cross  %s  %s\n", ind.TrendCross.Trend, ind.TrendCross.Signal)
	}
}

func newVerifyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <symbol>",
		Short: "Check claimed indicator values against recomputed ones",
		Long: `Recompute indicators from raw candles and compare each claim within
its tolerance. Any mismatch rejects the whole report and the command exits
non-zero.

Known metrics: ` + strings.Join(verifier.Metrics(), ", "),
		Example: `  trinity verify BTC/USDT --claim rsi=55.2 --claim adx=30
  trinity verify ETH/USDT --claim price=3150 --timeframe 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			timeframe, err := timeframeFlag(cmd, app)
			if err != nil {
				return err
			}
			pairs, _ := cmd.Flags().GetStringArray("claim")
			claims, err := ParseClaims(pairs)
			if err != nil {
				return err
			}

			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			report := app.Verifier.Verify(ctx, args[0], timeframe, claims)
			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
				return report.Err
			}

			if len(report.Verdicts) > 0 {
				table := NewTable(output, "Metric", "Claimed", "Actual", "Tolerance", "Status")
				for _, v := range report.Verdicts {
					status := output.Green(string(v.Status))
					if v.Status != analysis.StatusVerified {
						status = output.Red(string(v.Status))
					}
					table.AddRow(v.Metric, fmt.Sprintf("%.4f", v.Claimed), FormatOptional(v.Actual, 4), fmt.Sprintf("%.4f", v.Tolerance), status)
				}
				table.Render()
				output.Println()
			}

			if report.Verified() {
				output.Success("✓ %s %s", report.Symbol, report.Status)
				if report.Assessment != nil {
					renderAssessment(output, report.Assessment)
				}
				return nil
			}
			output.Error("✗ %s %s: %s", report.Symbol, report.Status, report.Error)
			return report.Err
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", "Candle interval (default from config)")
	cmd.Flags().StringArray("claim", nil, "Claimed value as metric=value (repeatable)")

	return cmd
}

// timeframeFlag returns the --timeframe value or the configured default.
func timeframeFlag(cmd *cobra.Command, app *App) (string, error) {
	tf, _ := cmd.Flags().GetString("timeframe")
	if tf == "" {
		tf = app.Config.Scan.Timeframe
	}
	if !utils.ValidInterval(tf) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidTimeframe, tf)
	}
	return tf, nil
}

// startMetrics serves the recorder when a listen address is configured and
// returns the function that stops it.
func startMetrics(app *App) func() {
	addr := app.Config.Metrics.ListenAddr
	if addr == "" || app.Metrics == nil {
		return func() {}
	}
	srv := metrics.NewServer(addr, app.Metrics, app.Logger)
	srv.Start()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			app.Logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
}

func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
