// Package cli provides the command-line interface for the trading application.
package cli

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trinity-trader/internal/config"
	"trinity-trader/internal/logging"
	"trinity-trader/internal/security"
	"trinity-trader/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// NewRootCmd creates the root command for the CLI. A nil cfg is loaded
// before the first command runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "trinity",
		Short: "Trinity - verified, consensus-gated crypto paper trading",
		Long: `Trinity scans crypto pairs, recomputes every indicator from raw candles,
scores confluence, polls a panel of voters and paper-trades only when all
three agree.

Use 'trinity scan' to run the full pipeline over the configured pairs.
Use 'trinity performance' to review the paper ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Without a preloaded config, load from --config or the default directory.
			if dir, _ := cmd.Flags().GetString("config"); dir != "" || app.Config == nil {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.Logger = NewLogger(loaded)
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/trinity-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPipelineCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)

	return rootCmd
}

// logConfig maps the logging section onto the logger settings.
func logConfig(c config.LoggingConfig) logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Level,
		Console:    c.Console,
		File:       c.File,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// NewLogger builds the application logger from the configuration.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return logging.NewLoggerWithConfig(logConfig(cfg.Logging))
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Trinity Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redactConfig(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Market")
	output.Printf("  Provider:         %s\n", cfg.Market.Provider)
	output.Printf("  Candles:          %d\n", cfg.Market.Candles)
	output.Printf("  Archive:          %v\n", cfg.Market.Archive)
	output.Printf("  Cache:            %v\n", cfg.Market.Cache.Enabled)
	output.Println()

	output.Bold("Scan")
	output.Printf("  Symbols:          %d (limit %d)\n", len(cfg.Scan.Symbols), cfg.Scan.Limit)
	output.Printf("  Timeframe:        %s\n", cfg.Scan.Timeframe)
	output.Printf("  Concurrency:      %d\n", cfg.Scan.Concurrency)
	output.Printf("  Score Threshold:  %d\n", cfg.Scoring.Threshold)
	output.Println()

	output.Bold("Consensus")
	output.Printf("  Voters:           %d\n", len(cfg.Consensus.Voters))
	output.Printf("  Agreement:        %s\n", FormatAgreement(cfg.Consensus.Threshold))
	output.Printf("  Min Confidence:   %s\n", FormatConfidence(cfg.Consensus.MinConfidence))
	output.Printf("  Voter Timeout:    %s\n", cfg.Consensus.VoterTimeout)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Initial Capital:  %s\n", utils.FormatUSD(cfg.Risk.InitialCapital))
	output.Printf("  Max Position:     %.1f%%\n", cfg.Risk.MaxPositionPercent)
	output.Printf("  Max Drawdown:     %.1f%%\n", cfg.Risk.MaxDrawdownPercent)
	output.Printf("  Breaker Losses:   %d\n", cfg.Risk.CircuitBreakerLosses)
	output.Printf("  Max Open Trades:  %d\n", cfg.Risk.MaxOpenTrades)
	output.Printf("  Stop / Target:    %.1f%% / %.1f%%\n", cfg.Risk.StopLossPercent, cfg.Risk.TakeProfitPercent)
	if cfg.Risk.TrailingPercent > 0 {
		output.Printf("  Trailing Stop:    %.1f%% after %.1f%% profit\n", cfg.Risk.TrailingPercent, cfg.Risk.TrailingActivationPercent)
	}
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:         %s\n", cfg.Storage.Path)
	if cfg.Metrics.ListenAddr != "" {
		output.Printf("  Metrics:          %s\n", cfg.Metrics.ListenAddr)
	}

	if cfg.Notify.Enabled {
		output.Println()
		output.Bold("Notify")
		output.Printf("  Level:            %s\n", cfg.Notify.Level)
		if cfg.Notify.WebhookURL != "" {
			output.Printf("  Webhook:          %s\n", security.MaskURL(cfg.Notify.WebhookURL))
		}
		if cfg.Notify.TelegramChatID != "" {
			output.Printf("  Telegram Chat:    %s\n", cfg.Notify.TelegramChatID)
		}
		if len(cfg.Notify.KafkaBrokers) > 0 {
			output.Printf("  Kafka:            %s -> %s\n", strings.Join(cfg.Notify.KafkaBrokers, ","), cfg.Notify.KafkaTopic)
		}
	}

	output.Println()
	output.Bold("Credentials")
	output.Printf("  OpenAI Key:       %s\n", credentialText(cfg.Credentials.OpenAI.APIKey))
	output.Printf("  Telegram Token:   %s\n", credentialText(cfg.Credentials.Telegram.BotToken))
}

func credentialText(v string) string {
	if v == "" {
		return "not set"
	}
	return security.MaskCredential(v)
}

// redactConfig returns a copy of cfg with every secret masked.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Credentials.OpenAI.APIKey = security.MaskCredential(cfg.Credentials.OpenAI.APIKey)
	out.Credentials.Telegram.BotToken = security.MaskCredential(cfg.Credentials.Telegram.BotToken)
	out.Market.Cache.Password = security.MaskCredential(cfg.Market.Cache.Password)
	out.Notify.WebhookURL = security.MaskURL(cfg.Notify.WebhookURL)
	return out
}
