// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "trinity-trader", "logs", "trinity.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
// Console output goes to stderr so command output on stdout stays parseable.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:         os.Stderr,
			TimeFormat:  time.Kitchen,
			FormatLevel: formatLevel,
		})
	}

	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func formatLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	switch ll {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	default:
		return strings.ToUpper(ll)
	}
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithVoter adds a voter id to the logger context.
func WithVoter(logger zerolog.Logger, voterID string) zerolog.Logger {
	return logger.With().Str("voter", voterID).Logger()
}

// WithTradeID adds a trade id to the logger context.
func WithTradeID(logger zerolog.Logger, tradeID string) zerolog.Logger {
	return logger.With().Str("trade_id", tradeID).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogVerification logs the outcome of an indicator verification.
func LogVerification(logger zerolog.Logger, symbol, status string, mismatches []string) {
	event := logger.Info()
	if len(mismatches) > 0 {
		event = logger.Warn().Strs("mismatches", mismatches)
	}
	event.
		Str("event", "verification").
		Str("symbol", symbol).
		Str("status", status).
		Msg("Indicators verified")
}

// LogConsensus logs a panel result.
func LogConsensus(logger zerolog.Logger, symbol, signal string, agreement, confidence float64, shouldTrade bool) {
	logger.Info().
		Str("event", "consensus").
		Str("symbol", symbol).
		Str("signal", signal).
		Float64("agreement", agreement).
		Float64("confidence", confidence).
		Bool("should_trade", shouldTrade).
		Msg("Consensus reached")
}

// LogTradeOpened logs a newly opened paper position.
func LogTradeOpened(logger zerolog.Logger, tradeID, symbol, action string, entry, size float64) {
	logger.Info().
		Str("event", "trade_opened").
		Str("trade_id", tradeID).
		Str("symbol", symbol).
		Str("action", action).
		Float64("entry", entry).
		Float64("size", size).
		Msg("Trade opened")
}

// LogTradeClosed logs a closed paper position.
func LogTradeClosed(logger zerolog.Logger, tradeID, symbol, reason string, exit, pnl float64) {
	logger.Info().
		Str("event", "trade_closed").
		Str("trade_id", tradeID).
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("exit", exit).
		Float64("pnl", pnl).
		Msg("Trade closed")
}

// LogRiskBlock logs a refused trade.
func LogRiskBlock(logger zerolog.Logger, symbol, reason string) {
	logger.Warn().
		Str("event", "risk_block").
		Str("symbol", symbol).
		Str("reason", reason).
		Msg("Trade blocked by risk limits")
}
