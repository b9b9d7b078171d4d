// Package config provides configuration management for the trading application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"trinity-trader/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Market       MarketConfig       `mapstructure:"market"`
	Scan         ScanConfig         `mapstructure:"scan"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Verification VerificationConfig `mapstructure:"verification"`
	Regime       RegimeConfig       `mapstructure:"regime"`
	Consensus    ConsensusConfig    `mapstructure:"consensus"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Credentials  Credentials        `mapstructure:"-"` // Loaded separately
}

// MarketConfig holds market data feed configuration.
type MarketConfig struct {
	Provider          string        `mapstructure:"provider" validate:"oneof=binance archive"`
	BaseURL           string        `mapstructure:"base_url"`
	Testnet           bool          `mapstructure:"testnet"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Candles           int           `mapstructure:"candles" validate:"gte=50,lte=1000"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1,lte=2"`
	BreakerFailures   int           `mapstructure:"breaker_failures" validate:"gte=1"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown" validate:"gt=0"`
	Archive           bool          `mapstructure:"archive"`
	Cache             CacheConfig   `mapstructure:"cache"`
}

// CacheConfig holds the optional Redis candle cache configuration.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// ScanConfig holds batch scan configuration.
type ScanConfig struct {
	Symbols     []string `mapstructure:"symbols" validate:"min=1,dive,required"`
	Limit       int      `mapstructure:"limit" validate:"gte=1"`
	Timeframe   string   `mapstructure:"timeframe" validate:"required"`
	Concurrency int      `mapstructure:"concurrency" validate:"gte=1,lte=16"`
	Top         int      `mapstructure:"top" validate:"gte=1"`
}

// ScoringConfig holds confluence score weights.
type ScoringConfig struct {
	Threshold       int `mapstructure:"threshold" validate:"gte=0,lte=100"`
	TrendBullish    int `mapstructure:"trend_bullish"`
	TrendBearish    int `mapstructure:"trend_bearish"`
	CrossBullish    int `mapstructure:"cross_bullish"`
	CrossBearish    int `mapstructure:"cross_bearish"`
	RSIOversold     int `mapstructure:"rsi_oversold"`
	RSIWeak         int `mapstructure:"rsi_weak"`
	RSINeutral      int `mapstructure:"rsi_neutral"`
	RSIOverbought   int `mapstructure:"rsi_overbought"`
	ADXStrong       int `mapstructure:"adx_strong"`
	ADXVeryStrong   int `mapstructure:"adx_very_strong"`
	BandBelow       int `mapstructure:"band_below"`
	BandInside      int `mapstructure:"band_inside"`
	RangingPenalty  int `mapstructure:"ranging_penalty"`
	VolatilePenalty int `mapstructure:"volatile_penalty"`

	ADXStrongAbove     float64 `mapstructure:"adx_strong_above" validate:"gte=0,lte=100"`
	ADXVeryStrongAbove float64 `mapstructure:"adx_very_strong_above" validate:"gtefield=ADXStrongAbove,lte=100"`
}

// VerificationConfig holds claim tolerances.
type VerificationConfig struct {
	RSITolerance      float64 `mapstructure:"rsi_tolerance" validate:"gt=0"`
	ADXTolerance      float64 `mapstructure:"adx_tolerance" validate:"gt=0"`
	MACDTolerance     float64 `mapstructure:"macd_tolerance" validate:"gt=0"`
	WidthTolerance    float64 `mapstructure:"width_tolerance" validate:"gt=0"`
	PriceTolerancePct float64 `mapstructure:"price_tolerance_pct" validate:"gt=0"`
}

// RegimeConfig holds market regime thresholds.
type RegimeConfig struct {
	TrendingADX  float64 `mapstructure:"trending_adx" validate:"gt=0"`
	RangingWidth float64 `mapstructure:"ranging_width" validate:"gt=0"`
	WeakADX      float64 `mapstructure:"weak_adx" validate:"gte=0"`
	SqueezeWidth float64 `mapstructure:"squeeze_width" validate:"gte=0"`
}

// ConsensusConfig holds voter panel configuration.
type ConsensusConfig struct {
	Threshold     float64       `mapstructure:"threshold" validate:"gt=0,lte=1"`
	MinConfidence float64       `mapstructure:"min_confidence" validate:"gte=0,lte=100"`
	VoterTimeout  time.Duration `mapstructure:"voter_timeout" validate:"gt=0"`
	Voters        []VoterConfig `mapstructure:"voters" validate:"min=1,dive"`
}

// VoterConfig describes one panel member.
type VoterConfig struct {
	ID          string  `mapstructure:"id" validate:"required"`
	Kind        string  `mapstructure:"kind" validate:"oneof=heuristic remote"`
	Persona     string  `mapstructure:"persona"`
	Model       string  `mapstructure:"model" validate:"required_if=Kind remote"`
	Temperature float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// RiskConfig holds executor limits.
type RiskConfig struct {
	InitialCapital       float64 `mapstructure:"initial_capital" validate:"gt=0"`
	MaxPositionPercent   float64 `mapstructure:"max_position_percent" validate:"gt=0,lte=100"`
	MaxDrawdownPercent   float64 `mapstructure:"max_drawdown_percent" validate:"gt=0,lte=100"`
	CircuitBreakerLosses int     `mapstructure:"circuit_breaker_losses" validate:"gte=1"`
	MaxOpenTrades        int     `mapstructure:"max_open_trades" validate:"gte=1"`
	StopLossPercent      float64 `mapstructure:"stop_loss_percent" validate:"gt=0,lt=100"`
	TakeProfitPercent    float64 `mapstructure:"take_profit_percent" validate:"gt=0"`

	TrailingPercent           float64 `mapstructure:"trailing_percent" validate:"gte=0,lt=100"`
	TrailingActivationPercent float64 `mapstructure:"trailing_activation_percent" validate:"gte=0"`
}

// StorageConfig holds trade log storage configuration.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" validate:"gte=0"`
}

// MetricsConfig holds Prometheus exporter configuration.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace" validate:"required"`
}

// NotifyConfig holds trade notification configuration.
type NotifyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Level          string        `mapstructure:"level" validate:"oneof=all trades risk"`
	WebhookURL     string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	TelegramChatID string        `mapstructure:"telegram_chat_id"`
	KafkaBrokers   []string      `mapstructure:"kafka_brokers" validate:"dive,hostname_port"`
	KafkaTopic     string        `mapstructure:"kafka_topic" validate:"required_with=KafkaBrokers"`
	Buffer         int           `mapstructure:"buffer" validate:"gte=1"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI   OpenAICredentials   `mapstructure:"openai"`
	Telegram TelegramCredentials `mapstructure:"telegram"`
}

// TelegramCredentials holds the notification bot token.
type TelegramCredentials struct {
	BotToken string `mapstructure:"bot_token"`
}

// OpenAICredentials holds credentials for an OpenAI-compatible endpoint.
type OpenAICredentials struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// DefaultSymbols are the pairs scanned when none are given.
var DefaultSymbols = []string{
	"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT", "XRP/USDT",
	"DOGE/USDT", "ADA/USDT", "AVAX/USDT", "DOT/USDT", "MATIC/USDT",
	"LINK/USDT", "UNI/USDT", "ATOM/USDT", "LTC/USDT", "ETC/USDT",
	"NEAR/USDT", "APT/USDT", "AR/USDT", "OP/USDT", "ARB/USDT",
}

var validate = validator.New()

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/trinity-trader"
	}
	return filepath.Join(home, ".config", "trinity-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and loading continues with their contents.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration produced by the built-in defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults are static; decoding them cannot fail.
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths(DefaultConfigDir())
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.provider", "binance")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.requests_per_second", 8.0)
	v.SetDefault("market.candles", 200)
	v.SetDefault("market.max_attempts", 2)
	v.SetDefault("market.breaker_failures", 5)
	v.SetDefault("market.breaker_cooldown", "1m")
	v.SetDefault("market.archive", true)
	v.SetDefault("market.cache.enabled", false)
	v.SetDefault("market.cache.addr", "localhost:6379")
	v.SetDefault("market.cache.ttl", "1m")

	v.SetDefault("scan.symbols", DefaultSymbols)
	v.SetDefault("scan.limit", 10)
	v.SetDefault("scan.timeframe", "4h")
	v.SetDefault("scan.concurrency", 1)
	v.SetDefault("scan.top", 5)

	v.SetDefault("scoring.threshold", 70)
	v.SetDefault("scoring.trend_bullish", 15)
	v.SetDefault("scoring.trend_bearish", 10)
	v.SetDefault("scoring.cross_bullish", 15)
	v.SetDefault("scoring.cross_bearish", 10)
	v.SetDefault("scoring.rsi_oversold", 20)
	v.SetDefault("scoring.rsi_weak", 15)
	v.SetDefault("scoring.rsi_neutral", 10)
	v.SetDefault("scoring.rsi_overbought", 5)
	v.SetDefault("scoring.adx_strong", 15)
	v.SetDefault("scoring.adx_very_strong", 5)
	v.SetDefault("scoring.band_below", 15)
	v.SetDefault("scoring.band_inside", 5)
	v.SetDefault("scoring.ranging_penalty", 10)
	v.SetDefault("scoring.volatile_penalty", 5)
	v.SetDefault("scoring.adx_strong_above", 25.0)
	v.SetDefault("scoring.adx_very_strong_above", 35.0)

	v.SetDefault("verification.rsi_tolerance", 2.0)
	v.SetDefault("verification.adx_tolerance", 2.0)
	v.SetDefault("verification.macd_tolerance", 0.5)
	v.SetDefault("verification.width_tolerance", 0.5)
	v.SetDefault("verification.price_tolerance_pct", 0.5)

	v.SetDefault("regime.trending_adx", 25.0)
	v.SetDefault("regime.ranging_width", 5.0)
	v.SetDefault("regime.weak_adx", 20.0)
	v.SetDefault("regime.squeeze_width", 3.0)

	v.SetDefault("consensus.threshold", 0.75)
	v.SetDefault("consensus.min_confidence", 60.0)
	v.SetDefault("consensus.voter_timeout", "30s")
	v.SetDefault("consensus.voters", []map[string]interface{}{
		{"id": "atlas", "kind": "heuristic", "persona": "atlas"},
		{"id": "nova", "kind": "heuristic", "persona": "nova"},
		{"id": "orion", "kind": "heuristic", "persona": "orion"},
		{"id": "flash", "kind": "heuristic", "persona": "flash"},
	})

	v.SetDefault("risk.initial_capital", 10000.0)
	v.SetDefault("risk.max_position_percent", 5.0)
	v.SetDefault("risk.max_drawdown_percent", 50.0)
	v.SetDefault("risk.circuit_breaker_losses", 3)
	v.SetDefault("risk.max_open_trades", 5)
	v.SetDefault("risk.stop_loss_percent", 2.0)
	v.SetDefault("risk.take_profit_percent", 4.0)
	v.SetDefault("risk.trailing_percent", 1.0)
	v.SetDefault("risk.trailing_activation_percent", 0.5)

	v.SetDefault("storage.path", "trinity.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join("logs", "trinity.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 14)

	v.SetDefault("metrics.namespace", "trinity")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.level", "all")
	v.SetDefault("notify.kafka_topic", "trinity.trades")
	v.SetDefault("notify.buffer", 64)
	v.SetDefault("notify.timeout", "10s")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		return createTemplateCredentials(configDir)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Credentials.OpenAI.BaseURL = v
	}
	if v := os.Getenv("TRINITY_TELEGRAM_TOKEN"); v != "" {
		cfg.Credentials.Telegram.BotToken = v
	}
	if v := os.Getenv("TRINITY_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TRINITY_REDIS_ADDR"); v != "" {
		cfg.Market.Cache.Addr = v
		cfg.Market.Cache.Enabled = true
	}
}

// resolvePaths makes relative storage and log paths relative to configDir.
func (c *Config) resolvePaths(configDir string) {
	if c.Storage.Path != "" && c.Storage.Path != ":memory:" && !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(configDir, c.Storage.Path)
	}
	if c.Logging.FilePath != "" && !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(configDir, c.Logging.FilePath)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%s", describeFieldError(fieldErrs[0]))
		}
		return err
	}

	if !utils.ValidInterval(c.Scan.Timeframe) {
		return fmt.Errorf("invalid scan timeframe: %s", c.Scan.Timeframe)
	}
	if c.Regime.WeakADX > c.Regime.TrendingADX {
		return fmt.Errorf("regime.weak_adx must not exceed regime.trending_adx")
	}

	if c.Notify.Enabled && c.Notify.WebhookURL == "" && c.Notify.TelegramChatID == "" && len(c.Notify.KafkaBrokers) == 0 {
		return fmt.Errorf("notify is enabled but no channel is set (notify.webhook_url, notify.telegram_chat_id or notify.kafka_brokers)")
	}
	if c.Notify.Enabled && c.Notify.TelegramChatID != "" && c.Credentials.Telegram.BotToken == "" {
		return fmt.Errorf("notify.telegram_chat_id requires telegram.bot_token in credentials.toml")
	}

	seen := make(map[string]bool, len(c.Consensus.Voters))
	for _, voter := range c.Consensus.Voters {
		if seen[voter.ID] {
			return fmt.Errorf("duplicate voter id: %s", voter.ID)
		}
		seen[voter.ID] = true
	}

	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Type().Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// ScanSymbols returns the configured symbols truncated to the scan limit.
func (c *Config) ScanSymbols() []string {
	symbols := c.Scan.Symbols
	if c.Scan.Limit > 0 && len(symbols) > c.Scan.Limit {
		symbols = symbols[:c.Scan.Limit]
	}
	out := make([]string, len(symbols))
	copy(out, symbols)
	return out
}
