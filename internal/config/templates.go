package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trinity Trader Configuration

[market]
# Candle provider: "binance" (live REST klines) or "archive" (local SQLite only)
provider = "binance"
# Override the REST endpoint (leave empty for the default)
base_url = ""
# Use the Binance spot testnet
testnet = false
# Per-request timeout
timeout = "10s"
# Client-side request pacing
requests_per_second = 8.0
# Candles fetched per symbol
candles = 200
# Attempts per fetch (1 = no retry, 2 = one retry)
max_attempts = 2
# Consecutive feed failures before the feed breaker opens
breaker_failures = 5
breaker_cooldown = "1m"
# Keep fetched candles in the local database
archive = true

[market.cache]
# Optional Redis candle cache
enabled = false
addr = "localhost:6379"
password = ""
db = 0
ttl = "1m"

[scan]
symbols = [
  "BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT", "XRP/USDT",
  "DOGE/USDT", "ADA/USDT", "AVAX/USDT", "DOT/USDT", "MATIC/USDT",
]
# Number of configured symbols scanned when none are given
limit = 10
timeframe = "4h"
# Symbols analyzed in parallel (1 = sequential)
concurrency = 1
# Signals shown in the scan summary
top = 5

[scoring]
# Minimum confluence score for a signal
threshold = 70
trend_bullish = 15
trend_bearish = 10
cross_bullish = 15
cross_bearish = 10
rsi_oversold = 20
rsi_weak = 15
rsi_neutral = 10
rsi_overbought = 5
adx_strong = 15
adx_very_strong = 5
# ADX levels that earn adx_strong and, on top, adx_very_strong
adx_strong_above = 25.0
adx_very_strong_above = 35.0
band_below = 15
band_inside = 5
ranging_penalty = 10
volatile_penalty = 5

[verification]
# Absolute tolerances for claimed indicator values
rsi_tolerance = 2.0
adx_tolerance = 2.0
macd_tolerance = 0.5
width_tolerance = 0.5
# Relative tolerance (percent) for price-scale values
price_tolerance_pct = 0.5

[regime]
trending_adx = 25.0
ranging_width = 5.0
weak_adx = 20.0
squeeze_width = 3.0

[consensus]
# Fraction of voters that must agree
threshold = 0.75
# Minimum mean confidence of the majority
min_confidence = 60.0
voter_timeout = "30s"

# kind: "heuristic" (rule based) or "remote" (OpenAI-compatible chat model)
[[consensus.voters]]
id = "atlas"
kind = "heuristic"
persona = "atlas"

[[consensus.voters]]
id = "nova"
kind = "heuristic"
persona = "nova"

[[consensus.voters]]
id = "orion"
kind = "heuristic"
persona = "orion"

[[consensus.voters]]
id = "flash"
kind = "heuristic"
persona = "flash"

[risk]
initial_capital = 10000.0
# Position size as percentage of current capital
max_position_percent = 5.0
# Stop opening trades past this drawdown from peak capital
max_drawdown_percent = 50.0
# Consecutive losses that trip the circuit breaker
circuit_breaker_losses = 3
max_open_trades = 5
stop_loss_percent = 2.0
take_profit_percent = 4.0
# Trail the best price by this much once a trade is activation percent in profit; 0 disables
trailing_percent = 1.0
trailing_activation_percent = 0.5

[storage]
# Relative paths are resolved against the config directory
path = "trinity.db"

[logging]
level = "info"
console = true
file = true
file_path = "logs/trinity.log"
max_size = 50
max_backups = 5
max_age = 14

[metrics]
# Serve Prometheus metrics on this address during scan and monitor (empty = disabled)
listen_addr = ""
namespace = "trinity"

[notify]
# Post trade and circuit breaker events to a webhook and/or Telegram
enabled = false
# "all", "trades" or "risk"
level = "all"
webhook_url = ""
# Numeric chat id or @channel; requires telegram.bot_token in credentials.toml
telegram_chat_id = ""
# Publish events as JSON keyed by symbol, e.g. ["localhost:9092"]
kafka_brokers = []
kafka_topic = "trinity.trades"
# Events queued beyond this are dropped
buffer = 64
timeout = "10s"
`

const credentialsTemplate = `# Trinity Trader Credentials
# Keep this file private (chmod 600)

[openai]
# Used by voters with kind = "remote"
api_key = ""
# Any OpenAI-compatible endpoint
base_url = ""

[telegram]
# Bot used for notify.telegram_chat_id
bot_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
