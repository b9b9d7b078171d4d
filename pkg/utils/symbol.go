package utils

import (
	"strings"
	"time"
)

var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH", "BNB", "EUR"}

// NormalizeSymbol returns the BASE/QUOTE form of a pair, e.g. "btcusdt",
// "BTC-USDT" and "btc/usdt" all become "BTC/USDT". Input without a known
// quote asset is upper-cased and returned as is.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "/", "_", "/", ":", "/").Replace(s)
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		return parts[0] + "/" + strings.ReplaceAll(parts[1], "/", "")
	}
	for _, quote := range quoteAssets {
		if len(s) > len(quote) && strings.HasSuffix(s, quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}

// ExchangeSymbol returns the concatenated exchange form, e.g. "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(NormalizeSymbol(symbol), "/", "")
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  168 * time.Hour,
}

// ValidInterval reports whether tf is a supported candle interval.
func ValidInterval(tf string) bool {
	_, ok := intervals[tf]
	return ok
}

// IntervalDuration returns the length of one candle, or zero for an
// unsupported interval.
func IntervalDuration(tf string) time.Duration {
	return intervals[tf]
}
