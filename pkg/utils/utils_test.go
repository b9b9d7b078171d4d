package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTC/USDT", "BTC/USDT"},
		{"btcusdt", "BTC/USDT"},
		{"eth-usdt", "ETH/USDT"},
		{" sol_usdc ", "SOL/USDC"},
		{"ETHBTC", "ETH/BTC"},
		{"XYZ", "XYZ"},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := ExchangeSymbol("btc/usdt"); got != "BTCUSDT" {
		t.Errorf("ExchangeSymbol = %q, want BTCUSDT", got)
	}
}

func TestIntervalDuration(t *testing.T) {
	if got := IntervalDuration("4h"); got != 4*time.Hour {
		t.Errorf("IntervalDuration(4h) = %v", got)
	}
	if got := IntervalDuration("1w"); got != 7*24*time.Hour {
		t.Errorf("IntervalDuration(1w) = %v", got)
	}
	if got := IntervalDuration("7m"); got != 0 {
		t.Errorf("IntervalDuration(7m) = %v, want 0", got)
	}
	if ValidInterval("7m") || !ValidInterval("15m") {
		t.Error("ValidInterval disagrees with the interval table")
	}
}

func TestFormatUSD(t *testing.T) {
	tests := map[float64]string{
		0:          "$0.00",
		999.5:      "$999.50",
		10000:      "$10,000.00",
		-1234567.8: "-$1,234,567.80",
	}
	for in, want := range tests {
		if got := FormatUSD(in); got != want {
			t.Errorf("FormatUSD(%v) = %q, want %q", in, got, want)
		}
	}
	if got := FormatPnL(20); got != "+$20.00" {
		t.Errorf("FormatPnL(20) = %q", got)
	}
	if got := FormatDuration(135 * time.Minute); got != "2h15m" {
		t.Errorf("FormatDuration = %q", got)
	}
}

func TestRetryWithResultStopsAfterMaxAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0
	failure := errors.New("boom")

	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryWithResultSucceedsOnRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0

	v, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected ok, got %q, %v", v, err)
	}
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := DefaultRetryConfig()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected a single attempt, got %d (%v)", calls, err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}

	start := time.Now()
	err := Retry(ctx, cfg, func() error {
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("retry waited despite cancellation")
	}
}
