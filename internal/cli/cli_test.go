package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trinity-trader/internal/config"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
	"trinity-trader/internal/store"
	"trinity-trader/internal/trading"
)

const offlineConfig = `[market]
provider = "archive"
max_attempts = 1

[storage]
path = "trinity.db"

[logging]
console = false
file = false
`

// newConfigDir writes a config that reads candles from the local archive
// so no command reaches the network.
func newConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(offlineConfig), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return dir
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(config.Default(), zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if dir != "" {
		args = append([]string{"--config", dir}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seed archives a rising series ending at 299 and optionally opens a LONG
// at 100 on the same ledger. It returns the trade id.
func seed(t *testing.T, dir string, openTrade bool) string {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "trinity.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer st.Close()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 200)
	for i := range candles {
		c := 100 + float64(i)
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	if err := st.SaveCandles(ctx, "BTC/USDT", "4h", candles); err != nil {
		t.Fatalf("SaveCandles() error = %v", err)
	}

	if !openTrade {
		return ""
	}
	exec, err := trading.NewExecutor(ctx, trading.DefaultRiskConfig(), st, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	out, err := exec.Open(ctx, trading.OpenRequest{
		Symbol:    "BTC/USDT",
		Action:    models.ActionLong,
		Price:     100,
		Rationale: "seeded",
	})
	if err != nil || !out.Allowed {
		t.Fatalf("Open() = %+v, %v", out, err)
	}
	return out.Trade.ID
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, "", "version", "--json")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("version output is not JSON: %q", out)
	}
	if v["version"] != Version {
		t.Errorf("version = %q, want %q", v["version"], Version)
	}
}

func TestConfigShowRedactsCredentials(t *testing.T) {
	dir := newConfigDir(t)
	creds := "[openai]\napi_key = \"sk-secret\"\n"
	if err := os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(creds), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, dir, "config", "show", "--json")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(out, "sk-secret") {
		t.Error("config show leaked the API key")
	}
	if !strings.Contains(out, `"Provider": "archive"`) {
		t.Errorf("config show did not reflect the loaded file:\n%s", out)
	}
}

func TestVerifyAgainstArchive(t *testing.T) {
	dir := newConfigDir(t)
	seed(t, dir, false)

	out, err := runCLI(t, dir, "verify", "BTC/USDT", "--claim", "price=299", "--json")
	if err != nil {
		t.Fatalf("verify error = %v\n%s", err, out)
	}
	if !strings.Contains(out, `"status": "VERIFIED"`) {
		t.Errorf("verify output:\n%s", out)
	}

	_, err = runCLI(t, dir, "verify", "BTC/USDT", "--claim", "rsi=10", "--json")
	if !errors.Is(err, apperrors.ErrVerificationMismatch) {
		t.Errorf("verify with a false claim error = %v, want ErrVerificationMismatch", err)
	}

	_, err = runCLI(t, dir, "verify", "BTC/USDT", "--claim", "vibes=10")
	if err == nil || !strings.Contains(err.Error(), "unknown metric") {
		t.Errorf("verify with an unknown metric error = %v", err)
	}
}

func TestScanFailsWhenDataUnavailable(t *testing.T) {
	dir := newConfigDir(t)

	out, err := runCLI(t, dir, "scan", "ETH/USDT", "--json")
	if !errors.Is(err, apperrors.ErrDataUnavailable) {
		t.Fatalf("scan error = %v, want ErrDataUnavailable", err)
	}
	if !strings.Contains(out, `"failed"`) || !strings.Contains(out, "ETH/USDT") {
		t.Errorf("scan report does not list the failure:\n%s", out)
	}
}

func TestScanRejectsBadTimeframe(t *testing.T) {
	dir := newConfigDir(t)
	_, err := runCLI(t, dir, "scan", "--timeframe", "7m")
	if !errors.Is(err, apperrors.ErrInvalidTimeframe) {
		t.Errorf("scan error = %v, want ErrInvalidTimeframe", err)
	}
}

func TestScanTimeframesShowsAlignment(t *testing.T) {
	dir := newConfigDir(t)
	seed(t, dir, false)

	out, err := runCLI(t, dir, "scan", "BTC/USDT", "--timeframes", "1h,4h", "--json")
	if err != nil {
		t.Fatalf("scan --timeframes error = %v\n%s", err, out)
	}
	var results []struct {
		Symbol     string `json:"symbol"`
		Alignment  string `json:"alignment"`
		Bias       string `json:"bias"`
		Failed     int    `json:"failed"`
		Timeframes []struct {
			Timeframe string `json:"timeframe"`
			Direction string `json:"direction"`
			Error     string `json:"error"`
		} `json:"timeframes"`
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Alignment != "WEAK" || r.Bias != "CAUTION_LONGS" || r.Failed != 1 {
		t.Errorf("alignment %s bias %s failed %d", r.Alignment, r.Bias, r.Failed)
	}
	if len(r.Timeframes) != 2 || r.Timeframes[0].Timeframe != "4h" || r.Timeframes[0].Direction != "BULLISH" {
		t.Errorf("timeframes = %+v", r.Timeframes)
	}
	if r.Timeframes[1].Error == "" {
		t.Error("1h has no archived candles and should carry an error")
	}

	_, err = runCLI(t, dir, "scan", "ETH/USDT", "--timeframes", "4h")
	if !errors.Is(err, apperrors.ErrDataUnavailable) {
		t.Errorf("scan --timeframes without data error = %v, want ErrDataUnavailable", err)
	}

	_, err = runCLI(t, dir, "scan", "--timeframes", "4h,7m")
	if !errors.Is(err, apperrors.ErrInvalidTimeframe) {
		t.Errorf("scan --timeframes 7m error = %v, want ErrInvalidTimeframe", err)
	}
}

func TestCloseByPrefix(t *testing.T) {
	dir := newConfigDir(t)
	id := seed(t, dir, true)

	out, err := runCLI(t, dir, "close", ShortID(id), "104", "--json")
	if err != nil {
		t.Fatalf("close error = %v", err)
	}
	var closed models.Trade
	if err := json.Unmarshal([]byte(out), &closed); err != nil {
		t.Fatalf("close output is not a trade: %q", out)
	}
	if closed.ID != id || closed.PnL != 20 || closed.CloseReason != trading.ReasonManual {
		t.Errorf("closed = %+v, want pnl 20 with a manual reason", closed)
	}

	_, err = runCLI(t, dir, "close", id, "105")
	if !errors.Is(err, apperrors.ErrDuplicateClose) {
		t.Errorf("second close error = %v, want ErrDuplicateClose", err)
	}

	out, err = runCLI(t, dir, "trade", id, "--json")
	if err != nil {
		t.Fatalf("trade error = %v", err)
	}
	if strings.Count(out, `"kind"`) != 2 {
		t.Errorf("trade events:\n%s\nwant OPENED and CLOSED", out)
	}
}

func TestCloseNotifiesWebhook(t *testing.T) {
	var (
		mu     sync.Mutex
		titles []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&n)
		mu.Lock()
		titles = append(titles, n.Title)
		mu.Unlock()
	}))
	defer srv.Close()

	dir := newConfigDir(t)
	section := fmt.Sprintf("\n[notify]\nenabled = true\nlevel = \"trades\"\nwebhook_url = %q\n", srv.URL)
	f, err := os.OpenFile(filepath.Join(dir, "config.toml"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(section); err != nil {
		t.Fatal(err)
	}
	f.Close()
	id := seed(t, dir, true)

	if _, err := runCLI(t, dir, "close", id, "104"); err != nil {
		t.Fatalf("close error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(titles) != 1 || titles[0] != "Closed BTC/USDT +$20.00" {
		t.Errorf("webhook titles = %q, want the close", titles)
	}
}

func TestNotifyRequiresAChannel(t *testing.T) {
	dir := newConfigDir(t)
	f, err := os.OpenFile(filepath.Join(dir, "config.toml"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("\n[notify]\nenabled = true\n")
	f.Close()

	_, err = runCLI(t, dir, "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "notify") {
		t.Errorf("config validate error = %v, want a notify error", err)
	}
}

func TestCloseUnknownTrade(t *testing.T) {
	dir := newConfigDir(t)
	_, err := runCLI(t, dir, "close", "deadbeef", "100")
	if !errors.Is(err, apperrors.ErrTradeNotFound) {
		t.Errorf("close error = %v, want ErrTradeNotFound", err)
	}
}

func TestCloseAllUsesLatestPrice(t *testing.T) {
	dir := newConfigDir(t)
	seed(t, dir, true)

	out, err := runCLI(t, dir, "close-all", "--json")
	if err != nil {
		t.Fatalf("close-all error = %v", err)
	}
	var closed []models.Trade
	if err := json.Unmarshal([]byte(out), &closed); err != nil {
		t.Fatalf("close-all output: %q", out)
	}
	if len(closed) != 1 || closed[0].ExitPrice != 299 || closed[0].CloseReason != trading.ReasonEndOfSession {
		t.Errorf("closed = %+v, want one close at 299 for end of session", closed)
	}

	out, err = runCLI(t, dir, "performance", "--json")
	if err != nil {
		t.Fatalf("performance error = %v", err)
	}
	var summary models.PerformanceSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("performance output: %q", out)
	}
	if summary.ClosedTrades != 1 || summary.Wins != 1 || summary.TotalPnL != 995 {
		t.Errorf("summary = %+v, want one win of 995", summary)
	}
}

func TestMonitorSinglePass(t *testing.T) {
	dir := newConfigDir(t)
	seed(t, dir, true)

	out, err := runCLI(t, dir, "monitor", "--json")
	if err != nil {
		t.Fatalf("monitor error = %v", err)
	}
	if !strings.Contains(out, trading.ReasonTakeProfit) {
		t.Errorf("monitor did not take profit at 299:\n%s", out)
	}
}

func TestResetBreaker(t *testing.T) {
	dir := newConfigDir(t)
	out, err := runCLI(t, dir, "reset-breaker", "--json")
	if err != nil {
		t.Fatalf("reset-breaker error = %v", err)
	}
	if !strings.Contains(out, `"circuit_breaker_active": false`) {
		t.Errorf("reset-breaker output:\n%s", out)
	}
}

func TestTradesRejectsUnknownStatus(t *testing.T) {
	dir := newConfigDir(t)
	if _, err := runCLI(t, dir, "trades", "--status", "pending"); err == nil {
		t.Error("trades --status pending succeeded")
	}
	if _, err := runCLI(t, dir, "trades", "--status", "open", "--json"); err != nil {
		t.Errorf("trades --status open error = %v", err)
	}
}

func TestParseClaims(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]float64
		wantErr bool
	}{
		{"empty", nil, map[string]float64{}, false},
		{"several", []string{"rsi=55.2", " ADX = 30 "}, map[string]float64{"rsi": 55.2, "adx": 30}, false},
		{"missing equals", []string{"rsi55"}, nil, true},
		{"bad value", []string{"rsi=high"}, nil, true},
		{"unknown metric", []string{"volume=10"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClaims(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClaims() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseClaims() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("claim %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestVoteTally(t *testing.T) {
	votes := []models.Vote{
		{Signal: models.SignalLong}, {Signal: models.SignalWait},
		{Signal: models.SignalLong}, {Signal: models.SignalLong},
	}
	if got := voteTally(votes); got != "3L 1W" {
		t.Errorf("voteTally() = %q, want %q", got, "3L 1W")
	}
}
