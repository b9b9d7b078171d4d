// Package notify delivers ledger events to external channels. Delivery is
// asynchronous so a slow endpoint never holds up the executor.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"trinity-trader/internal/models"
	"trinity-trader/internal/security"
	"trinity-trader/pkg/utils"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationBlocked NotificationType = "blocked"
	NotificationRisk    NotificationType = "risk"
)

// NotificationLevel filters which notifications are delivered.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades"
	LevelRiskOnly   NotificationLevel = "risk"
)

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Channel delivers notifications to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Config controls the dispatcher.
type Config struct {
	Level NotificationLevel
	// Buffer is the queue size; notifications beyond it are dropped.
	Buffer int
	// Timeout bounds each delivery.
	Timeout time.Duration
}

// Dispatcher queues executor events and sends them to every channel from
// a single worker. It implements trading.Observer.
type Dispatcher struct {
	channels []Channel
	level    NotificationLevel
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	queue   chan Notification
	done    chan struct{}
	closing sync.Once
	release sync.Once

	mu          sync.Mutex
	breakerOpen bool
	closed      bool

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher starts a dispatcher over channels.
func NewDispatcher(channels []Channel, cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Level == "" {
		cfg.Level = LevelAll
	}
	d := &Dispatcher{
		channels: channels,
		level:    cfg.Level,
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "notify").Logger(),
		now:      time.Now,
		queue:    make(chan Notification, cfg.Buffer),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	for _, ch := range d.channels {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := ch.Send(ctx, n)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn().Str("error", security.MaskString(err.Error())).Str("channel", ch.Name()).Str("title", n.Title).Msg("Notification failed")
			continue
		}
		d.sent.Add(1)
	}
}

// shouldSend checks if a notification should be sent based on the level filter.
func (d *Dispatcher) shouldSend(t NotificationType) bool {
	switch d.level {
	case LevelTradesOnly:
		return t == NotificationTrade
	case LevelRiskOnly:
		return t == NotificationRisk
	default:
		return true
	}
}

// Notify queues n without blocking. It reports false when n was filtered
// or dropped.
func (d *Dispatcher) Notify(n Notification) bool {
	if !d.shouldSend(n.Type) {
		return false
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = d.now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn().Str("title", n.Title).Msg("Notification queue full, dropping")
		return false
	}
}

// Close stops accepting notifications and waits for the queue to drain or
// ctx to end. Once drained, channels that hold connections are closed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closing.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	d.release.Do(func() {
		for _, ch := range d.channels {
			if c, ok := ch.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("closing %s: %w", ch.Name(), err))
				}
			}
		}
	})
	return errors.Join(errs...)
}

// Stats reports delivery counts.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

// Stats returns delivery counts.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

func (d *Dispatcher) TradeOpened(symbol string, action models.Action) {
	d.Notify(Notification{
		Type:    NotificationTrade,
		Title:   fmt.Sprintf("Opened %s %s", action, symbol),
		Message: fmt.Sprintf("Paper %s position opened on %s", action, symbol),
		Symbol:  symbol,
		Data:    map[string]interface{}{"action": action},
	})
}

func (d *Dispatcher) TradeClosed(symbol, reason string, pnl float64) {
	d.Notify(Notification{
		Type:    NotificationTrade,
		Title:   fmt.Sprintf("Closed %s %s", symbol, utils.FormatPnL(pnl)),
		Message: fmt.Sprintf("%s closed (%s) for %s", symbol, reason, utils.FormatPnL(pnl)),
		Symbol:  symbol,
		Data:    map[string]interface{}{"reason": reason, "pnl": pnl},
	})
}

func (d *Dispatcher) TradeBlocked(rule string) {
	d.Notify(Notification{
		Type:    NotificationBlocked,
		Title:   "Trade blocked",
		Message: "Risk rule refused a new trade: " + rule,
		Data:    map[string]interface{}{"rule": rule},
	})
}

// CapitalChanged notifies only when the loss circuit breaker trips or is
// reset.
func (d *Dispatcher) CapitalChanged(state models.RiskState) {
	d.mu.Lock()
	changed := state.CircuitBreakerActive != d.breakerOpen
	d.breakerOpen = state.CircuitBreakerActive
	d.mu.Unlock()
	if !changed {
		return
	}

	n := Notification{
		Type: NotificationRisk,
		Data: map[string]interface{}{
			"capital":            state.Capital,
			"consecutive_losses": state.ConsecutiveLosses,
			"drawdown_pct":       state.RealizedDrawdownPct,
		},
	}
	if state.CircuitBreakerActive {
		n.Title = "Circuit breaker tripped"
		n.Message = fmt.Sprintf("%d consecutive losses, capital %s. New trades are blocked.",
			state.ConsecutiveLosses, utils.FormatUSD(state.Capital))
	} else {
		n.Title = "Circuit breaker reset"
		n.Message = fmt.Sprintf("Trading resumed with capital %s", utils.FormatUSD(state.Capital))
	}
	d.Notify(n)
}

func (d *Dispatcher) ConsensusReached(*models.ConsensusResult) {}

func (d *Dispatcher) SymbolAnalyzed(string, time.Duration) {}

// WebhookChannel posts notifications as JSON.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the name of the channel.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// Send sends a notification via webhook.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}
	return post(ctx, w.client, w.url, body)
}

// TelegramChannel sends notifications through a Telegram bot. The bot is
// resolved on the first send so construction never touches the network.
type TelegramChannel struct {
	endpoint string
	token    string
	chatID   string

	mu   sync.Mutex
	http *boundClient
	bot  *tgbotapi.BotAPI
}

// NewTelegramChannel creates a Telegram channel. An empty apiURL uses the
// public Bot API. chatID is a numeric chat id or an @channel name.
func NewTelegramChannel(apiURL, botToken, chatID string) *TelegramChannel {
	endpoint := tgbotapi.APIEndpoint
	if apiURL != "" {
		endpoint = strings.TrimRight(apiURL, "/") + "/bot%s/%s"
	}
	return &TelegramChannel{
		endpoint: endpoint,
		token:    botToken,
		chatID:   chatID,
		http:     &boundClient{client: &http.Client{Timeout: 10 * time.Second}},
	}
}

// Name returns the name of the channel.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Send sends a notification via Telegram.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	msg, err := t.message(fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(n.Title), html.EscapeString(n.Message)))
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.http.ctx = ctx

	if t.bot == nil {
		bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.http)
		if err != nil {
			return fmt.Errorf("connecting telegram bot: %w", stripURL(err))
		}
		t.bot = bot
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", stripURL(err))
	}
	return nil
}

func (t *TelegramChannel) message(text string) (tgbotapi.MessageConfig, error) {
	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(t.chatID, "@") {
		msg = tgbotapi.NewMessageToChannel(t.chatID, text)
	} else {
		id, err := strconv.ParseInt(t.chatID, 10, 64)
		if err != nil {
			return msg, fmt.Errorf("invalid telegram chat id %q", t.chatID)
		}
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return msg, nil
}

// boundClient attaches the context of the current send to each request.
// Sends are serialized by TelegramChannel.mu.
type boundClient struct {
	client *http.Client
	ctx    context.Context
}

func (c *boundClient) Do(req *http.Request) (*http.Response, error) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return c.client.Do(req.WithContext(ctx))
}

var errNoURL = errors.New("no endpoint configured")

// stripURL drops the request URL from transport errors. Bot API URLs carry
// the token.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// post sends body as JSON.
func post(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	if endpoint == "" {
		return errNoURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TrinityTrader/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
