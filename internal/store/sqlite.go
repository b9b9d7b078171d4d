package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
)

// SQLiteStore implements TradeStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candle archive
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, timeframe, timestamp)
	);

	-- Paper trades, one row per trade
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		entry_price REAL NOT NULL,
		position_size REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		rationale TEXT,
		justification TEXT,
		closed_at DATETIME,
		exit_price REAL,
		pnl REAL DEFAULT 0,
		pnl_percent REAL DEFAULT 0,
		close_reason TEXT,
		hold_duration INTEGER DEFAULT 0,
		best_price REAL DEFAULT 0,
		trailing_stop REAL DEFAULT 0
	);

	-- Append-only trade log
	CREATE TABLE IF NOT EXISTS trade_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		price REAL NOT NULL,
		pnl REAL DEFAULT 0,
		reason TEXT,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (trade_id) REFERENCES trades(id)
	);

	-- Executor risk state, single row
	CREATE TABLE IF NOT EXISTS risk_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		initial_capital REAL NOT NULL,
		capital REAL NOT NULL,
		peak_capital REAL NOT NULL,
		consecutive_losses INTEGER NOT NULL,
		circuit_breaker_active INTEGER NOT NULL,
		realized_drawdown_pct REAL NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Consensus audit log
	CREATE TABLE IF NOT EXISTS consensus_log (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		signal TEXT NOT NULL,
		confidence REAL NOT NULL,
		agreement_ratio REAL NOT NULL,
		should_trade INTEGER NOT NULL,
		reasoning TEXT,
		votes TEXT NOT NULL,
		decided_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trade_events_trade ON trade_events(trade_id);
	CREATE INDEX IF NOT EXISTS idx_consensus_symbol ON consensus_log(symbol, decided_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addMissingColumns("trades", map[string]string{
		"best_price":    "REAL DEFAULT 0",
		"trailing_stop": "REAL DEFAULT 0",
	})
}

// addMissingColumns upgrades tables created by earlier versions.
func (s *SQLiteStore) addMissingColumns(table string, columns map[string]string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, kind string
			notNull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &kind, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}

	for name, def := range columns {
		if existing[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, def)); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", table, name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCandles upserts candles for a symbol and timeframe.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles returns the latest limit candles, oldest first.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	slices.Reverse(candles)
	return candles, nil
}

// LatestCandle returns the most recent archived candle for symbol across
// all timeframes. It returns nil when nothing is archived.
func (s *SQLiteStore) LatestCandle(ctx context.Context, symbol string) (*models.Candle, error) {
	var c models.Candle
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, symbol).Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest candle: %w", err)
	}
	return &c, nil
}

// RecordOpen inserts a new trade, its OPENED event and the risk state in
// one transaction.
func (s *SQLiteStore) RecordOpen(ctx context.Context, trade *models.Trade, state models.RiskState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, action, status, opened_at, entry_price, position_size, stop_loss, take_profit, rationale, justification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Symbol, string(trade.Action), string(trade.Status), trade.OpenedAt.UTC(),
		trade.EntryPrice, trade.PositionSize, trade.StopLoss, trade.TakeProfit, trade.Rationale, nullableJSON(trade.Justification))
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	if err := insertEvent(ctx, tx, models.TradeEvent{
		TradeID:   trade.ID,
		Kind:      EventOpened,
		Price:     trade.EntryPrice,
		Reason:    trade.Rationale,
		Timestamp: trade.OpenedAt,
	}); err != nil {
		return err
	}

	if err := upsertRiskState(ctx, tx, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordClose marks an open trade closed, appends its CLOSED event and
// saves the risk state in one transaction. A trade that is not open in the
// database yields ErrDuplicateClose.
func (s *SQLiteStore) RecordClose(ctx context.Context, trade *models.Trade, state models.RiskState) error {
	if trade.ClosedAt == nil {
		return fmt.Errorf("trade %s has no close time", trade.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, closed_at = ?, exit_price = ?, pnl = ?, pnl_percent = ?, close_reason = ?, hold_duration = ?
		WHERE id = ? AND status = ?
	`, string(trade.Status), trade.ClosedAt.UTC(), trade.ExitPrice, trade.PnL, trade.PnLPercent,
		trade.CloseReason, int64(trade.HoldDuration), trade.ID, string(models.TradeOpen))
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("trade %s: %w", trade.ID, apperrors.ErrDuplicateClose)
	}

	if err := insertEvent(ctx, tx, models.TradeEvent{
		TradeID:   trade.ID,
		Kind:      EventClosed,
		Price:     trade.ExitPrice,
		PnL:       trade.PnL,
		Reason:    trade.CloseReason,
		Timestamp: *trade.ClosedAt,
	}); err != nil {
		return err
	}

	if err := upsertRiskState(ctx, tx, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordTrail saves an open trade's trailing stop and appends a TRAILED
// event.
func (s *SQLiteStore) RecordTrail(ctx context.Context, trade *models.Trade, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trades SET best_price = ?, trailing_stop = ?
		WHERE id = ? AND status = ?
	`, trade.BestPrice, trade.TrailingStop, trade.ID, string(models.TradeOpen))
	if err != nil {
		return fmt.Errorf("failed to update trailing stop: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update trailing stop: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("trade %s: %w", trade.ID, apperrors.ErrTradeNotFound)
	}

	if err := insertEvent(ctx, tx, models.TradeEvent{
		TradeID:   trade.ID,
		Kind:      EventTrailed,
		Price:     trade.TrailingStop,
		Reason:    fmt.Sprintf("Best price %g", trade.BestPrice),
		Timestamp: at,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRiskState stores the executor risk state.
func (s *SQLiteStore) SaveRiskState(ctx context.Context, state models.RiskState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertRiskState(ctx, tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadLedger reads every trade, oldest first, and the saved risk state.
func (s *SQLiteStore) LoadLedger(ctx context.Context) (*Ledger, error) {
	trades, err := s.ListTrades(ctx, TradeFilter{})
	if err != nil {
		return nil, err
	}

	ledger := &Ledger{Trades: make([]*models.Trade, len(trades))}
	for i := range trades {
		ledger.Trades[i] = &trades[i]
	}

	var (
		state   models.RiskState
		breaker int
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT initial_capital, capital, peak_capital, consecutive_losses, circuit_breaker_active, realized_drawdown_pct, updated_at
		FROM risk_state WHERE id = 1
	`).Scan(&state.InitialCapital, &state.Capital, &state.PeakCapital, &state.ConsecutiveLosses,
		&breaker, &state.RealizedDrawdownPct, &state.UpdatedAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to load risk state: %w", err)
	default:
		state.CircuitBreakerActive = breaker != 0
		ledger.RiskState = &state
	}

	return ledger, nil
}

// ListTrades returns trades matching filter, oldest first. A limit keeps
// the most recent trades.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `
		SELECT id, symbol, action, status, opened_at, entry_price, position_size, stop_loss, take_profit,
			rationale, justification, closed_at, exit_price, pnl, pnl_percent, close_reason, hold_duration,
			best_price, trailing_stop
		FROM trades WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY opened_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t             models.Trade
			action        string
			status        string
			rationale     sql.NullString
			justification sql.NullString
			closedAt      sql.NullTime
			exitPrice     sql.NullFloat64
			closeReason   sql.NullString
			hold          int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &action, &status, &t.OpenedAt, &t.EntryPrice, &t.PositionSize,
			&t.StopLoss, &t.TakeProfit, &rationale, &justification, &closedAt, &exitPrice, &t.PnL,
			&t.PnLPercent, &closeReason, &hold, &t.BestPrice, &t.TrailingStop); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Action = models.Action(action)
		t.Status = models.TradeStatus(status)
		t.Rationale = rationale.String
		if justification.Valid && justification.String != "" {
			t.Justification = json.RawMessage(justification.String)
		}
		if closedAt.Valid {
			closed := closedAt.Time
			t.ClosedAt = &closed
		}
		t.ExitPrice = exitPrice.Float64
		t.CloseReason = closeReason.String
		t.HoldDuration = time.Duration(hold)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	slices.Reverse(trades)
	return trades, nil
}

// ListEvents returns the log entries for one trade, or for all trades when
// tradeID is empty.
func (s *SQLiteStore) ListEvents(ctx context.Context, tradeID string) ([]models.TradeEvent, error) {
	query := `SELECT id, trade_id, kind, price, pnl, reason, timestamp FROM trade_events`
	var args []interface{}
	if tradeID != "" {
		query += " WHERE trade_id = ?"
		args = append(args, tradeID)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade events: %w", err)
	}
	defer rows.Close()

	var events []models.TradeEvent
	for rows.Next() {
		var (
			e      models.TradeEvent
			reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TradeID, &e.Kind, &e.Price, &e.PnL, &reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade event: %w", err)
		}
		e.Reason = reason.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade events: %w", err)
	}
	return events, nil
}

// SaveConsensus appends a panel result to the audit log.
func (s *SQLiteStore) SaveConsensus(ctx context.Context, result *models.ConsensusResult) error {
	votes, err := json.Marshal(result.Votes)
	if err != nil {
		return fmt.Errorf("failed to encode votes: %w", err)
	}
	shouldTrade := 0
	if result.ShouldTrade {
		shouldTrade = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consensus_log (id, symbol, signal, confidence, agreement_ratio, should_trade, reasoning, votes, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.ID, result.Symbol, string(result.Signal), result.Confidence, result.AgreementRatio,
		shouldTrade, result.Reasoning, string(votes), result.DecidedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save consensus: %w", err)
	}
	return nil
}

// ListConsensus returns audit entries, newest first.
func (s *SQLiteStore) ListConsensus(ctx context.Context, filter ConsensusFilter) ([]models.ConsensusResult, error) {
	query := `
		SELECT id, symbol, signal, confidence, agreement_ratio, should_trade, reasoning, votes, decided_at
		FROM consensus_log`
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Symbol != "" {
		conditions = append(conditions, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY decided_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consensus log: %w", err)
	}
	defer rows.Close()

	var results []models.ConsensusResult
	for rows.Next() {
		var (
			r           models.ConsensusResult
			signal      string
			shouldTrade int
			reasoning   sql.NullString
			votes       string
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &signal, &r.Confidence, &r.AgreementRatio, &shouldTrade,
			&reasoning, &votes, &r.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consensus: %w", err)
		}
		r.Signal = models.Signal(signal)
		r.ShouldTrade = shouldTrade != 0
		r.Reasoning = reasoning.String
		if err := json.Unmarshal([]byte(votes), &r.Votes); err != nil {
			return nil, fmt.Errorf("failed to decode votes for %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating consensus log: %w", err)
	}
	return results, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e models.TradeEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trade_events (trade_id, kind, price, pnl, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.TradeID, e.Kind, e.Price, e.PnL, e.Reason, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append trade event: %w", err)
	}
	return nil
}

func upsertRiskState(ctx context.Context, tx *sql.Tx, state models.RiskState) error {
	breaker := 0
	if state.CircuitBreakerActive {
		breaker = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO risk_state (id, initial_capital, capital, peak_capital, consecutive_losses, circuit_breaker_active, realized_drawdown_pct, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			initial_capital = excluded.initial_capital,
			capital = excluded.capital,
			peak_capital = excluded.peak_capital,
			consecutive_losses = excluded.consecutive_losses,
			circuit_breaker_active = excluded.circuit_breaker_active,
			realized_drawdown_pct = excluded.realized_drawdown_pct,
			updated_at = excluded.updated_at
	`, state.InitialCapital, state.Capital, state.PeakCapital, state.ConsecutiveLosses, breaker,
		state.RealizedDrawdownPct, state.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save risk state: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
