package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
)

const (
	timestampLayout = "2006-01-02T15:04:05Z"
	dateLayout      = "2006-01-02"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Option quotes, one row per contract per trade timestamp
	CREATE TABLE IF NOT EXISTS options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_symbol TEXT NOT NULL,
		last_trade_date TEXT NOT NULL,
		strike REAL NOT NULL,
		last_price REAL NOT NULL,
		bid REAL,
		ask REAL,
		change REAL,
		percent_change REAL,
		volume INTEGER NOT NULL DEFAULT 0,
		open_interest INTEGER NOT NULL DEFAULT 0,
		implied_volatility REAL,
		in_the_money INTEGER NOT NULL DEFAULT 0,
		contract_size TEXT DEFAULT 'REGULAR',
		currency TEXT DEFAULT 'USD',
		option_type TEXT NOT NULL,
		expiration_date TEXT NOT NULL,
		retrieval_date TEXT,
		ticker TEXT NOT NULL,
		UNIQUE(contract_symbol, last_trade_date)
	);

	-- Daily bars of the underlying
	CREATE TABLE IF NOT EXISTS underlying_prices (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (ticker, date)
	);

	CREATE TABLE IF NOT EXISTS backtest_runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		tickers INTEGER NOT NULL,
		pairs INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		total_trades INTEGER NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		total_pnl REAL NOT NULL,
		win_rate REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		sharpe_ratio REAL NOT NULL,
		profit_factor REAL NOT NULL,
		avg_win REAL NOT NULL,
		avg_loss REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS backtest_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES backtest_runs(run_id),
		ticker TEXT NOT NULL,
		strike REAL NOT NULL,
		expiration TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		exit_time TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		commission REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		entry_reason TEXT,
		exit_reason TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_options_ticker ON options(ticker);
	CREATE INDEX IF NOT EXISTS idx_options_contract ON options(ticker, option_type, expiration_date, strike);
	CREATE INDEX IF NOT EXISTS idx_options_trade_date ON options(last_trade_date);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_trades_ticker ON backtest_trades(ticker);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// parseTime accepts both stored layouts.
func parseTime(v string) (time.Time, error) {
	if len(v) == len(dateLayout) {
		return time.Parse(dateLayout, v)
	}
	return time.Parse(timestampLayout, v)
}

// nullable maps NaN to SQL NULL.
func nullable(f float64) sql.NullFloat64 {
	if math.IsNaN(f) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func orNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

// ============================================================================
// Quote Methods
// ============================================================================

// SaveQuotes stores quotes, replacing rows with the same contract symbol and
// trade timestamp. It returns the number of rows written.
func (s *SQLiteStore) SaveQuotes(ctx context.Context, quotes []models.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO options (contract_symbol, last_trade_date, strike, last_price, bid, ask, change, percent_change,
			volume, open_interest, implied_volatility, in_the_money, option_type, expiration_date, retrieval_date, ticker)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	retrieved := formatTimestamp(time.Now())
	for _, q := range quotes {
		if !q.Kind.Valid() {
			return 0, errors.NewInvalidInputError("option kind", "call or put", q.Kind)
		}
		symbol := q.ContractSymbol
		if symbol == "" {
			symbol = ContractSymbol(q.Key())
		}
		itm := 0
		if q.InTheMoney {
			itm = 1
		}
		_, err := stmt.ExecContext(ctx, symbol, formatTimestamp(q.Timestamp), q.Strike, q.LastPrice,
			nullable(q.Bid), nullable(q.Ask), nullable(q.Change), nullable(q.PercentChange),
			q.Volume, q.OpenInterest, nullable(q.IV), itm, string(q.Kind), formatDate(q.Expiration), retrieved, q.Ticker)
		if err != nil {
			return 0, fmt.Errorf("failed to insert quote: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return len(quotes), nil
}

// ContractSymbol builds an OCC-style symbol such as AAPL240216C00100000.
func ContractSymbol(k models.ContractKey) string {
	side := "C"
	if k.Kind == models.Put {
		side = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", k.Ticker, k.Expiration.UTC().Format("060102"), side, int64(math.Round(k.Strike*1000)))
}

// FetchQuotes returns quotes matching filter ordered by contract and time.
func (s *SQLiteStore) FetchQuotes(ctx context.Context, filter QuoteFilter) ([]models.Quote, error) {
	query := `SELECT contract_symbol, ticker, option_type, strike, expiration_date, last_trade_date, last_price,
		bid, ask, change, percent_change, volume, open_interest, implied_volatility, in_the_money
		FROM options WHERE 1=1`
	args := []interface{}{}

	if filter.Ticker != "" {
		query += " AND ticker = ?"
		args = append(args, filter.Ticker)
	}
	if filter.Kind != "" {
		query += " AND option_type = ?"
		args = append(args, string(filter.Kind))
	}
	if !filter.Expiration.IsZero() {
		query += " AND expiration_date = ?"
		args = append(args, formatDate(filter.Expiration))
	}
	if filter.Strike > 0 {
		query += " AND ABS(strike - ?) < 1e-6"
		args = append(args, filter.Strike)
	}
	if !filter.Start.IsZero() {
		query += " AND last_trade_date >= ?"
		args = append(args, formatTimestamp(filter.Start))
	}
	if !filter.End.IsZero() {
		query += " AND last_trade_date <= ?"
		args = append(args, formatTimestamp(filter.End))
	}
	query += " ORDER BY ticker, option_type, expiration_date, strike, last_trade_date"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDataError("quotes", filter.Ticker, "query failed", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var (
			q                         models.Quote
			kind, expiration, traded  string
			bid, ask, change, pct, iv sql.NullFloat64
			itm                       int
		)
		if err := rows.Scan(&q.ContractSymbol, &q.Ticker, &kind, &q.Strike, &expiration, &traded, &q.LastPrice,
			&bid, &ask, &change, &pct, &q.Volume, &q.OpenInterest, &iv, &itm); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		q.Kind = models.OptionKind(kind)
		if q.Expiration, err = parseTime(expiration); err != nil {
			return nil, fmt.Errorf("bad expiration %q: %w", expiration, err)
		}
		if q.Timestamp, err = parseTime(traded); err != nil {
			return nil, fmt.Errorf("bad trade date %q: %w", traded, err)
		}
		q.Bid, q.Ask, q.IV = orNaN(bid), orNaN(ask), orNaN(iv)
		q.Change, q.PercentChange = orNaN(change), orNaN(pct)
		q.InTheMoney = itm == 1
		quotes = append(quotes, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}
	return quotes, nil
}

// FirstQuoteDate returns the earliest quote timestamp stored for ticker.
func (s *SQLiteStore) FirstQuoteDate(ctx context.Context, ticker string) (time.Time, bool, error) {
	var first sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(last_trade_date) FROM options WHERE ticker = ?
	`, ticker).Scan(&first)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, false, errors.NewDataError("quotes", ticker, "first quote date", err)
	}
	if !first.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(first.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad trade date %q: %w", first.String, err)
	}
	return t, true, nil
}

// Tickers lists every ticker with at least one stored quote.
func (s *SQLiteStore) Tickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM options ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// ============================================================================
// Underlying Methods
// ============================================================================

// SaveUnderlying saves daily underlying bars for ticker.
func (s *SQLiteStore) SaveUnderlying(ctx context.Context, ticker string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO underlying_prices (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, ticker, formatDate(c.Timestamp), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to insert underlying bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UnderlyingPrices returns daily bars in [from, to] by calendar date.
func (s *SQLiteStore) UnderlyingPrices(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM underlying_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, formatDate(from), formatDate(to))
	if err != nil {
		return nil, errors.NewDataError("underlying", ticker, "query failed", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var date string
		if err := rows.Scan(&date, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan underlying bar: %w", err)
		}
		if c.Timestamp, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("bad date %q: %w", date, err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating underlying bars: %w", err)
	}
	return candles, nil
}

// ============================================================================
// Backtest Result Methods
// ============================================================================

// SaveRun stores a run summary and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, summary models.RunSummary, trades []models.TradeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (run_id, started_at, tickers, pairs, skipped, total_trades, winning_trades, losing_trades,
			total_pnl, win_rate, max_drawdown, sharpe_ratio, profit_factor, avg_win, avg_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.RunID, formatTimestamp(summary.StartedAt), summary.Tickers, summary.Pairs, summary.Skipped,
		summary.TotalTrades, summary.WinningTrades, summary.LosingTrades, summary.TotalPnL, summary.WinRate,
		summary.MaxDrawdown, summary.SharpeRatio, summary.ProfitFactor, summary.AvgWin, summary.AvgLoss)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, ticker, strike, expiration, entry_time, exit_time, entry_price, exit_price,
			size, quantity, commission, pnl, pnl_percent, entry_reason, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.ExecContext(ctx, summary.RunID, t.Ticker, t.Strike, formatDate(t.Expiration),
			formatTimestamp(t.EntryTime), formatTimestamp(t.ExitTime), t.EntryPrice, t.ExitPrice,
			t.Size, t.Quantity, t.Commission, t.PnL, t.PnLPercent, t.EntryReason, t.ExitReason)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRuns returns the most recent run summaries first.
func (s *SQLiteStore) GetRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	query := `SELECT run_id, started_at, tickers, pairs, skipped, total_trades, winning_trades, losing_trades,
		total_pnl, win_rate, max_drawdown, sharpe_ratio, profit_factor, avg_win, avg_loss
		FROM backtest_runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var r models.RunSummary
		var started string
		if err := rows.Scan(&r.RunID, &started, &r.Tickers, &r.Pairs, &r.Skipped, &r.TotalTrades, &r.WinningTrades,
			&r.LosingTrades, &r.TotalPnL, &r.WinRate, &r.MaxDrawdown, &r.SharpeRatio, &r.ProfitFactor,
			&r.AvgWin, &r.AvgLoss); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetTrades retrieves trades from the database.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := `SELECT run_id, ticker, strike, expiration, entry_time, exit_time, entry_price, exit_price,
		size, quantity, commission, pnl, pnl_percent, entry_reason, exit_reason
		FROM backtest_trades WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Ticker != "" {
		query += " AND ticker = ?"
		args = append(args, filter.Ticker)
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, formatTimestamp(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, formatTimestamp(filter.EndDate))
	}

	query += " ORDER BY entry_time ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var expiration, entry, exit string
		var entryReason, exitReason sql.NullString
		if err := rows.Scan(&t.RunID, &t.Ticker, &t.Strike, &expiration, &entry, &exit, &t.EntryPrice, &t.ExitPrice,
			&t.Size, &t.Quantity, &t.Commission, &t.PnL, &t.PnLPercent, &entryReason, &exitReason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		var perr error
		for _, f := range []struct {
			dst *time.Time
			src string
		}{{&t.Expiration, expiration}, {&t.EntryTime, entry}, {&t.ExitTime, exit}} {
			if *f.dst, perr = parseTime(f.src); perr != nil {
				return nil, perr
			}
		}
		t.EntryReason, t.ExitReason = entryReason.String, exitReason.String
		t.Duration = t.ExitTime.Sub(t.EntryTime)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last import time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync string
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}
	t, err := parseTime(lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return t
}

// SetLastSync sets the last import time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, formatTimestamp(t), formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t.UTC().Truncate(time.Second)
	s.mu.Unlock()

	return nil
}

// syncKey namespaces import marks per source kind and ticker.
func syncKey(kind SyncDataType, ticker string) string {
	return strings.ToLower(string(kind)) + ":" + strings.ToUpper(ticker)
}
