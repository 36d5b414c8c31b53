// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"straddle-backtester/internal/models"
)

// QuoteStore is the read side used by selection and synthesis. Backtests
// never write through it.
type QuoteStore interface {
	FetchQuotes(ctx context.Context, filter QuoteFilter) ([]models.Quote, error)
	// FirstQuoteDate returns the earliest quote timestamp for ticker. The
	// boolean is false when the ticker has no quotes.
	FirstQuoteDate(ctx context.Context, ticker string) (time.Time, bool, error)
	UnderlyingPrices(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error)
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	QuoteStore

	// Market data
	SaveQuotes(ctx context.Context, quotes []models.Quote) (int, error)
	SaveUnderlying(ctx context.Context, ticker string, candles []models.Candle) error
	Tickers(ctx context.Context) ([]string, error)

	// Backtest results
	SaveRun(ctx context.Context, summary models.RunSummary, trades []models.TradeRecord) error
	GetRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// QuoteFilter narrows FetchQuotes. Zero values match everything.
type QuoteFilter struct {
	Ticker     string
	Kind       models.OptionKind
	Expiration time.Time
	Strike     float64
	Start      time.Time
	End        time.Time
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	RunID     string
	Ticker    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
