package models

import "time"

// TradeRecord is a completed straddle round trip tagged with its contract.
type TradeRecord struct {
	RunID       string        `json:"run_id"`
	Ticker      string        `json:"ticker"`
	Strike      float64       `json:"strike"`
	Expiration  time.Time     `json:"expiration"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	Size        int           `json:"size"`
	Quantity    int           `json:"quantity"`
	Commission  float64       `json:"commission"`
	PnL         float64       `json:"pnl"`
	PnLPercent  float64       `json:"pnl_percent"`
	EntryReason string        `json:"entry_reason"`
	ExitReason  string        `json:"exit_reason"`
	Duration    time.Duration `json:"duration"`
}

// IsWin reports whether the trade closed with positive P&L.
func (t TradeRecord) IsWin() bool {
	return t.PnL > 0
}

// RunSummary holds aggregate statistics of a backtest run.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	Tickers       int       `json:"tickers"`
	Pairs         int       `json:"pairs"`
	Skipped       int       `json:"skipped"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	TotalPnL      float64   `json:"total_pnl"`
	WinRate       float64   `json:"win_rate"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	ProfitFactor  float64   `json:"profit_factor"`
	AvgWin        float64   `json:"avg_win"`
	AvgLoss       float64   `json:"avg_loss"`
}
