// Package trading provides the execution host that turns strategy
// decisions into fills, cash accounting and run statistics.
package trading

import (
	"context"
	"time"

	"straddle-backtester/internal/models"
)

// Policy is a decision source driven bar by bar over one composite series.
type Policy interface {
	Name() string
	Init(ctx context.Context, series *models.CompositeSeries) error
	Next(i int) (*models.DecisionEvent, error)
}

// BacktestEngine provides backtesting functionality.
type BacktestEngine interface {
	Run(ctx context.Context, series *models.CompositeSeries, policy Policy) (*BacktestResult, error)
}

// ReasonEndOfBacktest tags positions force-closed on the last bar.
const ReasonEndOfBacktest = "End of Backtest"

// BacktestConfig represents execution settings. Commission and Slippage are
// fractions applied per fill; RiskFreeRate is annual.
type BacktestConfig struct {
	InitialCapital     float64 `mapstructure:"initial_capital"`
	Commission         float64 `mapstructure:"commission"`
	Slippage           float64 `mapstructure:"slippage"`
	ContractMultiplier int     `mapstructure:"contract_multiplier"`
	RiskFreeRate       float64 `mapstructure:"risk_free_rate"`
	PeriodsPerYear     float64 `mapstructure:"periods_per_year"`
}

// DefaultBacktestConfig returns the default execution settings.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:     10000,
		Commission:         0.001,
		Slippage:           0,
		ContractMultiplier: 100,
		RiskFreeRate:       0,
		PeriodsPerYear:     252,
	}
}

// BacktestResult represents backtesting results. Rates are fractions.
type BacktestResult struct {
	Policy        string
	TotalReturn   float64
	FinalEquity   float64
	WinRate       float64
	MaxDrawdown   float64
	SharpeRatio   float64
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	AvgWin        float64
	AvgLoss       float64
	ProfitFactor  float64
	EquityCurve   []EquityPoint
	Trades        []BacktestTrade
	Events        []models.DecisionEvent
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// BacktestTrade represents a completed round trip.
type BacktestTrade struct {
	EntryTime   time.Time
	ExitTime    time.Time
	EntryIndex  int
	ExitIndex   int
	EntryPrice  float64
	ExitPrice   float64
	Size        int
	Quantity    int
	Commission  float64
	PnL         float64
	PnLPercent  float64
	EntryReason string
	ExitReason  string
}
