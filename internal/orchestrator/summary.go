package orchestrator

import (
	"time"

	"straddle-backtester/internal/models"
	"straddle-backtester/internal/trading"
)

// Summarize computes run statistics from trades ordered by exit time.
// Drawdown is measured on initialCapital plus cumulative P&L. The Sharpe
// ratio is per trade and not annualized, using each trade's return on its
// entry cost.
func Summarize(runID string, started time.Time, initialCapital float64, trades []models.TradeRecord) models.RunSummary {
	pnls := make([]float64, len(trades))
	returns := make([]float64, len(trades))
	equity := make([]float64, 0, len(trades)+1)
	equity = append(equity, initialCapital)

	cum := initialCapital
	for i, t := range trades {
		pnls[i] = t.PnL
		returns[i] = t.PnLPercent / 100
		cum += t.PnL
		equity = append(equity, cum)
	}

	stats := trading.PnLStatistics(pnls)
	return models.RunSummary{
		RunID:         runID,
		StartedAt:     started,
		TotalTrades:   stats.Total,
		WinningTrades: stats.Wins,
		LosingTrades:  stats.Losses,
		TotalPnL:      stats.TotalPnL,
		WinRate:       stats.WinRate,
		MaxDrawdown:   trading.MaxDrawdown(equity),
		SharpeRatio:   trading.SharpeRatio(returns, 0, 1),
		ProfitFactor:  stats.ProfitFactor,
		AvgWin:        stats.AvgWin,
		AvgLoss:       stats.AvgLoss,
	}
}
