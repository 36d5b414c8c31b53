package trading

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"straddle-backtester/internal/logging"
	"straddle-backtester/internal/models"
)

// DefaultBacktestEngine implements the BacktestEngine interface.
type DefaultBacktestEngine struct {
	config BacktestConfig
	logger zerolog.Logger
}

// NewBacktestEngine creates a new backtest engine.
func NewBacktestEngine(config BacktestConfig, logger zerolog.Logger) (*DefaultBacktestEngine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &DefaultBacktestEngine{config: config, logger: logger}, nil
}

// backtestState holds the state during backtesting.
type backtestState struct {
	capital     float64
	equity      float64
	quantity    int
	size        int
	entryPrice  float64
	entryIndex  int
	entryCost   float64
	entryEvent  models.DecisionEvent
	peakEquity  float64
	maxDrawdown float64

	log zerolog.Logger
}

// Run feeds every composite bar to the policy and fills its decisions at
// the bar close. A position still open on the last bar is closed there.
func (be *DefaultBacktestEngine) Run(ctx context.Context, series *models.CompositeSeries, policy Policy) (*BacktestResult, error) {
	if series == nil || series.Len() == 0 {
		return nil, fmt.Errorf("empty series")
	}
	if err := policy.Init(ctx, series); err != nil {
		return nil, fmt.Errorf("initializing policy %s: %w", policy.Name(), err)
	}

	cfg := be.config
	result := &BacktestResult{
		Policy:      policy.Name(),
		EquityCurve: make([]EquityPoint, 0, series.Len()),
		Trades:      make([]BacktestTrade, 0),
	}
	// Callers may scope decision logs to a contract through ctx.
	state := &backtestState{
		capital:    cfg.InitialCapital,
		equity:     cfg.InitialCapital,
		peakEquity: cfg.InitialCapital,
		log:        logging.FromContextOr(ctx, be.logger),
	}

	for i, bar := range series.Bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, err := policy.Next(i)
		if err != nil {
			return nil, fmt.Errorf("policy %s at bar %d: %w", policy.Name(), i, err)
		}
		if ev != nil {
			be.processEvent(state, result, *ev)
		}

		// Mark to market
		state.equity = state.capital + float64(state.quantity)*bar.Close
		if state.equity > state.peakEquity {
			state.peakEquity = state.equity
		}
		if state.peakEquity > 0 {
			if dd := (state.peakEquity - state.equity) / state.peakEquity; dd > state.maxDrawdown {
				state.maxDrawdown = dd
			}
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    state.equity,
		})
	}

	if state.quantity != 0 {
		last := series.Bars[series.Len()-1]
		ev := models.DecisionEvent{
			Timestamp: last.Timestamp,
			Index:     series.Len() - 1,
			Direction: models.DirectionExit,
			Price:     last.Close,
			Size:      state.size,
			Reason:    ReasonEndOfBacktest,
		}
		be.processEvent(state, result, ev)
		state.equity = state.capital
		result.EquityCurve[len(result.EquityCurve)-1].Equity = state.equity
	}

	be.calculateMetrics(result, cfg, state)
	return result, nil
}

func (be *DefaultBacktestEngine) processEvent(state *backtestState, result *BacktestResult, ev models.DecisionEvent) {
	cfg := be.config
	switch ev.Direction {
	case models.DirectionEnter:
		if state.quantity != 0 {
			state.log.Warn().Int("bar", ev.Index).Msg("Entry while already long; ignored")
			return
		}
		price := ev.Price * (1 + cfg.Slippage)
		qty := ev.Size * cfg.ContractMultiplier
		commission := price * float64(qty) * cfg.Commission

		state.capital -= price*float64(qty) + commission
		state.quantity = qty
		state.size = ev.Size
		state.entryPrice = price
		state.entryIndex = ev.Index
		state.entryCost = commission
		state.entryEvent = ev

	case models.DirectionExit:
		if state.quantity == 0 {
			state.log.Warn().Int("bar", ev.Index).Msg("Exit while flat; ignored")
			return
		}
		price := ev.Price * (1 - cfg.Slippage)
		commission := price * float64(state.quantity) * cfg.Commission
		state.capital += price*float64(state.quantity) - commission

		pnl := (price-state.entryPrice)*float64(state.quantity) - state.entryCost - commission
		var pnlPct float64
		if basis := state.entryPrice * float64(state.quantity); basis > 0 {
			pnlPct = pnl / basis * 100
		}
		result.Trades = append(result.Trades, BacktestTrade{
			EntryTime:   state.entryEvent.Timestamp,
			ExitTime:    ev.Timestamp,
			EntryIndex:  state.entryIndex,
			ExitIndex:   ev.Index,
			EntryPrice:  state.entryPrice,
			ExitPrice:   price,
			Size:        state.size,
			Quantity:    state.quantity,
			Commission:  state.entryCost + commission,
			PnL:         pnl,
			PnLPercent:  pnlPct,
			EntryReason: state.entryEvent.Reason,
			ExitReason:  ev.Reason,
		})
		state.quantity = 0
		state.size = 0
		state.entryPrice = 0
		state.entryCost = 0

	default:
		return
	}

	result.Events = append(result.Events, ev)
	logging.LogDecision(state.log, strings.ToLower(string(ev.Direction)), ev.Timestamp, ev.Price, ev.Size, ev.Reason)
}

// calculateMetrics calculates backtest performance metrics.
func (be *DefaultBacktestEngine) calculateMetrics(result *BacktestResult, cfg BacktestConfig, state *backtestState) {
	result.FinalEquity = state.equity
	result.TotalReturn = (state.equity - cfg.InitialCapital) / cfg.InitialCapital
	result.MaxDrawdown = state.maxDrawdown
	result.SharpeRatio = SharpeRatio(equityReturns(result.EquityCurve), cfg.RiskFreeRate, cfg.PeriodsPerYear)

	stats := TradeStatistics(result.Trades)
	result.TotalTrades = stats.Total
	result.WinningTrades = stats.Wins
	result.LosingTrades = stats.Losses
	result.WinRate = stats.WinRate
	result.AvgWin = stats.AvgWin
	result.AvgLoss = stats.AvgLoss
	result.ProfitFactor = stats.ProfitFactor
}

// TradeStats summarizes a set of trade P&Ls.
type TradeStats struct {
	Total        int
	Wins         int
	Losses       int
	TotalPnL     float64
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
}

// TradeStatistics computes win/loss statistics. A trade wins when its P&L
// is strictly positive.
func TradeStatistics(trades []BacktestTrade) TradeStats {
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}
	return PnLStatistics(pnls)
}

// PnLStatistics computes win/loss statistics over raw P&L values.
func PnLStatistics(pnls []float64) TradeStats {
	var s TradeStats
	s.Total = len(pnls)
	if s.Total == 0 {
		return s
	}

	var grossWin, grossLoss float64
	for _, p := range pnls {
		s.TotalPnL += p
		if p > 0 {
			s.Wins++
			grossWin += p
		} else {
			s.Losses++
			grossLoss += p
		}
	}

	s.WinRate = float64(s.Wins) / float64(s.Total)
	if s.Wins > 0 {
		s.AvgWin = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss / float64(s.Losses)
	}
	if grossLoss < 0 {
		s.ProfitFactor = grossWin / math.Abs(grossLoss)
	}
	return s
}

func equityReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-curve[i-1].Equity)/curve[i-1].Equity)
	}
	return returns
}

// SharpeRatio annualizes mean excess return over its standard deviation.
// It is zero when returns have no dispersion.
func SharpeRatio(returns []float64, annualRiskFree, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}

	var meanReturn float64
	for _, r := range returns {
		meanReturn += r
	}
	meanReturn /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - meanReturn) * (r - meanReturn)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	rf := annualRiskFree / periodsPerYear
	return (meanReturn - rf) / stdDev * math.Sqrt(periodsPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity curve
// as a fraction of the peak.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	var maxDD float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func validateConfig(config BacktestConfig) error {
	if config.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if config.Commission < 0 || config.Commission >= 1 {
		return fmt.Errorf("commission must be in [0, 1)")
	}
	if config.Slippage < 0 || config.Slippage >= 1 {
		return fmt.Errorf("slippage must be in [0, 1)")
	}
	if config.ContractMultiplier < 1 {
		return fmt.Errorf("contract multiplier must be at least 1")
	}
	return nil
}
