// Package orchestrator drives selection, aggregation and simulation for each
// configured ticker and assembles the trade and summary records of a run.
package orchestrator

import (
	"strings"
	"time"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
	"straddle-backtester/internal/selector"
	"straddle-backtester/internal/strategy"
	"straddle-backtester/internal/trading"
)

// Config describes one run. A zero ReferenceDate lets the selector pick each
// ticker's first quote date. Workers of 0 uses one worker per CPU.
type Config struct {
	Tickers       []string
	ReferenceDate time.Time
	Interval      time.Duration
	Selection     selector.Options
	Align         models.AlignPolicy
	KeepLegs      bool
	Strategy      strategy.Params
	Backtest      trading.BacktestConfig
	Workers       int
}

// DefaultConfig returns daily bars, drop alignment and default component
// settings. Tickers are left empty.
func DefaultConfig() Config {
	return Config{
		Interval:  24 * time.Hour,
		Selection: selector.DefaultOptions(),
		Align:     models.AlignDrop,
		Strategy:  strategy.DefaultParams(),
		Backtest:  trading.DefaultBacktestConfig(),
		Workers:   1,
	}
}

// Validate checks the run configuration. A config without tickers fails with
// ErrNoTickers.
func (c Config) Validate() error {
	if len(normalizeTickers(c.Tickers)) == 0 {
		return errors.ErrNoTickers
	}
	if c.Interval <= 0 {
		return errors.NewValidationError("interval", c.Interval, "must be positive")
	}
	if c.Align != "" && c.Align != models.AlignDrop && c.Align != models.AlignCarry {
		return errors.NewValidationError("align", c.Align, "must be drop or carry")
	}
	if c.Workers < 0 {
		return errors.NewValidationError("workers", c.Workers, "must not be negative")
	}
	if err := c.Selection.Validate(); err != nil {
		return err
	}
	return c.Strategy.Validate()
}

// normalizeTickers upper-cases, trims and de-duplicates tickers, keeping the
// first occurrence order.
func normalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
