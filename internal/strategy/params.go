// Package strategy implements the straddle entry/exit state machine.
package strategy

import (
	"time"

	"straddle-backtester/internal/errors"
)

// Params configures entry gates, sizing and exits. An IVRankWindow,
// MaxSize, TrailingATRMultiple, ProfitTarget or StopLoss of 0 disables that
// rule. ProfitTarget and StopLoss are fractions of the entry price.
type Params struct {
	// Entry gates
	MinIV            float64 `mapstructure:"min_iv"`
	MaxIV            float64 `mapstructure:"max_iv"`
	IVRankWindow     int     `mapstructure:"iv_rank_window"`
	IVRankMax        float64 `mapstructure:"iv_rank_max"`
	VolumeWindow     int     `mapstructure:"volume_window"`
	VolumeMultiplier float64 `mapstructure:"volume_multiplier"`

	// Technical triggers
	RSIPeriod     int     `mapstructure:"rsi_period"`
	RSIOversold   float64 `mapstructure:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought"`
	ATRPeriod     int     `mapstructure:"atr_period"`
	ATRAvgWindow  int     `mapstructure:"atr_avg_window"`
	ATRExpansion  float64 `mapstructure:"atr_expansion"`

	// Sizing
	BaseSize int `mapstructure:"base_size"`
	MaxSize  int `mapstructure:"max_size"`

	// Exits
	HoldPeriod          time.Duration `mapstructure:"hold_period"`
	HoldExtension       float64       `mapstructure:"hold_extension"`
	ATRSurge            float64       `mapstructure:"atr_surge"`
	TrailingATRMultiple float64       `mapstructure:"trailing_atr_multiple"`
	ProfitTarget        float64       `mapstructure:"profit_target"`
	StopLoss            float64       `mapstructure:"stop_loss"`

	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DefaultParams returns the default strategy parameters.
func DefaultParams() Params {
	return Params{
		MinIV:               0.10,
		MaxIV:               1.50,
		IVRankWindow:        20,
		IVRankMax:           0.90,
		VolumeWindow:        5,
		VolumeMultiplier:    1.5,
		RSIPeriod:           14,
		RSIOversold:         30,
		RSIOverbought:       70,
		ATRPeriod:           14,
		ATRAvgWindow:        14,
		ATRExpansion:        1.2,
		BaseSize:            5,
		MaxSize:             10,
		HoldPeriod:          5 * 24 * time.Hour,
		HoldExtension:       1.5,
		ATRSurge:            1.5,
		TrailingATRMultiple: 2.0,
		ProfitTarget:        0.5,
		StopLoss:            0,
		Cooldown:            24 * time.Hour,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.MinIV < 0 || p.MaxIV < p.MinIV:
		return errors.NewValidationError("iv band", [2]float64{p.MinIV, p.MaxIV}, "need 0 <= min_iv <= max_iv")
	case p.IVRankWindow < 0:
		return errors.NewValidationError("iv_rank_window", p.IVRankWindow, "must be non-negative")
	case p.IVRankWindow > 0 && (p.IVRankMax <= 0 || p.IVRankMax > 1):
		return errors.NewValidationError("iv_rank_max", p.IVRankMax, "must be in (0, 1]")
	case p.VolumeWindow <= 0:
		return errors.NewValidationError("volume_window", p.VolumeWindow, "must be positive")
	case p.RSIPeriod <= 0:
		return errors.NewValidationError("rsi_period", p.RSIPeriod, "must be positive")
	case p.RSIOversold >= p.RSIOverbought:
		return errors.NewValidationError("rsi thresholds", [2]float64{p.RSIOversold, p.RSIOverbought}, "oversold must be below overbought")
	case p.ATRPeriod <= 0 || p.ATRAvgWindow <= 0:
		return errors.NewValidationError("atr", [2]int{p.ATRPeriod, p.ATRAvgWindow}, "periods must be positive")
	case p.BaseSize < 1:
		return errors.NewValidationError("base_size", p.BaseSize, "must be at least 1")
	case p.MaxSize != 0 && p.MaxSize < p.BaseSize:
		return errors.NewValidationError("max_size", p.MaxSize, "must be 0 or >= base_size")
	case p.HoldPeriod <= 0:
		return errors.NewValidationError("hold_period", p.HoldPeriod, "must be positive")
	case p.HoldExtension < 1:
		return errors.NewValidationError("hold_extension", p.HoldExtension, "must be >= 1")
	case p.ProfitTarget < 0 || p.StopLoss < 0 || p.StopLoss >= 1:
		return errors.NewValidationError("exit levels", [2]float64{p.ProfitTarget, p.StopLoss}, "must be non-negative, stop loss below 1")
	case p.Cooldown < 0:
		return errors.NewValidationError("cooldown", p.Cooldown, "must be non-negative")
	}
	return nil
}

// Warmup is the number of leading bars on which no decision is made.
func (p Params) Warmup() int {
	return max(p.RSIPeriod, p.VolumeWindow)
}
