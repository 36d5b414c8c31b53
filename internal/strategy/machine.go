package strategy

import (
	"math"
	"strings"
	"time"

	"straddle-backtester/internal/models"
)

// Reason labels attached to decision events.
const (
	ReasonRSIOversold   = "RSI Oversold"
	ReasonRSIOverbought = "RSI Overbought"
	ReasonATRExpanding  = "ATR Expanding"
	ReasonHoldExpired   = "Hold Period Expired"
	ReasonTrailingStop  = "ATR Trailing Stop"
	ReasonProfitTarget  = "Profit Target Hit"
	ReasonStopLoss      = "Stop Loss Hit"
	reasonSeparator     = ", "
)

// Phase is the position state of the machine.
type Phase int

const (
	Flat Phase = iota
	Long
)

func (p Phase) String() string {
	if p == Long {
		return "LONG"
	}
	return "FLAT"
}

// State is the per-run trading state threaded through Step. HoldPeriod and
// TrailStop only grow while the position is open; a TrailStop of 0 means no
// stop has been set.
type State struct {
	Phase        Phase
	EntryPrice   float64
	EntryTime    time.Time
	EntryIndex   int
	EntryReason  string
	Size         int
	HoldPeriod   time.Duration
	TrailStop    float64
	LastExitTime time.Time
	HasExited    bool
	ExitReason   string
}

// InCooldown reports whether now falls inside the post-exit cooldown.
func (s State) InCooldown(now time.Time, cooldown time.Duration) bool {
	return s.HasExited && now.Before(s.LastExitTime.Add(cooldown))
}

// Tick is one composite bar with its indicator readings. Undefined
// readings are NaN.
type Tick struct {
	Index     int
	Time      time.Time
	Close     float64
	Volume    float64
	IV        float64
	RSI       float64
	ATR       float64
	ATRAvg    float64
	VolumeAvg float64
	IVRank    float64
	Warm      bool
}

// atrRatio returns current ATR over its trailing average, or NaN.
func (t Tick) atrRatio() float64 {
	if math.IsNaN(t.ATR) || math.IsNaN(t.ATRAvg) || t.ATRAvg <= 0 {
		return math.NaN()
	}
	return t.ATR / t.ATRAvg
}

// ShouldEnter applies the hard gates then collects technical triggers.
func (p Params) ShouldEnter(t Tick) (bool, string) {
	if !t.Warm {
		return false, ""
	}
	if math.IsNaN(t.IV) || t.IV < p.MinIV || t.IV > p.MaxIV {
		return false, ""
	}
	if p.IVRankWindow > 0 && !math.IsNaN(t.IVRank) && t.IVRank > p.IVRankMax {
		return false, ""
	}
	if math.IsNaN(t.VolumeAvg) || t.VolumeAvg <= 0 || t.Volume < p.VolumeMultiplier*t.VolumeAvg {
		return false, ""
	}

	var triggers []string
	if !math.IsNaN(t.RSI) {
		if t.RSI < p.RSIOversold {
			triggers = append(triggers, ReasonRSIOversold)
		}
		if t.RSI > p.RSIOverbought {
			triggers = append(triggers, ReasonRSIOverbought)
		}
	}
	if r := t.atrRatio(); !math.IsNaN(r) && r >= p.ATRExpansion {
		triggers = append(triggers, ReasonATRExpanding)
	}
	if len(triggers) == 0 {
		return false, ""
	}
	return true, strings.Join(triggers, reasonSeparator)
}

// PositionSize scales BaseSize down as ATR rises above its average. The
// result is never below 1.
func (p Params) PositionSize(t Tick) int {
	size := p.BaseSize
	if r := t.atrRatio(); !math.IsNaN(r) && r > 0 && !math.IsInf(r, 0) {
		size = int(math.Round(float64(p.BaseSize) / r))
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		size = p.MaxSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

// HoldPeriodAt returns the hold period, extended while ATR surges.
func (p Params) HoldPeriodAt(t Tick) time.Duration {
	if r := t.atrRatio(); !math.IsNaN(r) && p.ATRSurge > 0 && r >= p.ATRSurge {
		return time.Duration(float64(p.HoldPeriod) * p.HoldExtension)
	}
	return p.HoldPeriod
}

// trailLevel is the stop candidate close - k*ATR, or 0 when undefined.
func (p Params) trailLevel(t Tick) float64 {
	if p.TrailingATRMultiple <= 0 || math.IsNaN(t.ATR) {
		return 0
	}
	return t.Close - p.TrailingATRMultiple*t.ATR
}

// ShouldExit evaluates every exit condition independently; any one fires.
// The hold period is the longer of the stored one and the current tick's.
func (p Params) ShouldExit(s State, t Tick) (bool, string) {
	if !t.Warm || s.Phase != Long {
		return false, ""
	}

	var reasons []string
	if t.Time.Sub(s.EntryTime) >= max(s.HoldPeriod, p.HoldPeriodAt(t)) {
		reasons = append(reasons, ReasonHoldExpired)
	}
	if p.TrailingATRMultiple > 0 && s.TrailStop > 0 && t.Close <= s.TrailStop {
		reasons = append(reasons, ReasonTrailingStop)
	}
	if p.ProfitTarget > 0 && t.Close >= s.EntryPrice*(1+p.ProfitTarget) {
		reasons = append(reasons, ReasonProfitTarget)
	}
	if p.StopLoss > 0 && t.Close <= s.EntryPrice*(1-p.StopLoss) {
		reasons = append(reasons, ReasonStopLoss)
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, reasonSeparator)
}

// Step advances the machine by one tick. It never mutates its input state.
func Step(p Params, s State, t Tick) (State, *models.DecisionEvent) {
	switch s.Phase {
	case Flat:
		if s.InCooldown(t.Time, p.Cooldown) {
			return s, nil
		}
		ok, reason := p.ShouldEnter(t)
		if !ok {
			return s, nil
		}
		size := p.PositionSize(t)
		s.Phase = Long
		s.EntryPrice = t.Close
		s.EntryTime = t.Time
		s.EntryIndex = t.Index
		s.EntryReason = reason
		s.Size = size
		s.HoldPeriod = p.HoldPeriodAt(t)
		s.TrailStop = p.trailLevel(t)
		s.ExitReason = ""
		return s, &models.DecisionEvent{
			Timestamp: t.Time,
			Index:     t.Index,
			Direction: models.DirectionEnter,
			Price:     t.Close,
			Size:      size,
			Reason:    reason,
		}

	case Long:
		ok, reason := p.ShouldExit(s, t)
		if !ok {
			s.HoldPeriod = max(s.HoldPeriod, p.HoldPeriodAt(t))
			s.TrailStop = max(s.TrailStop, p.trailLevel(t))
			return s, nil
		}
		ev := &models.DecisionEvent{
			Timestamp: t.Time,
			Index:     t.Index,
			Direction: models.DirectionExit,
			Price:     t.Close,
			Size:      s.Size,
			Reason:    reason,
		}
		s.Phase = Flat
		s.LastExitTime = t.Time
		s.HasExited = true
		s.ExitReason = reason
		return s, ev
	}
	return s, nil
}
