package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-backtester/internal/models"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func testParams() Params {
	p := DefaultParams()
	p.MinIV = 0.20
	p.MaxIV = 0.60
	p.IVRankWindow = 0
	p.RSIPeriod = 3
	p.VolumeWindow = 3
	p.ATRPeriod = 3
	p.ATRAvgWindow = 3
	return p
}

func buildSeries(closes []float64, volumes []int64, iv float64) *models.CompositeSeries {
	s := &models.CompositeSeries{Ticker: "AAPL", Strike: 100, Expiration: t0.AddDate(0, 1, 0)}
	for i, c := range closes {
		s.Bars = append(s.Bars, models.CompositeBar{Bar: models.Bar{
			Timestamp: t0.AddDate(0, 0, i),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    volumes[i],
			IV:        iv,
		}})
	}
	return s
}

func runMachine(t *testing.T, m *Machine, s *models.CompositeSeries) []*models.DecisionEvent {
	t.Helper()
	require.NoError(t, m.Init(context.Background(), s))
	var events []*models.DecisionEvent
	for i := range s.Bars {
		ev, err := m.Next(i)
		require.NoError(t, err)
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// Volume doubles on bar 5 while the straddle has fallen every bar, so RSI
// is oversold and the machine goes long there.
func TestScenario_EntryOnVolumeSpikeWithOversoldRSI(t *testing.T) {
	closes := []float64{10, 9.5, 9, 8.5, 8, 7.5, 7.5, 7.5, 7.5, 7.5}
	volumes := []int64{100, 100, 100, 100, 100, 200, 100, 100, 100, 100}

	m, err := New(testParams())
	require.NoError(t, err)

	events := runMachine(t, m, buildSeries(closes, volumes, 0.35))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, models.DirectionEnter, ev.Direction)
	assert.Equal(t, 5, ev.Index)
	assert.Contains(t, ev.Reason, ReasonRSIOversold)
	assert.GreaterOrEqual(t, ev.Size, 1)
	assert.Equal(t, 7.5, ev.Price)

	st := m.State()
	assert.Equal(t, Long, st.Phase)
	assert.Equal(t, t0.AddDate(0, 0, 5), st.EntryTime)
}

func TestScenario_IVOutsideBandBlocksEntry(t *testing.T) {
	closes := []float64{10, 9.5, 9, 8.5, 8, 7.5, 7.5, 7.5, 7.5, 7.5}
	volumes := []int64{100, 100, 100, 100, 100, 200, 100, 100, 100, 100}

	m, err := New(testParams())
	require.NoError(t, err)
	assert.Empty(t, runMachine(t, m, buildSeries(closes, volumes, 0.95)))
}

func TestScenario_HoldPeriodExpired(t *testing.T) {
	p := testParams()
	s := State{Phase: Long, EntryPrice: 10, EntryTime: t0, Size: 3}
	tick := Tick{
		Index:  6,
		Time:   t0.Add(p.HoldPeriod + time.Hour),
		Close:  10,
		IV:     0.3,
		RSI:    50,
		ATR:    math.NaN(),
		ATRAvg: math.NaN(),
		Warm:   true,
	}

	next, ev := Step(p, s, tick)
	require.NotNil(t, ev)
	assert.Equal(t, models.DirectionExit, ev.Direction)
	assert.Equal(t, ReasonHoldExpired, ev.Reason)
	assert.Equal(t, 3, ev.Size)
	assert.Equal(t, Flat, next.Phase)
	assert.Equal(t, ReasonHoldExpired, next.ExitReason)
	assert.Equal(t, tick.Time, next.LastExitTime)

	// Input state is untouched.
	assert.Equal(t, Long, s.Phase)
}

func TestHoldPeriodExtendsOnATRSurge(t *testing.T) {
	p := testParams()
	s := State{Phase: Long, EntryPrice: 10, EntryTime: t0, Size: 1}

	surge := Tick{Time: t0.Add(6 * 24 * time.Hour), Close: 10, ATR: 0.2, ATRAvg: 0.1, Warm: true}
	assert.Equal(t, time.Duration(float64(p.HoldPeriod)*p.HoldExtension), p.HoldPeriodAt(surge))

	_, ev := Step(p, s, surge)
	assert.Nil(t, ev)

	surge.Time = t0.Add(8 * 24 * time.Hour)
	_, ev = Step(p, s, surge)
	require.NotNil(t, ev)
	assert.Equal(t, ReasonHoldExpired, ev.Reason)
}

func TestHoldPeriodExtendedAtEntryIsKept(t *testing.T) {
	p := testParams()
	p.ProfitTarget = 0
	p.TrailingATRMultiple = 0
	entry := Tick{Time: t0, Close: 5, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 50, ATR: 3, ATRAvg: 1, Warm: true}

	s, ev := Step(p, State{}, entry)
	require.NotNil(t, ev)
	require.Equal(t, models.DirectionEnter, ev.Direction)
	extended := time.Duration(float64(p.HoldPeriod) * p.HoldExtension)
	assert.Equal(t, extended, s.HoldPeriod)

	calm := Tick{Time: t0.Add(6 * 24 * time.Hour), Close: 5, ATR: 1, ATRAvg: 1, Warm: true}
	s, ev = Step(p, s, calm)
	assert.Nil(t, ev)
	assert.Equal(t, extended, s.HoldPeriod)

	calm.Time = t0.Add(extended)
	_, ev = Step(p, s, calm)
	require.NotNil(t, ev)
	assert.Equal(t, ReasonHoldExpired, ev.Reason)
}

func TestExitConditions(t *testing.T) {
	p := testParams()
	p.StopLoss = 0.3
	base := State{Phase: Long, EntryPrice: 10, EntryTime: t0, Size: 2, TrailStop: 10}

	tests := []struct {
		name   string
		tick   Tick
		reason string
	}{
		{"trailing stop", Tick{Time: t0.Add(time.Hour), Close: 9.9, ATR: 1, ATRAvg: 1, Warm: true}, ReasonTrailingStop},
		{"profit target", Tick{Time: t0.Add(time.Hour), Close: 15, ATR: 1, ATRAvg: 1, Warm: true}, ReasonProfitTarget},
		{"stop loss", Tick{Time: t0.Add(time.Hour), Close: 6.5, ATR: math.NaN(), ATRAvg: 1, Warm: true}, ReasonStopLoss},
		{"hold", Tick{Time: t0.Add(p.HoldPeriod), Close: 11, ATR: 1, ATRAvg: 1, Warm: true}, ReasonHoldExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := p.ShouldExit(base, tt.tick)
			require.True(t, ok)
			assert.Contains(t, reason, tt.reason)
		})
	}
}

func TestExitReasonsAreConcatenated(t *testing.T) {
	p := testParams()
	p.StopLoss = 0.2
	s := State{Phase: Long, EntryPrice: 10, EntryTime: t0, TrailStop: 8}
	tick := Tick{Time: t0.Add(p.HoldPeriod), Close: 7, ATR: 1, ATRAvg: 1, Warm: true}

	ok, reason := p.ShouldExit(s, tick)
	require.True(t, ok)
	assert.Equal(t, ReasonHoldExpired+", "+ReasonTrailingStop+", "+ReasonStopLoss, reason)
}

func TestTrailingStopRatchetsWithClose(t *testing.T) {
	p := testParams()
	p.ProfitTarget = 0
	s := State{Phase: Long, EntryPrice: 10, EntryTime: t0, TrailStop: 8}

	s, ev := Step(p, s, Tick{Time: t0.Add(time.Hour), Close: 14, ATR: 1, ATRAvg: 1, Warm: true})
	require.Nil(t, ev)
	assert.Equal(t, 12.0, s.TrailStop)

	_, ev = Step(p, s, Tick{Time: t0.Add(2 * time.Hour), Close: 11.5, ATR: 1, ATRAvg: 1, Warm: true})
	require.NotNil(t, ev)
	assert.Equal(t, ReasonTrailingStop, ev.Reason)
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	p := testParams()
	p.ProfitTarget = 0
	entry := Tick{Time: t0, Close: 10, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 10, ATR: 1, ATRAvg: 1, Warm: true}

	s, ev := Step(p, State{}, entry)
	require.NotNil(t, ev)
	assert.Equal(t, 8.0, s.TrailStop)

	s, ev = Step(p, s, Tick{Time: t0.Add(time.Hour), Close: 10, ATR: 0.5, ATRAvg: 1, Warm: true})
	require.Nil(t, ev)
	assert.Equal(t, 9.0, s.TrailStop)

	// A wider ATR would put close - k*ATR at 6, below the stop already set.
	s, ev = Step(p, s, Tick{Time: t0.Add(2 * time.Hour), Close: 10, ATR: 2, ATRAvg: 1, Warm: true})
	require.Nil(t, ev)
	assert.Equal(t, 9.0, s.TrailStop)

	_, ev = Step(p, s, Tick{Time: t0.Add(3 * time.Hour), Close: 8.5, ATR: 2, ATRAvg: 1, Warm: true})
	require.NotNil(t, ev)
	assert.Equal(t, ReasonTrailingStop, ev.Reason)
}

func TestWarmupSuppressesDecisions(t *testing.T) {
	p := testParams()
	entry := Tick{Time: t0, Close: 5, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 5, ATR: 2, ATRAvg: 1}
	ok, _ := p.ShouldEnter(entry)
	assert.False(t, ok)

	long := State{Phase: Long, EntryPrice: 5, EntryTime: t0, TrailStop: 3}
	exit := Tick{Time: t0.Add(30 * 24 * time.Hour), Close: 50, ATR: 1, ATRAvg: 1}
	ok, _ = p.ShouldExit(long, exit)
	assert.False(t, ok)
}

func TestUndefinedIndicatorsNeverTrigger(t *testing.T) {
	p := testParams()
	nan := math.NaN()
	tick := Tick{Time: t0, Close: 5, Volume: 500, VolumeAvg: nan, IV: nan, RSI: nan, ATR: nan, ATRAvg: nan, IVRank: nan, Warm: true}

	next, ev := Step(p, State{}, tick)
	assert.Nil(t, ev)
	assert.Equal(t, Flat, next.Phase)

	// Defined gates but no technical trigger.
	tick.IV, tick.VolumeAvg, tick.RSI = 0.3, 100, 50
	ok, _ := p.ShouldEnter(tick)
	assert.False(t, ok)

	tick.RSI = 80
	ok, reason := p.ShouldEnter(tick)
	assert.True(t, ok)
	assert.Equal(t, ReasonRSIOverbought, reason)
}

func TestEntryReasonsAreConcatenated(t *testing.T) {
	p := testParams()
	tick := Tick{Time: t0, Close: 5, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 10, ATR: 2, ATRAvg: 1, Warm: true}

	ok, reason := p.ShouldEnter(tick)
	require.True(t, ok)
	assert.Equal(t, ReasonRSIOversold+", "+ReasonATRExpanding, reason)
}

func TestATRExpansionBoundaryFires(t *testing.T) {
	p := testParams()
	p.ATRExpansion = 1.2
	tick := Tick{Time: t0, Close: 5, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 50, ATR: 1.2, ATRAvg: 1, Warm: true}

	ok, reason := p.ShouldEnter(tick)
	require.True(t, ok)
	assert.Equal(t, ReasonATRExpanding, reason)

	tick.ATR = 1.19
	ok, _ = p.ShouldEnter(tick)
	assert.False(t, ok)
}

func TestIVRankGate(t *testing.T) {
	p := testParams()
	p.IVRankWindow = 10
	p.IVRankMax = 0.8
	tick := Tick{Time: t0, Close: 5, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 10, IVRank: 0.95, ATR: math.NaN(), ATRAvg: math.NaN(), Warm: true}

	ok, _ := p.ShouldEnter(tick)
	assert.False(t, ok)

	tick.IVRank = math.NaN()
	ok, _ = p.ShouldEnter(tick)
	assert.True(t, ok)
}

func TestPositionSizeInverseToATR(t *testing.T) {
	p := testParams()
	p.BaseSize = 6
	p.MaxSize = 0

	assert.Equal(t, 6, p.PositionSize(Tick{ATR: math.NaN(), ATRAvg: 1}))
	assert.Equal(t, 6, p.PositionSize(Tick{ATR: 1, ATRAvg: 1}))
	assert.Equal(t, 3, p.PositionSize(Tick{ATR: 2, ATRAvg: 1}))
	assert.Equal(t, 1, p.PositionSize(Tick{ATR: 100, ATRAvg: 1}))
	assert.Equal(t, 12, p.PositionSize(Tick{ATR: 0.5, ATRAvg: 1}))

	p.MaxSize = 8
	assert.Equal(t, 8, p.PositionSize(Tick{ATR: 0.5, ATRAvg: 1}))

	// Sizes round to the nearest unit.
	p.BaseSize = 5
	p.MaxSize = 0
	assert.Equal(t, 5, p.PositionSize(Tick{ATR: 1.1, ATRAvg: 1}))
	assert.Equal(t, 3, p.PositionSize(Tick{ATR: 1.6, ATRAvg: 1}))
}

func TestCooldownBlocksReentry(t *testing.T) {
	p := testParams()
	p.Cooldown = 48 * time.Hour
	s := State{Phase: Flat, HasExited: true, LastExitTime: t0}
	tick := Tick{Time: t0.Add(24 * time.Hour), Close: 5, Volume: 500, VolumeAvg: 100, IV: 0.3, RSI: 10, Warm: true}

	_, ev := Step(p, s, tick)
	assert.Nil(t, ev)

	tick.Time = t0.Add(48 * time.Hour)
	_, ev = Step(p, s, tick)
	require.NotNil(t, ev)
	assert.Equal(t, models.DirectionEnter, ev.Direction)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.BaseSize = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.RSIOversold = 80
	assert.Error(t, p.Validate())

	_, err := New(p)
	assert.Error(t, err)
}

func TestMachineNextOutOfRange(t *testing.T) {
	m, err := New(testParams())
	require.NoError(t, err)
	_, err = m.Next(0)
	assert.Error(t, err)
}

func tickGen() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 100),  // RSI
		gen.Float64Range(0, 1000), // volume
		gen.Float64Range(1, 400),  // volume average
		gen.Float64Range(0.05, 1), // IV
		gen.Float64Range(1, 20),   // close
		gen.Float64Range(0.01, 3), // ATR
		gen.Float64Range(0.01, 3), // ATR average
		gen.IntRange(1, 72),       // hours since previous tick
	)
}

// Property: no entry happens at a tick inside the cooldown window of the
// most recent exit.
func TestProperty_CooldownRespected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("entries never occur inside cooldown", prop.ForAll(
		func(raw [][]interface{}, cooldownHours int) bool {
			p := testParams()
			p.Cooldown = time.Duration(cooldownHours) * time.Hour
			p.HoldPeriod = 36 * time.Hour
			p.ProfitTarget = 0.1

			var s State
			var lastExit time.Time
			exited := false
			now := t0
			for i, r := range raw {
				now = now.Add(time.Duration(r[7].(int)) * time.Hour)
				tick := Tick{
					Index:     i,
					Time:      now,
					RSI:       r[0].(float64),
					Volume:    r[1].(float64),
					VolumeAvg: r[2].(float64),
					IV:        r[3].(float64),
					Close:     r[4].(float64),
					ATR:       r[5].(float64),
					ATRAvg:    r[6].(float64),
					IVRank:    math.NaN(),
					Warm:      true,
				}
				var ev *models.DecisionEvent
				s, ev = Step(p, s, tick)
				if ev == nil {
					continue
				}
				if ev.Direction == models.DirectionEnter && exited && now.Before(lastExit.Add(p.Cooldown)) {
					return false
				}
				if ev.Direction == models.DirectionExit {
					lastExit, exited = now, true
				}
			}
			return true
		},
		gen.SliceOfN(60, tickGen()),
		gen.IntRange(0, 120),
	))

	properties.TestingRun(t)
}

// Property: computed size is at least one unit for any indicator values.
func TestProperty_PositionSizeFloor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("size >= 1", prop.ForAll(
		func(base int, atr, avg float64, nanATR bool) bool {
			p := testParams()
			p.BaseSize = base
			if nanATR {
				atr = math.NaN()
			}
			return p.PositionSize(Tick{ATR: atr, ATRAvg: avg}) >= 1
		},
		gen.IntRange(1, 50),
		gen.Float64Range(0, 1e6),
		gen.Float64Range(-1, 1e3),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
