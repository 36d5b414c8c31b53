package selector

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
	"straddle-backtester/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "selector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedUnderlying stores 29 daily closes ending at 100 the day before ref,
// alternating returns of +r and -r so realized volatility is exactly hv.
func seedUnderlying(t *testing.T, s *store.SQLiteStore, ref time.Time, hv float64) {
	t.Helper()
	const n = 29
	returns := n - 1
	r := hv / math.Sqrt(252) / math.Sqrt(float64(returns)/float64(returns-1))

	closes := make([]float64, n)
	closes[n-1] = 100
	for i := n - 1; i > 0; i-- {
		step := 1 + r
		if (n-1-i)%2 == 1 {
			step = 1 - r
		}
		closes[i-1] = closes[i] / step
	}

	candles := make([]models.Candle, n)
	for i, c := range closes {
		candles[i] = models.Candle{
			Timestamp: ref.AddDate(0, 0, i-n),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	require.NoError(t, s.SaveUnderlying(context.Background(), "AAPL", candles))
}

func seedLeg(t *testing.T, s *store.SQLiteStore, kind models.OptionKind, strike float64, expiration, ref time.Time, days int) {
	t.Helper()
	quotes := make([]models.Quote, days)
	for i := range quotes {
		quotes[i] = models.Quote{
			Ticker:       "AAPL",
			Kind:         kind,
			Strike:       strike,
			Expiration:   expiration,
			Timestamp:    ref.AddDate(0, 0, i).Add(15 * time.Hour),
			LastPrice:    3,
			Bid:          2.9,
			Ask:          3.1,
			Volume:       500,
			OpenInterest: 300,
			IV:           0.35,
		}
	}
	_, err := s.SaveQuotes(context.Background(), quotes)
	require.NoError(t, err)
}

func TestHistorical_ScenarioSelectsNearStrike(t *testing.T) {
	s := newStore(t)
	ref := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	expiration := ref.AddDate(0, 0, 21)

	seedUnderlying(t, s, ref, 0.25)
	seedLeg(t, s, models.Call, 102, expiration, ref, 15)
	seedLeg(t, s, models.Put, 102, expiration, ref, 15)

	sel := New(NewHistoricalSource(s, false), zerolog.Nop())
	opts := DefaultOptions()
	opts.MaxResults = 1

	got, err := sel.Select(context.Background(), "AAPL", ref, opts)
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, 102.0, c.Strike)
	assert.Equal(t, expiration, c.Expiration)
	assert.Equal(t, 100.0, c.SpotPrice)
	assert.InDelta(t, 2.0, c.StrikeDistance, 1e-9)
	assert.Equal(t, int64(500), c.Liquidity)
	assert.Equal(t, int64(300), c.MinOpenInt)
	assert.Equal(t, 21, c.DaysToExpiry)
	assert.InDelta(t, 1.4, c.IVHVRatio, 1e-6)
}

func TestHistorical_ScenarioThinCallLegIsEmpty(t *testing.T) {
	s := newStore(t)
	ref := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	expiration := ref.AddDate(0, 0, 21)

	seedUnderlying(t, s, ref, 0.25)
	seedLeg(t, s, models.Call, 102, expiration, ref, 3)
	seedLeg(t, s, models.Put, 102, expiration, ref, 15)

	opts := DefaultOptions()
	opts.MaxResults = 1
	got, err := New(NewHistoricalSource(s, false), zerolog.Nop()).Select(context.Background(), "AAPL", ref, opts)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistorical_DefaultReferenceDate(t *testing.T) {
	s := newStore(t)
	src := NewHistoricalSource(s, false)

	_, err := src.ReferenceDate(context.Background(), "AAPL", time.Time{})
	assert.True(t, errors.Is(err, errors.ErrNoData))

	ref := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	seedLeg(t, s, models.Put, 100, ref.AddDate(0, 0, 10), ref, 2)

	got, err := src.ReferenceDate(context.Background(), "AAPL", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestHistorical_SpotUnavailableYieldsEmpty(t *testing.T) {
	s := newStore(t)
	ref := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	expiration := ref.AddDate(0, 0, 21)
	seedLeg(t, s, models.Call, 100, expiration, ref, 12)
	seedLeg(t, s, models.Put, 100, expiration, ref, 12)

	got, err := New(NewHistoricalSource(s, true), zerolog.Nop()).Select(context.Background(), "AAPL", ref, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveSpot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	friday := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveUnderlying(ctx, "AAPL", []models.Candle{
		{Timestamp: friday.AddDate(0, 0, -1), Open: 98, Close: 99},
		{Timestamp: friday, Open: 100, Close: 101},
	}))

	open, err := ResolveSpot(ctx, s, "AAPL", friday, true)
	require.NoError(t, err)
	assert.Equal(t, 100.0, open)

	// Saturday has no session and there is no substitution.
	_, err = ResolveSpot(ctx, s, "AAPL", friday.AddDate(0, 0, 1), true)
	assert.True(t, errors.Is(err, errors.ErrSpotUnavailable))

	// Prior close is strictly before the date.
	prior, err := ResolveSpot(ctx, s, "AAPL", friday, false)
	require.NoError(t, err)
	assert.Equal(t, 99.0, prior)

	monday := friday.AddDate(0, 0, 3)
	prior, err = ResolveSpot(ctx, s, "AAPL", monday, false)
	require.NoError(t, err)
	assert.Equal(t, 101.0, prior)

	// Six days later is outside the five day window.
	_, err = ResolveSpot(ctx, s, "AAPL", friday.AddDate(0, 0, 6), false)
	var spotErr *errors.SpotPriceUnavailableError
	require.True(t, errors.As(err, &spotErr))
	assert.False(t, spotErr.UseOpen)
}
