package series

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
)

var (
	testExpiry = time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	testStart  = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

func quote(ts time.Time, price, bid, ask float64) models.Quote {
	return models.Quote{
		Ticker:       "AAPL",
		Kind:         models.Call,
		Strike:       100,
		Expiration:   testExpiry,
		Timestamp:    ts,
		LastPrice:    price,
		Bid:          bid,
		Ask:          ask,
		Volume:       10,
		OpenInterest: 5,
		IV:           0.3,
	}
}

func TestSynthesize_BucketAggregation(t *testing.T) {
	quotes := []models.Quote{
		quote(testStart.Add(10*time.Hour), 5.0, 4.8, 5.2),
		quote(testStart.Add(12*time.Hour), 5.5, 5.4, 5.9),
		quote(testStart.Add(15*time.Hour), 4.6, 4.5, 4.7),
	}
	quotes[1].IV = 0.5
	quotes[2].InTheMoney = true

	s, err := Synthesize(quotes, 24*time.Hour)
	require.NoError(t, err)

	bars := s.Bars()
	require.Len(t, bars, 1)
	b := bars[0]
	assert.Equal(t, testStart, b.Timestamp)
	assert.InDelta(t, 5.0, b.Open, 1e-9)
	assert.InDelta(t, 5.9, b.High, 1e-9)
	assert.InDelta(t, 4.5, b.Low, 1e-9)
	assert.InDelta(t, 4.6, b.Close, 1e-9)
	assert.Equal(t, int64(30), b.Volume)
	assert.Equal(t, int64(15), b.OpenInterest)
	assert.InDelta(t, (0.3+0.5+0.3)/3, b.IV, 1e-9)
	assert.True(t, b.InTheMoney)
	assert.False(t, b.Filled)
}

func TestSynthesize_OpenFallsBackToLastPrice(t *testing.T) {
	s, err := Synthesize([]models.Quote{quote(testStart, 3.0, math.NaN(), math.NaN())}, time.Hour)
	require.NoError(t, err)

	b := s.Bars()[0]
	assert.Equal(t, 3.0, b.Open)
	assert.Equal(t, 3.0, b.High)
	assert.Equal(t, 3.0, b.Low)
}

func TestSynthesize_OneSidedBook(t *testing.T) {
	s, err := Synthesize([]models.Quote{quote(testStart, 3.0, math.NaN(), 3.4)}, time.Hour)
	require.NoError(t, err)

	b := s.Bars()[0]
	assert.Equal(t, 3.4, b.Open)
	assert.Equal(t, 3.4, b.High)
	assert.Equal(t, 3.0, b.Low)
}

func TestSynthesize_ForwardFill(t *testing.T) {
	quotes := []models.Quote{
		quote(testStart, 5.0, 4.9, 5.1),
		quote(testStart.Add(72*time.Hour), 6.0, 5.9, 6.1),
	}
	quotes[0].IV = 0.42

	s, err := Synthesize(quotes, 24*time.Hour)
	require.NoError(t, err)

	bars := s.Bars()
	require.Len(t, bars, 4)
	for _, b := range bars[1:3] {
		assert.True(t, b.Filled)
		assert.Equal(t, 5.0, b.Open)
		assert.Equal(t, 5.0, b.High)
		assert.Equal(t, 5.0, b.Low)
		assert.Equal(t, 5.0, b.Close)
		assert.Equal(t, 0.42, b.IV)
		assert.Equal(t, int64(10), b.Volume)
	}
	assert.False(t, bars[3].Filled)
	assert.Equal(t, 6.0, bars[3].Close)
}

func TestSynthesize_UnsortedInput(t *testing.T) {
	quotes := []models.Quote{
		quote(testStart.Add(2*time.Hour), 2, 1.9, 2.1),
		quote(testStart, 1, 0.9, 1.1),
	}
	s, err := Synthesize(quotes, time.Hour)
	require.NoError(t, err)

	bars := s.Bars()
	require.Len(t, bars, 3)
	assert.Equal(t, 1.0, bars[0].Close)
	assert.Equal(t, 2.0, bars[2].Close)
}

func TestSynthesize_MixedContracts(t *testing.T) {
	a := quote(testStart, 1, 1, 1)
	b := quote(testStart.Add(time.Hour), 1, 1, 1)
	b.Kind = models.Put

	_, err := Synthesize([]models.Quote{a, b}, time.Hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	var inv *errors.InvalidInputError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "option kind", inv.Field)
}

func TestSynthesize_InvalidInterval(t *testing.T) {
	_, err := Synthesize(nil, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSynthesize_EmptyInput(t *testing.T) {
	s, err := Synthesize(nil, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, s.Bars())
}

func TestSynthesize_EarlyStop(t *testing.T) {
	quotes := []models.Quote{
		quote(testStart, 1, 1, 1),
		quote(testStart.Add(5*time.Hour), 2, 2, 2),
	}
	s, err := Synthesize(quotes, time.Hour)
	require.NoError(t, err)

	n := 0
	for range s.All() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

// quoteSetGen generates quotes for one contract spread over a few days at
// random offsets.
func quoteSetGen() gopter.Gen {
	q := gen.Struct(reflect.TypeOf(models.Quote{}), map[string]gopter.Gen{
		"LastPrice":     gen.Float64Range(0.05, 50),
		"Bid":           gen.Float64Range(-1, 50),
		"Ask":           gen.Float64Range(-1, 55),
		"Volume":        gen.Int64Range(0, 5000),
		"OpenInterest":  gen.Int64Range(0, 5000),
		"IV":            gen.Float64Range(0.05, 2),
		"PercentChange": gen.Float64Range(-50, 50),
		"Timestamp":     gen.TimeRange(testStart, 5*24*time.Hour),
	})
	return gen.SliceOfN(40, q).Map(func(qs []models.Quote) []models.Quote {
		for i := range qs {
			qs[i].Ticker = "SPY"
			qs[i].Kind = models.Put
			qs[i].Strike = 450
			qs[i].Expiration = testExpiry
			if qs[i].Bid > qs[i].Ask {
				qs[i].Bid, qs[i].Ask = qs[i].Ask, qs[i].Bid
			}
		}
		return qs
	}).SuchThat(func(qs []models.Quote) bool { return len(qs) > 0 })
}

// Property: every synthesized bar satisfies low <= open, close <= high and
// bars are strictly increasing at exactly the configured interval.
func TestProperty_BarInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("bars are well-formed and evenly spaced", prop.ForAll(
		func(quotes []models.Quote, hours int) bool {
			interval := time.Duration(hours) * time.Hour
			s, err := Synthesize(quotes, interval)
			if err != nil {
				return false
			}
			bars := s.Bars()
			if len(bars) == 0 {
				return false
			}
			for i, b := range bars {
				if b.Low > b.Open || b.Open > b.High || b.Low > b.Close || b.Close > b.High {
					return false
				}
				if i > 0 && b.Timestamp.Sub(bars[i-1].Timestamp) != interval {
					return false
				}
			}
			return true
		},
		quoteSetGen(),
		gen.IntRange(1, 24),
	))

	properties.TestingRun(t)
}

// Property: synthesizing the same quotes twice yields identical bars.
func TestProperty_SynthesisDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("repeat synthesis is bit-identical", prop.ForAll(
		func(quotes []models.Quote) bool {
			a, err := Synthesize(quotes, 6*time.Hour)
			if err != nil {
				return false
			}
			b, err := Synthesize(quotes, 6*time.Hour)
			if err != nil {
				return false
			}
			first, second := a.Bars(), b.Bars()
			// Iterating the same series again must also match.
			return reflect.DeepEqual(first, second) && reflect.DeepEqual(first, a.Bars())
		},
		quoteSetGen(),
	))

	properties.TestingRun(t)
}
