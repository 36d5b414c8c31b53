// Package series turns raw option quotes into regular bar series and joins
// call and put legs into a straddle composite.
package series

import (
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
)

// Series is a regular-interval bar sequence for one contract. Bars are
// produced on demand from the sorted quotes, so iterating twice yields the
// same bars.
type Series struct {
	key      models.ContractKey
	interval time.Duration
	quotes   []models.Quote
}

// Synthesize validates quotes for a single contract and returns a lazily
// evaluated bar series at the given interval.
func Synthesize(quotes []models.Quote, interval time.Duration) (*Series, error) {
	if interval <= 0 {
		return nil, errors.NewInvalidInputError("interval", "> 0", interval)
	}

	s := &Series{interval: interval}
	if len(quotes) == 0 {
		return s, nil
	}

	s.key = quotes[0].Key()
	for _, q := range quotes[1:] {
		if err := sameContract(s.key, q.Key()); err != nil {
			return nil, err
		}
	}

	s.quotes = slices.Clone(quotes)
	sort.SliceStable(s.quotes, func(i, j int) bool {
		return s.quotes[i].Timestamp.Before(s.quotes[j].Timestamp)
	})
	return s, nil
}

func sameContract(want, got models.ContractKey) error {
	switch {
	case want.Ticker != got.Ticker:
		return errors.NewInvalidInputError("ticker", want.Ticker, got.Ticker)
	case want.Kind != got.Kind:
		return errors.NewInvalidInputError("option kind", want.Kind, got.Kind)
	case want.Strike != got.Strike:
		return errors.NewInvalidInputError("strike", want.Strike, got.Strike)
	case !want.Expiration.Equal(got.Expiration):
		return errors.NewInvalidInputError("expiration", want.Expiration.Format("2006-01-02"), got.Expiration.Format("2006-01-02"))
	}
	return nil
}

// Key returns the contract the series was built from.
func (s *Series) Key() models.ContractKey {
	return s.key
}

// Interval returns the bucket width.
func (s *Series) Interval() time.Duration {
	return s.interval
}

// All yields one bar per interval from the first quoted bucket to the last.
// Buckets without quotes repeat the previous close.
func (s *Series) All() iter.Seq[models.Bar] {
	return func(yield func(models.Bar) bool) {
		n := len(s.quotes)
		if n == 0 {
			return
		}

		start := s.bucket(s.quotes[0].Timestamp)
		end := s.bucket(s.quotes[n-1].Timestamp)

		var prev models.Bar
		havePrev := false
		i := 0
		for ts := start; !ts.After(end); ts = ts.Add(s.interval) {
			j := i
			for j < n && s.bucket(s.quotes[j].Timestamp).Equal(ts) {
				j++
			}

			var bar models.Bar
			switch {
			case j > i:
				bar = aggregate(ts, s.quotes[i:j])
				i = j
			case havePrev:
				bar = carryForward(ts, prev)
			default:
				continue
			}

			prev, havePrev = bar, true
			if !yield(bar) {
				return
			}
		}
	}
}

// Bars collects the full series.
func (s *Series) Bars() []models.Bar {
	return slices.Collect(s.All())
}

func (s *Series) bucket(t time.Time) time.Time {
	return t.Truncate(s.interval)
}

// quoteOHLC derives a single quote's open, high and low. Open is the bid/ask
// midpoint, falling back to whichever side exists and then to last price.
func quoteOHLC(q models.Quote) (open, high, low float64) {
	high, low = q.LastPrice, q.LastPrice
	switch {
	case q.HasBid() && q.HasAsk():
		open = (q.Bid + q.Ask) / 2
	case q.HasBid():
		open = q.Bid
	case q.HasAsk():
		open = q.Ask
	default:
		open = q.LastPrice
	}
	if q.HasBid() {
		high = math.Max(high, q.Bid)
		low = math.Min(low, q.Bid)
	}
	if q.HasAsk() {
		high = math.Max(high, q.Ask)
		low = math.Min(low, q.Ask)
	}
	return open, high, low
}

func aggregate(ts time.Time, quotes []models.Quote) models.Bar {
	open, high, low := quoteOHLC(quotes[0])
	bar := models.Bar{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
	}

	var iv, pct, chg meanAcc
	for _, q := range quotes {
		_, h, l := quoteOHLC(q)
		bar.High = math.Max(bar.High, h)
		bar.Low = math.Min(bar.Low, l)
		bar.Close = q.LastPrice
		bar.Volume += q.Volume
		bar.OpenInterest += q.OpenInterest
		bar.InTheMoney = q.InTheMoney
		iv.add(q.IV)
		pct.add(q.PercentChange)
		chg.add(q.Change)
	}
	bar.IV = iv.mean()
	bar.PercentChange = pct.mean()
	bar.Change = chg.mean()
	return bar
}

func carryForward(ts time.Time, prev models.Bar) models.Bar {
	bar := prev
	bar.Timestamp = ts
	bar.Open = prev.Close
	bar.High = prev.Close
	bar.Low = prev.Close
	bar.Filled = true
	return bar
}

// meanAcc averages values while skipping NaN.
type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	m.sum += v
	m.n++
}

func (m *meanAcc) mean() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n)
}
