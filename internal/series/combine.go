package series

import (
	"math"
	"time"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
)

// CombineOptions controls how legs are joined.
type CombineOptions struct {
	Ticker     string
	Strike     float64
	Expiration time.Time
	Policy     models.AlignPolicy
	// KeepLegs retains each leg's bar on the composite.
	KeepLegs bool
}

// Combine joins call and put bars on timestamp into a straddle composite.
// Both inputs must be sorted by timestamp. Prices are summed, volume and
// open interest summed, IV averaged.
func Combine(callBars, putBars []models.Bar, opts CombineOptions) (*models.CompositeSeries, error) {
	policy := opts.Policy
	if policy == "" {
		policy = models.AlignDrop
	}
	if policy != models.AlignDrop && policy != models.AlignCarry {
		return nil, errors.NewInvalidInputError("align policy", "drop|carry", policy)
	}

	out := &models.CompositeSeries{
		Ticker:     opts.Ticker,
		Strike:     opts.Strike,
		Expiration: opts.Expiration,
		Policy:     policy,
	}

	var lastCall, lastPut *models.Bar
	i, j := 0, 0
	for i < len(callBars) || j < len(putBars) {
		var c, p *models.Bar
		switch {
		case j >= len(putBars) || (i < len(callBars) && callBars[i].Timestamp.Before(putBars[j].Timestamp)):
			c = &callBars[i]
			i++
		case i >= len(callBars) || putBars[j].Timestamp.Before(callBars[i].Timestamp):
			p = &putBars[j]
			j++
		default:
			c, p = &callBars[i], &putBars[j]
			i++
			j++
		}

		if c != nil {
			lastCall = c
		}
		if p != nil {
			lastPut = p
		}

		if c == nil || p == nil {
			// One leg missing at this timestamp.
			if policy == models.AlignDrop || lastCall == nil || lastPut == nil {
				continue
			}
			c, p = lastCall, lastPut
		}

		ts := c.Timestamp
		if p.Timestamp.After(ts) {
			ts = p.Timestamp
		}
		out.Bars = append(out.Bars, composite(ts, c, p, opts.KeepLegs))
	}

	if len(out.Bars) == 0 {
		return nil, &errors.EmptyCompositeError{
			Ticker:     opts.Ticker,
			Strike:     opts.Strike,
			Expiration: opts.Expiration,
			CallBars:   len(callBars),
			PutBars:    len(putBars),
		}
	}
	return out, nil
}

func composite(ts time.Time, c, p *models.Bar, keepLegs bool) models.CompositeBar {
	cb := models.CompositeBar{
		Bar: models.Bar{
			Timestamp:     ts,
			Open:          c.Open + p.Open,
			High:          c.High + p.High,
			Low:           c.Low + p.Low,
			Close:         c.Close + p.Close,
			Volume:        c.Volume + p.Volume,
			OpenInterest:  c.OpenInterest + p.OpenInterest,
			IV:            meanIV(c.IV, p.IV),
			PercentChange: meanIV(c.PercentChange, p.PercentChange),
			Change:        c.Change + p.Change,
			Filled:        c.Filled && p.Filled,
		},
	}
	if keepLegs {
		call, put := *c, *p
		cb.Call, cb.Put = &call, &put
	}
	return cb
}

// meanIV averages two values, ignoring a NaN side.
func meanIV(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return (a + b) / 2
}
