// Package selector picks the call/put pairs a straddle backtest trades.
package selector

import (
	"context"
	"sort"
	"time"

	"straddle-backtester/internal/models"
)

// ContractSource supplies everything selection needs for one ticker. The
// historical variant reads the quote store; the live variant reads a feed.
type ContractSource interface {
	Name() string
	// ReferenceDate resolves the date selection runs at. A zero requested
	// date asks the source for its own default.
	ReferenceDate(ctx context.Context, ticker string, requested time.Time) (time.Time, error)
	// AvailableContracts lists pairs with at least minDataPoints usable
	// observations on both legs on or after ref.
	AvailableContracts(ctx context.Context, ticker string, ref time.Time, minDataPoints int) ([]models.ContractPair, error)
	SpotPrice(ctx context.Context, ticker string, ref time.Time) (float64, error)
	// Closes returns underlying closes in [from, to), oldest first.
	Closes(ctx context.Context, ticker string, from, to time.Time) ([]float64, error)
}

type pairKey struct {
	strike     float64
	expiration time.Time
}

type legAcc struct {
	points int
	first  models.Quote
}

// usable reports whether a quote counts as a liquid observation.
func usable(q models.Quote) bool {
	return q.Volume > 0 && q.OpenInterest > 0
}

// pairsFromQuotes groups quotes into strike/expiration pairs. Only quotes at
// or after ref with volume and open interest both positive count. Each leg's
// statistics come from its earliest counted quote.
func pairsFromQuotes(quotes []models.Quote, ref time.Time, minDataPoints int) []models.ContractPair {
	legs := make(map[pairKey]map[models.OptionKind]*legAcc)
	for _, q := range quotes {
		if q.Timestamp.Before(ref) || !usable(q) || !q.Kind.Valid() {
			continue
		}
		k := pairKey{strike: q.Strike, expiration: q.Expiration}
		byKind, ok := legs[k]
		if !ok {
			byKind = make(map[models.OptionKind]*legAcc, 2)
			legs[k] = byKind
		}
		acc, ok := byKind[q.Kind]
		if !ok {
			acc = &legAcc{first: q}
			byKind[q.Kind] = acc
		}
		acc.points++
		if q.Timestamp.Before(acc.first.Timestamp) {
			acc.first = q
		}
	}

	pairs := make([]models.ContractPair, 0, len(legs))
	for k, byKind := range legs {
		call, put := byKind[models.Call], byKind[models.Put]
		if call == nil || put == nil || call.points < minDataPoints || put.points < minDataPoints {
			continue
		}
		pairs = append(pairs, models.ContractPair{
			Strike:     k.strike,
			Expiration: k.expiration,
			Call:       legStats(call),
			Put:        legStats(put),
		})
	}

	// Map iteration order is random; callers get a stable list.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Strike != pairs[j].Strike {
			return pairs[i].Strike < pairs[j].Strike
		}
		return pairs[i].Expiration.Before(pairs[j].Expiration)
	})
	return pairs
}

func legStats(acc *legAcc) models.LegStats {
	return models.LegStats{
		DataPoints:   acc.points,
		Volume:       acc.first.Volume,
		OpenInterest: acc.first.OpenInterest,
		IV:           acc.first.IV,
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
