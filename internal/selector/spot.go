package selector

import (
	"context"
	"time"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
)

// SpotLookbackDays bounds the backward search for a prior close.
const SpotLookbackDays = 5

// PriceHistory serves daily underlying bars. store.QuoteStore satisfies it.
type PriceHistory interface {
	UnderlyingPrices(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error)
}

// ResolveSpot returns the underlying reference price for date. With useOpen
// it is the open of that exact session and nothing else. Otherwise it is the
// latest close strictly before date within SpotLookbackDays calendar days.
func ResolveSpot(ctx context.Context, prices PriceHistory, ticker string, date time.Time, useOpen bool) (float64, error) {
	day := startOfDay(date)

	if useOpen {
		bars, err := prices.UnderlyingPrices(ctx, ticker, day, day)
		if err != nil {
			return 0, err
		}
		for _, b := range bars {
			if startOfDay(b.Timestamp).Equal(day) {
				return b.Open, nil
			}
		}
		return 0, errors.NewSpotPriceUnavailableError(ticker, day, true)
	}

	bars, err := prices.UnderlyingPrices(ctx, ticker, day.AddDate(0, 0, -SpotLookbackDays), day.AddDate(0, 0, -1))
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if startOfDay(bars[i].Timestamp).Before(day) {
			return bars[i].Close, nil
		}
	}
	return 0, errors.NewSpotPriceUnavailableError(ticker, day, false)
}
