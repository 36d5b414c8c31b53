package selector

import (
	"context"
	"time"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
	"straddle-backtester/internal/store"
)

// HistoricalSource selects contracts from stored quotes.
type HistoricalSource struct {
	store   store.QuoteStore
	useOpen bool
}

// NewHistoricalSource creates a source over qs. useOpen picks the session
// open as spot instead of the prior close.
func NewHistoricalSource(qs store.QuoteStore, useOpen bool) *HistoricalSource {
	return &HistoricalSource{store: qs, useOpen: useOpen}
}

func (h *HistoricalSource) Name() string { return "historical" }

// ReferenceDate defaults to the day of the ticker's first stored quote.
func (h *HistoricalSource) ReferenceDate(ctx context.Context, ticker string, requested time.Time) (time.Time, error) {
	if !requested.IsZero() {
		return startOfDay(requested), nil
	}
	first, ok, err := h.store.FirstQuoteDate(ctx, ticker)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errors.NewNoDataError(ticker, "no stored quotes")
	}
	return startOfDay(first), nil
}

func (h *HistoricalSource) AvailableContracts(ctx context.Context, ticker string, ref time.Time, minDataPoints int) ([]models.ContractPair, error) {
	quotes, err := h.store.FetchQuotes(ctx, store.QuoteFilter{Ticker: ticker, Start: ref})
	if err != nil {
		return nil, err
	}
	return pairsFromQuotes(quotes, ref, minDataPoints), nil
}

func (h *HistoricalSource) SpotPrice(ctx context.Context, ticker string, ref time.Time) (float64, error) {
	return ResolveSpot(ctx, h.store, ticker, ref, h.useOpen)
}

func (h *HistoricalSource) Closes(ctx context.Context, ticker string, from, to time.Time) ([]float64, error) {
	bars, err := h.store.UnderlyingPrices(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}
	return closesBefore(bars, to), nil
}

func closesBefore(bars []models.Candle, to time.Time) []float64 {
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(to) {
			closes = append(closes, b.Close)
		}
	}
	return closes
}
