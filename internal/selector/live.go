package selector

import (
	"context"
	"time"

	"straddle-backtester/internal/models"
)

// LiveFeed is the market data a LiveSource reads. feed.Client implements it.
type LiveFeed interface {
	Chain(ctx context.Context, ticker string) ([]models.Quote, error)
	Spot(ctx context.Context, ticker string) (float64, error)
	History(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error)
}

// LiveSource selects contracts from the current option chain.
type LiveSource struct {
	feed LiveFeed
	now  func() time.Time
}

// NewLiveSource creates a source over feed.
func NewLiveSource(feed LiveFeed) *LiveSource {
	return &LiveSource{feed: feed, now: time.Now}
}

func (l *LiveSource) Name() string { return "live" }

// ReferenceDate defaults to today.
func (l *LiveSource) ReferenceDate(_ context.Context, _ string, requested time.Time) (time.Time, error) {
	if !requested.IsZero() {
		return startOfDay(requested), nil
	}
	return startOfDay(l.now()), nil
}

// AvailableContracts reads one chain snapshot. A snapshot holds a single
// observation per contract, so any positive minimum is met by one quote and
// contracts last traded before ref still count.
func (l *LiveSource) AvailableContracts(ctx context.Context, ticker string, _ time.Time, minDataPoints int) ([]models.ContractPair, error) {
	chain, err := l.feed.Chain(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return pairsFromQuotes(chain, time.Time{}, min(minDataPoints, 1)), nil
}

// SpotPrice ignores ref and returns the current price.
func (l *LiveSource) SpotPrice(ctx context.Context, ticker string, _ time.Time) (float64, error) {
	return l.feed.Spot(ctx, ticker)
}

func (l *LiveSource) Closes(ctx context.Context, ticker string, from, to time.Time) ([]float64, error) {
	bars, err := l.feed.History(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}
	return closesBefore(bars, to), nil
}
