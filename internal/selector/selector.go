package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"straddle-backtester/internal/analysis/indicators"
	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/logging"
	"straddle-backtester/internal/models"
)

// Options controls one selection call. LookbackDays is the calendar window
// realized volatility is measured over.
type Options struct {
	MaxResults    int `mapstructure:"max_results"`
	MinExpiryDays int `mapstructure:"min_expiry_days"`
	MaxExpiryDays int `mapstructure:"max_expiry_days"`
	MinDataPoints int `mapstructure:"min_data_points"`
	LookbackDays  int `mapstructure:"lookback_days"`
}

// DefaultOptions returns the standard selection settings.
func DefaultOptions() Options {
	return Options{
		MaxResults:    3,
		MinExpiryDays: 7,
		MaxExpiryDays: 30,
		MinDataPoints: 10,
		LookbackDays:  30,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.MaxResults < 1 {
		return errors.NewValidationError("max_results", o.MaxResults, "must be at least 1")
	}
	if o.MinExpiryDays < 0 || o.MaxExpiryDays < o.MinExpiryDays {
		return errors.NewValidationError("expiry_range", fmt.Sprintf("(%d, %d)", o.MinExpiryDays, o.MaxExpiryDays), "need 0 <= min <= max")
	}
	if o.MinDataPoints < 1 {
		return errors.NewValidationError("min_data_points", o.MinDataPoints, "must be at least 1")
	}
	if o.LookbackDays < 2 {
		return errors.NewValidationError("lookback_days", o.LookbackDays, "must be at least 2")
	}
	return nil
}

// Selector ranks straddle candidates for a ticker.
type Selector struct {
	source ContractSource
	logger zerolog.Logger
}

// New creates a selector reading from source.
func New(source ContractSource, logger zerolog.Logger) *Selector {
	return &Selector{source: source, logger: logger}
}

// Source returns the backing contract source.
func (s *Selector) Source() ContractSource {
	return s.source
}

// Select returns up to opts.MaxResults candidates, best first. A zero ref
// uses the source's default reference date. An empty result with a nil
// error means no pair met the liquidity and expiry constraints or spot was
// unavailable.
func (s *Selector) Select(ctx context.Context, ticker string, ref time.Time, opts Options) ([]models.ContractCandidate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := logging.WithTicker(s.logger, ticker)

	ref, err := s.source.ReferenceDate(ctx, ticker, ref)
	if err != nil {
		return nil, err
	}

	pairs, err := s.source.AvailableContracts(ctx, ticker, ref, opts.MinDataPoints)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		log.Info().Time("reference_date", ref).Msg("No contract pairs with enough data")
		return []models.ContractCandidate{}, nil
	}

	spot, err := s.source.SpotPrice(ctx, ticker, ref)
	if err != nil {
		if errors.Is(err, errors.ErrSpotUnavailable) {
			logging.LogSkip(log, "spot", err)
			return []models.ContractCandidate{}, nil
		}
		return nil, err
	}

	closes, err := s.source.Closes(ctx, ticker, ref.AddDate(0, 0, -opts.LookbackDays), ref)
	if err != nil {
		return nil, err
	}
	hv := indicators.RealizedVolatility(closes)

	candidates := make([]models.ContractCandidate, 0, len(pairs))
	for _, p := range pairs {
		c, ok := score(ticker, ref, spot, hv, p, opts)
		if ok {
			candidates = append(candidates, c)
		}
	}
	Rank(candidates)

	if len(candidates) > opts.MaxResults {
		candidates = candidates[:opts.MaxResults]
	}
	log.Debug().
		Time("reference_date", ref).
		Float64("spot", spot).
		Float64("realized_vol", hv).
		Int("pairs", len(pairs)).
		Int("selected", len(candidates)).
		Msg("Selection complete")
	return candidates, nil
}

// score builds a candidate from p, or reports false when the pair is outside
// the expiry window or has an illiquid leg.
func score(ticker string, ref time.Time, spot, hv float64, p models.ContractPair, opts Options) (models.ContractCandidate, bool) {
	dte := int(startOfDay(p.Expiration).Sub(ref).Hours() / 24)
	if dte < opts.MinExpiryDays || dte > opts.MaxExpiryDays {
		return models.ContractCandidate{}, false
	}

	liquidity := min(p.Call.Volume, p.Put.Volume)
	if liquidity <= 0 {
		return models.ContractCandidate{}, false
	}

	ratio := math.Inf(1)
	avgIV := meanIV(p.Call.IV, p.Put.IV)
	if hv > 0 && !math.IsNaN(avgIV) {
		ratio = avgIV / hv
	}

	return models.ContractCandidate{
		Ticker:         ticker,
		Strike:         p.Strike,
		Expiration:     p.Expiration,
		ReferenceDate:  ref,
		SpotPrice:      spot,
		DaysToExpiry:   dte,
		StrikeDistance: math.Abs(p.Strike - spot),
		Liquidity:      liquidity,
		MinOpenInt:     min(p.Call.OpenInterest, p.Put.OpenInterest),
		IVHVRatio:      ratio,
	}, true
}

func meanIV(call, put float64) float64 {
	switch {
	case math.IsNaN(call):
		return put
	case math.IsNaN(put):
		return call
	}
	return (call + put) / 2
}

// Rank sorts candidates by strike distance, then iv/hv ratio, then
// liquidity descending. Remaining ties keep their input order.
func Rank(candidates []models.ContractCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.StrikeDistance != b.StrikeDistance {
			return a.StrikeDistance < b.StrikeDistance
		}
		if a.IVHVRatio != b.IVHVRatio {
			return a.IVHVRatio < b.IVHVRatio
		}
		return a.Liquidity > b.Liquidity
	})
}
