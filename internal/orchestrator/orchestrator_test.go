package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
	"straddle-backtester/internal/selector"
	"straddle-backtester/internal/store"
	"straddle-backtester/internal/trading"
)

var refDate = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

var expiry = refDate.AddDate(0, 0, 14)

// memStore filters an in-memory quote slice.
type memStore struct {
	quotes []models.Quote
}

func (m *memStore) FetchQuotes(_ context.Context, f store.QuoteFilter) ([]models.Quote, error) {
	var out []models.Quote
	for _, q := range m.quotes {
		switch {
		case f.Ticker != "" && q.Ticker != f.Ticker,
			f.Kind != "" && q.Kind != f.Kind,
			!f.Expiration.IsZero() && !q.Expiration.Equal(f.Expiration),
			f.Strike != 0 && q.Strike != f.Strike,
			!f.Start.IsZero() && q.Timestamp.Before(f.Start),
			!f.End.IsZero() && q.Timestamp.After(f.End):
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *memStore) FirstQuoteDate(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (m *memStore) UnderlyingPrices(context.Context, string, time.Time, time.Time) ([]models.Candle, error) {
	return nil, nil
}

// pairSource offers one at-the-money pair for each known ticker.
type pairSource struct {
	tickers map[string]bool
}

func (s *pairSource) Name() string { return "pairs" }

func (s *pairSource) ReferenceDate(_ context.Context, ticker string, requested time.Time) (time.Time, error) {
	if !s.tickers[ticker] {
		return time.Time{}, errors.NewNoDataError(ticker, "no stored quotes")
	}
	if !requested.IsZero() {
		return requested, nil
	}
	return refDate, nil
}

func (s *pairSource) AvailableContracts(context.Context, string, time.Time, int) ([]models.ContractPair, error) {
	leg := models.LegStats{DataPoints: 5, Volume: 100, OpenInterest: 100, IV: 0.3}
	return []models.ContractPair{{Strike: 100, Expiration: expiry, Call: leg, Put: leg}}, nil
}

func (s *pairSource) SpotPrice(context.Context, string, time.Time) (float64, error) {
	return 100, nil
}

func (s *pairSource) Closes(context.Context, string, time.Time, time.Time) ([]float64, error) {
	return []float64{100, 101, 99.5, 100.8, 100.1}, nil
}

// scriptedPolicy enters and exits at fixed bars.
type scriptedPolicy struct {
	script map[int]models.Direction
	bars   []models.CompositeBar
}

func (p *scriptedPolicy) Name() string { return "scripted" }

func (p *scriptedPolicy) Init(_ context.Context, s *models.CompositeSeries) error {
	p.bars = s.Bars
	return nil
}

func (p *scriptedPolicy) Next(i int) (*models.DecisionEvent, error) {
	dir, ok := p.script[i]
	if !ok {
		return nil, nil
	}
	return &models.DecisionEvent{
		Timestamp: p.bars[i].Timestamp,
		Index:     i,
		Direction: dir,
		Price:     p.bars[i].Close,
		Size:      1,
		Reason:    "scripted " + string(dir),
	}, nil
}

func enterExit(enter, exit int) PolicyFactory {
	return func() (trading.Policy, error) {
		return &scriptedPolicy{script: map[int]models.Direction{
			enter: models.DirectionEnter,
			exit:  models.DirectionExit,
		}}, nil
	}
}

// legQuotes returns one mid-afternoon quote per day with the given prices.
func legQuotes(ticker string, kind models.OptionKind, prices ...float64) []models.Quote {
	out := make([]models.Quote, len(prices))
	for i, p := range prices {
		out[i] = models.Quote{
			Ticker:       ticker,
			Kind:         kind,
			Strike:       100,
			Expiration:   expiry,
			Timestamp:    refDate.AddDate(0, 0, i).Add(15 * time.Hour),
			LastPrice:    p,
			Bid:          math.NaN(),
			Ask:          math.NaN(),
			Volume:       100,
			OpenInterest: 100,
			IV:           0.3,
		}
	}
	return out
}

func testConfig(tickers ...string) Config {
	cfg := DefaultConfig()
	cfg.Tickers = tickers
	cfg.Selection.MinDataPoints = 1
	cfg.Backtest.Commission = 0
	cfg.Workers = 2
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, quotes []models.Quote, opts ...Option) *Orchestrator {
	t.Helper()
	src := &pairSource{tickers: map[string]bool{"AAA": true, "CCC": true}}
	engine, err := trading.NewBacktestEngine(cfg.Backtest, zerolog.Nop())
	require.NoError(t, err)
	o, err := New(cfg, &memStore{quotes: quotes}, selector.New(src, zerolog.Nop()), engine, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return o
}

func readJournal(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestRun_BacktestsPairsAndSkipsFailures(t *testing.T) {
	var quotes []models.Quote
	quotes = append(quotes, legQuotes("AAA", models.Call, 2, 3, 4, 5, 6)...)
	quotes = append(quotes, legQuotes("AAA", models.Put, 1, 1, 1, 1, 1)...)
	// CCC has no put leg.
	quotes = append(quotes, legQuotes("CCC", models.Call, 2, 3, 4)...)

	journalPath := filepath.Join(t.TempDir(), "runs", "journal.jsonl")
	journal, err := OpenJournal(journalPath, 16)
	require.NoError(t, err)

	o := newTestOrchestrator(t, testConfig("aaa", "BBB", "ccc", "AAA"), quotes,
		WithPolicyFactory(enterExit(1, 3)), WithJournal(journal))

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, journal.Close())

	require.Len(t, report.Pairs, 1)
	pair := report.Pairs[0]
	assert.Equal(t, "AAA", pair.Candidate.Ticker)
	assert.Equal(t, 5, pair.Bars)

	require.Len(t, report.Trades, 1)
	trade := report.Trades[0]
	assert.Equal(t, report.Summary.RunID, trade.RunID)
	assert.Equal(t, "AAA", trade.Ticker)
	assert.Equal(t, 100.0, trade.Strike)
	assert.Equal(t, expiry, trade.Expiration)
	assert.Equal(t, 4.0, trade.EntryPrice)
	assert.Equal(t, 6.0, trade.ExitPrice)
	assert.InDelta(t, 200, trade.PnL, 1e-9)
	assert.Equal(t, "scripted ENTER", trade.EntryReason)
	assert.Equal(t, "scripted EXIT", trade.ExitReason)
	assert.Equal(t, 48*time.Hour, trade.Duration)

	require.Len(t, report.Skipped, 2)
	assert.Equal(t, "BBB", report.Skipped[0].Ticker)
	assert.Equal(t, "select", report.Skipped[0].Stage)
	assert.Equal(t, "CCC", report.Skipped[1].Ticker)
	assert.Equal(t, "fetch", report.Skipped[1].Stage)

	s := report.Summary
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 3, s.Tickers)
	assert.Equal(t, 1, s.Pairs)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 1, s.TotalTrades)
	assert.InDelta(t, 200, s.TotalPnL, 1e-9)
	assert.Equal(t, 1.0, s.WinRate)
	assert.Zero(t, s.MaxDrawdown)

	counts := map[string]int{}
	for _, e := range readJournal(t, journalPath) {
		counts[e.Type]++
		assert.Equal(t, s.RunID, e.RunID)
	}
	assert.Equal(t, map[string]int{EntryDecision: 2, EntryTrade: 1, EntrySkip: 2, EntrySummary: 1}, counts)
}

func TestRun_NoTickers(t *testing.T) {
	cfg := testConfig(" ", "")
	engine, err := trading.NewBacktestEngine(cfg.Backtest, zerolog.Nop())
	require.NoError(t, err)

	_, err = New(cfg, &memStore{}, selector.New(&pairSource{}, zerolog.Nop()), engine, zerolog.Nop())
	assert.ErrorIs(t, err, errors.ErrNoTickers)
}

func TestRun_EveryTickerSkipped(t *testing.T) {
	o := newTestOrchestrator(t, testConfig("XXX", "YYY"), nil)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Pairs)
	assert.Empty(t, report.Trades)
	assert.Len(t, report.Skipped, 2)
	assert.Zero(t, report.Summary.TotalTrades)
}

func TestRun_CombineFailureSkipsPair(t *testing.T) {
	var quotes []models.Quote
	quotes = append(quotes, legQuotes("AAA", models.Call, 2, 3)...)
	put := legQuotes("AAA", models.Put, 1, 1)
	// Shift the put leg so no day overlaps with the call leg.
	for i := range put {
		put[i].Timestamp = put[i].Timestamp.AddDate(0, 0, 5)
	}
	quotes = append(quotes, put...)

	o := newTestOrchestrator(t, testConfig("AAA"), quotes, WithPolicyFactory(enterExit(0, 1)))
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "combine", report.Skipped[0].Stage)
	assert.Contains(t, report.Skipped[0].Reason, "empty composite")
}

func TestRun_Canceled(t *testing.T) {
	o := newTestOrchestrator(t, testConfig("AAA"), legQuotes("AAA", models.Call, 1, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"default with ticker", func(c *Config) {}, true},
		{"zero interval", func(c *Config) { c.Interval = 0 }, false},
		{"bad align", func(c *Config) { c.Align = "zip" }, false},
		{"negative workers", func(c *Config) { c.Workers = -1 }, false},
		{"bad selection", func(c *Config) { c.Selection.MaxResults = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Tickers = []string{"SPY"}
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errors.ErrConfigInvalid)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	base := refDate
	trades := []models.TradeRecord{
		{PnL: 100, PnLPercent: 10, ExitTime: base},
		{PnL: -50, PnLPercent: -5, ExitTime: base.AddDate(0, 0, 1)},
		{PnL: 200, PnLPercent: 20, ExitTime: base.AddDate(0, 0, 2)},
	}

	s := Summarize("run-1", base, 10000, trades)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, 250, s.TotalPnL, 1e-9)
	assert.InDelta(t, 2.0/3.0, s.WinRate, 1e-9)
	assert.InDelta(t, 50.0/10100.0, s.MaxDrawdown, 1e-12)
	assert.InDelta(t, 6.0, s.ProfitFactor, 1e-9)
	assert.Greater(t, s.SharpeRatio, 0.0)

	empty := Summarize("run-2", base, 10000, nil)
	assert.Zero(t, empty.TotalTrades)
	assert.Zero(t, empty.SharpeRatio)
	assert.Zero(t, empty.MaxDrawdown)
}
