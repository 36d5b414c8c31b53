package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/logging"
	"straddle-backtester/internal/models"
	"straddle-backtester/internal/performance"
	"straddle-backtester/internal/selector"
	"straddle-backtester/internal/series"
	"straddle-backtester/internal/store"
	"straddle-backtester/internal/strategy"
	"straddle-backtester/internal/trading"
)

// PolicyFactory returns a fresh policy for each contract pair.
type PolicyFactory func() (trading.Policy, error)

// Skip records a unit of work that did not produce a backtest.
type Skip struct {
	Ticker     string    `json:"ticker"`
	Strike     float64   `json:"strike,omitempty"`
	Expiration time.Time `json:"expiration,omitempty"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason"`
}

// PairResult is the outcome of one straddle backtest.
type PairResult struct {
	Candidate models.ContractCandidate
	Bars      int
	Result    *trading.BacktestResult
	Trades    []models.TradeRecord
}

// RunReport is everything a run produced.
type RunReport struct {
	Summary models.RunSummary
	Pairs   []PairResult
	Trades  []models.TradeRecord
	Skipped []Skip
}

type tickerResult struct {
	pairs   []PairResult
	skipped []Skip
}

// Orchestrator runs the selection to simulation pipeline for every ticker.
type Orchestrator struct {
	cfg       Config
	quotes    store.QuoteStore
	selector  *selector.Selector
	engine    trading.BacktestEngine
	newPolicy PolicyFactory
	journal   *Journal
	logger    zerolog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records decisions, trades and skips to j.
func WithJournal(j *Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithPolicyFactory replaces the default strategy machine.
func WithPolicyFactory(f PolicyFactory) Option {
	return func(o *Orchestrator) { o.newPolicy = f }
}

// New validates cfg and wires the pipeline. Leg quotes are always read from
// quotes, whatever source sel uses.
func New(cfg Config, quotes store.QuoteStore, sel *selector.Selector, engine trading.BacktestEngine, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Tickers = normalizeTickers(cfg.Tickers)
	if cfg.Align == "" {
		cfg.Align = models.AlignDrop
	}

	params := cfg.Strategy
	o := &Orchestrator{
		cfg:      cfg,
		quotes:   quotes,
		selector: sel,
		engine:   engine,
		newPolicy: func() (trading.Policy, error) {
			return strategy.New(params)
		},
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run processes every ticker and returns the combined report. Per-ticker and
// per-pair failures are logged and recorded as skips; only cancellation of
// ctx aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()
	log := logging.WithRunID(o.logger, runID)
	log.Info().Strs("tickers", o.cfg.Tickers).Int("workers", o.cfg.Workers).Msg("Run started")

	pool := performance.NewWorkerPool(o.cfg.Workers, o.logger)
	pool.Start()
	defer pool.Stop()

	results := make([]tickerResult, len(o.cfg.Tickers))
	for i, ticker := range o.cfg.Tickers {
		err := pool.Submit(ctx, func() {
			results[i] = o.runTicker(ctx, runID, ticker)
		})
		if err != nil {
			break
		}
	}
	pool.Wait()
	if stats := pool.Stats(); stats.TasksFailed > 0 {
		log.Error().Uint64("failed", stats.TasksFailed).Uint64("done", stats.TasksDone).Msg("Ticker tasks panicked")
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("Run canceled")
		return nil, err
	}

	report := &RunReport{}
	for _, r := range results {
		report.Pairs = append(report.Pairs, r.pairs...)
		report.Skipped = append(report.Skipped, r.skipped...)
		for _, p := range r.pairs {
			report.Trades = append(report.Trades, p.Trades...)
		}
	}
	sort.SliceStable(report.Trades, func(i, j int) bool {
		return report.Trades[i].ExitTime.Before(report.Trades[j].ExitTime)
	})

	report.Summary = Summarize(runID, started, o.cfg.Backtest.InitialCapital, report.Trades)
	report.Summary.Tickers = len(o.cfg.Tickers)
	report.Summary.Pairs = len(report.Pairs)
	report.Summary.Skipped = len(report.Skipped)

	summary := report.Summary
	o.record(Entry{Type: EntrySummary, RunID: runID, Summary: &summary})
	if err := o.journal.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to flush journal")
	}

	log.Info().
		Int("pairs", summary.Pairs).
		Int("skipped", summary.Skipped).
		Int("trades", summary.TotalTrades).
		Float64("total_pnl", summary.TotalPnL).
		Float64("win_rate", summary.WinRate).
		Msg("Run complete")
	return report, nil
}

func (o *Orchestrator) runTicker(ctx context.Context, runID, ticker string) tickerResult {
	var res tickerResult
	log := logging.WithTicker(logging.WithRunID(o.logger, runID), ticker)

	candidates, err := o.selector.Select(ctx, ticker, o.cfg.ReferenceDate, o.cfg.Selection)
	if err == nil && len(candidates) == 0 {
		err = errors.NewNoDataError(ticker, "no suitable contract")
	}
	if err != nil {
		res.skipped = append(res.skipped, o.skip(log, runID, models.ContractCandidate{Ticker: ticker}, "select", err))
		return res
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return res
		}
		pr, stage, err := o.runPair(ctx, runID, c)
		if err != nil {
			res.skipped = append(res.skipped, o.skip(log, runID, c, stage, err))
			continue
		}
		res.pairs = append(res.pairs, *pr)
	}
	return res
}

// runPair builds the composite for one candidate and simulates it. On
// failure it also reports the pipeline stage that failed.
func (o *Orchestrator) runPair(ctx context.Context, runID string, c models.ContractCandidate) (*PairResult, string, error) {
	log := logging.WithContract(logging.WithTicker(logging.WithRunID(o.logger, runID), c.Ticker), c.Strike, c.Expiration)

	legs := make(map[models.OptionKind][]models.Bar, 2)
	for _, kind := range []models.OptionKind{models.Call, models.Put} {
		key := c.Leg(kind)
		quotes, err := o.quotes.FetchQuotes(ctx, store.QuoteFilter{
			Ticker:     key.Ticker,
			Kind:       kind,
			Expiration: key.Expiration,
			Strike:     key.Strike,
			Start:      c.ReferenceDate,
			End:        key.Expiration.Add(24*time.Hour - time.Second),
		})
		if err != nil {
			return nil, "fetch", err
		}
		if len(quotes) == 0 {
			return nil, "fetch", errors.NewNoDataError(c.Ticker, "no quotes for "+key.String())
		}
		s, err := series.Synthesize(quotes, o.cfg.Interval)
		if err != nil {
			return nil, "synthesize", err
		}
		legs[kind] = s.Bars()
	}

	composite, err := series.Combine(legs[models.Call], legs[models.Put], series.CombineOptions{
		Ticker:     c.Ticker,
		Strike:     c.Strike,
		Expiration: c.Expiration,
		Policy:     o.cfg.Align,
		KeepLegs:   o.cfg.KeepLegs,
	})
	if err != nil {
		return nil, "combine", err
	}

	policy, err := o.newPolicy()
	if err != nil {
		return nil, "strategy", err
	}
	result, err := o.engine.Run(logging.WithLogger(ctx, log), composite, policy)
	if err != nil {
		return nil, "backtest", err
	}

	for i := range result.Events {
		ev := result.Events[i]
		e := contractEntry(EntryDecision, runID, c)
		e.Decision = &ev
		o.record(e)
	}
	trades := tradeRecords(runID, c, result.Trades)
	for i := range trades {
		t := trades[i]
		e := contractEntry(EntryTrade, runID, c)
		e.Trade = &t
		o.record(e)
	}

	log.Info().
		Int("bars", composite.Len()).
		Int("trades", len(trades)).
		Float64("total_return", result.TotalReturn).
		Msg("Pair backtested")
	return &PairResult{Candidate: c, Bars: composite.Len(), Result: result, Trades: trades}, "", nil
}

// skip logs err and returns the matching skip record. Expected data gaps
// are warnings; anything else is logged as an error but still skipped.
func (o *Orchestrator) skip(log zerolog.Logger, runID string, c models.ContractCandidate, stage string, err error) Skip {
	if errors.Skippable(err) {
		logging.LogSkip(log, stage, err)
	} else {
		log.Error().Str("event", "skip").Str("stage", stage).Err(err).Msg("Unit of work failed")
	}

	s := Skip{Ticker: c.Ticker, Strike: c.Strike, Expiration: c.Expiration, Stage: stage, Reason: err.Error()}
	e := contractEntry(EntrySkip, runID, c)
	if c.Expiration.IsZero() {
		e.Expiration = ""
	}
	e.Skip = &s
	o.record(e)
	return s
}

func (o *Orchestrator) record(e Entry) {
	if err := o.journal.Write(e); err != nil {
		o.logger.Warn().Err(err).Str("type", e.Type).Msg("Failed to journal entry")
	}
}

func tradeRecords(runID string, c models.ContractCandidate, trades []trading.BacktestTrade) []models.TradeRecord {
	out := make([]models.TradeRecord, 0, len(trades))
	for _, t := range trades {
		out = append(out, models.TradeRecord{
			RunID:       runID,
			Ticker:      c.Ticker,
			Strike:      c.Strike,
			Expiration:  c.Expiration,
			EntryTime:   t.EntryTime,
			ExitTime:    t.ExitTime,
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Size:        t.Size,
			Quantity:    t.Quantity,
			Commission:  t.Commission,
			PnL:         t.PnL,
			PnLPercent:  t.PnLPercent,
			EntryReason: t.EntryReason,
			ExitReason:  t.ExitReason,
			Duration:    t.ExitTime.Sub(t.EntryTime),
		})
	}
	return out
}
