package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"straddle-backtester/internal/models"
	"straddle-backtester/internal/orchestrator"
	"straddle-backtester/internal/selector"
	"straddle-backtester/internal/trading"
)

// backtestReport is the structured form of a run.
type backtestReport struct {
	Summary models.RunSummary    `json:"summary"`
	Pairs   []pairView           `json:"pairs"`
	Trades  []models.TradeRecord `json:"trades"`
	Skipped []orchestrator.Skip  `json:"skipped"`
	Journal string               `json:"journal,omitempty"`
}

type pairView struct {
	Ticker      string   `json:"ticker"`
	Strike      float64  `json:"strike"`
	Expiration  string   `json:"expiration"`
	Bars        int      `json:"bars"`
	Trades      int      `json:"trades"`
	TotalReturn float64  `json:"total_return"`
	MaxDrawdown float64  `json:"max_drawdown"`
	IVHVRatio   *float64 `json:"iv_hv_ratio"`
}

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest [tickers...]",
		Short: "Select straddles and backtest them",
		Long: `Run the full pipeline for each ticker: select candidate straddles, build
their composite series from stored quotes and replay the strategy.

Tickers default to data.tickers from the config. Failures for one ticker or
pair are reported and skipped.`,
		Example: `  straddle backtest
  straddle backtest SPY QQQ --ref-date 2024-03-01
  straddle backtest AAPL --workers 4 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ctx := cmd.Context()

			runCfg, err := app.Config.RunConfig(args)
			if err != nil {
				return err
			}
			if refDate, _ := cmd.Flags().GetString("ref-date"); refDate != "" {
				if runCfg.ReferenceDate, err = time.Parse(time.DateOnly, refDate); err != nil {
					return fmt.Errorf("invalid --ref-date: %w", err)
				}
			}
			if cmd.Flags().Changed("workers") {
				runCfg.Workers, _ = cmd.Flags().GetInt("workers")
			}

			ds, err := app.dataStore()
			if err != nil {
				output.Error("Failed to open data store: %v", err)
				return err
			}
			source, err := app.contractSource(false)
			if err != nil {
				return err
			}
			engine, err := trading.NewBacktestEngine(runCfg.Backtest, app.Logger)
			if err != nil {
				return err
			}

			var opts []orchestrator.Option
			noJournal, _ := cmd.Flags().GetBool("no-journal")
			var journal *orchestrator.Journal
			if path := app.Config.Orchestrator.JournalPath; path != "" && !noJournal {
				if journal, err = orchestrator.OpenJournal(path, 0); err != nil {
					return err
				}
				defer journal.Close()
				opts = append(opts, orchestrator.WithJournal(journal))
			}

			orch, err := orchestrator.New(runCfg, ds, selector.New(source, app.Logger), engine, app.Logger, opts...)
			if err != nil {
				return err
			}
			report, err := orch.Run(ctx)
			if err != nil {
				return err
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				if err := ds.SaveRun(ctx, report.Summary, report.Trades); err != nil {
					output.Warning("Failed to save run: %v", err)
				}
			}

			view := newBacktestReport(report)
			if journal != nil {
				view.Journal = journal.Path()
			}
			if output.IsStructured() {
				return output.Emit(view)
			}
			return displayBacktest(output, view)
		},
	}

	cmd.Flags().String("ref-date", "", "selection reference date (YYYY-MM-DD)")
	cmd.Flags().Int("workers", 1, "tickers processed in parallel (0 = one per CPU)")
	cmd.Flags().Bool("save", true, "store the run and its trades")
	cmd.Flags().Bool("no-journal", false, "do not append to the run journal")

	return cmd
}

func newBacktestReport(r *orchestrator.RunReport) backtestReport {
	view := backtestReport{
		Summary: r.Summary,
		Pairs:   make([]pairView, 0, len(r.Pairs)),
		Trades:  r.Trades,
		Skipped: r.Skipped,
	}
	if view.Trades == nil {
		view.Trades = []models.TradeRecord{}
	}
	if view.Skipped == nil {
		view.Skipped = []orchestrator.Skip{}
	}
	for _, p := range r.Pairs {
		view.Pairs = append(view.Pairs, pairView{
			Ticker:      p.Candidate.Ticker,
			Strike:      p.Candidate.Strike,
			Expiration:  FormatDate(p.Candidate.Expiration),
			Bars:        p.Bars,
			Trades:      len(p.Trades),
			TotalReturn: p.Result.TotalReturn,
			MaxDrawdown: p.Result.MaxDrawdown,
			IVHVRatio:   finite(p.Candidate.IVHVRatio),
		})
	}
	return view
}

func displayBacktest(output *Output, r backtestReport) error {
	s := r.Summary
	output.Bold("Backtest run %s", s.RunID)
	output.Printf("Tickers: %d  Pairs: %d  Skipped: %d\n\n", s.Tickers, s.Pairs, s.Skipped)

	if len(r.Pairs) > 0 {
		table := NewTable(output, "Ticker", "Strike", "Expiry", "Bars", "Trades", "Return", "Max DD", "IV/HV")
		for _, p := range r.Pairs {
			ratio := "inf"
			if p.IVHVRatio != nil {
				ratio = FormatRatio(*p.IVHVRatio)
			}
			table.AddRow(
				p.Ticker,
				FormatStrike(p.Strike),
				p.Expiration,
				fmt.Sprintf("%d", p.Bars),
				fmt.Sprintf("%d", p.Trades),
				output.FormatPercent(p.TotalReturn),
				FormatPercent(-p.MaxDrawdown*100),
				ratio,
			)
		}
		if err := table.Render(); err != nil {
			return err
		}
		output.Println()
	}

	if len(r.Trades) > 0 {
		table := NewTable(output, "Ticker", "Strike", "Entry", "Exit", "Size", "Entry $", "Exit $", "P&L", "Exit Reason")
		for _, t := range r.Trades {
			table.AddRow(
				t.Ticker,
				FormatStrike(t.Strike),
				FormatDateTime(t.EntryTime),
				FormatDateTime(t.ExitTime),
				fmt.Sprintf("%d", t.Size),
				FormatPrice(t.EntryPrice),
				FormatPrice(t.ExitPrice),
				output.FormatPnL(t.PnL),
				TruncateString(t.ExitReason, 40),
			)
		}
		if err := table.Render(); err != nil {
			return err
		}
		output.Println()
	}

	if len(r.Skipped) > 0 {
		output.Warning("Skipped")
		for _, sk := range r.Skipped {
			target := sk.Ticker
			if sk.Strike != 0 {
				target = fmt.Sprintf("%s %s %s", sk.Ticker, FormatStrike(sk.Strike), FormatDate(sk.Expiration))
			}
			output.Dim("  %-28s %-10s %s", target, sk.Stage, strings.TrimSpace(sk.Reason))
		}
		output.Println()
	}

	output.Bold("Summary")
	output.Printf("  Trades:        %d (%d won, %d lost)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	output.Printf("  Total P&L:     %s\n", output.FormatPnL(s.TotalPnL))
	output.Printf("  Win rate:      %.1f%%\n", s.WinRate*100)
	output.Printf("  Max drawdown:  %.2f%%\n", s.MaxDrawdown*100)
	output.Printf("  Sharpe:        %.2f\n", s.SharpeRatio)
	output.Printf("  Profit factor: %.2f\n", s.ProfitFactor)
	if r.Journal != "" {
		output.Dim("Journal: %s", r.Journal)
	}
	return nil
}
