package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"straddle-backtester/internal/store"
)

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored backtest runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			limit, _ := cmd.Flags().GetInt("limit")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			runs, err := ds.GetRuns(cmd.Context(), limit)
			if err != nil {
				output.Error("Failed to read runs: %v", err)
				return err
			}

			if output.IsStructured() {
				return output.Emit(runs)
			}
			if len(runs) == 0 {
				output.Warning("No runs stored. Use 'straddle backtest' to create one.")
				return nil
			}

			table := NewTable(output, "Run", "Started", "Tickers", "Pairs", "Trades", "Win Rate", "P&L", "Max DD", "Sharpe")
			for _, r := range runs {
				table.AddRow(
					r.RunID,
					FormatDateTime(r.StartedAt),
					fmt.Sprintf("%d", r.Tickers),
					fmt.Sprintf("%d", r.Pairs),
					fmt.Sprintf("%d", r.TotalTrades),
					fmt.Sprintf("%.1f%%", r.WinRate*100),
					output.FormatPnL(r.TotalPnL),
					fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
					fmt.Sprintf("%.2f", r.SharpeRatio),
				)
			}
			return table.Render()
		},
	}
	listCmd.Flags().IntP("limit", "n", 20, "maximum runs to list")

	tradesCmd := &cobra.Command{
		Use:   "trades <run-id>",
		Short: "Show the trades of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ticker, _ := cmd.Flags().GetString("ticker")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			trades, err := ds.GetTrades(cmd.Context(), store.TradeFilter{
				RunID:  args[0],
				Ticker: strings.ToUpper(ticker),
			})
			if err != nil {
				output.Error("Failed to read trades: %v", err)
				return err
			}

			if output.IsStructured() {
				return output.Emit(trades)
			}
			if len(trades) == 0 {
				output.Warning("No trades for run %s", args[0])
				return nil
			}

			table := NewTable(output, "Ticker", "Strike", "Expiry", "Entry", "Exit", "Held", "P&L", "P&L %", "Exit Reason")
			var total float64
			for _, t := range trades {
				total += t.PnL
				table.AddRow(
					t.Ticker,
					FormatStrike(t.Strike),
					FormatDate(t.Expiration),
					FormatDateTime(t.EntryTime),
					FormatDateTime(t.ExitTime),
					FormatDuration(t.Duration),
					output.FormatPnL(t.PnL),
					FormatPercent(t.PnLPercent),
					TruncateString(t.ExitReason, 40),
				)
			}
			if err := table.Render(); err != nil {
				return err
			}
			output.Printf("\n%d trades, total %s\n", len(trades), output.FormatPnL(total))
			return nil
		},
	}
	tradesCmd.Flags().StringP("ticker", "t", "", "only trades for this ticker")

	cmd.AddCommand(listCmd, tradesCmd)
	return cmd
}
