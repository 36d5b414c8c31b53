package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		Long:  "Step-by-step guide from an empty database to a first backtest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)

			output.Bold("Straddle Backtester - Quick Start Guide")
			output.Println()

			steps := []struct {
				step  int
				title string
				desc  string
				cmd   string
			}{
				{
					step:  1,
					title: "Review the Configuration",
					desc:  "A template config.toml is written on first run. Set data.tickers and the strategy thresholds.",
					cmd:   "straddle config path",
				},
				{
					step:  2,
					title: "Import Option Quotes",
					desc:  "Load an option chain CSV for each ticker.",
					cmd:   "straddle data import quotes spy_chain.csv --ticker SPY",
				},
				{
					step:  3,
					title: "Import Underlying Prices",
					desc:  "Daily closes provide spot and realized volatility.",
					cmd:   "straddle data import underlying spy_daily.csv --ticker SPY",
				},
				{
					step:  4,
					title: "Check Data Freshness",
					desc:  "Confirm both data sets are present.",
					cmd:   "straddle data status",
				},
				{
					step:  5,
					title: "Preview the Selection",
					desc:  "See which straddles would be traded.",
					cmd:   "straddle select SPY",
				},
				{
					step:  6,
					title: "Run the Backtest",
					desc:  "Backtest every configured ticker and store the run.",
					cmd:   "straddle backtest",
				},
				{
					step:  7,
					title: "Review Results",
					desc:  "List runs and export trades for further analysis.",
					cmd:   "straddle runs list && straddle export trades",
				},
			}

			arrow := output.ColoredString(color.FgCyan, "→")
			for _, s := range steps {
				output.Printf("%s Step %d: %s\n", arrow, s.step, output.ColoredString(color.Bold, s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.ColoredString(color.Faint, s.cmd))
			}

			output.Bold("Configuration Files")
			output.Printf("  %s - data, selection, strategy and backtest settings\n", output.ColoredString(color.FgCyan, "config.toml"))
			output.Printf("  %s - environment overrides (STRADDLE_*)\n", output.ColoredString(color.FgCyan, ".env"))
			output.Println()

			output.Bold("Getting Help")
			output.Printf("  %s - Help for any command\n", output.ColoredString(color.FgCyan, "straddle help <command>"))
			return nil
		},
	}
}
