package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"straddle-backtester/internal/models"
	"straddle-backtester/internal/store"
)

func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage option and underlying data",
		Long: `Import option chains and underlying prices into the local database and
inspect what is stored.`,
	}

	cmd.AddCommand(newDataInitCmd(app))
	cmd.AddCommand(newDataImportCmd(app))
	cmd.AddCommand(newDataSnapshotCmd(app))
	cmd.AddCommand(newDataStatusCmd(app))
	cmd.AddCommand(newDataPricesCmd(app))

	return cmd
}

func newDataInitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			if _, err := app.dataStore(); err != nil {
				output.Error("Failed to initialize database: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Emit(map[string]string{"path": app.Config.Data.DBPath})
			}
			output.Success("Database ready at %s", app.Config.Data.DBPath)
			return nil
		},
	}
}

func newDataImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import CSV files",
	}

	quotesCmd := &cobra.Command{
		Use:   "quotes <file>",
		Short: "Import an option chain CSV",
		Long: `Import option quotes in the option chain download layout: contractSymbol,
lastTradeDate, strike, lastPrice, bid, ask, volume, openInterest,
impliedVolatility, option_type, expiration_date and ticker.

The ticker column may be omitted when --ticker is given. Re-importing a file
replaces quotes with the same contract and timestamp.`,
		Example: `  straddle data import quotes spy_chain.csv
  straddle data import quotes chain.csv --ticker SPY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ticker, _ := cmd.Flags().GetString("ticker")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			n, err := store.ImportQuotesFile(cmd.Context(), ds, args[0], strings.ToUpper(ticker))
			if err != nil {
				output.Error("Import failed: %v", err)
				return err
			}
			app.Logger.Info().Str("file", args[0]).Int("quotes", n).Msg("Quotes imported")
			if output.IsStructured() {
				return output.Emit(map[string]interface{}{"file": args[0], "quotes": n})
			}
			output.Success("Imported %d quotes from %s", n, args[0])
			return nil
		},
	}
	quotesCmd.Flags().StringP("ticker", "t", "", "ticker for rows without one")

	underlyingCmd := &cobra.Command{
		Use:   "underlying <file>",
		Short: "Import daily underlying prices",
		Long: `Import daily OHLCV bars for the underlying. Expected columns: Date, Open,
High, Low, Close, Volume.`,
		Example: `  straddle data import underlying spy_daily.csv --ticker SPY
  straddle data import underlying qqq.csv -t QQQ`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ticker, _ := cmd.Flags().GetString("ticker")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			n, err := store.ImportUnderlyingFile(cmd.Context(), ds, args[0], ticker)
			if err != nil {
				output.Error("Import failed: %v", err)
				return err
			}
			app.Logger.Info().Str("file", args[0]).Str("ticker", ticker).Int("bars", n).Msg("Underlying imported")
			if output.IsStructured() {
				return output.Emit(map[string]interface{}{"file": args[0], "ticker": strings.ToUpper(ticker), "bars": n})
			}
			output.Success("Imported %d daily bars for %s", n, strings.ToUpper(ticker))
			return nil
		},
	}
	underlyingCmd.Flags().StringP("ticker", "t", "", "underlying ticker")
	_ = underlyingCmd.MarkFlagRequired("ticker")

	cmd.AddCommand(quotesCmd, underlyingCmd)
	return cmd
}

func newDataSnapshotCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <tickers...>",
		Short: "Store the live chain and recent prices",
		Long: `Fetch the current option chain and recent daily prices from the feed and
store them, so later backtests can replay them.`,
		Example: `  straddle data snapshot SPY QQQ
  straddle data snapshot AAPL --days 60`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ctx := cmd.Context()
			days, _ := cmd.Flags().GetInt("days")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			if _, err := app.contractSource(true); err != nil {
				return err
			}

			type snapshotResult struct {
				Ticker string `json:"ticker"`
				Quotes int    `json:"quotes"`
				Bars   int    `json:"bars"`
				Error  string `json:"error,omitempty"`
			}
			results := make([]snapshotResult, 0, len(args))
			now := time.Now().UTC()

			for _, arg := range args {
				ticker := strings.ToUpper(strings.TrimSpace(arg))
				res := snapshotResult{Ticker: ticker}

				quotes, err := app.Feed.Chain(ctx, ticker)
				if err == nil {
					res.Quotes, err = ds.SaveQuotes(ctx, quotes)
				}
				if err == nil && res.Quotes > 0 {
					err = store.RecordImport(ds, store.SyncTypeQuotes, ticker, now)
				}
				if err == nil {
					var candles []models.Candle
					candles, err = app.Feed.History(ctx, ticker, now.AddDate(0, 0, -days), now)
					if err == nil && len(candles) > 0 {
						if err = ds.SaveUnderlying(ctx, ticker, candles); err == nil {
							res.Bars = len(candles)
							err = store.RecordImport(ds, store.SyncTypeUnderlying, ticker, now)
						}
					}
				}
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					res.Error = err.Error()
					app.Logger.Warn().Err(err).Str("ticker", ticker).Msg("Snapshot failed")
				}
				results = append(results, res)
			}

			if output.IsStructured() {
				return output.Emit(results)
			}
			for _, r := range results {
				if r.Error != "" {
					output.Error("%s: %s", r.Ticker, r.Error)
					continue
				}
				output.Success("%s: %d quotes, %d daily bars", r.Ticker, r.Quotes, r.Bars)
			}
			return nil
		},
	}

	cmd.Flags().IntP("days", "d", 45, "days of underlying history to store")
	return cmd
}

func newDataStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored tickers and import freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			staleAfter, _ := cmd.Flags().GetDuration("stale-after")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			freshness, err := store.Freshness(cmd.Context(), ds, time.Now(), staleAfter)
			if err != nil {
				output.Error("Failed to read data status: %v", err)
				return err
			}

			if output.IsStructured() {
				return output.Emit(freshness)
			}
			if len(freshness) == 0 {
				output.Warning("No data imported. Use 'straddle data import quotes <file>'.")
				return nil
			}

			table := NewTable(output, "Ticker", "Data", "First Quote", "Status")
			for _, f := range freshness {
				status := store.FormatFreshness(f)
				switch {
				case f.LastUpdated.IsZero():
					status = output.ColoredString(color.FgRed, status)
				case !f.IsFresh:
					status = output.ColoredString(color.FgYellow, status)
				}
				first := ""
				if f.DataType == store.SyncTypeQuotes {
					first = FormatDate(f.FirstQuote)
				}
				table.AddRow(f.Ticker, string(f.DataType), first, status)
			}
			return table.Render()
		},
	}

	cmd.Flags().Duration("stale-after", store.DefaultStaleAfter, "age after which an import is stale")
	return cmd
}

func newDataPricesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices <ticker>",
		Short: "Show stored underlying prices",
		Example: `  straddle data prices SPY
  straddle data prices SPY --days 90 --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ticker := strings.ToUpper(args[0])
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")

			ds, err := app.dataStore()
			if err != nil {
				return err
			}

			to := time.Now().UTC()
			from := to.AddDate(0, 0, -days)
			candles, err := ds.UnderlyingPrices(cmd.Context(), ticker, from, to)
			if err != nil {
				output.Error("Failed to read prices: %v", err)
				return err
			}
			if limit > 0 && len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}

			if output.IsStructured() {
				return output.Emit(map[string]interface{}{
					"ticker":  ticker,
					"from":    FormatDate(from),
					"to":      FormatDate(to),
					"count":   len(candles),
					"candles": candles,
				})
			}
			if len(candles) == 0 {
				output.Warning("No prices for %s in the last %d days", ticker, days)
				return nil
			}
			return displayCandles(output, ticker, candles)
		},
	}

	cmd.Flags().IntP("days", "d", 30, "days of history")
	cmd.Flags().IntP("limit", "l", 0, "limit number of bars shown (0 for all)")
	return cmd
}

func displayCandles(output *Output, ticker string, candles []models.Candle) error {
	output.Bold("%s - daily", ticker)
	output.Printf("  %d bars\n\n", len(candles))

	table := NewTable(output, "Date", "Open", "High", "Low", "Close", "Volume", "Change")
	for i, c := range candles {
		change := "-"
		if i > 0 && candles[i-1].Close != 0 {
			pct := (c.Close - candles[i-1].Close) / candles[i-1].Close
			change = output.FormatPercent(pct)
		}
		table.AddRow(
			FormatDate(c.Timestamp),
			FormatPrice(c.Open),
			FormatPrice(c.High),
			FormatPrice(c.Low),
			FormatPrice(c.Close),
			FormatVolume(c.Volume),
			change,
		)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering prices: %w", err)
	}
	return nil
}
