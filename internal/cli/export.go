package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"straddle-backtester/internal/store"
)

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export data to files",
		Long:  "Export stored trades to CSV.",
	}

	tradesCmd := &cobra.Command{
		Use:   "trades",
		Short: "Export trade history",
		Example: `  straddle export trades --output trades.csv
  straddle export trades --run 3f2c... --ticker SPY`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			runID, _ := cmd.Flags().GetString("run")
			ticker, _ := cmd.Flags().GetString("ticker")
			outFile, _ := cmd.Flags().GetString("output")
			days, _ := cmd.Flags().GetInt("days")

			if outFile == "" {
				outFile = fmt.Sprintf("trades_%s.csv", time.Now().Format("20060102"))
			}

			ds, err := app.dataStore()
			if err != nil {
				return err
			}
			filter := store.TradeFilter{RunID: runID, Ticker: strings.ToUpper(ticker)}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}
			trades, err := ds.GetTrades(cmd.Context(), filter)
			if err != nil {
				output.Error("Failed to read trades: %v", err)
				return err
			}
			if len(trades) == 0 {
				output.Warning("No trades to export")
				return nil
			}

			file, err := os.Create(outFile)
			if err != nil {
				output.Error("Failed to create file: %v", err)
				return err
			}
			defer file.Close()

			if err := store.WriteTradesCSV(file, trades); err != nil {
				return fmt.Errorf("writing %s: %w", outFile, err)
			}

			if output.IsStructured() {
				return output.Emit(map[string]interface{}{"file": outFile, "trades": len(trades)})
			}
			output.Success("Exported %d trades to %s", len(trades), outFile)
			return nil
		},
	}

	tradesCmd.Flags().String("run", "", "only trades from this run")
	tradesCmd.Flags().StringP("ticker", "t", "", "only trades for this ticker")
	tradesCmd.Flags().StringP("output", "o", "", "output file (default: trades_<date>.csv)")
	tradesCmd.Flags().IntP("days", "d", 0, "only trades entered in the last N days (0 for all)")

	cmd.AddCommand(tradesCmd)
	return cmd
}
