package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"straddle-backtester/internal/models"
	"straddle-backtester/internal/selector"
)

type candidateView struct {
	Ticker         string   `json:"ticker"`
	Strike         float64  `json:"strike"`
	Expiration     string   `json:"expiration"`
	ReferenceDate  string   `json:"reference_date"`
	SpotPrice      float64  `json:"spot_price"`
	DaysToExpiry   int      `json:"days_to_expiry"`
	StrikeDistance float64  `json:"strike_distance"`
	Liquidity      int64    `json:"liquidity"`
	MinOpenInt     int64    `json:"min_open_interest"`
	IVHVRatio      *float64 `json:"iv_hv_ratio"`
}

func newCandidateView(c models.ContractCandidate) candidateView {
	return candidateView{
		Ticker:         c.Ticker,
		Strike:         c.Strike,
		Expiration:     FormatDate(c.Expiration),
		ReferenceDate:  FormatDate(c.ReferenceDate),
		SpotPrice:      c.SpotPrice,
		DaysToExpiry:   c.DaysToExpiry,
		StrikeDistance: c.StrikeDistance,
		Liquidity:      c.Liquidity,
		MinOpenInt:     c.MinOpenInt,
		IVHVRatio:      finite(c.IVHVRatio),
	}
}

func newSelectCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <ticker>",
		Short: "Rank straddle candidates for a ticker",
		Long: `Rank at-the-money call/put pairs for a ticker by strike distance from spot,
implied to realized volatility and liquidity.

With --live the current chain is read from the configured feed instead of
the local database.`,
		Example: `  straddle select SPY
  straddle select AAPL --ref-date 2024-03-01 --max-results 5
  straddle select QQQ --live`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			ticker := strings.ToUpper(strings.TrimSpace(args[0]))

			opts := app.Config.Selection
			if cmd.Flags().Changed("max-results") {
				opts.MaxResults, _ = cmd.Flags().GetInt("max-results")
			}

			var ref time.Time
			refDate, _ := cmd.Flags().GetString("ref-date")
			if refDate == "" {
				refDate = app.Config.Data.ReferenceDate
			}
			if refDate != "" {
				var err error
				if ref, err = time.Parse(time.DateOnly, refDate); err != nil {
					return fmt.Errorf("invalid reference date: %w", err)
				}
			}

			live, _ := cmd.Flags().GetBool("live")
			source, err := app.contractSource(live)
			if err != nil {
				return err
			}

			candidates, err := selector.New(source, app.Logger).Select(cmd.Context(), ticker, ref, opts)
			if err != nil {
				output.Error("Selection failed for %s: %v", ticker, err)
				return err
			}

			views := make([]candidateView, len(candidates))
			for i, c := range candidates {
				views[i] = newCandidateView(c)
			}
			if output.IsStructured() {
				return output.Emit(views)
			}

			if len(views) == 0 {
				output.Warning("No suitable contracts for %s", ticker)
				return nil
			}

			output.Bold("%s candidates (%s, spot %s)", ticker, views[0].ReferenceDate, FormatPrice(views[0].SpotPrice))
			table := NewTable(output, "#", "Strike", "Expiry", "DTE", "Distance", "IV/HV", "Liquidity", "Min OI")
			for i, c := range candidates {
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					FormatStrike(c.Strike),
					FormatDate(c.Expiration),
					fmt.Sprintf("%d", c.DaysToExpiry),
					FormatPrice(c.StrikeDistance),
					FormatRatio(c.IVHVRatio),
					FormatVolume(c.Liquidity),
					FormatVolume(c.MinOpenInt),
				)
			}
			return table.Render()
		},
	}

	cmd.Flags().String("ref-date", "", "reference date (YYYY-MM-DD, default: first quote date)")
	cmd.Flags().Int("max-results", 0, "maximum candidates to return")
	cmd.Flags().Bool("live", false, "select from the live feed")

	return cmd
}
