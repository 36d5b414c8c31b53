package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"straddle-backtester/internal/config"
	"straddle-backtester/internal/feed"
	"straddle-backtester/internal/selector"
	"straddle-backtester/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies. Store and Feed are opened on
// first use.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
	Feed   *feed.Client
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Config: cfg, Logger: logger})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "straddle",
		Short: "Straddle Backtester - option straddle selection and simulation",
		Long: `Straddle Backtester selects at-the-money call/put pairs from stored option
quotes, synthesizes their straddle price series and replays a volatility
strategy over them.

Use 'straddle data import' to load option chains and underlying prices,
then 'straddle backtest' to run the configured tickers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/straddle-backtester)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("yaml", false, "output in YAML format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newSelectCmd(app))
	rootCmd.AddCommand(newDataCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
	rootCmd.AddCommand(newQuickstartCmd(app))

	return rootCmd
}

// dataStore opens the configured SQLite database on first use.
func (app *App) dataStore() (store.DataStore, error) {
	if app.Store != nil {
		return app.Store, nil
	}
	path := app.Config.Data.DBPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	app.Logger.Debug().Str("path", path).Msg("SQLite store initialized")
	app.Store = s
	return s, nil
}

// contractSource builds the selector source named in the config, or the
// live feed when live is set.
func (app *App) contractSource(live bool) (selector.ContractSource, error) {
	if live || app.Config.IsLive() {
		if app.Feed == nil {
			app.Feed = feed.NewClient(app.Config.Feed, app.Logger)
		}
		return selector.NewLiveSource(app.Feed), nil
	}
	ds, err := app.dataStore()
	if err != nil {
		return nil, err
	}
	return selector.NewHistoricalSource(ds, app.Config.Source.UseOpen), nil
}

// Close releases the store and feed connection.
func (app *App) Close() error {
	var firstErr error
	if app.Feed != nil {
		if err := app.Feed.Close(); err != nil {
			firstErr = err
		}
		app.Feed = nil
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		app.Store = nil
	}
	return firstErr
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			if output.IsStructured() {
				return output.Emit(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Straddle Backtester v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			if output.IsStructured() {
				return output.Emit(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsStructured() {
				return output.Emit(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Config)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Emit(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	table := NewTable(output, "Setting", "Value")
	table.AddRow("data.db_path", cfg.Data.DBPath)
	table.AddRow("data.tickers", fmt.Sprint(cfg.Data.Tickers))
	table.AddRow("data.reference_date", cfg.Data.ReferenceDate)
	table.AddRow("data.interval", cfg.Data.Interval.String())
	table.AddRow("source.kind", cfg.Source.Kind)
	table.AddRow("source.use_open", fmt.Sprint(cfg.Source.UseOpen))
	table.AddRow("selection.max_results", fmt.Sprint(cfg.Selection.MaxResults))
	table.AddRow("selection.expiry_days", fmt.Sprintf("%d-%d", cfg.Selection.MinExpiryDays, cfg.Selection.MaxExpiryDays))
	table.AddRow("selection.min_data_points", fmt.Sprint(cfg.Selection.MinDataPoints))
	table.AddRow("aggregation.policy", cfg.Aggregation.Policy)
	table.AddRow("strategy.iv_band", fmt.Sprintf("%.2f-%.2f", cfg.Strategy.MinIV, cfg.Strategy.MaxIV))
	table.AddRow("strategy.hold_period", cfg.Strategy.HoldPeriod.String())
	table.AddRow("strategy.cooldown", cfg.Strategy.Cooldown.String())
	table.AddRow("backtest.initial_capital", FormatCurrency(cfg.Backtest.InitialCapital))
	table.AddRow("backtest.commission", fmt.Sprint(cfg.Backtest.Commission))
	table.AddRow("orchestrator.workers", fmt.Sprint(cfg.Orchestrator.Workers))
	table.AddRow("orchestrator.journal_path", cfg.Orchestrator.JournalPath)
	table.AddRow("feed.url", cfg.Feed.URL)
	table.AddRow("logging.level", cfg.Logging.Level)
	return table.Render()
}
