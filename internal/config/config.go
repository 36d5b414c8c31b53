// Package config provides configuration management for the backtester.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"straddle-backtester/internal/feed"
	"straddle-backtester/internal/logging"
	"straddle-backtester/internal/models"
	"straddle-backtester/internal/orchestrator"
	"straddle-backtester/internal/selector"
	"straddle-backtester/internal/strategy"
	"straddle-backtester/internal/trading"
)

// ErrTemplateCreated is returned by Load when no config file existed and a
// commented template was written in its place.
var ErrTemplateCreated = errors.New("config template created")

// Source kinds.
const (
	SourceHistorical = "historical"
	SourceLive       = "live"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const envPrefix = "STRADDLE"

// Config holds all application configuration.
type Config struct {
	Data         DataConfig             `mapstructure:"data"`
	Source       SourceConfig           `mapstructure:"source"`
	Selection    selector.Options       `mapstructure:"selection"`
	Aggregation  AggregationConfig      `mapstructure:"aggregation"`
	Strategy     strategy.Params        `mapstructure:"strategy"`
	Backtest     trading.BacktestConfig `mapstructure:"backtest"`
	Orchestrator OrchestratorConfig     `mapstructure:"orchestrator"`
	Feed         feed.Config            `mapstructure:"feed"`
	Output       OutputConfig           `mapstructure:"output"`
	Logging      logging.LogConfig      `mapstructure:"logging"`
}

// DataConfig locates stored market data and sets the bar interval.
// ReferenceDate is empty or YYYY-MM-DD.
type DataConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	Tickers       []string      `mapstructure:"tickers"`
	ReferenceDate string        `mapstructure:"reference_date"`
	Interval      time.Duration `mapstructure:"interval"`
}

// SourceConfig picks where the selector reads contracts from.
type SourceConfig struct {
	Kind    string `mapstructure:"kind"`
	UseOpen bool   `mapstructure:"use_open"`
}

// AggregationConfig controls how call and put legs are joined.
type AggregationConfig struct {
	Policy   string `mapstructure:"policy"`
	KeepLegs bool   `mapstructure:"keep_legs"`
}

// OrchestratorConfig holds run fan-out and journaling settings. An empty
// JournalPath disables the journal.
type OrchestratorConfig struct {
	Workers     int    `mapstructure:"workers"`
	JournalPath string `mapstructure:"journal_path"`
}

// OutputConfig holds CLI rendering settings.
type OutputConfig struct {
	Format       string `mapstructure:"format"`
	ColorEnabled bool   `mapstructure:"color_enabled"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/straddle-backtester"
	}
	return filepath.Join(home, ".config", "straddle-backtester")
}

// Default returns the built-in configuration for configDir.
func Default(configDir string) *Config {
	return &Config{
		Data: DataConfig{
			DBPath:   filepath.Join(configDir, "data", "options.db"),
			Interval: 24 * time.Hour,
		},
		Source:      SourceConfig{Kind: SourceHistorical},
		Selection:   selector.DefaultOptions(),
		Aggregation: AggregationConfig{Policy: string(models.AlignDrop)},
		Strategy:    strategy.DefaultParams(),
		Backtest:    trading.DefaultBacktestConfig(),
		Orchestrator: OrchestratorConfig{
			Workers:     1,
			JournalPath: filepath.Join(configDir, "journal", "runs.jsonl"),
		},
		Feed:    feed.DefaultConfig(),
		Output:  OutputConfig{Format: FormatTable, ColorEnabled: true},
		Logging: logging.DefaultLogConfig(),
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A .env file in
// configDir is loaded into the environment first; STRADDLE_* variables
// override file values.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, createTemplateConfig(configDir)
		}
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	// Existing environment variables win over the file.
	return godotenv.Load(path)
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default(configDir))
	return v
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data.db_path", d.Data.DBPath)
	v.SetDefault("data.tickers", d.Data.Tickers)
	v.SetDefault("data.reference_date", d.Data.ReferenceDate)
	v.SetDefault("data.interval", d.Data.Interval)

	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.use_open", d.Source.UseOpen)

	v.SetDefault("selection.max_results", d.Selection.MaxResults)
	v.SetDefault("selection.min_expiry_days", d.Selection.MinExpiryDays)
	v.SetDefault("selection.max_expiry_days", d.Selection.MaxExpiryDays)
	v.SetDefault("selection.min_data_points", d.Selection.MinDataPoints)
	v.SetDefault("selection.lookback_days", d.Selection.LookbackDays)

	v.SetDefault("aggregation.policy", d.Aggregation.Policy)
	v.SetDefault("aggregation.keep_legs", d.Aggregation.KeepLegs)

	s := d.Strategy
	v.SetDefault("strategy.min_iv", s.MinIV)
	v.SetDefault("strategy.max_iv", s.MaxIV)
	v.SetDefault("strategy.iv_rank_window", s.IVRankWindow)
	v.SetDefault("strategy.iv_rank_max", s.IVRankMax)
	v.SetDefault("strategy.volume_window", s.VolumeWindow)
	v.SetDefault("strategy.volume_multiplier", s.VolumeMultiplier)
	v.SetDefault("strategy.rsi_period", s.RSIPeriod)
	v.SetDefault("strategy.rsi_oversold", s.RSIOversold)
	v.SetDefault("strategy.rsi_overbought", s.RSIOverbought)
	v.SetDefault("strategy.atr_period", s.ATRPeriod)
	v.SetDefault("strategy.atr_avg_window", s.ATRAvgWindow)
	v.SetDefault("strategy.atr_expansion", s.ATRExpansion)
	v.SetDefault("strategy.base_size", s.BaseSize)
	v.SetDefault("strategy.max_size", s.MaxSize)
	v.SetDefault("strategy.hold_period", s.HoldPeriod)
	v.SetDefault("strategy.hold_extension", s.HoldExtension)
	v.SetDefault("strategy.atr_surge", s.ATRSurge)
	v.SetDefault("strategy.trailing_atr_multiple", s.TrailingATRMultiple)
	v.SetDefault("strategy.profit_target", s.ProfitTarget)
	v.SetDefault("strategy.stop_loss", s.StopLoss)
	v.SetDefault("strategy.cooldown", s.Cooldown)

	b := d.Backtest
	v.SetDefault("backtest.initial_capital", b.InitialCapital)
	v.SetDefault("backtest.commission", b.Commission)
	v.SetDefault("backtest.slippage", b.Slippage)
	v.SetDefault("backtest.contract_multiplier", b.ContractMultiplier)
	v.SetDefault("backtest.risk_free_rate", b.RiskFreeRate)
	v.SetDefault("backtest.periods_per_year", b.PeriodsPerYear)

	v.SetDefault("orchestrator.workers", d.Orchestrator.Workers)
	v.SetDefault("orchestrator.journal_path", d.Orchestrator.JournalPath)

	v.SetDefault("feed.url", d.Feed.URL)
	v.SetDefault("feed.requests_per_second", d.Feed.RequestsPerSecond)
	v.SetDefault("feed.burst", d.Feed.Burst)
	v.SetDefault("feed.timeout", d.Feed.Timeout)
	v.SetDefault("feed.max_attempts", d.Feed.MaxAttempts)
	v.SetDefault("feed.breaker_failures", d.Feed.BreakerFailures)
	v.SetDefault("feed.breaker_cooldown", d.Feed.BreakerCooldown)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.color_enabled", d.Output.ColorEnabled)

	l := d.Logging
	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.console", l.Console)
	v.SetDefault("logging.file", l.File)
	v.SetDefault("logging.file_path", l.FilePath)
	v.SetDefault("logging.max_size", l.MaxSize)
	v.SetDefault("logging.max_backups", l.MaxBackups)
	v.SetDefault("logging.max_age", l.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	// Short names commonly set in CI.
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// A comma list in STRADDLE_DATA_TICKERS arrives as one element.
	if len(cfg.Data.Tickers) == 1 && strings.Contains(cfg.Data.Tickers[0], ",") {
		cfg.Data.Tickers = strings.Split(cfg.Data.Tickers[0], ",")
	}
	for i, t := range cfg.Data.Tickers {
		cfg.Data.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Data.DBPath == "" {
		return fmt.Errorf("data.db_path must be set")
	}
	if c.Data.Interval <= 0 {
		return fmt.Errorf("data.interval must be positive")
	}
	if _, err := c.ReferenceDate(); err != nil {
		return err
	}

	switch c.Source.Kind {
	case SourceHistorical:
	case SourceLive:
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url must be set for the live source")
		}
	default:
		return fmt.Errorf("invalid source kind: %s (must be 'historical' or 'live')", c.Source.Kind)
	}

	switch models.AlignPolicy(c.Aggregation.Policy) {
	case models.AlignDrop, models.AlignCarry:
	default:
		return fmt.Errorf("invalid aggregation policy: %s (must be 'drop' or 'carry')", c.Aggregation.Policy)
	}

	switch c.Output.Format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("invalid output format: %s (must be 'table', 'json' or 'yaml')", c.Output.Format)
	}

	if c.Orchestrator.Workers < 0 {
		return fmt.Errorf("orchestrator.workers must be non-negative")
	}

	if err := c.Selection.Validate(); err != nil {
		return err
	}
	return c.Strategy.Validate()
}

// ReferenceDate parses data.reference_date. An empty value yields the zero
// time.
func (c *Config) ReferenceDate() (time.Time, error) {
	if c.Data.ReferenceDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, c.Data.ReferenceDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid data.reference_date %q: %w", c.Data.ReferenceDate, err)
	}
	return t, nil
}

// RunConfig builds the orchestrator settings for the given tickers. Empty
// tickers fall back to data.tickers.
func (c *Config) RunConfig(tickers []string) (orchestrator.Config, error) {
	ref, err := c.ReferenceDate()
	if err != nil {
		return orchestrator.Config{}, err
	}
	if len(tickers) == 0 {
		tickers = c.Data.Tickers
	}
	return orchestrator.Config{
		Tickers:       tickers,
		ReferenceDate: ref,
		Interval:      c.Data.Interval,
		Selection:     c.Selection,
		Align:         models.AlignPolicy(c.Aggregation.Policy),
		KeepLegs:      c.Aggregation.KeepLegs,
		Strategy:      c.Strategy,
		Backtest:      c.Backtest,
		Workers:       c.Orchestrator.Workers,
	}, nil
}

// IsLive returns true if contracts are selected from the live feed.
func (c *Config) IsLive() bool {
	return c.Source.Kind == SourceLive
}
