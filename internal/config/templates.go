package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Straddle Backtester Configuration

[data]
# SQLite database holding option quotes and underlying prices
db_path = %q
# Tickers backtested when none are given on the command line
tickers = ["SPY"]
# Selection reference date (YYYY-MM-DD); empty uses each ticker's first quote
reference_date = ""
# Bar interval for synthesized series
interval = "24h"

[source]
# Where contracts are selected from: "historical" or "live"
kind = "historical"
# Use the reference day's open as spot instead of the prior close
use_open = false

[selection]
# Candidates backtested per ticker
max_results = 3
# Days-to-expiry window (inclusive)
min_expiry_days = 7
max_expiry_days = 30
# Minimum quotes with volume and open interest per leg
min_data_points = 10
# Calendar days of closes for realized volatility
lookback_days = 30

[aggregation]
# Leg timestamps present on one side only: "drop" or "carry"
policy = "drop"
# Keep per-leg bars on the composite series
keep_legs = false

[strategy]
# Implied volatility band
min_iv = 0.10
max_iv = 1.50
# IV rank gate; window 0 disables it
iv_rank_window = 20
iv_rank_max = 0.90
# Volume confirmation against the trailing average
volume_window = 5
volume_multiplier = 1.5
# Technical triggers
rsi_period = 14
rsi_oversold = 30.0
rsi_overbought = 70.0
atr_period = 14
atr_avg_window = 14
atr_expansion = 1.2
# Position size in contracts; max_size 0 means no cap
base_size = 5
max_size = 10
# Exits
hold_period = "120h"
hold_extension = 1.5
atr_surge = 1.5
trailing_atr_multiple = 2.0
# Fractions of entry price; 0 disables
profit_target = 0.5
stop_loss = 0.0
# Wait after an exit before re-entering
cooldown = "24h"

[backtest]
initial_capital = 10000.0
# Fractions of notional and price per fill
commission = 0.001
slippage = 0.0
contract_multiplier = 100
risk_free_rate = 0.0
periods_per_year = 252.0

[orchestrator]
# Tickers processed in parallel; 0 uses one worker per CPU
workers = 1
# JSONL record of decisions, trades and skips; empty disables it
journal_path = %q

[feed]
url = "ws://localhost:8765/ws"
requests_per_second = 5.0
burst = 10
timeout = "10s"
# Attempts per request when the connection drops
max_attempts = 3
# Consecutive connection failures before failing fast for breaker_cooldown
breaker_failures = 5
breaker_cooldown = "30s"

[output]
# Output format: "table", "json" or "yaml"
format = "table"
color_enabled = true

[logging]
level = "info"
console = true
file = false
file_path = %q
max_size = 50
max_backups = 5
max_age = 30
`

const envTemplate = `# Environment overrides, loaded before config.toml.
# Keys are STRADDLE_<SECTION>_<KEY>, for example:
# STRADDLE_DATA_TICKERS=SPY,QQQ
# STRADDLE_SOURCE_KIND=live
# FEED_URL=ws://localhost:8765/ws
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	d := Default(configDir)
	path := filepath.Join(configDir, "config.toml")
	body := fmt.Sprintf(configTemplate, d.Data.DBPath, d.Orchestrator.JournalPath, d.Logging.FilePath)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	envPath := filepath.Join(configDir, ".env.example")
	if err := os.WriteFile(envPath, []byte(envTemplate), 0644); err != nil {
		return fmt.Errorf("writing env template: %w", err)
	}

	return fmt.Errorf("%w at %s", ErrTemplateCreated, path)
}
