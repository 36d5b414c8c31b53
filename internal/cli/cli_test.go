package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-backtester/internal/config"
)

const testChainCSV = `contractSymbol,lastTradeDate,strike,lastPrice,bid,ask,change,percentChange,volume,openInterest,impliedVolatility,inTheMoney,option_type,expiration_date,ticker
AAPL240216C00100000,2024-01-10 15:59:00+00:00,100.0,2.5,2.4,2.6,0.1,4.1,120,300,0.35,True,call,2024-02-16,AAPL
AAPL240216P00100000,2024-01-10 15:58:00+00:00,100.0,1.9,1.8,2.0,,,80,250,0.37,False,put,2024-02-16,AAPL
`

const testDailyCSV = `Date,Open,High,Low,Close,Volume
2024-01-08,99,101,98,100,1000000
2024-01-09,100,102,99,101,1100000
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Output.ColorEnabled = false
	return cfg
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(&App{Config: cfg, Logger: zerolog.Nop()})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, testConfig(t), "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestDataImportAndStatus(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "data", "import", "quotes", writeFile(t, "chain.csv", testChainCSV), "--json")
	require.NoError(t, err)
	var imported map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, float64(2), imported["quotes"])

	_, err = execute(t, cfg, "data", "import", "underlying", writeFile(t, "daily.csv", testDailyCSV), "--ticker", "aapl")
	require.NoError(t, err)

	out, err = execute(t, cfg, "data", "status", "--json")
	require.NoError(t, err)
	var status []struct {
		Ticker   string `json:"ticker"`
		DataType string `json:"data_type"`
		IsFresh  bool   `json:"is_fresh"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Len(t, status, 2)
	for _, s := range status {
		assert.Equal(t, "AAPL", s.Ticker)
		assert.True(t, s.IsFresh, s.DataType)
	}

	out, err = execute(t, cfg, "data", "prices", "AAPL", "--days", "100000")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-09")
}

func TestDataImportUnderlyingRequiresTicker(t *testing.T) {
	_, err := execute(t, testConfig(t), "data", "import", "underlying", writeFile(t, "daily.csv", testDailyCSV))
	assert.Error(t, err)
}

func TestBacktestSkipsThinTickerAndStoresRun(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "data", "import", "quotes", writeFile(t, "chain.csv", testChainCSV))
	require.NoError(t, err)

	out, err := execute(t, cfg, "backtest", "aapl", "--json", "--no-journal")
	require.NoError(t, err)

	var report struct {
		Summary struct {
			RunID       string `json:"run_id"`
			Tickers     int    `json:"tickers"`
			Skipped     int    `json:"skipped"`
			TotalTrades int    `json:"total_trades"`
		} `json:"summary"`
		Trades  []json.RawMessage `json:"trades"`
		Skipped []struct {
			Ticker string `json:"ticker"`
			Stage  string `json:"stage"`
		} `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Summary.Tickers)
	assert.Equal(t, 1, report.Summary.Skipped)
	assert.Zero(t, report.Summary.TotalTrades)
	assert.Empty(t, report.Trades)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "AAPL", report.Skipped[0].Ticker)
	assert.Equal(t, "select", report.Skipped[0].Stage)

	out, err = execute(t, cfg, "runs", "list", "--json")
	require.NoError(t, err)
	var runs []struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, report.Summary.RunID, runs[0].RunID)
}

func TestBacktestWithoutTickers(t *testing.T) {
	_, err := execute(t, testConfig(t), "backtest", "--no-journal")
	assert.Error(t, err)
}

func TestSelectEmptyTable(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "data", "import", "quotes", writeFile(t, "chain.csv", testChainCSV))
	require.NoError(t, err)

	out, err := execute(t, cfg, "select", "aapl")
	require.NoError(t, err)
	assert.Contains(t, out, "No suitable contracts for AAPL")
}
