package store

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
)

// quoteRow is one line of an option chain snapshot export.
type quoteRow struct {
	ContractSymbol    string  `csv:"contractSymbol"`
	LastTradeDate     string  `csv:"lastTradeDate"`
	Strike            float64 `csv:"strike"`
	LastPrice         float64 `csv:"lastPrice"`
	Bid               string  `csv:"bid"`
	Ask               string  `csv:"ask"`
	Change            string  `csv:"change"`
	PercentChange     string  `csv:"percentChange"`
	Volume            string  `csv:"volume"`
	OpenInterest      string  `csv:"openInterest"`
	ImpliedVolatility string  `csv:"impliedVolatility"`
	InTheMoney        string  `csv:"inTheMoney"`
	OptionType        string  `csv:"option_type"`
	ExpirationDate    string  `csv:"expiration_date"`
	Ticker            string  `csv:"ticker"`
}

// underlyingRow is one daily bar of the underlying.
type underlyingRow struct {
	Date   string  `csv:"Date"`
	Open   float64 `csv:"Open"`
	High   float64 `csv:"High"`
	Low    float64 `csv:"Low"`
	Close  float64 `csv:"Close"`
	Volume string  `csv:"Volume"`
}

// tradeRow is the exported trade layout.
type tradeRow struct {
	RunID       string  `csv:"run_id"`
	Ticker      string  `csv:"ticker"`
	Strike      float64 `csv:"strike"`
	Expiration  string  `csv:"expiration"`
	EntryTime   string  `csv:"entry_time"`
	ExitTime    string  `csv:"exit_time"`
	EntryPrice  float64 `csv:"entry_price"`
	ExitPrice   float64 `csv:"exit_price"`
	Size        int     `csv:"size"`
	Quantity    int     `csv:"quantity"`
	Commission  float64 `csv:"commission"`
	PnL         float64 `csv:"pnl"`
	PnLPercent  float64 `csv:"pnl_percent"`
	EntryReason string  `csv:"entry_reason"`
	ExitReason  string  `csv:"exit_reason"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	dateLayout,
}

func parseCSVTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// optionalFloat parses an empty or unparsable cell as NaN.
func optionalFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func optionalInt(v string) int64 {
	f := optionalFloat(v)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return int64(f)
}

func parseKind(v string) (models.OptionKind, error) {
	k := models.OptionKind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), "s"))
	if !k.Valid() {
		return "", errors.NewInvalidInputError("option kind", "call or put", v)
	}
	return k, nil
}

// ReadQuotesCSV parses an option chain export. Rows without a ticker column
// take defaultTicker.
func ReadQuotesCSV(r io.Reader, defaultTicker string) ([]models.Quote, error) {
	var rows []*quoteRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to parse quotes csv")
	}

	quotes := make([]models.Quote, 0, len(rows))
	for i, row := range rows {
		kind, err := parseKind(row.OptionType)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		traded, err := parseCSVTime(row.LastTradeDate)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		expiration, err := parseCSVTime(row.ExpirationDate)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		ticker := strings.ToUpper(strings.TrimSpace(row.Ticker))
		if ticker == "" {
			ticker = strings.ToUpper(defaultTicker)
		}
		if ticker == "" {
			return nil, fmt.Errorf("row %d: missing ticker", i+1)
		}

		quotes = append(quotes, models.Quote{
			ContractSymbol: row.ContractSymbol,
			Ticker:         ticker,
			Kind:           kind,
			Strike:         row.Strike,
			Expiration:     expiration.Truncate(24 * time.Hour),
			Timestamp:      traded,
			LastPrice:      row.LastPrice,
			Bid:            optionalFloat(row.Bid),
			Ask:            optionalFloat(row.Ask),
			Change:         optionalFloat(row.Change),
			PercentChange:  optionalFloat(row.PercentChange),
			Volume:         optionalInt(row.Volume),
			OpenInterest:   optionalInt(row.OpenInterest),
			IV:             optionalFloat(row.ImpliedVolatility),
			InTheMoney:     strings.EqualFold(strings.TrimSpace(row.InTheMoney), "true"),
		})
	}
	return quotes, nil
}

// ReadUnderlyingCSV parses daily Date,Open,High,Low,Close,Volume rows.
func ReadUnderlyingCSV(r io.Reader) ([]models.Candle, error) {
	var rows []*underlyingRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to parse underlying csv")
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseCSVTime(row.Date)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts.Truncate(24 * time.Hour),
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    optionalInt(row.Volume),
		})
	}
	return candles, nil
}

// WriteTradesCSV writes trades with a header row.
func WriteTradesCSV(w io.Writer, trades []models.TradeRecord) error {
	rows := make([]*tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, &tradeRow{
			RunID:       t.RunID,
			Ticker:      t.Ticker,
			Strike:      t.Strike,
			Expiration:  formatDate(t.Expiration),
			EntryTime:   t.EntryTime.UTC().Format(time.RFC3339),
			ExitTime:    t.ExitTime.UTC().Format(time.RFC3339),
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Size:        t.Size,
			Quantity:    t.Quantity,
			Commission:  t.Commission,
			PnL:         t.PnL,
			PnLPercent:  t.PnLPercent,
			EntryReason: t.EntryReason,
			ExitReason:  t.ExitReason,
		})
	}
	return gocsv.Marshal(&rows, w)
}

// ImportQuotesFile loads an option chain CSV into ds and records the import
// time. It returns the number of quotes stored.
func ImportQuotesFile(ctx context.Context, ds DataStore, path, ticker string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	quotes, err := ReadQuotesCSV(f, ticker)
	if err != nil {
		return 0, errors.Wrapf(err, "importing %s", path)
	}
	n, err := ds.SaveQuotes(ctx, quotes)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := ds.SetLastSync(syncKey(SyncTypeQuotes, quotes[0].Ticker), time.Now()); err != nil {
			return n, err
		}
	}
	return n, nil
}

// ImportUnderlyingFile loads a daily price CSV for ticker into ds.
func ImportUnderlyingFile(ctx context.Context, ds DataStore, path, ticker string) (int, error) {
	if ticker == "" {
		return 0, errors.NewValidationError("ticker", ticker, "required for underlying import")
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	candles, err := ReadUnderlyingCSV(f)
	if err != nil {
		return 0, errors.Wrapf(err, "importing %s", path)
	}
	ticker = strings.ToUpper(ticker)
	if err := ds.SaveUnderlying(ctx, ticker, candles); err != nil {
		return 0, err
	}
	if err := ds.SetLastSync(syncKey(SyncTypeUnderlying, ticker), time.Now()); err != nil {
		return len(candles), err
	}
	return len(candles), nil
}

// LastImport returns when data of kind was last imported for ticker.
func LastImport(ds DataStore, kind SyncDataType, ticker string) time.Time {
	return ds.GetLastSync(syncKey(kind, ticker))
}
