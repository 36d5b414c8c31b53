package store

import (
	"context"
	"fmt"
	"time"
)

// SyncDataType represents the type of data being imported.
type SyncDataType string

const (
	SyncTypeQuotes     SyncDataType = "quotes"
	SyncTypeUnderlying SyncDataType = "underlying"
)

// DefaultStaleAfter is how old an import can be before it is reported as
// stale.
const DefaultStaleAfter = 7 * 24 * time.Hour

// DataFreshness represents the import state of one ticker's data.
type DataFreshness struct {
	Ticker      string        `json:"ticker"`
	DataType    SyncDataType  `json:"data_type"`
	FirstQuote  time.Time     `json:"first_quote,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
	IsFresh     bool          `json:"is_fresh"`
	Age         time.Duration `json:"age"`
}

// Freshness reports quote and underlying import ages for every ticker with
// stored quotes.
func Freshness(ctx context.Context, ds DataStore, now time.Time, staleAfter time.Duration) ([]DataFreshness, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	tickers, err := ds.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]DataFreshness, 0, 2*len(tickers))
	for _, ticker := range tickers {
		first, _, err := ds.FirstQuoteDate(ctx, ticker)
		if err != nil {
			return nil, err
		}
		for _, dt := range []SyncDataType{SyncTypeQuotes, SyncTypeUnderlying} {
			f := DataFreshness{Ticker: ticker, DataType: dt, LastUpdated: LastImport(ds, dt, ticker)}
			if dt == SyncTypeQuotes {
				f.FirstQuote = first
			}
			if !f.LastUpdated.IsZero() {
				f.Age = now.Sub(f.LastUpdated)
				f.IsFresh = f.Age <= staleAfter
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return "Never imported"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("Imported %s", ageStr)
	}
	return fmt.Sprintf("Stale - imported %s", ageStr)
}

// RecordImport marks data of kind for ticker as imported at t.
func RecordImport(ds DataStore, kind SyncDataType, ticker string, t time.Time) error {
	return ds.SetLastSync(syncKey(kind, ticker), t)
}
