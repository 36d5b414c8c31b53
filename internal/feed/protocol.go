package feed

import (
	"math"
	"time"

	"straddle-backtester/internal/models"
)

// Methods understood by the feed server.
const (
	MethodChain   = "chain"
	MethodSpot    = "spot"
	MethodHistory = "history"
)

// Request is one client message.
type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Ticker string `json:"ticker"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// Response answers the Request with the same ID. Error is set on failure.
type Response struct {
	ID      uint64       `json:"id"`
	Error   string       `json:"error,omitempty"`
	Quotes  []WireQuote  `json:"quotes,omitempty"`
	Price   float64      `json:"price,omitempty"`
	Candles []WireCandle `json:"candles,omitempty"`
}

// WireQuote is a chain entry. Missing bid, ask or iv are null.
type WireQuote struct {
	Symbol       string   `json:"symbol"`
	Kind         string   `json:"kind"`
	Strike       float64  `json:"strike"`
	Expiration   string   `json:"expiration"`
	LastTrade    string   `json:"last_trade"`
	Last         float64  `json:"last"`
	Bid          *float64 `json:"bid"`
	Ask          *float64 `json:"ask"`
	Volume       int64    `json:"volume"`
	OpenInterest int64    `json:"open_interest"`
	IV           *float64 `json:"iv"`
	InTheMoney   bool     `json:"itm"`
}

// WireCandle is one daily bar of the underlying.
type WireCandle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

const dateLayout = "2006-01-02"

func deref(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}

func (w WireQuote) toQuote(ticker string) (models.Quote, error) {
	exp, err := time.Parse(dateLayout, w.Expiration)
	if err != nil {
		return models.Quote{}, err
	}
	traded, err := time.Parse(time.RFC3339, w.LastTrade)
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{
		ContractSymbol: w.Symbol,
		Ticker:         ticker,
		Kind:           models.OptionKind(w.Kind),
		Strike:         w.Strike,
		Expiration:     exp,
		Timestamp:      traded.UTC(),
		LastPrice:      w.Last,
		Bid:            deref(w.Bid),
		Ask:            deref(w.Ask),
		Change:         math.NaN(),
		PercentChange:  math.NaN(),
		Volume:         w.Volume,
		OpenInterest:   w.OpenInterest,
		IV:             deref(w.IV),
		InTheMoney:     w.InTheMoney,
	}, nil
}

func (w WireCandle) toCandle() (models.Candle, error) {
	d, err := time.Parse(dateLayout, w.Date)
	if err != nil {
		return models.Candle{}, err
	}
	return models.Candle{Timestamp: d, Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume}, nil
}
