// Package models provides domain models for the straddle backtester.
package models

import (
	"time"
)

// OptionKind is the side of an option contract.
type OptionKind string

const (
	Call OptionKind = "call"
	Put  OptionKind = "put"
)

// Valid reports whether k is a known option kind.
func (k OptionKind) Valid() bool {
	return k == Call || k == Put
}

// Candle represents OHLCV data for a time period. Underlying daily prices
// and indicator inputs use it.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Bar is one interval of a regularized option series.
// Low <= Open, Close <= High holds for every bar the synthesizer emits.
type Bar struct {
	Timestamp     time.Time `json:"timestamp"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        int64     `json:"volume"`
	OpenInterest  int64     `json:"open_interest"`
	IV            float64   `json:"iv"`
	PercentChange float64   `json:"percent_change"`
	Change        float64   `json:"change"`
	InTheMoney    bool      `json:"in_the_money"`
	// Filled marks a bar carried forward from the previous interval.
	Filled bool `json:"filled,omitempty"`
}

// Candle converts the bar to a plain OHLCV candle.
func (b Bar) Candle() Candle {
	return Candle{
		Timestamp: b.Timestamp,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}
