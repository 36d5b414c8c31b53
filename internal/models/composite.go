package models

import "time"

// AlignPolicy decides what happens to a timestamp present in only one leg.
type AlignPolicy string

const (
	// AlignDrop discards timestamps missing either leg.
	AlignDrop AlignPolicy = "drop"
	// AlignCarry reuses the missing leg's last bar once both legs have started.
	AlignCarry AlignPolicy = "carry"
)

// CompositeBar is one aligned straddle interval. Prices are call + put.
type CompositeBar struct {
	Bar
	Call *Bar `json:"call,omitempty"`
	Put  *Bar `json:"put,omitempty"`
}

// CompositeSeries is the straddle's combined bar sequence.
type CompositeSeries struct {
	Ticker     string
	Strike     float64
	Expiration time.Time
	Policy     AlignPolicy
	Bars       []CompositeBar
}

// Len returns the number of bars.
func (s *CompositeSeries) Len() int {
	return len(s.Bars)
}

// Candles converts the composite prices to candles.
func (s *CompositeSeries) Candles() []Candle {
	out := make([]Candle, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Candle()
	}
	return out
}
