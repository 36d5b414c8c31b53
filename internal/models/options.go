package models

import (
	"fmt"
	"math"
	"time"
)

// ContractKey identifies one option contract.
type ContractKey struct {
	Ticker     string
	Kind       OptionKind
	Strike     float64
	Expiration time.Time
}

func (k ContractKey) String() string {
	return fmt.Sprintf("%s %s %.2f %s", k.Ticker, k.Kind, k.Strike, k.Expiration.Format("2006-01-02"))
}

// Quote is one observed record for one contract. Missing bid or ask is NaN.
type Quote struct {
	ContractSymbol string
	Ticker         string
	Kind           OptionKind
	Strike         float64
	Expiration     time.Time
	Timestamp      time.Time
	LastPrice      float64
	Bid            float64
	Ask            float64
	Change         float64
	PercentChange  float64
	Volume         int64
	OpenInterest   int64
	IV             float64
	InTheMoney     bool
}

// Key returns the contract identity of the quote.
func (q Quote) Key() ContractKey {
	return ContractKey{Ticker: q.Ticker, Kind: q.Kind, Strike: q.Strike, Expiration: q.Expiration}
}

// HasBid reports whether a usable bid was recorded.
func (q Quote) HasBid() bool {
	return !math.IsNaN(q.Bid) && q.Bid > 0
}

// HasAsk reports whether a usable ask was recorded.
func (q Quote) HasAsk() bool {
	return !math.IsNaN(q.Ask) && q.Ask > 0
}

// LegStats summarizes one leg of a strike/expiration pair as seen from a
// reference date.
type LegStats struct {
	DataPoints   int
	Volume       int64
	OpenInterest int64
	IV           float64
}

// ContractPair is a strike/expiration with statistics for both legs.
type ContractPair struct {
	Strike     float64
	Expiration time.Time
	Call       LegStats
	Put        LegStats
}

// ContractCandidate is a scored strike/expiration pair.
type ContractCandidate struct {
	Ticker         string    `json:"ticker"`
	Strike         float64   `json:"strike"`
	Expiration     time.Time `json:"expiration"`
	ReferenceDate  time.Time `json:"reference_date"`
	SpotPrice      float64   `json:"spot_price"`
	DaysToExpiry   int       `json:"days_to_expiry"`
	StrikeDistance float64   `json:"strike_distance"`
	Liquidity      int64     `json:"liquidity"`
	MinOpenInt     int64     `json:"min_open_interest"`
	IVHVRatio      float64   `json:"iv_hv_ratio"`
}

// Leg returns the contract key of one side of the candidate.
func (c ContractCandidate) Leg(kind OptionKind) ContractKey {
	return ContractKey{Ticker: c.Ticker, Kind: kind, Strike: c.Strike, Expiration: c.Expiration}
}
