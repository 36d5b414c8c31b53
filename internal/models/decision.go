package models

import "time"

// Direction is the action of a decision event.
type Direction string

const (
	DirectionEnter Direction = "ENTER"
	DirectionExit  Direction = "EXIT"
)

// DecisionEvent is an entry or exit emitted by the strategy.
type DecisionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	Size      int       `json:"size"`
	Reason    string    `json:"reason"`
}
