package strategy

import (
	"context"
	"fmt"

	"straddle-backtester/internal/models"
)

// Machine runs Step over a prepared series. It satisfies the execution
// host's policy contract; use one Machine per run.
type Machine struct {
	params Params
	ticks  []Tick
	state  State
}

// New creates a machine with validated parameters.
func New(p Params) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Machine{params: p}, nil
}

func (m *Machine) Name() string {
	return "straddle-volatility"
}

// Init precomputes indicators and resets the state to FLAT.
func (m *Machine) Init(ctx context.Context, series *models.CompositeSeries) error {
	ticks, err := Prepare(ctx, series, m.params)
	if err != nil {
		return err
	}
	m.ticks = ticks
	m.state = State{}
	return nil
}

// Next evaluates bar i and returns the resulting decision, if any.
func (m *Machine) Next(i int) (*models.DecisionEvent, error) {
	if i < 0 || i >= len(m.ticks) {
		return nil, fmt.Errorf("bar index %d out of range [0, %d)", i, len(m.ticks))
	}
	next, ev := Step(m.params, m.state, m.ticks[i])
	m.state = next
	return ev, nil
}

// State returns the current trading state.
func (m *Machine) State() State {
	return m.state
}
