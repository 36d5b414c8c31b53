// Package indicators provides technical indicator calculations with parallel processing.
package indicators

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"straddle-backtester/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// Engine calculates a set of registered indicators in parallel.
type Engine struct {
	workers    int
	indicators map[string]Indicator
	mu         sync.RWMutex
}

// NewEngine creates a new indicator engine with the specified number of workers.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		workers:    workers,
		indicators: make(map[string]Indicator),
	}
}

// RegisterIndicator registers a single-value indicator.
func (e *Engine) RegisterIndicator(ind Indicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indicators[ind.Name()] = ind
}

// CalculateAll calculates all registered indicators in parallel. An indicator
// without enough candles yields an all-NaN series so callers treat it as
// still warming up.
func (e *Engine) CalculateAll(ctx context.Context, candles []models.Candle) (map[string][]float64, error) {
	e.mu.RLock()
	indicators := make([]Indicator, 0, len(e.indicators))
	for _, ind := range e.indicators {
		indicators = append(indicators, ind)
	}
	e.mu.RUnlock()

	results := make(map[string][]float64, len(indicators))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, ind := range indicators {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			values, err := ind.Calculate(candles)
			if errors.Is(err, ErrInsufficientData) {
				values, err = undefined(len(candles)), nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			results[ind.Name()] = values
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
