package strategy

import (
	"context"
	"fmt"

	"straddle-backtester/internal/analysis/indicators"
	"straddle-backtester/internal/models"
)

// Prepare computes indicator readings for every composite bar. Each reading
// only depends on bars at or before its index.
func Prepare(ctx context.Context, series *models.CompositeSeries, p Params) ([]Tick, error) {
	n := series.Len()
	if n == 0 {
		return nil, nil
	}

	rsi := indicators.NewRSI(p.RSIPeriod)
	atr := indicators.NewATR(p.ATRPeriod)
	vol := indicators.NewVolumeAverage(p.VolumeWindow)

	engine := indicators.NewEngine(3)
	engine.RegisterIndicator(rsi)
	engine.RegisterIndicator(atr)
	engine.RegisterIndicator(vol)

	values, err := engine.CalculateAll(ctx, series.Candles())
	if err != nil {
		return nil, fmt.Errorf("calculating indicators: %w", err)
	}

	ivs := make([]float64, n)
	for i, b := range series.Bars {
		ivs[i] = b.IV
	}
	atrAvg := indicators.TrailingMean(values[atr.Name()], p.ATRAvgWindow)
	ivRank := indicators.PercentRank(ivs, p.IVRankWindow)

	warmup := p.Warmup()
	ticks := make([]Tick, n)
	for i, b := range series.Bars {
		ticks[i] = Tick{
			Index:     i,
			Time:      b.Timestamp,
			Close:     b.Close,
			Volume:    float64(b.Volume),
			IV:        b.IV,
			RSI:       values[rsi.Name()][i],
			ATR:       values[atr.Name()][i],
			ATRAvg:    atrAvg[i],
			VolumeAvg: values[vol.Name()][i],
			IVRank:    ivRank[i],
			Warm:      i >= warmup,
		}
	}
	return ticks, nil
}
