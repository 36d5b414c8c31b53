package indicators

import (
	"fmt"
	"math"

	"straddle-backtester/internal/models"
)

// VolumeAverage is the mean volume of the window bars preceding each bar.
// The current bar is excluded so a spike can be compared against it.
type VolumeAverage struct {
	window int
}

// NewVolumeAverage creates a new trailing volume average.
func NewVolumeAverage(window int) *VolumeAverage {
	return &VolumeAverage{window: window}
}

func (v *VolumeAverage) Name() string {
	return fmt.Sprintf("VOLAVG_%d", v.window)
}

func (v *VolumeAverage) Period() int {
	return v.window
}

func (v *VolumeAverage) Calculate(candles []models.Candle) ([]float64, error) {
	if v.window <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < v.window+1 {
		return nil, ErrInsufficientData
	}
	return TrailingMean(volumes(candles), v.window), nil
}

// TrailingMean returns, for each index i, the mean of values[i-window:i].
// The result is NaN until window prior values exist or when any of them is NaN.
func TrailingMean(values []float64, window int) []float64 {
	out := undefined(len(values))
	if window <= 0 {
		return out
	}
	for i := window; i < len(values); i++ {
		slice := values[i-window : i]
		ok := true
		for _, x := range slice {
			if math.IsNaN(x) {
				ok = false
				break
			}
		}
		if ok {
			out[i] = mean(slice)
		}
	}
	return out
}

// PercentRank returns, for each index i, the fraction of the preceding
// window values that are less than or equal to values[i]. NaN marks
// positions without a full window.
func PercentRank(values []float64, window int) []float64 {
	out := undefined(len(values))
	if window <= 0 {
		return out
	}
	for i := window; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			continue
		}
		below, seen := 0, 0
		for _, x := range values[i-window : i] {
			if math.IsNaN(x) {
				continue
			}
			seen++
			if x <= values[i] {
				below++
			}
		}
		if seen > 0 {
			out[i] = float64(below) / float64(seen)
		}
	}
	return out
}
