// Package indicator holds the small trailing-window calculations shared
// by the breakout, sector, and pattern evaluators. Every function is a
// pure computation over an ordered bar slice; nothing here keeps state
// between calls, so any value can be recomputed from bar history alone.
package indicator

import (
	"fmt"

	"github.com/sawpanic/equityrun/internal/market"
)

// TrailingAvgVolume returns the mean volume of the lookback bars
// immediately preceding the final bar of the series.
func TrailingAvgVolume(bars []market.Bar, lookback int) (float64, error) {
	if err := requireTrailing(bars, lookback); err != nil {
		return 0, err
	}
	window := bars[len(bars)-1-lookback : len(bars)-1]
	var sum int64
	for _, b := range window {
		sum += b.Volume
	}
	return float64(sum) / float64(lookback), nil
}

// VolumeRatio returns the final bar's volume over the trailing average.
func VolumeRatio(bars []market.Bar, lookback int) (float64, error) {
	avg, err := TrailingAvgVolume(bars, lookback)
	if err != nil {
		return 0, err
	}
	if avg <= 0 {
		return 0, fmt.Errorf("trailing average volume is zero over %d bars", lookback)
	}
	return float64(bars[len(bars)-1].Volume) / avg, nil
}

// TrailingHigh returns the highest high of the lookback bars preceding
// the final bar. This is the resistance level a breakout must clear;
// the current bar is never part of its own resistance.
func TrailingHigh(bars []market.Bar, lookback int) (float64, error) {
	if err := requireTrailing(bars, lookback); err != nil {
		return 0, err
	}
	window := bars[len(bars)-1-lookback : len(bars)-1]
	high := window[0].High
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
	}
	return high, nil
}

// TrailingLow returns the lowest low of the lookback bars preceding the
// final bar.
func TrailingLow(bars []market.Bar, lookback int) (float64, error) {
	if err := requireTrailing(bars, lookback); err != nil {
		return 0, err
	}
	window := bars[len(bars)-1-lookback : len(bars)-1]
	low := window[0].Low
	for _, b := range window[1:] {
		if b.Low < low {
			low = b.Low
		}
	}
	return low, nil
}

func requireTrailing(bars []market.Bar, lookback int) error {
	if lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	if len(bars) < lookback+1 {
		return fmt.Errorf("need %d bars for a %d-bar trailing window, have %d", lookback+1, lookback, len(bars))
	}
	return nil
}
