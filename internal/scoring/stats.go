// Package scoring infers billing cadence and confidence from a merchant's payment history.
package scoring

import (
	"math"
	"sort"
	"time"
)

// Median returns the standard median: the middle value, or the mean of the two middle
// values for even counts. An empty input yields 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Mean returns the arithmetic mean, or 0 for an empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopulationStdDev returns the root-mean-square deviation from the mean.
func PopulationStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Intervals returns the whole-day gaps between consecutive dates after sorting.
func Intervals(dates []time.Time) []float64 {
	if len(dates) < 2 {
		return nil
	}

	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		days := sorted[i].Sub(sorted[i-1]).Hours() / 24
		intervals = append(intervals, math.Round(days))
	}
	return intervals
}

// PeriodicityScore measures how closely intervals track the expected length.
// Each interval contributes max(0, 1-|interval-expected|/expected); the score is their mean.
// A lone interval is treated as perfectly periodic.
func PeriodicityScore(intervals []float64, expected float64) float64 {
	if len(intervals) == 0 || expected <= 0 {
		return 0
	}
	if len(intervals) == 1 {
		return 1.0
	}

	total := 0.0
	for _, interval := range intervals {
		total += math.Max(0, 1-math.Abs(interval-expected)/expected)
	}
	return total / float64(len(intervals))
}

// AmountStability returns max(0, 1 - stdev/median) over the observed amounts.
func AmountStability(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}

	stdev := PopulationStdDev(amounts)
	if stdev == 0 {
		return 1.0
	}

	median := Median(amounts)
	if median <= 0 {
		return 0
	}
	return math.Max(0, 1-stdev/median)
}
