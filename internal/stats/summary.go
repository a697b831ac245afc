// Package stats computes the per-bin summary pushed for each finished bin
// and the running distribution kept for each channel.
package stats

import (
	"math"
	"slices"
)

// Summary field names, in the order they are usually read.
const (
	FieldMin   = "min"
	FieldP05   = "p05"
	FieldMean  = "mean"
	FieldP95   = "p95"
	FieldMax   = "max"
	FieldCount = "count"
)

// Summarize returns min, 5th percentile, mean, 95th percentile, max and
// count of values. All fields are exact; percentiles interpolate linearly
// between the two closest ranks. It returns nil for an empty bin.
func Summarize(values []float64) map[string]any {
	if len(values) == 0 {
		return nil
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return map[string]any{
		FieldMin:   sorted[0],
		FieldP05:   Percentile(sorted, 0.05),
		FieldMean:  sum / float64(len(sorted)),
		FieldP95:   Percentile(sorted, 0.95),
		FieldMax:   sorted[len(sorted)-1],
		FieldCount: len(sorted),
	}
}

// Percentile returns the q-quantile of sorted, which must be non-empty and
// in ascending order. q is clamped to [0, 1].
func Percentile(sorted []float64, q float64) float64 {
	q = min(max(q, 0), 1)
	rank := q * float64(len(sorted)-1)
	below := int(math.Floor(rank))
	above := int(math.Ceil(rank))
	if below == above {
		return sorted[below]
	}
	return sorted[below] + (sorted[above]-sorted[below])*(rank-float64(below))
}
