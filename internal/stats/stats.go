package stats

import (
	"math"
)

// Mean returns the arithmetic mean of values and false when values is empty.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// Keyed pairs a value with the identifier it was measured for.
type Keyed struct {
	Key   string
	Value float64
}

// ArgMaxMin returns the keys holding the largest and smallest values.
// Ties go to the lexicographically smallest key. ok is false for empty input.
func ArgMaxMin(items []Keyed) (maxKey, minKey string, ok bool) {
	if len(items) == 0 {
		return "", "", false
	}

	best, worst := items[0], items[0]
	for _, it := range items[1:] {
		if it.Value > best.Value || (it.Value == best.Value && it.Key < best.Key) {
			best = it
		}
		if it.Value < worst.Value || (it.Value == worst.Value && it.Key < worst.Key) {
			worst = it
		}
	}
	return best.Key, worst.Key, true
}

// InverseDecay maps a non-negative "lower is better" value onto (0,1].
func InverseDecay(value, scale float64) float64 {
	if value <= 0 {
		return 1
	}
	return 1 / (1 + value/scale)
}

// CappedLinear maps a non-negative "higher is better" value onto [0,1].
func CappedLinear(value, limit float64) float64 {
	if value <= 0 {
		return 0
	}
	return math.Min(1, value/limit)
}

// SafeRatio divides num by den and reports false when den is zero.
func SafeRatio(num, den float64) (float64, bool) {
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
