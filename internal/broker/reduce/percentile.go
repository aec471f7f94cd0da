package reduce

import (
	"math"
	"sort"
	"strconv"
)

// percentileOf returns the arg-th percentile (e.g. "95") of samples using
// the nearest-rank method. arg that fails to parse defaults to the
// median.
func percentileOf(samples []float64, arg string) float64 {
	if len(samples) == 0 {
		return 0
	}

	p, err := strconv.ParseFloat(arg, 64)
	if err != nil || p < 0 || p > 100 {
		p = 50
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
