package color

import (
	"math"
	"slices"
)

// Scaling bounds of a numeric channel.
const (
	LowerBound = 0
	UpperBound = 225
)

// MinVMax is the floor of the automatic scaling ceiling.
const MinVMax = 0.01

// Normalise scales the nonzero values of v into [LowerBound+1, UpperBound].
// Nonzero values are clipped to [vmin, vmax] and rescaled linearly; zero
// stays zero. When vmax does not exceed vmin every nonzero value saturates to
// UpperBound.
func Normalise(v []float32, vmax, vmin float64) []uint8 {
	out := make([]uint8, len(v))
	span := vmax - vmin
	for i, x := range v {
		if x == 0 || math.IsNaN(float64(x)) {
			continue
		}
		if span <= 0 {
			out[i] = UpperBound
			continue
		}
		c := min(max(float64(x), vmin), vmax)
		y := (c-vmin)/span*(UpperBound-LowerBound-1) + LowerBound + 1
		out[i] = uint8(min(max(math.Floor(y)+1, 0), UpperBound))
	}
	return out
}

// DefaultVMax is the 99th percentile of v, with linear interpolation between
// ranks, floored at MinVMax.
func DefaultVMax(v []float32) float64 {
	if len(v) == 0 {
		return MinVMax
	}
	sorted := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(float64(x)) {
			sorted = append(sorted, float64(x))
		}
	}
	if len(sorted) == 0 {
		return MinVMax
	}
	slices.Sort(sorted)

	rank := 0.99 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := min(lo+1, len(sorted)-1)
	p := sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
	return max(p, MinVMax)
}
