package opt

import (
	"fmt"
	"math"
)

// Bounds defines valid parameter ranges
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds creates the same [lo, hi] range for every dimension.
func NewBounds(dim int, lo, hi float64) *Bounds {
	b := &Bounds{
		Lower: make([]float64, dim),
		Upper: make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		b.Lower[i] = lo
		b.Upper[i] = hi
	}
	return b
}

// Validate checks that the bounds have dim entries and are ordered.
func (b *Bounds) Validate(dim int) error {
	if len(b.Lower) != dim || len(b.Upper) != dim {
		return fmt.Errorf("bounds have %d/%d entries for %d parameters", len(b.Lower), len(b.Upper), dim)
	}
	for i := range b.Lower {
		if math.IsNaN(b.Lower[i]) || math.IsNaN(b.Upper[i]) || b.Lower[i] > b.Upper[i] {
			return fmt.Errorf("bounds at %d are not ordered: [%v, %v]", i, b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

// ClampVector clamps all parameters in a vector
func (b *Bounds) ClampVector(data []float64) {
	if b == nil {
		return
	}
	for i := range data {
		data[i] = clamp(data[i], b.Lower[i], b.Upper[i])
	}
}

// Project returns a clamped copy of x.
func (b *Bounds) Project(x []float64) []float64 {
	out := append([]float64(nil), x...)
	b.ClampVector(out)
	return out
}

// Envelope returns the smallest scalar range covering every dimension.
func (b *Bounds) Envelope() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := range b.Lower {
		lo = math.Min(lo, b.Lower[i])
		hi = math.Max(hi, b.Upper[i])
	}
	return lo, hi
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
