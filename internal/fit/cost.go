package fit

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/mtfphase/internal/optics"
)

// Modifier rewrites the signed differences of one azimuth in place.
// dl holds the diffraction-limited MTF at the same frequencies.
type Modifier func(diff, dl []float64)

// Reducer collapses the tangential and sagittal differences of one plane
// to a scalar.
type Reducer func(dt, ds []float64) float64

// CostOptions selects the cost chain. Names are resolved once when the
// evaluator is built.
type CostOptions struct {
	Modifiers  []string `json:"modifiers" yaml:"modifiers"`
	Reduce     string   `json:"reduce" yaml:"reduce"`
	ExcludeLow int      `json:"excludeLow" yaml:"excludeLow"` // frequency indices below this are ignored
}

// DefaultCostOptions is plain sum of squares skipping the lowest frequency.
func DefaultCostOptions() CostOptions {
	return CostOptions{Reduce: "sum-squares", ExcludeLow: 1}
}

// ModifierByName resolves a modifier name.
func ModifierByName(name string) (Modifier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "diffraction-divide":
		return diffractionDivide, nil
	default:
		return nil, optics.NewConfigError("cost.modifiers", "unknown modifier %q", name)
	}
}

// ReducerByName resolves a reducer name; the empty name is sum-squares.
func ReducerByName(name string) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sum-squares", "ssd":
		return sumSquares, nil
	case "manhattan", "sad":
		return manhattan, nil
	default:
		return nil, optics.NewConfigError("cost.reduce", "unknown reducer %q", name)
	}
}

// diffractionDivide expresses errors relative to the diffraction limit.
func diffractionDivide(diff, dl []float64) {
	for i := range diff {
		if dl[i] > 0 {
			diff[i] /= dl[i]
		}
	}
}

func sumSquares(dt, ds []float64) float64 {
	return floats.Dot(dt, dt) + floats.Dot(ds, ds)
}

func manhattan(dt, ds []float64) float64 {
	return floats.Norm(dt, 1) + floats.Norm(ds, 1)
}

// costChain is a resolved CostOptions.
type costChain struct {
	modifiers  []Modifier
	reduce     Reducer
	excludeLow int
}

func (o CostOptions) resolve(freqs int) (costChain, error) {
	if o.ExcludeLow < 0 || o.ExcludeLow >= freqs {
		return costChain{}, optics.NewConfigError("cost.excludeLow", "%d leaves no frequencies out of %d", o.ExcludeLow, freqs)
	}
	c := costChain{excludeLow: o.ExcludeLow}
	for _, name := range o.Modifiers {
		m, err := ModifierByName(name)
		if err != nil {
			return costChain{}, err
		}
		c.modifiers = append(c.modifiers, m)
	}
	r, err := ReducerByName(o.Reduce)
	if err != nil {
		return costChain{}, err
	}
	c.reduce = r
	return c, nil
}

// planeCost is the raw cost of one plane: signed differences truth - model
// over valid frequencies from excludeLow on, passed through the modifiers
// and reduced.
func (c costChain) planeCost(truthT, truthS []float64, model optics.MTFSample, dl []float64) float64 {
	n := len(truthT) - c.excludeLow
	dt := make([]float64, 0, n)
	ds := make([]float64, 0, n)
	w := make([]float64, 0, n)
	for i := c.excludeLow; i < len(truthT); i++ {
		if !model.Valid[i] {
			continue
		}
		dt = append(dt, truthT[i]-model.Tan[i])
		ds = append(ds, truthS[i]-model.Sag[i])
		w = append(w, dl[i])
	}
	for _, m := range c.modifiers {
		m(dt, w)
		m(ds, w)
	}
	return c.reduce(dt, ds)
}

// NormalizeCost scales the raw plane sum by the frequency spacing and the
// plane count: C_f = dν / planes · C_i.
func NormalizeCost(raw, dnu float64, planes int) float64 {
	return dnu / float64(planes) * raw
}

func checkFinite(cost float64) error {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("%w: cost %v", optics.ErrNonFinite, cost)
	}
	return nil
}
