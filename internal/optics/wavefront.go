package optics

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// PupilGrid is an N×N sampling of the normalized pupil.
// Samples are row-major with y along rows and x along columns.
type PupilGrid struct {
	samples int
	rho     []float64
	theta   []float64
	inside  []int // flat indices of samples with rho <= 1
}

// NewPupilGrid samples the unit disk with n points across the diameter.
func NewPupilGrid(n int) *PupilGrid {
	g := &PupilGrid{
		samples: n,
		rho:     make([]float64, n*n),
		theta:   make([]float64, n*n),
	}
	for i := 0; i < n; i++ {
		y := float64(2*i-(n-1)) / float64(n)
		for j := 0; j < n; j++ {
			x := float64(2*j-(n-1)) / float64(n)
			k := i*n + j
			g.rho[k] = math.Hypot(x, y)
			g.theta[k] = math.Atan2(y, x)
			if g.rho[k] <= 1 {
				g.inside = append(g.inside, k)
			}
		}
	}
	return g
}

// Samples returns N.
func (g *PupilGrid) Samples() int {
	return g.samples
}

// Aperture returns the flat indices inside the pupil.
// The slice is shared and must not be modified.
func (g *PupilGrid) Aperture() []int {
	return g.inside
}

// Clone returns a deep copy of the grid.
func (g *PupilGrid) Clone() *PupilGrid {
	return &PupilGrid{
		samples: g.samples,
		rho:     append([]float64(nil), g.rho...),
		theta:   append([]float64(nil), g.theta...),
		inside:  append([]int(nil), g.inside...),
	}
}

// Rho returns the normalized radius at flat index k.
func (g *PupilGrid) Rho(k int) float64 {
	return g.rho[k]
}

// PhaseMap holds wavefront phase in waves over a pupil grid.
// Values outside the aperture are zero.
type PhaseMap struct {
	grid   *PupilGrid
	values []float64
}

// NewPhaseMap allocates a zero phase map on the grid.
func NewPhaseMap(grid *PupilGrid) *PhaseMap {
	return &PhaseMap{grid: grid, values: make([]float64, grid.samples*grid.samples)}
}

// Grid returns the sampling grid.
func (p *PhaseMap) Grid() *PupilGrid {
	return p.grid
}

// Samples returns N.
func (p *PhaseMap) Samples() int {
	return p.grid.samples
}

// Values exposes the row-major phase samples. Callers must treat it as read-only.
func (p *PhaseMap) Values() []float64 {
	return p.values
}

// Sub returns p - q. Both maps must share the sampling.
func (p *PhaseMap) Sub(q *PhaseMap) (*PhaseMap, error) {
	if p.Samples() != q.Samples() {
		return nil, configErrorf("pupilSamples", "phase maps sampled at %d and %d", p.Samples(), q.Samples())
	}
	out := NewPhaseMap(p.grid)
	floats.SubTo(out.values, p.values, q.values)
	return out, nil
}

// RMS returns the piston-removed RMS over the aperture, in waves.
func (p *PhaseMap) RMS() float64 {
	idx := p.grid.inside
	if len(idx) == 0 {
		return 0
	}
	vals := make([]float64, len(idx))
	for i, k := range idx {
		vals[i] = p.values[k]
	}
	mean := floats.Sum(vals) / float64(len(vals))
	floats.AddConst(-mean, vals)
	return floats.Norm(vals, 2) / math.Sqrt(float64(len(vals)))
}

// Basis is a decoder ring evaluated over a fixed grid. The mode samples are
// computed once in NewBasis and only read by Synthesize.
type Basis struct {
	ring    DecoderRing
	grid    *PupilGrid
	rmsNorm bool
	modes   [][]float64 // [mode][aperture sample]
}

// NewBasis precomputes every ring mode on the grid.
func NewBasis(ring DecoderRing, grid *PupilGrid, rmsNorm bool) (*Basis, error) {
	if ring.Len() == 0 {
		return nil, configErrorf("ring", "decoder ring is empty")
	}
	b := &Basis{
		ring:    ring,
		grid:    grid,
		rmsNorm: rmsNorm,
		modes:   make([][]float64, ring.Len()),
	}
	for i := range b.modes {
		j := ring.Fringe(i)
		mode := make([]float64, len(grid.inside))
		for s, k := range grid.inside {
			mode[s] = FringeZernike(j, grid.rho[k], grid.theta[k], rmsNorm)
		}
		b.modes[i] = mode
	}
	return b, nil
}

// Ring returns the decoder ring.
func (b *Basis) Ring() DecoderRing {
	return b.ring
}

// Grid returns the sampling grid.
func (b *Basis) Grid() *PupilGrid {
	return b.grid
}

// Samples returns the pupil sampling N.
func (b *Basis) Samples() int {
	return b.grid.samples
}

// Synthesize returns the weighted sum of the ring modes.
func (b *Basis) Synthesize(coeffs []float64) (*PhaseMap, error) {
	if len(coeffs) != b.ring.Len() {
		return nil, configErrorf("coefficients", "have %d, decoder ring has %d modes", len(coeffs), b.ring.Len())
	}

	out := NewPhaseMap(b.grid)
	for i, c := range coeffs {
		if c == 0 {
			continue
		}
		mode := b.modes[i]
		for s, k := range b.grid.inside {
			out.values[k] += c * mode[s]
		}
	}
	return out, nil
}
