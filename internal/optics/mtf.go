package optics

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/interp"
)

// Oversampling is the padding factor of the propagation grid. Q=2 places the
// incoherent cutoff exactly on the Nyquist bin of the OTF grid.
const Oversampling = 2

// AxisMode selects how the 2D MTF is sampled.
type AxisMode int

const (
	// AxisTS interpolates 1D slices along the two principal axes.
	AxisTS AxisMode = iota
	// AxisFull interpolates bilinearly over the full 2D MTF.
	AxisFull
)

func (m AxisMode) String() string {
	switch m {
	case AxisTS:
		return "axis"
	case AxisFull:
		return "full"
	default:
		return fmt.Sprintf("AxisMode(%d)", int(m))
	}
}

// ParseAxisMode maps "axis"/"ts" and "full"/"2d" to an AxisMode.
func ParseAxisMode(s string) (AxisMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "axis", "ts":
		return AxisTS, nil
	case "full", "2d":
		return AxisFull, nil
	default:
		return 0, configErrorf("axisMode", "unknown axis mode %q", s)
	}
}

// MTFSample is the modeled MTF at the requested frequencies, in request order.
// Tangential is the ν_y=0 slice and sagittal the ν_x=0 slice. Frequencies at
// or beyond the cutoff are zero with Valid=false.
type MTFSample struct {
	Tan   []float64
	Sag   []float64
	Valid []bool
}

// Engine propagates pupils to MTFs. It owns FFT plans and scratch buffers and
// is not safe for concurrent use; every worker builds its own.
type Engine struct {
	n, m   int
	dnu    float64 // OTF grid spacing, cy/mm
	cutoff float64
	fft    *fourier.CmplxFFT
	field  []complex128
	line   []complex128
	mtf    []float64
	axisNu []float64
}

// NewEngine sizes an engine for the configured sampling.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.PupilSamples
	m := Oversampling * n

	e := &Engine{
		n:      n,
		m:      m,
		dnu:    1 / (float64(n) * cfg.wavelengthMM() * cfg.FNumber),
		cutoff: cfg.Cutoff(),
		fft:    fourier.NewCmplxFFT(m),
		field:  make([]complex128, m*m),
		line:   make([]complex128, m),
		mtf:    make([]float64, m*m),
		axisNu: make([]float64, n+1),
	}
	for k := range e.axisNu {
		e.axisNu[k] = float64(k) * e.dnu
	}
	return e, nil
}

// Samples returns the pupil sampling the engine was built for.
func (e *Engine) Samples() int {
	return e.n
}

// GridSpacing returns the frequency spacing of the OTF grid in cy/mm.
func (e *Engine) GridSpacing() float64 {
	return e.dnu
}

// RealizePlane combines the in-focus phase with one plane's defocus term,
// propagates it, and samples the MTF at freqs.
func (e *Engine) RealizePlane(inFocus *PhaseMap, defocus []float64, freqs []float64, mode AxisMode) (MTFSample, error) {
	if err := e.propagate(inFocus, defocus); err != nil {
		return MTFSample{}, err
	}

	switch mode {
	case AxisTS:
		return e.sampleAxes(freqs)
	case AxisFull:
		return MTFSample{
			Tan:   e.SampleAzimuth(freqs, 0),
			Sag:   e.SampleAzimuth(freqs, 90),
			Valid: e.validity(freqs),
		}, nil
	default:
		return MTFSample{}, configErrorf("axisMode", "unknown axis mode %d", int(mode))
	}
}

// propagate fills e.mtf with the normalized MTF of the combined pupil.
func (e *Engine) propagate(inFocus *PhaseMap, defocus []float64) error {
	n, m := e.n, e.m
	if inFocus.Samples() != n {
		return configErrorf("pupilSamples", "phase map has %d samples, engine has %d", inFocus.Samples(), n)
	}
	if len(defocus) != n*n {
		return configErrorf("pupilSamples", "defocus term has %d values, want %d", len(defocus), n*n)
	}

	for i := range e.field {
		e.field[i] = 0
	}

	// Pupil in the top-left N×N corner; the MTF is invariant to its position
	w := inFocus.values
	for _, k := range inFocus.grid.inside {
		row, col := k/n, k%n
		phase := 2 * math.Pi * (w[k] + defocus[k])
		s, c := math.Sincos(phase)
		e.field[row*m+col] = complex(c, s)
	}

	// Rows at and below N are empty until the column pass
	e.fft2(n)

	for i, v := range e.field {
		re, im := real(v), imag(v)
		p := re*re + im*im
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: psf sample %d", ErrNonFinite, i)
		}
		e.field[i] = complex(p, 0)
	}

	e.fft2(m)

	dc := cmplx.Abs(e.field[0])
	if dc == 0 || math.IsNaN(dc) || math.IsInf(dc, 0) {
		return fmt.Errorf("%w: otf zero-frequency value %v", ErrNonFinite, dc)
	}
	for i, v := range e.field {
		e.mtf[i] = cmplx.Abs(v) / dc
	}
	return nil
}

// fft2 transforms e.field in place; only the first `rows` rows can be non-zero.
func (e *Engine) fft2(rows int) {
	m := e.m
	for r := 0; r < rows; r++ {
		row := e.field[r*m : (r+1)*m]
		e.fft.Coefficients(row, row)
	}
	for c := 0; c < m; c++ {
		for r := 0; r < m; r++ {
			e.line[r] = e.field[r*m+c]
		}
		e.fft.Coefficients(e.line, e.line)
		for r := 0; r < m; r++ {
			e.field[r*m+c] = e.line[r]
		}
	}
}

func (e *Engine) sampleAxes(freqs []float64) (MTFSample, error) {
	n, m := e.n, e.m
	tan := make([]float64, n+1)
	sag := make([]float64, n+1)
	for k := 0; k < n; k++ {
		tan[k] = e.mtf[k]
		sag[k] = e.mtf[k*m]
	}
	// Bin N is the cutoff

	var ft, fs interp.PiecewiseLinear
	if err := ft.Fit(e.axisNu, tan); err != nil {
		return MTFSample{}, fmt.Errorf("fit tangential slice: %w", err)
	}
	if err := fs.Fit(e.axisNu, sag); err != nil {
		return MTFSample{}, fmt.Errorf("fit sagittal slice: %w", err)
	}

	out := MTFSample{
		Tan:   make([]float64, len(freqs)),
		Sag:   make([]float64, len(freqs)),
		Valid: e.validity(freqs),
	}
	for i, nu := range freqs {
		if !out.Valid[i] {
			continue
		}
		out.Tan[i] = ft.Predict(nu)
		out.Sag[i] = fs.Predict(nu)
	}
	return out, nil
}

// SampleAzimuth bilinearly interpolates the most recently propagated MTF
// along the given azimuth in degrees (0 = ν_x axis).
func (e *Engine) SampleAzimuth(freqs []float64, azimuthDeg float64) []float64 {
	s, c := math.Sincos(azimuthDeg * math.Pi / 180)
	// Exact axes avoid a ~1e-17 off-axis component from Sincos
	switch azimuthDeg {
	case 0:
		s, c = 0, 1
	case 90:
		s, c = 1, 0
	}

	out := make([]float64, len(freqs))
	for i, nu := range freqs {
		if nu < 0 || nu >= e.cutoff {
			continue
		}
		out[i] = e.bilinear(nu*c/e.dnu, nu*s/e.dnu)
	}
	return out
}

func (e *Engine) bilinear(kx, ky float64) float64 {
	x0, y0 := math.Floor(kx), math.Floor(ky)
	tx, ty := kx-x0, ky-y0
	ix, iy := int(x0), int(y0)

	a := e.at(ix, iy)
	b := e.at(ix+1, iy)
	if ty == 0 {
		return a*(1-tx) + b*tx
	}
	c := e.at(ix, iy+1)
	d := e.at(ix+1, iy+1)
	return a*(1-tx)*(1-ty) + b*tx*(1-ty) + c*(1-tx)*ty + d*tx*ty
}

// at returns the MTF at integer frequency bin (kx, ky); bins at or beyond
// the cutoff along either axis are zero.
func (e *Engine) at(kx, ky int) float64 {
	if kx >= e.n || kx <= -e.n || ky >= e.n || ky <= -e.n {
		return 0
	}
	return e.mtf[wrap(ky, e.m)*e.m+wrap(kx, e.m)]
}

func (e *Engine) validity(freqs []float64) []bool {
	valid := make([]bool, len(freqs))
	for i, nu := range freqs {
		valid[i] = nu >= 0 && nu < e.cutoff
	}
	return valid
}

func wrap(k, m int) int {
	k %= m
	if k < 0 {
		k += m
	}
	return k
}

// DiffractionLimitedMTF evaluates the aberration-free MTF of a circular
// pupil at the configured frequencies.
func DiffractionLimitedMTF(cfg Config) []float64 {
	cutoff := cfg.Cutoff()
	out := make([]float64, len(cfg.Frequencies))
	for i, nu := range cfg.Frequencies {
		s := nu / cutoff
		if s >= 1 {
			continue
		}
		out[i] = 2 / math.Pi * (math.Acos(s) - s*math.Sqrt(1-s*s))
	}
	return out
}
