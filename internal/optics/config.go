package optics

import (
	"fmt"
	"math"
)

// Config is the optical and sampling geometry of a through-focus measurement.
// It is built once at setup and only read afterwards.
type Config struct {
	EFL          float64   `json:"efl"`          // Effective focal length, mm
	FNumber      float64   `json:"fno"`          // Working F/#
	Wavelength   float64   `json:"wavelength"`   // Wavelength, µm
	FocusPlanes  int       `json:"focusPlanes"`  // Number of focus planes
	FocusRange   float64   `json:"focusRange"`   // Half-range of image displacement, mm
	FocusOffsets []float64 `json:"focusOffsets"` // Optional explicit plane offsets, mm
	Frequencies  []float64 `json:"frequencies"`  // Spatial frequencies, cy/mm
	PupilSamples int       `json:"pupilSamples"` // Samples across the pupil diameter
	RMSNorm      bool      `json:"rmsNorm"`      // Zernike modes normalized to unit RMS
}

// Validate checks the geometry for internal consistency.
func (c Config) Validate() error {
	switch {
	case !(c.EFL > 0):
		return configErrorf("efl", "must be positive, got %v", c.EFL)
	case !(c.FNumber > 0):
		return configErrorf("fno", "must be positive, got %v", c.FNumber)
	case !(c.Wavelength > 0):
		return configErrorf("wavelength", "must be positive, got %v", c.Wavelength)
	case c.FocusPlanes < 1:
		return configErrorf("focusPlanes", "need at least one plane, got %d", c.FocusPlanes)
	case c.FocusRange < 0 || math.IsNaN(c.FocusRange):
		return configErrorf("focusRange", "must be non-negative, got %v", c.FocusRange)
	case c.PupilSamples < 4 || c.PupilSamples%2 != 0:
		return configErrorf("pupilSamples", "must be an even number >= 4, got %d", c.PupilSamples)
	}

	if len(c.FocusOffsets) != 0 && len(c.FocusOffsets) != c.FocusPlanes {
		return configErrorf("focusOffsets", "have %d offsets for %d planes", len(c.FocusOffsets), c.FocusPlanes)
	}

	if len(c.Frequencies) < 2 {
		return configErrorf("frequencies", "need at least two frequencies, got %d", len(c.Frequencies))
	}
	step := c.Frequencies[1] - c.Frequencies[0]
	for i, nu := range c.Frequencies {
		if !(nu > 0) {
			return configErrorf("frequencies", "frequency %d is %v, must be positive", i, nu)
		}
		if i == 0 {
			continue
		}
		d := nu - c.Frequencies[i-1]
		if !(d > 0) {
			return configErrorf("frequencies", "not strictly increasing at index %d", i)
		}
		// Cost normalization treats the samples as a uniform quadrature grid
		if math.Abs(d-step) > 1e-9*math.Max(1, step) {
			return configErrorf("frequencies", "spacing %v at index %d differs from %v", d, i, step)
		}
	}

	return nil
}

// EPD returns the entrance pupil diameter in mm.
func (c Config) EPD() float64 {
	return c.EFL / c.FNumber
}

// Cutoff returns the incoherent cutoff frequency 1/(λ·F#) in cy/mm.
func (c Config) Cutoff() float64 {
	return 1 / (c.wavelengthMM() * c.FNumber)
}

// FrequencySpacing returns dν, the spacing of the configured frequencies.
func (c Config) FrequencySpacing() float64 {
	if len(c.Frequencies) < 2 {
		return 0
	}
	return c.Frequencies[1] - c.Frequencies[0]
}

// Offsets returns the image displacement of every focus plane in mm.
// Explicit FocusOffsets win; otherwise planes are spread linearly over
// [-FocusRange, +FocusRange].
func (c Config) Offsets() []float64 {
	if len(c.FocusOffsets) > 0 {
		return append([]float64(nil), c.FocusOffsets...)
	}

	offsets := make([]float64, c.FocusPlanes)
	if c.FocusPlanes == 1 {
		return offsets
	}
	step := 2 * c.FocusRange / float64(c.FocusPlanes-1)
	for i := range offsets {
		offsets[i] = -c.FocusRange + float64(i)*step
	}
	return offsets
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	out := c
	out.Frequencies = append([]float64(nil), c.Frequencies...)
	if c.FocusOffsets != nil {
		out.FocusOffsets = append([]float64(nil), c.FocusOffsets...)
	}
	return out
}

func (c Config) wavelengthMM() float64 {
	return c.Wavelength * 1e-3
}

// String gives a compact description used in log lines.
func (c Config) String() string {
	return fmt.Sprintf("EFL=%gmm F/%g λ=%gµm planes=%d range=±%gmm N=%d",
		c.EFL, c.FNumber, c.Wavelength, c.FocusPlanes, c.FocusRange, c.PupilSamples)
}
