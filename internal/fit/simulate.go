package fit

import (
	"github.com/cwbudde/mtfphase/internal/optics"
)

// SimulateTruth propagates a known wavefront through every focus plane and
// returns the resulting MTFs as truth data. Frequencies beyond the cutoff
// come back as zero.
func SimulateTruth(cfg optics.Config, ring optics.DecoderRing, coeffs []float64, mode optics.AxisMode) (TruthData, *optics.DefocusSet, error) {
	if err := cfg.Validate(); err != nil {
		return TruthData{}, nil, err
	}
	grid := optics.NewPupilGrid(cfg.PupilSamples)
	defocus, err := optics.PrecomputeDefocus(cfg, grid)
	if err != nil {
		return TruthData{}, nil, err
	}
	basis, err := optics.NewBasis(ring, grid, cfg.RMSNorm)
	if err != nil {
		return TruthData{}, nil, err
	}
	phase, err := basis.Synthesize(coeffs)
	if err != nil {
		return TruthData{}, nil, err
	}
	engine, err := optics.NewEngine(cfg)
	if err != nil {
		return TruthData{}, nil, err
	}

	truth := TruthData{
		Tan: make([][]float64, defocus.Len()),
		Sag: make([][]float64, defocus.Len()),
	}
	for p := 0; p < defocus.Len(); p++ {
		m, err := engine.RealizePlane(phase, defocus.Phase(p), cfg.Frequencies, mode)
		if err != nil {
			return TruthData{}, nil, err
		}
		truth.Tan[p] = m.Tan
		truth.Sag[p] = m.Sag
	}
	return truth, defocus, nil
}

// DiffractionLimitedTruth is the through-focus MTF of an aberration-free lens.
func DiffractionLimitedTruth(cfg optics.Config, mode optics.AxisMode) (TruthData, error) {
	truth, _, err := SimulateTruth(cfg, optics.RingW1, make([]float64, optics.RingW1.Len()), mode)
	return truth, err
}
