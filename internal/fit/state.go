package fit

import (
	"github.com/cwbudde/mtfphase/internal/optics"
)

// SharedState is the read-only context of a run: geometry, truth data, and
// the quantities derived from them once at setup. Workers never see this
// value directly; each gets its own replica.
type SharedState struct {
	Config      optics.Config
	Grid        *optics.PupilGrid
	Defocus     *optics.DefocusSet
	Truth       TruthData
	Diffraction []float64
	Mode        optics.AxisMode
}

// NewSharedState validates the inputs and precomputes the defocus terms and
// diffraction-limited MTF.
func NewSharedState(cfg optics.Config, truth TruthData, mode optics.AxisMode) (*SharedState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := truth.Validate(cfg.FocusPlanes, len(cfg.Frequencies)); err != nil {
		return nil, err
	}

	cfg = cfg.Clone()
	grid := optics.NewPupilGrid(cfg.PupilSamples)
	defocus, err := optics.PrecomputeDefocus(cfg, grid)
	if err != nil {
		return nil, err
	}

	return &SharedState{
		Config:      cfg,
		Grid:        grid,
		Defocus:     defocus,
		Truth:       truth.Clone(),
		Diffraction: optics.DiffractionLimitedMTF(cfg),
		Mode:        mode,
	}, nil
}

// Planes returns the number of focus planes.
func (s *SharedState) Planes() int {
	return s.Defocus.Len()
}

// replicate deep-copies the state for a worker without recomputing anything.
func (s *SharedState) replicate() *SharedState {
	return &SharedState{
		Config:      s.Config.Clone(),
		Grid:        s.Grid.Clone(),
		Defocus:     s.Defocus.Clone(),
		Truth:       s.Truth.Clone(),
		Diffraction: append([]float64(nil), s.Diffraction...),
		Mode:        s.Mode,
	}
}
