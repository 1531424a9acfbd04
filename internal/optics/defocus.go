package optics

// DefocusSet is the defocus phase of every focus plane, computed once per run.
type DefocusSet struct {
	offsets []float64   // image displacement, mm
	waves   []float64   // peak Seidel defocus W020, waves
	phases  [][]float64 // row-major phase per plane; planes with equal offsets share a slice
}

// DefocusWaves converts an image displacement (mm) to peak Seidel defocus
// W020 in waves: W020 = δz / (8·F#²·λ). Positive δz moves the image plane
// away from the lens.
func DefocusWaves(dz, fno, wavelengthUM float64) float64 {
	return dz / (8 * fno * fno * wavelengthUM * 1e-3)
}

// PrecomputeDefocus builds the W020·ρ² phase term for each focus plane.
func PrecomputeDefocus(cfg Config, grid *PupilGrid) (*DefocusSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if grid.Samples() != cfg.PupilSamples {
		return nil, configErrorf("pupilSamples", "grid has %d samples, config has %d", grid.Samples(), cfg.PupilSamples)
	}

	offsets := cfg.Offsets()
	set := &DefocusSet{
		offsets: offsets,
		waves:   make([]float64, len(offsets)),
		phases:  make([][]float64, len(offsets)),
	}

	computed := make(map[float64][]float64, len(offsets))
	n := grid.Samples()
	for p, dz := range offsets {
		w020 := DefocusWaves(dz, cfg.FNumber, cfg.Wavelength)
		set.waves[p] = w020
		if phase, ok := computed[dz]; ok {
			set.phases[p] = phase
			continue
		}

		phase := make([]float64, n*n)
		if w020 != 0 {
			for _, k := range grid.inside {
				r := grid.rho[k]
				phase[k] = w020 * r * r
			}
		}
		computed[dz] = phase
		set.phases[p] = phase
	}
	return set, nil
}

// Len returns the number of planes.
func (d *DefocusSet) Len() int {
	return len(d.phases)
}

// Offset returns the image displacement of plane p in mm.
func (d *DefocusSet) Offset(p int) float64 {
	return d.offsets[p]
}

// Waves returns the peak defocus of plane p in waves.
func (d *DefocusSet) Waves(p int) float64 {
	return d.waves[p]
}

// Phase returns the defocus phase of plane p. The slice is shared and read-only.
func (d *DefocusSet) Phase(p int) []float64 {
	return d.phases[p]
}

// Offsets returns a copy of all plane displacements.
func (d *DefocusSet) Offsets() []float64 {
	return append([]float64(nil), d.offsets...)
}

// Clone returns a deep copy that shares no memory with d.
func (d *DefocusSet) Clone() *DefocusSet {
	out := &DefocusSet{
		offsets: append([]float64(nil), d.offsets...),
		waves:   append([]float64(nil), d.waves...),
		phases:  make([][]float64, len(d.phases)),
	}
	copied := make(map[*float64][]float64, len(d.phases))
	for p, phase := range d.phases {
		if len(phase) == 0 {
			out.phases[p] = nil
			continue
		}
		if c, ok := copied[&phase[0]]; ok {
			out.phases[p] = c
			continue
		}
		c := append([]float64(nil), phase...)
		copied[&phase[0]] = c
		out.phases[p] = c
	}
	return out
}
