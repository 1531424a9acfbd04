package optics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		EFL:          100,
		FNumber:      4,
		Wavelength:   0.55,
		FocusPlanes:  3,
		FocusRange:   0.05,
		Frequencies:  []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		PupilSamples: 32,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"ok", func(*Config) {}, ""},
		{"zero efl", func(c *Config) { c.EFL = 0 }, "efl"},
		{"nan fno", func(c *Config) { c.FNumber = math.NaN() }, "fno"},
		{"odd samples", func(c *Config) { c.PupilSamples = 33 }, "pupilSamples"},
		{"single frequency", func(c *Config) { c.Frequencies = []float64{10} }, "frequencies"},
		{"decreasing", func(c *Config) { c.Frequencies = []float64{20, 10} }, "frequencies"},
		{"non-uniform", func(c *Config) { c.Frequencies = []float64{10, 20, 35} }, "frequencies"},
		{"offset count", func(c *Config) { c.FocusOffsets = []float64{0} }, "focusOffsets"},
		{"no planes", func(c *Config) { c.FocusPlanes = 0 }, "focusPlanes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.edit(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfigDerived(t *testing.T) {
	cfg := testConfig()
	assert.InDelta(t, 25.0, cfg.EPD(), 1e-12)
	assert.InDelta(t, 1/(0.55e-3*4), cfg.Cutoff(), 1e-9)
	assert.InDelta(t, 10.0, cfg.FrequencySpacing(), 1e-12)
	assert.InDeltaSlice(t, []float64{-0.05, 0, 0.05}, cfg.Offsets(), 1e-15)

	cfg.FocusOffsets = []float64{0.1, 0.2, 0.3}
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, cfg.Offsets())

	clone := cfg.Clone()
	clone.Frequencies[0] = 999
	clone.FocusOffsets[0] = 999
	assert.Equal(t, 10.0, cfg.Frequencies[0])
	assert.Equal(t, 0.1, cfg.FocusOffsets[0])
}

func TestFringeZernikeValues(t *testing.T) {
	tests := []struct {
		j          int
		rho, theta float64
		want       float64
	}{
		{1, 0.3, 0.2, 1},
		{2, 1, 0, 1},
		{3, 1, math.Pi / 2, 1},
		{4, 0, 0, -1},
		{4, 1, 0, 1},
		{5, 1, 0, 1},
		{6, 1, math.Pi / 4, 1},
		{9, 0, 0, 1},
		{9, 1, 0, 1},
		{9, math.Sqrt(0.5), 0, -0.5},
		{16, 0, 0, -1},
		{25, 1, 0.7, 1},
		{37, 1, 0, 1},
	}
	for _, tt := range tests {
		got := FringeZernike(tt.j, tt.rho, tt.theta, false)
		assert.InDelta(t, tt.want, got, 1e-12, "Z%d(%v, %v)", tt.j, tt.rho, tt.theta)
	}

	assert.InDelta(t, math.Sqrt(3), FringeZernike(4, 1, 0, true), 1e-12)
	assert.InDelta(t, math.Sqrt(6), FringeZernike(5, 1, 0, true), 1e-12)
}

func TestFringeZernikeUnitRMS(t *testing.T) {
	grid := NewPupilGrid(128)
	for _, j := range []int{4, 5, 7, 9, 11, 16} {
		var sum float64
		for _, k := range grid.Aperture() {
			v := FringeZernike(j, grid.rho[k], grid.theta[k], true)
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(len(grid.Aperture())))
		assert.InDelta(t, 1.0, rms, 0.05, "Z%d", j)
	}
}

func TestParseFringeName(t *testing.T) {
	j, err := ParseFringeName("Z9")
	require.NoError(t, err)
	assert.Equal(t, 9, j)

	j, err = ParseFringeName(" z37 ")
	require.NoError(t, err)
	assert.Equal(t, 37, j)

	for _, bad := range []string{"", "Z", "Z0", "Z38", "A4", "Zx"} {
		_, err := ParseFringeName(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecoderRings(t *testing.T) {
	assert.Equal(t, 4, RingW1.Len())
	assert.Equal(t, 16, RingW2.Len())
	assert.Equal(t, 18, RingW3.Len())
	assert.Equal(t, []string{"Z4", "Z9", "Z16", "Z25"}, RingW1.Names())
	assert.Equal(t, 9, RingW1.Fringe(1))

	r, err := RingByName("W2")
	require.NoError(t, err)
	assert.Equal(t, RingW2.Names(), r.Names())

	_, err = RingByName("w9")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewDecoderRing("Z4", "z4")
	assert.ErrorIs(t, err, ErrConfig)

	decoded, err := RingW1.Decode([]float64{0.1, 0.2, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.2, decoded["Z9"])

	_, err = RingW1.Decode([]float64{1})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestDecoderRingJSON(t *testing.T) {
	data, err := RingW1.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["Z4","Z9","Z16","Z25"]`, string(data))

	var r DecoderRing
	require.NoError(t, r.UnmarshalJSON(data))
	assert.Equal(t, RingW1.Names(), r.Names())

	assert.Error(t, r.UnmarshalJSON([]byte(`["Z99"]`)))
}

func TestSynthesize(t *testing.T) {
	grid := NewPupilGrid(32)
	basis, err := NewBasis(RingW1, grid, false)
	require.NoError(t, err)

	phase, err := basis.Synthesize([]float64{0.5, 0, 0, 0})
	require.NoError(t, err)
	for _, k := range grid.Aperture() {
		r := grid.Rho(k)
		require.InDelta(t, 0.5*(2*r*r-1), phase.Values()[k], 1e-12)
	}

	zero, err := basis.Synthesize(make([]float64, 4))
	require.NoError(t, err)
	assert.Zero(t, zero.RMS())

	diff, err := phase.Sub(zero)
	require.NoError(t, err)
	assert.InDelta(t, phase.RMS(), diff.RMS(), 1e-15)
	assert.Greater(t, phase.RMS(), 0.0)

	_, err = basis.Synthesize([]float64{1, 2})
	assert.ErrorIs(t, err, ErrConfig)

	other := NewPhaseMap(NewPupilGrid(16))
	_, err = phase.Sub(other)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPrecomputeDefocusDeterministic(t *testing.T) {
	cfg := testConfig()
	grid := NewPupilGrid(cfg.PupilSamples)

	a, err := PrecomputeDefocus(cfg, grid)
	require.NoError(t, err)
	b, err := PrecomputeDefocus(cfg, grid)
	require.NoError(t, err)

	require.Equal(t, cfg.FocusPlanes, a.Len())
	for p := 0; p < a.Len(); p++ {
		assert.Equal(t, a.Offset(p), b.Offset(p))
		assert.Equal(t, a.Waves(p), b.Waves(p))
		assert.Equal(t, a.Phase(p), b.Phase(p), "plane %d", p)
	}

	assert.InDelta(t, 0.05/(8*16*0.55e-3), a.Waves(2), 1e-12)
	assert.Equal(t, -a.Waves(0), a.Waves(2))
	for _, v := range a.Phase(1) {
		require.Zero(t, v)
	}
}

func TestPrecomputeDefocusSharesEqualOffsets(t *testing.T) {
	cfg := testConfig()
	cfg.FocusOffsets = []float64{0.02, 0.02, -0.02}
	grid := NewPupilGrid(cfg.PupilSamples)

	set, err := PrecomputeDefocus(cfg, grid)
	require.NoError(t, err)
	assert.Same(t, &set.Phase(0)[0], &set.Phase(1)[0])
	assert.NotSame(t, &set.Phase(0)[0], &set.Phase(2)[0])

	clone := set.Clone()
	assert.Same(t, &clone.Phase(0)[0], &clone.Phase(1)[0])
	assert.NotSame(t, &set.Phase(0)[0], &clone.Phase(0)[0])
	assert.Equal(t, set.Phase(2), clone.Phase(2))

	_, err = PrecomputeDefocus(cfg, NewPupilGrid(16))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestDiffractionLimitedMTF(t *testing.T) {
	cfg := testConfig()
	cfg.Frequencies = []float64{100, 200, 300, 400, 500}
	dl := DiffractionLimitedMTF(cfg)

	require.Len(t, dl, 5)
	for i := 1; i < 4; i++ {
		assert.Less(t, dl[i], dl[i-1])
	}
	assert.Zero(t, dl[4], "beyond cutoff")

	s := 100 / cfg.Cutoff()
	want := 2 / math.Pi * (math.Acos(s) - s*math.Sqrt(1-s*s))
	assert.InDelta(t, want, dl[0], 1e-15)
}
