package mtfdata

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/optics"
)

const sample = `field,focus,freq,azimuth,mtf
0,0.1,20,S,0.55
0,-0.1,10,T,0.80
0,-0.1,10,S,0.81
0,-0.1,20,Tan,0.60
0,-0.1,20,sagittal,0.61
0,0.1,10,T,0.70
0,0.1,10,S,0.71
0,0.1,20,T,0.50
5,0.1,20,T,0.10
`

func TestAxial(t *testing.T) {
	rows, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, rows, 9)

	tf, err := Axial(rows)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.1, 0.1}, tf.Focus)
	assert.Equal(t, []float64{10, 20}, tf.Frequencies)
	assert.Equal(t, [][]float64{{0.80, 0.60}, {0.70, 0.50}}, tf.Truth.Tan)
	assert.Equal(t, [][]float64{{0.81, 0.61}, {0.71, 0.55}}, tf.Truth.Sag)

	var cfg optics.Config
	tf.Apply(&cfg)
	assert.Equal(t, 2, cfg.FocusPlanes)
	assert.Equal(t, tf.Focus, cfg.FocusOffsets)
	assert.Equal(t, tf.Frequencies, cfg.Frequencies)
}

func TestAxialErrors(t *testing.T) {
	missing := "field,focus,freq,azimuth,mtf\n0,0,10,T,0.5\n0,0,20,T,0.4\n0,0,20,S,0.4\n"
	rows, err := Read(strings.NewReader(missing))
	require.NoError(t, err)
	_, err = Axial(rows)
	assert.ErrorIs(t, err, optics.ErrConfig)

	dup := "field,focus,freq,azimuth,mtf\n0,0,10,T,0.5\n0,0,10,T,0.4\n"
	rows, err = Read(strings.NewReader(dup))
	require.NoError(t, err)
	_, err = Axial(rows)
	assert.ErrorContains(t, err, "duplicate")

	bad := "field,focus,freq,azimuth,mtf\n0,0,10,X,0.5\n"
	rows, err = Read(strings.NewReader(bad))
	require.NoError(t, err)
	_, err = Axial(rows)
	assert.ErrorContains(t, err, "azimuth")

	_, err = Axial(nil)
	assert.ErrorIs(t, err, optics.ErrConfig)
}

func TestWriteThenAxial(t *testing.T) {
	truth := fit.TruthData{
		Tan: [][]float64{{0.9, 0.7}, {0.8, 0.6}, {0.9, 0.7}},
		Sag: [][]float64{{0.9, 0.6}, {0.8, 0.5}, {0.9, 0.6}},
	}
	focus := []float64{-0.5, 0, 0.5}
	freqs := []float64{10, 20}

	rows, err := FromTruth(focus, freqs, truth)
	require.NoError(t, err)
	require.Len(t, rows, 12)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "field,focus,freq,azimuth,mtf"))

	back, err := Read(&buf)
	require.NoError(t, err)
	tf, err := Axial(back)
	require.NoError(t, err)
	assert.Equal(t, focus, tf.Focus)
	assert.Equal(t, truth, tf.Truth)

	_, err = FromTruth(focus[:2], freqs, truth)
	assert.ErrorIs(t, err, optics.ErrConfig)
}

func TestFileRoundTrip(t *testing.T) {
	path := t.TempDir() + "/truth.csv"
	rows := []Row{{Focus: 0, Freq: 10, Azimuth: Tangential, MTF: 0.5}}
	require.NoError(t, WriteFile(path, rows))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	_, err = ReadFile(t.TempDir() + "/missing.csv")
	assert.Error(t, err)
}
