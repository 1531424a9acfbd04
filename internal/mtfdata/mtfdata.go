// Package mtfdata reads and writes through-focus MTF measurements as CSV.
//
// Each row is one sample: field height, image-plane focus offset (mm),
// spatial frequency (cy/mm), azimuth, and MTF value. Only on-axis rows
// (field 0) feed a retrieval.
package mtfdata

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/optics"
)

// Row is one CSV record.
type Row struct {
	Field   float64 `csv:"field"`
	Focus   float64 `csv:"focus"`
	Freq    float64 `csv:"freq"`
	Azimuth string  `csv:"azimuth"`
	MTF     float64 `csv:"mtf"`
}

// Azimuth labels written by this package.
const (
	Tangential = "T"
	Sagittal   = "S"
)

// ThroughFocus is the axial truth extracted from a set of rows.
type ThroughFocus struct {
	Focus       []float64 // plane offsets, ascending
	Frequencies []float64 // ascending
	Truth       fit.TruthData
}

// Read parses CSV rows with a header line.
func Read(r io.Reader) ([]Row, error) {
	var rows []Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing mtf csv: %w", err)
	}
	return rows, nil
}

// ReadFile is Read on a file path.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mtf csv: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write emits rows with a header line.
func Write(w io.Writer, rows []Row) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing mtf csv: %w", err)
	}
	return nil
}

// WriteFile is Write to a new file at path.
func WriteFile(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating mtf csv: %w", err)
	}
	if err := Write(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseAzimuth(s string) (tangential bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "tan", "tangential", "0":
		return true, nil
	case "s", "sag", "sagittal", "90":
		return false, nil
	default:
		return false, fmt.Errorf("unknown azimuth %q", s)
	}
}

type sampleKey struct {
	focus, freq float64
	tan         bool
}

// Axial extracts on-axis rows into a complete focus × frequency grid for
// both azimuths. Missing or duplicated samples are errors.
func Axial(rows []Row) (*ThroughFocus, error) {
	samples := make(map[sampleKey]float64)
	focusSet := make(map[float64]bool)
	freqSet := make(map[float64]bool)

	for i, r := range rows {
		if r.Field != 0 {
			continue
		}
		tan, err := parseAzimuth(r.Azimuth)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		k := sampleKey{focus: r.Focus, freq: r.Freq, tan: tan}
		if _, dup := samples[k]; dup {
			return nil, fmt.Errorf("row %d: duplicate sample at focus %v, freq %v", i+1, r.Focus, r.Freq)
		}
		samples[k] = r.MTF
		focusSet[r.Focus] = true
		freqSet[r.Freq] = true
	}
	if len(samples) == 0 {
		return nil, optics.NewConfigError("truth", "no on-axis rows")
	}

	tf := &ThroughFocus{
		Focus:       sortedKeys(focusSet),
		Frequencies: sortedKeys(freqSet),
	}
	planes := len(tf.Focus)
	tf.Truth = fit.TruthData{
		Tan: make([][]float64, planes),
		Sag: make([][]float64, planes),
	}
	for p, focus := range tf.Focus {
		tf.Truth.Tan[p] = make([]float64, len(tf.Frequencies))
		tf.Truth.Sag[p] = make([]float64, len(tf.Frequencies))
		for i, freq := range tf.Frequencies {
			t, okT := samples[sampleKey{focus, freq, true}]
			s, okS := samples[sampleKey{focus, freq, false}]
			if !okT || !okS {
				return nil, optics.NewConfigError("truth", "missing sample at focus %v, freq %v", focus, freq)
			}
			tf.Truth.Tan[p][i] = t
			tf.Truth.Sag[p][i] = s
		}
	}
	return tf, nil
}

// Apply copies the measurement geometry into cfg.
func (tf *ThroughFocus) Apply(cfg *optics.Config) {
	cfg.FocusPlanes = len(tf.Focus)
	cfg.FocusOffsets = append([]float64(nil), tf.Focus...)
	cfg.Frequencies = append([]float64(nil), tf.Frequencies...)
}

// FromTruth flattens truth data into on-axis rows.
func FromTruth(focus, freqs []float64, truth fit.TruthData) ([]Row, error) {
	if err := truth.Validate(len(focus), len(freqs)); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, 2*len(focus)*len(freqs))
	for p, z := range focus {
		for i, nu := range freqs {
			rows = append(rows,
				Row{Focus: z, Freq: nu, Azimuth: Tangential, MTF: truth.Tan[p][i]},
				Row{Focus: z, Freq: nu, Azimuth: Sagittal, MTF: truth.Sag[p][i]},
			)
		}
	}
	return rows, nil
}

func sortedKeys(set map[float64]bool) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}
