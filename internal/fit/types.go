package fit

import (
	"errors"
	"math"

	"github.com/cwbudde/mtfphase/internal/optics"
)

// TruthData is the measured through-focus MTF, indexed [plane][frequency].
type TruthData struct {
	Tan [][]float64 `json:"tan"`
	Sag [][]float64 `json:"sag"`
}

// Planes returns the number of focus planes in the data.
func (t TruthData) Planes() int {
	return len(t.Tan)
}

// Validate checks the data against the configured planes and frequencies.
func (t TruthData) Validate(planes, freqs int) error {
	if len(t.Tan) != planes || len(t.Sag) != planes {
		return optics.NewConfigError("truth", "have %d/%d planes, config has %d", len(t.Tan), len(t.Sag), planes)
	}
	for p := 0; p < planes; p++ {
		if len(t.Tan[p]) != freqs || len(t.Sag[p]) != freqs {
			return optics.NewConfigError("truth", "plane %d has %d/%d frequencies, config has %d",
				p, len(t.Tan[p]), len(t.Sag[p]), freqs)
		}
		for i := 0; i < freqs; i++ {
			if !finite(t.Tan[p][i]) || !finite(t.Sag[p][i]) {
				return optics.NewConfigError("truth", "plane %d frequency %d is not finite", p, i)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t TruthData) Clone() TruthData {
	return TruthData{Tan: cloneRows(t.Tan), Sag: cloneRows(t.Sag)}
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ErrTraceClosed is returned when appending to a trace after termination.
var ErrTraceClosed = errors.New("cost trace is closed")

// TraceEntry is one observed iteration. Iteration 0 is the initial guess.
type TraceEntry struct {
	Iteration    int       `json:"iteration"`
	Coefficients []float64 `json:"coefficients"`
	Cost         float64   `json:"cost"`
}

// CostTrace is the append-only history of a run. It has a single writer.
type CostTrace struct {
	entries []TraceEntry
	closed  bool
}

// Append records a private copy of coeffs.
func (t *CostTrace) Append(iteration int, coeffs []float64, cost float64) (TraceEntry, error) {
	if t.closed {
		return TraceEntry{}, ErrTraceClosed
	}
	e := TraceEntry{
		Iteration:    iteration,
		Coefficients: append([]float64(nil), coeffs...),
		Cost:         cost,
	}
	t.entries = append(t.entries, e)
	return e, nil
}

// Close ends the trace; later appends fail with ErrTraceClosed.
func (t *CostTrace) Close() {
	t.closed = true
}

// Closed reports whether the trace has been closed.
func (t *CostTrace) Closed() bool {
	return t.closed
}

// Len returns the number of entries.
func (t *CostTrace) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the entries.
func (t *CostTrace) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.entries))
	for i, e := range t.entries {
		e.Coefficients = append([]float64(nil), e.Coefficients...)
		out[i] = e
	}
	return out
}

// Last returns the most recent entry.
func (t *CostTrace) Last() (TraceEntry, bool) {
	if len(t.entries) == 0 {
		return TraceEntry{}, false
	}
	return t.entries[len(t.entries)-1], true
}
