package store

import (
	"testing"
	"time"

	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/optics"
)

func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

func createTestResult() *fit.Result {
	return &fit.Result{
		Ring:            optics.RingW1,
		Optimizer:       "lbfgs",
		Coefficients:    [][]float64{{0, 0, 0, 0}, {0, 0.08, 0, 0}, {0, 0.1, 0, 0}},
		Costs:           []float64{0.42, 0.01, 1e-9},
		CostByIteration: []float64{0.42, 0.01, 1e-9},
		ResidualRMS:     []float64{0.1, 0.02, 0},
		Final:           []float64{0, 0.1, 0, 0},
		FinalCost:       1e-9,
		InitialCost:     0.42,
		Iterations:      2,
		Evaluations:     31,
		Status:          "GradientThreshold",
		Converged:       true,
		Elapsed:         1500 * time.Millisecond,
		Trace: []fit.TraceEntry{
			{Iteration: 0, Coefficients: []float64{0, 0, 0, 0}, Cost: 0.42},
			{Iteration: 1, Coefficients: []float64{0, 0.08, 0, 0}, Cost: 0.01},
			{Iteration: 2, Coefficients: []float64{0, 0.1, 0, 0}, Cost: 1e-9},
		},
	}
}

func createTestRecord(runID string) *Record {
	return NewRecord(runID, RunConfig{
		TruthSource:   "simulated",
		EFL:           100,
		FNumber:       4,
		Wavelength:    0.55,
		FocusOffsets:  []float64{-0.5, 0, 0.5},
		Frequencies:   []float64{10, 20, 30},
		PupilSamples:  128,
		AxisMode:      "axis",
		Optimizer:     "lbfgs",
		MaxIterations: 50,
		Workers:       3,
		Seed:          42,
	}, createTestResult(), nil)
}
