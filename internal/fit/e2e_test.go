package fit

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/mtfphase/internal/opt"
	"github.com/cwbudde/mtfphase/internal/optics"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

func referenceConfig() optics.Config {
	freqs := make([]float64, 10)
	for i := range freqs {
		freqs[i] = float64(10 * (i + 1))
	}
	return optics.Config{
		EFL:          100,
		FNumber:      4,
		Wavelength:   0.55,
		FocusPlanes:  3,
		FocusRange:   0.5,
		Frequencies:  freqs,
		PupilSamples: 128,
	}
}

func TestEndToEndDiffractionLimited(t *testing.T) {
	if testing.Short() {
		t.Skip("propagates 256x256 grids")
	}
	cfg := referenceConfig()
	truth, err := DiffractionLimitedTruth(cfg, optics.AxisTS)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := NewSharedState(cfg, truth, optics.AxisTS)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := NewPool(shared, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	eval, err := NewEvaluator(shared, optics.RingW1, pool, DefaultCostOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := eval.Evaluate(context.Background(), make([]float64, optics.RingW1.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Raw != 0 {
		t.Errorf("Raw cost at zero guess against diffraction-limited truth = %g, want 0", ev.Raw)
	}
}

func TestEndToEndSphericalRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full retrieval at N=128")
	}
	cfg := referenceConfig()
	ring := optics.MustDecoderRing("Z9")
	want := []float64{0.1}

	truth, _, err := SimulateTruth(cfg, ring, want, optics.AxisTS)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := NewSharedState(cfg, truth, optics.AxisTS)
	if err != nil {
		t.Fatal(err)
	}
	metrics := telemetry.New()
	pool, err := NewPool(shared, 3, metrics)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	eval, err := NewEvaluator(shared, ring, pool, DefaultCostOptions(), metrics)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Retrieve(context.Background(), eval, opt.NewLBFGS(), RunOptions{
		MaxIterations:     50,
		Tolerance:         1e-14,
		TruthCoefficients: want,
		Convergence:       DisabledConvergenceConfig(),
		Metrics:           metrics,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if res.FinalCost >= 1e-6 {
		t.Errorf("Final cost %g, want < 1e-6", res.FinalCost)
	}
	if math.Abs(res.Final[0]-want[0]) > 1e-3 {
		t.Errorf("Recovered Z9 = %g, want %g", res.Final[0], want[0])
	}
	if res.Iterations > 50 {
		t.Errorf("Used %d iterations", res.Iterations)
	}
	if res.ResidualRMS[0] <= res.ResidualRMS[len(res.ResidualRMS)-1] {
		t.Errorf("Residual did not shrink: %v", res.ResidualRMS)
	}
	if summaryValue(metrics, "mtfphase_cost_evaluations_total") < float64(res.Iterations) {
		t.Error("Evaluation counter below iteration count")
	}
}
