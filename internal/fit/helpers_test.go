package fit

import (
	"testing"

	"github.com/cwbudde/mtfphase/internal/optics"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

// smallConfig keeps the defocus under one wave so N=32 samples the pupil
// phase without aliasing.
func smallConfig() optics.Config {
	return optics.Config{
		EFL:          100,
		FNumber:      4,
		Wavelength:   0.55,
		FocusPlanes:  3,
		FocusRange:   0.05,
		Frequencies:  []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		PupilSamples: 32,
	}
}

type fixture struct {
	shared  *SharedState
	pool    *Pool
	eval    *Evaluator
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, cfg optics.Config, ring optics.DecoderRing, truthCoeffs []float64, workers int) *fixture {
	t.Helper()
	truth, _, err := SimulateTruth(cfg, ring, truthCoeffs, optics.AxisTS)
	if err != nil {
		t.Fatalf("SimulateTruth: %v", err)
	}
	shared, err := NewSharedState(cfg, truth, optics.AxisTS)
	if err != nil {
		t.Fatalf("NewSharedState: %v", err)
	}
	metrics := telemetry.New()
	pool, err := NewPool(shared, workers, metrics)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	eval, err := NewEvaluator(shared, ring, pool, DefaultCostOptions(), metrics)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return &fixture{shared: shared, pool: pool, eval: eval, metrics: metrics}
}

func summaryValue(m *telemetry.Metrics, key string) float64 {
	kv := m.Summary()
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			v, _ := kv[i+1].(float64)
			return v
		}
	}
	return 0
}
