package fit

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/mtfphase/internal/optics"
)

func testPhase(t *testing.T, shared *SharedState, coeffs []float64) *optics.PhaseMap {
	t.Helper()
	basis, err := optics.NewBasis(optics.RingW1, shared.Grid, false)
	if err != nil {
		t.Fatal(err)
	}
	phase, err := basis.Synthesize(coeffs)
	if err != nil {
		t.Fatal(err)
	}
	return phase
}

func TestPoolPlaneOrderInvariance(t *testing.T) {
	cfg := smallConfig()
	cfg.FocusPlanes = 5
	f := newFixture(t, cfg, optics.RingW1, make([]float64, 4), 0)
	phase := testPhase(t, f.shared, []float64{0.03, 0.04, 0, 0})

	want, err := f.pool.Realize(context.Background(), phase)
	if err != nil {
		t.Fatal(err)
	}

	pool, err := NewPool(f.shared, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	// Later planes finish first
	pool.planeHook = func(_, plane int) {
		time.Sleep(time.Duration(cfg.FocusPlanes-plane) * 15 * time.Millisecond)
		mu.Lock()
		order = append(order, plane)
		mu.Unlock()
	}

	got, err := pool.Realize(context.Background(), phase)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Error("Pool results differ from serial results")
	}

	mu.Lock()
	defer mu.Unlock()
	if reflect.DeepEqual(order, []int{0, 1, 2, 3, 4}) {
		t.Logf("Completion order happened to be sequential: %v", order)
	}
}

func TestPoolReplicaIsolation(t *testing.T) {
	f := newFixture(t, smallConfig(), optics.RingW1, make([]float64, 4), 2)
	phase := testPhase(t, f.shared, []float64{0.02, 0, 0, 0})

	before, err := f.pool.Realize(context.Background(), phase)
	if err != nil {
		t.Fatal(err)
	}

	// Scribbling over the shared state must not reach the workers
	f.shared.Config.Frequencies[3] = 1e6
	f.shared.Defocus.Phase(0)[f.shared.Grid.Aperture()[0]] = 42

	after, err := f.pool.Realize(context.Background(), phase)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("Worker results changed after mutating the shared state")
	}
}

func TestReplicateDeepCopies(t *testing.T) {
	f := newFixture(t, smallConfig(), optics.RingW1, make([]float64, 4), 0)
	r := f.shared.replicate()

	if &r.Defocus.Phase(0)[0] == &f.shared.Defocus.Phase(0)[0] {
		t.Error("Replica shares defocus memory")
	}
	if &r.Truth.Tan[0][0] == &f.shared.Truth.Tan[0][0] {
		t.Error("Replica shares truth memory")
	}
	if &r.Config.Frequencies[0] == &f.shared.Config.Frequencies[0] {
		t.Error("Replica shares frequency memory")
	}
	if !reflect.DeepEqual(r.Defocus.Phase(2), f.shared.Defocus.Phase(2)) {
		t.Error("Replica defocus differs from the original")
	}
}

func TestPoolWorkerPanic(t *testing.T) {
	for _, workers := range []int{0, 2} {
		f := newFixture(t, smallConfig(), optics.RingW1, make([]float64, 4), workers)
		f.pool.planeHook = func(_, plane int) {
			if plane == 1 {
				panic("engine exploded")
			}
		}

		_, err := f.eval.Cost(context.Background(), make([]float64, 4))
		if !errors.Is(err, ErrWorker) {
			t.Errorf("workers=%d: expected ErrWorker, got %v", workers, err)
		}
	}
}

func TestPoolDeadline(t *testing.T) {
	f := newFixture(t, smallConfig(), optics.RingW1, make([]float64, 4), 2)
	f.pool.planeHook = func(_, _ int) { time.Sleep(200 * time.Millisecond) }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.pool.Realize(ctx, testPhase(t, f.shared, make([]float64, 4)))
	if !errors.Is(err, ErrWorker) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected ErrWorker wrapping DeadlineExceeded, got %v", err)
	}
}

func TestPoolClosed(t *testing.T) {
	f := newFixture(t, smallConfig(), optics.RingW1, make([]float64, 4), 2)
	if err := f.pool.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.pool.Close(); err != nil {
		t.Fatal("second Close failed")
	}
	_, err := f.pool.Realize(context.Background(), testPhase(t, f.shared, make([]float64, 4)))
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Expected ErrPoolClosed, got %v", err)
	}
	if summaryValue(f.metrics, "mtfphase_pool_workers") != 0 {
		t.Error("Workers still counted after Close")
	}
}

func TestNewPoolNegativeSize(t *testing.T) {
	f := newFixture(t, smallConfig(), optics.RingW1, make([]float64, 4), 0)
	if _, err := NewPool(f.shared, -1, nil); !errors.Is(err, optics.ErrConfig) {
		t.Fatalf("Expected ErrConfig, got %v", err)
	}
}
