package fit

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwbudde/mtfphase/internal/optics"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

// Objective is what the optimization driver minimizes.
type Objective interface {
	// Cost evaluates a coefficient vector.
	Cost(ctx context.Context, coeffs []float64) (float64, error)
	// Ring returns the decoder ring fixing the coefficient layout.
	Ring() optics.DecoderRing
	// WavefrontRMS is the piston-removed RMS of the synthesized wavefront.
	WavefrontRMS(coeffs []float64) (float64, error)
}

// PlaneEvaluation is the model and cost of one focus plane.
type PlaneEvaluation struct {
	Offset float64
	Model  optics.MTFSample
	Cost   float64 // raw, before normalization
}

// Evaluation is the full result of one cost evaluation.
type Evaluation struct {
	Cost   float64 // normalized
	Raw    float64
	Planes []PlaneEvaluation
}

// Evaluator computes the through-focus MTF cost of coefficient vectors.
// Calls must not overlap; the optimizer evaluates strictly in sequence.
type Evaluator struct {
	shared  *SharedState
	basis   *optics.Basis
	pool    *Pool
	chain   costChain
	metrics *telemetry.Metrics
}

// NewEvaluator binds a decoder ring and pool to the shared state.
// All sampling and length mismatches are reported here, before any
// evaluation runs.
func NewEvaluator(shared *SharedState, ring optics.DecoderRing, pool *Pool, opts CostOptions, metrics *telemetry.Metrics) (*Evaluator, error) {
	if pool == nil {
		return nil, optics.NewConfigError("workers", "evaluator needs a pool")
	}
	basis, err := optics.NewBasis(ring, shared.Grid, shared.Config.RMSNorm)
	if err != nil {
		return nil, err
	}
	if basis.Samples() != shared.Config.PupilSamples || pool.Samples() != shared.Config.PupilSamples {
		return nil, optics.NewConfigError("pupilSamples", "basis %d, pool %d, config %d",
			basis.Samples(), pool.Samples(), shared.Config.PupilSamples)
	}
	if pool.Planes() != shared.Planes() || shared.Truth.Planes() != shared.Planes() {
		return nil, optics.NewConfigError("focusPlanes", "pool %d, truth %d, defocus %d",
			pool.Planes(), shared.Truth.Planes(), shared.Planes())
	}
	chain, err := opts.resolve(len(shared.Config.Frequencies))
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		shared:  shared,
		basis:   basis,
		pool:    pool,
		chain:   chain,
		metrics: metrics,
	}, nil
}

// Ring returns the decoder ring.
func (e *Evaluator) Ring() optics.DecoderRing {
	return e.basis.Ring()
}

// Dim returns the coefficient vector length.
func (e *Evaluator) Dim() int {
	return e.basis.Ring().Len()
}

// Cost returns the normalized cost of coeffs.
func (e *Evaluator) Cost(ctx context.Context, coeffs []float64) (float64, error) {
	ev, err := e.Evaluate(ctx, coeffs)
	if err != nil {
		return 0, err
	}
	return ev.Cost, nil
}

// Evaluate synthesizes the wavefront once, realizes every plane, and
// reduces the per-plane differences in plane order.
func (e *Evaluator) Evaluate(ctx context.Context, coeffs []float64) (*Evaluation, error) {
	ev, err := e.evaluate(ctx, coeffs)
	if err != nil {
		e.metrics.EvaluationFailed(failureReason(err))
		return nil, err
	}
	e.metrics.EvaluationDone()
	return ev, nil
}

func (e *Evaluator) evaluate(ctx context.Context, coeffs []float64) (*Evaluation, error) {
	phase, err := e.basis.Synthesize(coeffs)
	if err != nil {
		return nil, err
	}
	models, err := e.pool.Realize(ctx, phase)
	if err != nil {
		return nil, err
	}

	truth := e.shared.Truth
	ev := &Evaluation{Planes: make([]PlaneEvaluation, len(models))}
	for p, m := range models {
		c := e.chain.planeCost(truth.Tan[p], truth.Sag[p], m, e.shared.Diffraction)
		ev.Planes[p] = PlaneEvaluation{Offset: e.shared.Defocus.Offset(p), Model: m, Cost: c}
		ev.Raw += c
	}
	ev.Cost = NormalizeCost(ev.Raw, e.shared.Config.FrequencySpacing(), len(models))
	if err := checkFinite(ev.Cost); err != nil {
		return nil, err
	}
	return ev, nil
}

// WavefrontRMS synthesizes coeffs and returns the piston-removed RMS in waves.
func (e *Evaluator) WavefrontRMS(coeffs []float64) (float64, error) {
	phase, err := e.basis.Synthesize(coeffs)
	if err != nil {
		return 0, err
	}
	return phase.RMS(), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, optics.ErrNonFinite):
		return telemetry.ReasonNonFinite
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return telemetry.ReasonCanceled
	case errors.Is(err, ErrWorker), errors.Is(err, ErrPoolClosed):
		return telemetry.ReasonWorker
	case errors.Is(err, optics.ErrConfig):
		return telemetry.ReasonConfig
	default:
		return telemetry.ReasonOther
	}
}

// String summarizes the evaluator setup for logs.
func (e *Evaluator) String() string {
	return fmt.Sprintf("ring=%d modes, planes=%d, workers=%d", e.Dim(), e.shared.Planes(), e.pool.Size())
}
