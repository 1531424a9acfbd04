package opt

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrStopped is returned by an iteration callback to end the search early.
// Optimizers treat it as a graceful stop, not a failure.
var ErrStopped = errors.New("optimization stopped")

// Func evaluates the objective at x. A non-nil error aborts the search.
type Func func(x []float64) (float64, error)

// Iteration describes one completed optimizer iteration.
type Iteration struct {
	Index int       // 1-based
	X     []float64 // private copy, safe to retain
	Cost  float64
}

// Problem is a bounded minimization problem.
type Problem struct {
	Func          Func
	X0            []float64
	Bounds        *Bounds // nil means unbounded
	MaxIterations int
	Tolerance     float64

	// OnIteration is called after every completed iteration. Returning
	// ErrStopped ends the search gracefully; any other error aborts it.
	OnIteration func(Iteration) error

	// Diagnostics receives one "At iterate" progress line per iteration.
	Diagnostics io.Writer
}

func (p Problem) validate() error {
	if p.Func == nil {
		return errors.New("problem has no objective")
	}
	if len(p.X0) == 0 {
		return errors.New("problem has an empty starting point")
	}
	if p.Bounds != nil {
		if err := p.Bounds.Validate(len(p.X0)); err != nil {
			return err
		}
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("negative iteration budget %d", p.MaxIterations)
	}
	return nil
}

func (p Problem) diagnostics() io.Writer {
	if p.Diagnostics == nil {
		return io.Discard
	}
	return p.Diagnostics
}

// Outcome is the final state of a search. Non-convergence is reported
// through Converged, not as an error.
type Outcome struct {
	X           []float64
	Cost        float64
	Iterations  int
	Evaluations int
	Converged   bool
	Status      string
}

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Name identifies the method in logs and result records.
	Name() string
	// Minimize runs the search until convergence, budget exhaustion,
	// a stop request, or ctx cancellation.
	Minimize(ctx context.Context, p Problem) (Outcome, error)
}

// New returns the optimizer registered under name.
func New(name string, seed int64) (Optimizer, error) {
	switch name {
	case "", "lbfgs", "l-bfgs":
		return NewLBFGS(), nil
	case "mayfly":
		return NewMayfly(20, seed), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}
