package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// DefaultMayflySpan is the coefficient range searched when a problem has no
// bounds, in waves.
const DefaultMayflySpan = 1.0

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	popSize int
	seed    int64
}

// NewMayfly creates a new Mayfly optimizer adapter. popSize must be at
// least 20 for mayfly v0.1.0.
func NewMayfly(popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		popSize: max(popSize, 20),
		seed:    seed,
	}
}

func (m *MayflyAdapter) Name() string {
	return "mayfly"
}

// Minimize runs the population search. An iteration is reported each time
// the best-so-far cost improves, the starting point being the first best.
// Mayfly cannot be interrupted, so after a stop request or an evaluation
// failure the remaining evaluations return +Inf without calling p.Func.
func (m *MayflyAdapter) Minimize(ctx context.Context, p Problem) (Outcome, error) {
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}
	dim := len(p.X0)

	// External library uses scalar bounds
	lo, hi := -DefaultMayflySpan, DefaultMayflySpan
	if p.Bounds != nil {
		lo, hi = p.Bounds.Envelope()
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	// The starting point is the best so far until the population beats it
	bestX := p.Bounds.Project(p.X0)
	bestCost, err := p.Func(bestX)
	if err != nil {
		return Outcome{X: bestX, Evaluations: 1, Status: "Failure"}, err
	}

	evals := 1
	var (
		iter int
		halt error
	)
	objective := func(x []float64) float64 {
		if halt != nil {
			return math.Inf(1)
		}
		if err := ctx.Err(); err != nil {
			halt = err
			return math.Inf(1)
		}
		xp := p.Bounds.Project(x)
		v, err := p.Func(xp)
		evals++
		if err != nil {
			halt = err
			return math.Inf(1)
		}
		if v < bestCost {
			bestCost, bestX = v, xp
			iter++
			writeIterate(p.diagnostics(), iter, v, 0)
			if p.OnIteration != nil {
				if err := p.OnIteration(Iteration{Index: iter, X: append([]float64(nil), xp...), Cost: v}); err != nil {
					halt = err
				}
			}
		}
		return v
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = objective
	config.ProblemSize = dim
	config.MaxIterations = max(p.MaxIterations, 1)
	config.NPop = m.popSize
	config.LowerBound = lo
	config.UpperBound = hi
	// Set random seed for reproducibility
	config.Rand = rand.New(rand.NewSource(m.seed))

	_, err = mayfly.Optimize(config)

	out := Outcome{
		X:           bestX,
		Cost:        bestCost,
		Iterations:  iter,
		Evaluations: evals,
		Status:      "IterationLimit",
	}
	switch {
	case halt != nil && errors.Is(halt, ErrStopped):
		out.Converged, out.Status = true, "Stopped"
		return out, nil
	case halt != nil:
		out.Status = "Failure"
		return out, halt
	case err != nil:
		return out, fmt.Errorf("mayfly: %w", err)
	}
	return out, nil
}
