package opt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// LBFGS is a limited-memory quasi-Newton search with a line search and a
// central finite-difference gradient. Bounds are honored by projection.
type LBFGS struct {
	Store              int     // correction pairs kept
	GradientStep       float64 // finite-difference step, in waves
	GradientThreshold  float64
	ConvergeIterations int // stale iterations before function convergence
	MaxEvaluations     int // 0 means unlimited
}

// NewLBFGS returns the default quasi-Newton settings.
func NewLBFGS() *LBFGS {
	return &LBFGS{
		Store:              10,
		GradientStep:       1e-6,
		GradientThreshold:  1e-10,
		ConvergeIterations: 2,
	}
}

func (l *LBFGS) Name() string {
	return "lbfgs"
}

// Minimize runs gonum's L-BFGS on p. Evaluations run strictly one at a time.
func (l *LBFGS) Minimize(ctx context.Context, p Problem) (Outcome, error) {
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}

	var (
		evalErr error
		evals   int
	)
	f := func(x []float64) float64 {
		if evalErr != nil {
			return math.NaN()
		}
		if err := ctx.Err(); err != nil {
			evalErr = err
			return math.NaN()
		}
		v, err := p.Func(p.Bounds.Project(x))
		evals++
		if err != nil {
			evalErr = err
			return math.NaN()
		}
		return v
	}

	step := l.GradientStep
	if step <= 0 {
		step = 1e-6
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central, Step: step})
		},
	}

	rec := &iterRecorder{problem: p, evalErr: &evalErr}
	settings := &optimize.Settings{
		// gonum counts the starting location as the first major iteration
		MajorIterations:   majorIterations(p.MaxIterations),
		GradientThreshold: l.GradientThreshold,
		Converger: &optimize.FunctionConverge{
			Absolute:   p.Tolerance,
			Iterations: max(l.ConvergeIterations, 1),
		},
		Recorder: rec,
	}
	if l.MaxEvaluations > 0 {
		settings.FuncEvaluations = l.MaxEvaluations
	}

	store := l.Store
	if store <= 0 {
		store = 10
	}
	res, err := optimize.Minimize(problem, p.Bounds.Project(p.X0), settings, &optimize.LBFGS{Store: store})

	// The major iteration that terminates the run is not passed to the
	// recorder; report it from the result location.
	var stopErr error
	if res != nil && evalErr == nil && !errors.Is(err, ErrStopped) && res.Stats.MajorIterations-1 > rec.iter {
		stopErr = rec.emit(&res.Location)
	}

	out := Outcome{Evaluations: evals, Iterations: rec.iter}
	if res != nil {
		out.X = p.Bounds.Project(res.X)
		out.Cost = res.F
		out.Status = fmt.Sprint(res.Status)
		out.Converged = converged(res.Status)
	}
	if rec.bestX != nil && (res == nil || math.IsNaN(out.Cost) || rec.bestCost < out.Cost) {
		out.X, out.Cost = rec.bestX, rec.bestCost
	}

	switch {
	case evalErr != nil:
		return out, evalErr
	case stopErr != nil && !errors.Is(stopErr, ErrStopped):
		return out, stopErr
	case errors.Is(err, ErrStopped), errors.Is(stopErr, ErrStopped):
		out.Converged, out.Status = true, "Stopped"
		return out, nil
	case err != nil && res == nil:
		return out, fmt.Errorf("lbfgs: %w", err)
	case err != nil:
		// Line search breakdowns near the optimum end the run without convergence
		slog.Debug("L-BFGS terminated early", "status", out.Status, "error", err)
		out.Converged = false
	}
	return out, nil
}

func majorIterations(budget int) int {
	if budget <= 0 {
		return 0
	}
	return budget + 1
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.MethodConverge, optimize.FunctionConvergence, optimize.GradientThreshold:
		return true
	}
	return false
}

// iterRecorder forwards major iterations to the problem callback and the
// diagnostic stream. The first major iteration gonum sends is the starting
// location and is skipped.
type iterRecorder struct {
	problem  Problem
	evalErr  *error
	started  bool
	iter     int
	bestX    []float64
	bestCost float64
}

func (r *iterRecorder) Init() error {
	return nil
}

func (r *iterRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if *r.evalErr != nil {
		return *r.evalErr
	}
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	if !r.started {
		r.started = true
		return nil
	}
	return r.emit(loc)
}

func (r *iterRecorder) emit(loc *optimize.Location) error {
	r.started = true
	r.iter++
	x := r.problem.Bounds.Project(loc.X)
	if r.bestX == nil || loc.F < r.bestCost {
		r.bestX, r.bestCost = append([]float64(nil), x...), loc.F
	}

	var g float64
	if len(loc.Gradient) > 0 {
		g = floats.Norm(loc.Gradient, math.Inf(1))
	}
	writeIterate(r.problem.diagnostics(), r.iter, loc.F, g)

	if r.problem.OnIteration == nil {
		return nil
	}
	return r.problem.OnIteration(Iteration{Index: r.iter, X: x, Cost: loc.F})
}
