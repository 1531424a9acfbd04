package fit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/mtfphase/internal/opt"
	"github.com/cwbudde/mtfphase/internal/optics"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

// RunOptions controls one retrieval.
type RunOptions struct {
	InitialGuess      []float64 // nil means all zeros
	MaxIterations     int
	Tolerance         float64
	Bounds            *opt.Bounds
	TruthCoefficients []float64 // known answer, for residual reporting
	Convergence       ConvergenceConfig

	// OnIteration sees every trace entry as it is recorded, seed included.
	OnIteration func(TraceEntry)

	Metrics *telemetry.Metrics
}

// Result holds the output of a retrieval run
type Result struct {
	Ring              optics.DecoderRing `json:"ring"`
	Optimizer         string             `json:"optimizer"`
	Coefficients      [][]float64        `json:"coefficients"`    // per trace entry
	Costs             []float64          `json:"costs"`           // per trace entry
	CostByIteration   []float64          `json:"costByIteration"` // seed, then parsed diagnostics
	ResidualRMS       []float64          `json:"residualRms"`     // per trace entry, waves
	TruthCoefficients []float64          `json:"truthCoefficients,omitempty"`
	TruthRMS          *float64           `json:"truthRms,omitempty"`
	Final             []float64          `json:"final"`
	FinalCost         float64            `json:"finalCost"`
	InitialCost       float64            `json:"initialCost"`
	Iterations        int                `json:"iterations"`
	Evaluations       int                `json:"evaluations"`
	Status            string             `json:"status"`
	Converged         bool               `json:"converged"`
	Elapsed           time.Duration      `json:"elapsed"`

	Trace []TraceEntry `json:"-"`
}

// Decoded pairs the final coefficients with their mode names.
func (r *Result) Decoded() map[string]float64 {
	m, err := r.Ring.Decode(r.Final)
	if err != nil {
		return nil
	}
	return m
}

// Retrieve minimizes obj from the initial guess and returns the best trace
// entry as the final vector. Non-convergence is not an error. When an
// evaluation fails the partial result, with the trace up to the failure, is
// returned together with the error; the trace is empty if the seed itself
// failed.
func Retrieve(ctx context.Context, obj Objective, optimizer opt.Optimizer, opts RunOptions) (*Result, error) {
	ring := obj.Ring()
	dim := ring.Len()

	guess := opts.InitialGuess
	if guess == nil {
		guess = make([]float64, dim)
	}
	if len(guess) != dim {
		return nil, optics.NewConfigError("initialGuess", "have %d coefficients, decoder ring has %d", len(guess), dim)
	}
	if opts.Bounds != nil {
		if err := opts.Bounds.Validate(dim); err != nil {
			return nil, optics.NewConfigError("bounds", "%v", err)
		}
	}
	if opts.TruthCoefficients != nil && len(opts.TruthCoefficients) != dim {
		return nil, optics.NewConfigError("truthCoefficients", "have %d coefficients, decoder ring has %d", len(opts.TruthCoefficients), dim)
	}
	guess = opts.Bounds.Project(guess)

	slog.Info("Starting retrieval",
		"optimizer", optimizer.Name(),
		"modes", dim,
		"max_iterations", opts.MaxIterations,
		"tolerance", opts.Tolerance,
	)

	trace := &CostTrace{}
	tracker := NewConvergenceTracker(opts.Convergence)
	record := func(iteration int, x []float64, cost float64) error {
		e, err := trace.Append(iteration, x, cost)
		if err != nil {
			return err
		}
		if opts.OnIteration != nil {
			opts.OnIteration(e)
		}
		if tracker.Update(cost) {
			return opt.ErrStopped
		}
		return nil
	}

	start := time.Now()
	initialCost, err := obj.Cost(ctx, guess)
	if err != nil {
		trace.Close()
		return &Result{
			Ring:              ring,
			Optimizer:         optimizer.Name(),
			TruthCoefficients: opts.TruthCoefficients,
			Evaluations:       1,
			Status:            "Failure",
			Elapsed:           time.Since(start),
			Trace:             trace.Entries(),
		}, fmt.Errorf("initial evaluation: %w", err)
	}
	opts.Metrics.ObserveCost(initialCost)
	if err := record(0, guess, initialCost); err != nil && !errors.Is(err, opt.ErrStopped) {
		return nil, err
	}

	var diag bytes.Buffer
	problem := opt.Problem{
		Func: func(x []float64) (float64, error) {
			return obj.Cost(ctx, x)
		},
		X0:            guess,
		Bounds:        opts.Bounds,
		MaxIterations: opts.MaxIterations,
		Tolerance:     opts.Tolerance,
		Diagnostics:   &diag,
		OnIteration: func(it opt.Iteration) error {
			opts.Metrics.IterationDone(it.Cost)
			slog.Debug("Iteration complete", "iteration", it.Index, "cost", it.Cost)
			return record(it.Index, it.X, it.Cost)
		},
	}

	out, runErr := optimizer.Minimize(ctx, problem)
	elapsed := time.Since(start)
	trace.Close()

	res := &Result{
		Ring:              ring,
		Optimizer:         optimizer.Name(),
		TruthCoefficients: opts.TruthCoefficients,
		InitialCost:       initialCost,
		Evaluations:       out.Evaluations + 1,
		Status:            out.Status,
		Converged:         out.Converged && runErr == nil,
		Elapsed:           elapsed,
		Trace:             trace.Entries(),
	}
	res.CostByIteration = append([]float64{initialCost}, opt.ParseCostByIteration(diag.String())...)
	for _, e := range res.Trace {
		res.Coefficients = append(res.Coefficients, e.Coefficients)
		res.Costs = append(res.Costs, e.Cost)
	}
	res.Iterations = len(res.Trace) - 1

	best := bestEntry(res.Trace)
	res.Final, res.FinalCost = best.Coefficients, best.Cost
	if len(out.X) == dim && runErr == nil && out.Cost < best.Cost {
		res.Final, res.FinalCost = append([]float64(nil), out.X...), out.Cost
	}

	if err := res.computeResiduals(obj); err != nil {
		return res, err
	}

	if runErr != nil {
		res.Status = "Failure"
		slog.Error("Retrieval aborted",
			"iterations", res.Iterations,
			"error", runErr,
		)
		return res, fmt.Errorf("retrieval aborted after %d iterations: %w", res.Iterations, runErr)
	}

	slog.Info("Retrieval complete",
		"initial_cost", initialCost,
		"final_cost", res.FinalCost,
		"iterations", res.Iterations,
		"evaluations", res.Evaluations,
		"converged", res.Converged,
		"status", res.Status,
		"elapsed", elapsed,
	)
	return res, nil
}

// bestEntry returns the lowest-cost entry, the earliest on ties. The trace
// always holds the seed.
func bestEntry(trace []TraceEntry) TraceEntry {
	best := trace[0]
	for _, e := range trace[1:] {
		if e.Cost < best.Cost {
			best = e
		}
	}
	return best
}

// computeResiduals measures the RMS wavefront error of every trace entry
// against the truth coefficients, or the final vector when truth is unknown.
func (r *Result) computeResiduals(obj Objective) error {
	ref := r.Final
	if r.TruthCoefficients != nil {
		ref = r.TruthCoefficients
		rms, err := obj.WavefrontRMS(ref)
		if err != nil {
			return err
		}
		r.TruthRMS = &rms
	}

	r.ResidualRMS = make([]float64, len(r.Coefficients))
	diff := make([]float64, len(ref))
	for i, c := range r.Coefficients {
		for j := range diff {
			diff[j] = c[j] - ref[j]
		}
		rms, err := obj.WavefrontRMS(diff)
		if err != nil {
			return err
		}
		r.ResidualRMS[i] = rms
	}
	return nil
}
