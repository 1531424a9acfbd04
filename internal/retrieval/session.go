// Package retrieval assembles a complete retrieval run from a validated run
// configuration: truth, shared state, worker pool, evaluator and optimizer.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/mtfphase/internal/config"
	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/mtfdata"
	"github.com/cwbudde/mtfphase/internal/opt"
	"github.com/cwbudde/mtfphase/internal/optics"
	"github.com/cwbudde/mtfphase/internal/store"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

// SimulatedSource is the truth source of runs without a measurement file.
const SimulatedSource = "simulated"

// Truth is the measurement a retrieval fits against.
type Truth struct {
	Data         fit.TruthData
	Coefficients []float64 // known answer when simulated, else nil
	Source       string
}

// LoadTruth reads the truth CSV named in cfg, or simulates truth from the
// configured coefficients. A CSV replaces the focus offsets and frequencies
// of cfg with the measured ones.
func LoadTruth(cfg *config.Config) (*Truth, error) {
	ring, err := cfg.DecoderRing()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.AxisMode()
	if err != nil {
		return nil, err
	}

	if path := cfg.Truth.CSV; path != "" {
		rows, err := mtfdata.ReadFile(path)
		if err != nil {
			return nil, err
		}
		tf, err := mtfdata.Axial(rows)
		if err != nil {
			return nil, fmt.Errorf("truth %s: %w", path, err)
		}
		geom := cfg.OpticsConfig()
		tf.Apply(&geom)
		cfg.SetGeometry(geom)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("truth %s: %w", path, err)
		}
		slog.Info("Loaded truth", "path", path, "planes", len(tf.Focus), "frequencies", len(tf.Frequencies))
		return &Truth{Data: tf.Truth, Source: path}, nil
	}

	coeffs, err := cfg.SimulationCoefficients(ring)
	if err != nil {
		return nil, err
	}
	truth, _, err := fit.SimulateTruth(cfg.OpticsConfig(), ring, coeffs, mode)
	if err != nil {
		return nil, fmt.Errorf("simulating truth: %w", err)
	}
	slog.Info("Simulated truth", "coefficients", cfg.Simulation.Coefficients)
	return &Truth{Data: truth, Coefficients: coeffs, Source: SimulatedSource}, nil
}

// Session owns the resources of one retrieval. Close releases the pool.
type Session struct {
	Config    *config.Config
	Truth     *Truth
	Ring      optics.DecoderRing
	Evaluator *fit.Evaluator
	Optimizer opt.Optimizer
	Metrics   *telemetry.Metrics

	pool *fit.Pool
}

// NewSession loads truth and builds the evaluator for cfg. metrics may be
// shared between sessions; nil disables metrics.
func NewSession(cfg *config.Config, metrics *telemetry.Metrics) (*Session, error) {
	truth, err := LoadTruth(cfg)
	if err != nil {
		return nil, err
	}
	ring, err := cfg.DecoderRing()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.AxisMode()
	if err != nil {
		return nil, err
	}
	optimizer, err := cfg.Optimizer()
	if err != nil {
		return nil, err
	}

	shared, err := fit.NewSharedState(cfg.OpticsConfig(), truth.Data, mode)
	if err != nil {
		return nil, err
	}
	pool, err := fit.NewPool(shared, cfg.Retrieval.Workers, metrics)
	if err != nil {
		return nil, err
	}
	evaluator, err := fit.NewEvaluator(shared, ring, pool, cfg.CostOptions(), metrics)
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Evaluator ready", "setup", evaluator.String(), "truth", truth.Source)

	return &Session{
		Config:    cfg,
		Truth:     truth,
		Ring:      ring,
		Evaluator: evaluator,
		Optimizer: optimizer,
		Metrics:   metrics,
		pool:      pool,
	}, nil
}

// Run retrieves the wavefront. The configured timeout, if any, bounds ctx.
// onIteration may be nil.
func (s *Session) Run(ctx context.Context, onIteration func(fit.TraceEntry)) (*fit.Result, error) {
	if t := s.Config.Retrieval.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return fit.Retrieve(ctx, s.Evaluator, s.Optimizer, fit.RunOptions{
		MaxIterations:     s.Config.Retrieval.MaxIterations,
		Tolerance:         s.Config.Retrieval.Tolerance,
		Bounds:            s.Config.Bounds(s.Ring.Len()),
		TruthCoefficients: s.Truth.Coefficients,
		Convergence:       s.Config.ConvergenceConfig(),
		OnIteration:       onIteration,
		Metrics:           s.Metrics,
	})
}

// RunConfig is the setup stored with the session's results.
func (s *Session) RunConfig(configPath string) store.RunConfig {
	o := s.Config.OpticsConfig()
	return store.RunConfig{
		ConfigPath:    configPath,
		TruthSource:   s.Truth.Source,
		EFL:           o.EFL,
		FNumber:       o.FNumber,
		Wavelength:    o.Wavelength,
		FocusOffsets:  o.Offsets(),
		Frequencies:   o.Frequencies,
		PupilSamples:  o.PupilSamples,
		AxisMode:      s.Config.Retrieval.AxisMode,
		Optimizer:     s.Config.Retrieval.Optimizer,
		MaxIterations: s.Config.Retrieval.MaxIterations,
		Workers:       s.Config.Retrieval.Workers,
		Seed:          s.Config.Retrieval.Seed,
	}
}

// Close stops the worker pool.
func (s *Session) Close() error {
	return s.pool.Close()
}

// Save stores the record and its cost trace.
func Save(st *store.FSStore, record *store.Record) error {
	if err := st.SaveResult(record.RunID, record); err != nil {
		return err
	}
	if err := store.WriteTrace(st.BaseDir(), record.RunID, record.Result); err != nil {
		return err
	}
	slog.Info("Result stored", "run_id", record.RunID, "data_dir", st.BaseDir())
	return nil
}
