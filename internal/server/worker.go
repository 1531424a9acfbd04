package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/mtfphase/internal/config"
	"github.com/cwbudde/mtfphase/internal/fit"
	"github.com/cwbudde/mtfphase/internal/retrieval"
	"github.com/cwbudde/mtfphase/internal/store"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

// runJob executes a retrieval job in the background; ctx should come from
// JobManager.track so the job can be cancelled. Every trace entry is
// published to the job and its stream; the result, complete or partial, is
// saved to resultStore when one is configured.
func runJob(ctx context.Context, jm *JobManager, resultStore *store.FSStore, metrics *telemetry.Metrics, jobID string, cfg *config.Config) error {
	defer jm.clearCancel(jobID)
	// Subscribers still drain the buffered terminal event after the close
	defer jm.broadcaster.CleanupJob(jobID)

	if ctx.Err() != nil {
		markJobCancelled(jm, jobID)
		return ctx.Err()
	}
	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}
	slog.Info("Starting job", "job_id", jobID, "truth", cfg.Truth.CSV, "optimizer", cfg.Retrieval.Optimizer)

	session, err := retrieval.NewSession(cfg, metrics)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("setup: %w", err))
		return err
	}
	defer session.Close()

	start := time.Now()
	res, runErr := session.Run(ctx, func(e fit.TraceEntry) {
		jm.UpdateJob(jobID, func(j *Job) {
			if e.Iteration == 0 {
				j.InitialCost = e.Cost
			}
			j.Iterations = e.Iteration
			j.Cost = e.Cost
			j.Coefficients = e.Coefficients
		})
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Iteration: e.Iteration,
			Cost:      e.Cost,
			Timestamp: time.Now(),
		})
	})

	// A run whose seed failed has nothing to store
	if res != nil && len(res.Trace) == 0 {
		res = nil
	}
	if res != nil && resultStore != nil {
		record := store.NewRecord(jobID, session.RunConfig(""), res, runErr)
		if err := retrieval.Save(resultStore, record); err != nil {
			slog.Error("Failed to store job result", "job_id", jobID, "error", err)
		} else {
			jm.UpdateJob(jobID, func(j *Job) { j.Stored = true })
		}
	}

	if res != nil {
		var residual *float64
		if n := len(res.ResidualRMS); n > 0 {
			r := res.ResidualRMS[n-1]
			residual = &r
		}
		jm.UpdateJob(jobID, func(j *Job) {
			j.Coefficients = res.Final
			j.Cost = res.FinalCost
			j.InitialCost = res.InitialCost
			j.Iterations = res.Iterations
			j.ResidualRMS = residual
			j.Converged = res.Converged
			j.Status = res.Status
		})
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		markJobCancelled(jm, jobID)
		return runErr
	case runErr != nil:
		markJobFailed(jm, jobID, runErr)
		return runErr
	}

	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	})
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"initial_cost", res.InitialCost,
		"final_cost", res.FinalCost,
		"iterations", res.Iterations,
	)
	broadcastState(jm, jobID)
	return nil
}

// broadcastState publishes the job's current state to its stream.
func broadcastState(jm *JobManager, jobID string) {
	job, ok := jm.GetJob(jobID)
	if !ok {
		return
	}
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       job.State,
		Iteration:   job.Iterations,
		Cost:        job.Cost,
		ResidualRMS: job.ResidualRMS,
		Timestamp:   time.Now(),
	})
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	broadcastState(jm, jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	broadcastState(jm, jobID)
}
