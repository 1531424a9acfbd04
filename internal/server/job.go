package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/mtfphase/internal/config"
	"github.com/cwbudde/mtfphase/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job has finished.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig is the summary of a job's run file shown in job listings.
type JobConfig struct {
	Ring          string   `json:"ring"`
	Modes         []string `json:"modes,omitempty"`
	Optimizer     string   `json:"optimizer"`
	AxisMode      string   `json:"axisMode"`
	Truth         string   `json:"truth"` // CSV path, or "simulated"
	MaxIterations int      `json:"maxIterations"`
	Workers       int      `json:"workers"`
	Seed          int64    `json:"seed"`
}

func summarize(cfg *config.Config) JobConfig {
	truth := cfg.Truth.CSV
	if truth == "" {
		truth = "simulated"
	}
	return JobConfig{
		Ring:          cfg.Retrieval.Ring,
		Modes:         cfg.Retrieval.Modes,
		Optimizer:     cfg.Retrieval.Optimizer,
		AxisMode:      cfg.Retrieval.AxisMode,
		Truth:         truth,
		MaxIterations: cfg.Retrieval.MaxIterations,
		Workers:       cfg.Retrieval.Workers,
		Seed:          cfg.Retrieval.Seed,
	}
}

// Job represents a retrieval job
type Job struct {
	ID           string     `json:"id"`
	State        JobState   `json:"state"`
	Config       JobConfig  `json:"config"`
	Coefficients []float64  `json:"coefficients,omitempty"` // latest trace entry
	Cost         float64    `json:"cost"`
	InitialCost  float64    `json:"initialCost"`
	Iterations   int        `json:"iterations"`
	ResidualRMS  *float64   `json:"residualRms,omitempty"`
	Converged    bool       `json:"converged"`
	Status       string     `json:"status,omitempty"`
	Stored       bool       `json:"stored"` // result record is in the store under ID
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func (j *Job) snapshot() *Job {
	c := *j
	c.Coefficients = append([]float64(nil), j.Coefficients...)
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	if j.ResidualRMS != nil {
		r := *j.ResidualRMS
		c.ResidualRMS = &r
	}
	return &c
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job. Its ID doubles as the run ID of the
// stored result.
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        store.NewRunID(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}
	jm.jobs[job.ID] = job
	return job.snapshot()
}

// GetJob returns a snapshot of the job.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, job.snapshot())
		}
	}
	return running
}

// track derives a cancelable context for job id.
func (jm *JobManager) track(parent context.Context, id string) context.Context {
	ctx, cancel := context.WithCancel(parent)
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
	return ctx
}

func (jm *JobManager) clearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if cancel, ok := jm.cancels[id]; ok {
		cancel()
		delete(jm.cancels, id)
	}
}

// CancelJob asks a pending or running job to stop. It reports false when
// the job is unknown or already finished.
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists || job.State.Terminal() {
		return false
	}
	if cancel, ok := jm.cancels[id]; ok {
		cancel()
	}
	return true
}

// CancelAll stops every unfinished job.
func (jm *JobManager) CancelAll() {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	for _, cancel := range jm.cancels {
		cancel()
	}
}
