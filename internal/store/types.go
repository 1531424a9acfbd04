package store

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/mtfphase/internal/fit"
)

// RunConfig is the setup recorded with a result, enough to tell runs apart
// and to reproduce them.
type RunConfig struct {
	ConfigPath    string    `json:"configPath,omitempty"`
	TruthSource   string    `json:"truthSource"` // CSV path, or "simulated"
	EFL           float64   `json:"efl"`
	FNumber       float64   `json:"fno"`
	Wavelength    float64   `json:"wavelength"`
	FocusOffsets  []float64 `json:"focusOffsets"`
	Frequencies   []float64 `json:"frequencies"`
	PupilSamples  int       `json:"pupilSamples"`
	AxisMode      string    `json:"axisMode"`
	Optimizer     string    `json:"optimizer"`
	MaxIterations int       `json:"maxIterations"`
	Workers       int       `json:"workers"`
	Seed          int64     `json:"seed"`
}

// Record is one stored retrieval. The cost trace lives next to it in
// trace.jsonl.
type Record struct {
	RunID     string      `json:"runId"`
	Timestamp time.Time   `json:"timestamp"`
	Config    RunConfig   `json:"config"`
	Result    *fit.Result `json:"result"`
	Error     string      `json:"error,omitempty"` // set when the run aborted
}

// RecordInfo is the listing view of a record.
type RecordInfo struct {
	RunID       string    `json:"runId"`
	Timestamp   time.Time `json:"timestamp"`
	Optimizer   string    `json:"optimizer"`
	Modes       []string  `json:"modes"`
	TruthSource string    `json:"truthSource"`
	FinalCost   float64   `json:"finalCost"`
	Iterations  int       `json:"iterations"`
	Converged   bool      `json:"converged"`
	Status      string    `json:"status"`
	Failed      bool      `json:"failed"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRecord wraps a result for persistence. runErr is the error the run
// ended with, if any.
func NewRecord(runID string, config RunConfig, result *fit.Result, runErr error) *Record {
	r := &Record{
		RunID:     runID,
		Timestamp: time.Now(),
		Config:    config,
		Result:    result,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// ToInfo converts a full Record to RecordInfo.
func (r *Record) ToInfo() RecordInfo {
	info := RecordInfo{
		RunID:       r.RunID,
		Timestamp:   r.Timestamp,
		TruthSource: r.Config.TruthSource,
		Optimizer:   r.Config.Optimizer,
		Failed:      r.Error != "",
	}
	if r.Result != nil {
		info.Optimizer = r.Result.Optimizer
		info.Modes = r.Result.Ring.Names()
		info.FinalCost = r.Result.FinalCost
		info.Iterations = r.Result.Iterations
		info.Converged = r.Result.Converged
		info.Status = r.Result.Status
	}
	return info
}

// Validate checks that the record can be saved and read back.
func (r *Record) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	res := r.Result
	if res == nil {
		return &ValidationError{Field: "Result", Reason: "cannot be nil"}
	}
	if res.Ring.Len() == 0 {
		return &ValidationError{Field: "Result.Ring", Reason: "cannot be empty"}
	}
	if len(res.Final) != res.Ring.Len() {
		return &ValidationError{
			Field:  "Result.Final",
			Reason: fmt.Sprintf("length mismatch: expected %d coefficients for the ring, have %d", res.Ring.Len(), len(res.Final)),
		}
	}
	if len(res.Costs) != len(res.Coefficients) {
		return &ValidationError{Field: "Result.Costs", Reason: "must have one cost per coefficient vector"}
	}
	// JSON cannot carry NaN or Inf
	for _, v := range append([]float64{res.FinalCost, res.InitialCost}, res.Costs...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "Result.Costs", Reason: "must be finite"}
		}
	}
	if res.FinalCost < 0 {
		return &ValidationError{Field: "Result.FinalCost", Reason: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
