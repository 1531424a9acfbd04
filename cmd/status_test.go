package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cwbudde/mtfphase/internal/server"
)

func TestGetJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs":
			json.NewEncoder(w).Encode([]server.Job{{ID: "a", State: server.StateRunning}})
		case "/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	var jobs []server.Job
	if err := getJSON(ts.URL+"/api/v1/jobs", &jobs); err != nil {
		t.Fatalf("getJSON failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "a" || jobs[0].State != server.StateRunning {
		t.Errorf("Unexpected jobs: %+v", jobs)
	}

	if err := getJSON(ts.URL+"/missing", &jobs); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not found error, got %v", err)
	}
	if err := getJSON(ts.URL+"/broken", &jobs); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected server error, got %v", err)
	}
}

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	printJobs(&buf, nil)
	if !strings.Contains(buf.String(), "No jobs found") {
		t.Errorf("Unexpected empty listing: %q", buf.String())
	}

	buf.Reset()
	printJobs(&buf, []server.Job{
		{ID: "0123456789abcdef", State: server.StateCompleted, Config: server.JobConfig{Ring: "w1", Optimizer: "lbfgs"}, Iterations: 12},
	})
	out := buf.String()
	for _, want := range []string{"JOB ID", "0123456789ab...", "completed", "w1", "lbfgs", "12"} {
		if !strings.Contains(out, want) {
			t.Errorf("Listing missing %q:\n%s", want, out)
		}
	}
}

func TestPrintJobStatus(t *testing.T) {
	rms := 0.0123
	status := &jobStatus{
		Job: server.Job{
			ID:          "job-1",
			State:       server.StateFailed,
			Config:      server.JobConfig{Truth: "simulated", Ring: "w2"},
			InitialCost: 2,
			Cost:        0.5,
			ResidualRMS: &rms,
			Error:       "worker failure",
		},
		Elapsed: 1.5,
	}

	var buf bytes.Buffer
	printJobStatus(&buf, status)
	out := buf.String()
	for _, want := range []string{"Job: job-1", "State: failed", "Truth: simulated", "25.0% of initial", "0.0123 waves", "1.5s", "Error: worker failure"} {
		if !strings.Contains(out, want) {
			t.Errorf("Status missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Stored as run") {
		t.Error("Unstored job should not report a run")
	}
}
