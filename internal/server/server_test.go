package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/mtfphase/internal/config"
	"github.com/cwbudde/mtfphase/internal/store"
	"github.com/cwbudde/mtfphase/internal/telemetry"
)

const smallRunFile = `
optics:
  focus_range: 0.05
  pupil_samples: 32
retrieval:
  ring: w1
  workers: 0
  max_iterations: 5
simulation:
  coefficients:
    Z9: 0.05
`

func newTestServer(t *testing.T) (*Server, *httptest.Server, *store.FSStore) {
	t.Helper()
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s := NewServer(":0", st, telemetry.New())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts, st
}

func postJob(t *testing.T, ts *httptest.Server, body string) *Job {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/yaml", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, msg)
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return &job
}

func waitForJob(t *testing.T, s *Server, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.jobManager.GetJob(id)
		if !ok {
			t.Fatalf("Job %s disappeared", id)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", id)
	return nil
}

func TestServer_CreateJobRunsToCompletion(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a retrieval")
	}
	s, ts, st := newTestServer(t)

	job := postJob(t, ts, smallRunFile)
	if job.ID == "" {
		t.Fatal("Job ID should not be empty")
	}
	if job.Config.Truth != "simulated" || job.Config.MaxIterations != 5 {
		t.Errorf("Unexpected job config: %+v", job.Config)
	}

	done := waitForJob(t, s, job.ID)
	if done.State != StateCompleted {
		t.Fatalf("Expected state %s, got %s (error %q)", StateCompleted, done.State, done.Error)
	}
	if !done.Stored {
		t.Error("Completed job should be stored")
	}
	if len(done.Coefficients) != 4 {
		t.Errorf("Expected 4 coefficients, got %d", len(done.Coefficients))
	}
	if done.Cost > done.InitialCost {
		t.Errorf("Final cost %g above initial cost %g", done.Cost, done.InitialCost)
	}
	if done.ResidualRMS == nil {
		t.Error("Simulated truth should give a residual")
	}

	record, err := st.LoadResult(job.ID)
	if err != nil {
		t.Fatalf("Record not in store: %v", err)
	}
	if record.Result.FinalCost != done.Cost {
		t.Errorf("Stored final cost %g, job reports %g", record.Result.FinalCost, done.Cost)
	}

	resp, err := http.Get(ts.URL + "/api/v1/results/" + job.ID)
	if err != nil {
		t.Fatalf("GET result failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var fetched store.Record
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("Failed to decode record: %v", err)
	}
	if fetched.RunID != job.ID {
		t.Errorf("Expected run ID %s, got %s", job.ID, fetched.RunID)
	}
}

func TestServer_StreamEndsOnTerminalState(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a retrieval")
	}
	s, ts, _ := newTestServer(t)

	job := postJob(t, ts, smallRunFile)
	waitForJob(t, s, job.ID)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	var events []ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Bad event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if len(events) != 1 || events[0].State != StateCompleted {
		t.Errorf("Expected a single completed event, got %+v", events)
	}
}

func TestServer_CreateJobRejectsBadRunFile(t *testing.T) {
	_, ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "optics: [unterminated"},
		{"unknown optimizer", "retrieval:\n  optimizer: simplex\n"},
		{"negative workers", "retrieval:\n  workers: -1\n"},
		{"custom ring without modes", "retrieval:\n  ring: custom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/yaml", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestServer_UnknownJob(t *testing.T) {
	_, ts, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/jobs/nope", "/api/v1/jobs/nope/status", "/api/v1/jobs/nope/stream", "/api/v1/results/nope"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: expected status 404, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Post(ts.URL+"/api/v1/jobs/nope/cancel", "", nil)
	if err != nil {
		t.Fatalf("POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Cancel: expected status 404, got %d", resp.StatusCode)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, ts, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/v1/jobs"},
		{http.MethodPost, "/api/v1/jobs/abc/status"},
		{http.MethodGet, "/api/v1/jobs/abc/cancel"},
		{http.MethodPost, "/api/v1/results"},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, ts.URL+tt.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status 405, got %d", tt.method, tt.path, resp.StatusCode)
		}
	}
}

func TestServer_ListJobs(t *testing.T) {
	s, ts, _ := newTestServer(t)
	s.jobManager.CreateJob(JobConfig{Ring: "w1"})
	s.jobManager.CreateJob(JobConfig{Ring: "w2"})

	resp, err := http.Get(ts.URL + "/api/v1/jobs")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var jobs []*Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_CancelJob(t *testing.T) {
	s, ts, _ := newTestServer(t)
	job := s.jobManager.CreateJob(JobConfig{})
	ctx := s.jobManager.track(context.Background(), job.ID)

	resp, err := http.Post(ts.URL+"/api/v1/jobs/"+job.ID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}

	// The worker notices the cancellation before doing any work
	cfg := config.Default()
	if err := runJob(ctx, s.jobManager, nil, nil, job.ID, cfg); err == nil {
		t.Error("Expected cancelled job to return an error")
	}
	got, _ := s.jobManager.GetJob(job.ID)
	if got.State != StateCancelled {
		t.Errorf("Expected state %s, got %s", StateCancelled, got.State)
	}

	resp, err = http.Post(ts.URL+"/api/v1/jobs/"+job.ID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Cancelling a finished job: expected status 409, got %d", resp.StatusCode)
	}
}

func TestServer_FailedJob(t *testing.T) {
	s, ts, st := newTestServer(t)

	job := postJob(t, ts, "truth:\n  csv: /does/not/exist.csv\n")
	done := waitForJob(t, s, job.ID)
	if done.State != StateFailed {
		t.Fatalf("Expected state %s, got %s", StateFailed, done.State)
	}
	if done.Error == "" {
		t.Error("Failed job should carry an error")
	}
	if _, err := st.LoadResult(job.ID); err == nil {
		t.Error("A job that never ran should not be stored")
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "mtfphase_cost_evaluations_total") {
		t.Error("Metrics output missing mtfphase_cost_evaluations_total")
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", health["status"])
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	_, ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected CORS origin *, got %q", got)
	}
}
