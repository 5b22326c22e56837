package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/landscape/internal/config"
	"github.com/cwbudde/landscape/internal/store"
)

func testDefaults(t *testing.T) config.RunConfig {
	t.Helper()
	return trimerRequest(t).Config
}

func postJob(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// waitForState polls the job manager until the job reaches a final state
func waitForState(t *testing.T, s *Server, id string) Job {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := s.jobManager.GetJob(id)
		switch job.State {
		case StateCompleted, StateFailed, StateCancelled:
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Job did not finish in time")
	return Job{}
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})
	defer s.Shutdown(context.Background())

	w := postJob(t, s.Handler(), `{"kind":"hop","config":{"basinhopping":{"steps":10}}}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}

	// Unset fields keep the server defaults
	if job.Config.System.Name != "trimer" {
		t.Errorf("Expected trimer system from defaults, got %s", job.Config.System.Name)
	}
	if job.Config.BasinHopping.Steps != 10 {
		t.Errorf("Expected 10 steps from request, got %d", job.Config.BasinHopping.Steps)
	}

	finished := waitForState(t, s, job.ID)
	if finished.State != StateCompleted {
		t.Errorf("Expected completed job, got %s (%s)", finished.State, finished.Error)
	}
}

func TestServer_CreateJob_BadRequests(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})
	defer s.Shutdown(context.Background())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"kind":`},
		{"invalid config", `{"config":{"system":{"name":"argon"}}}`},
		{"negative temperature", `{"config":{"basinhopping":{"temperature":-1}}}`},
		{"refine without guess", `{"kind":"refine"}`},
		{"unknown kind", `{"kind":"anneal"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJob(t, s.Handler(), tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}

	if len(s.jobManager.ListJobs()) != 0 {
		t.Error("Rejected requests should not create jobs")
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	// Create two jobs
	s.jobManager.CreateJob(trimerRequest(t))
	s.jobManager.CreateJob(trimerRequest(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	job := s.jobManager.CreateJob(trimerRequest(t))
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.StepNum = 50
		j.NAccepted = 20
		j.LowestEnergy = -1.5
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var status map[string]any
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if status["id"] != job.ID {
		t.Error("Job ID mismatch")
	}

	if status["state"] != string(StateRunning) {
		t.Errorf("Expected running state, got %v", status["state"])
	}

	if status["stepnum"] != float64(50) {
		t.Errorf("Expected 50 steps, got %v", status["stepnum"])
	}

	if status["lowestEnergy"] != -1.5 {
		t.Errorf("Expected lowest energy -1.5, got %v", status["lowestEnergy"])
	}

	if _, ok := status["refinement"]; ok {
		t.Error("Hop job should not report a refinement")
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_UnknownSubpath(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})
	job := s.jobManager.CreateJob(trimerRequest(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/best.png", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_JobMinima(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	job := s.jobManager.CreateJob(trimerRequest(t))

	// Not available while the job is pending
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/minima", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for pending job, got %d", w.Code)
	}

	if err := runJob(context.Background(), s.jobManager, Resources{}, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var minima []store.Minimum
	if err := json.NewDecoder(w.Body).Decode(&minima); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(minima) == 0 {
		t.Error("Expected at least one minimum")
	}
	for i := 1; i < len(minima); i++ {
		if minima[i].Energy < minima[i-1].Energy {
			t.Error("Minima should be sorted by energy")
		}
	}
}

func TestServer_CancelJob(t *testing.T) {
	defaults := testDefaults(t)
	defaults.System.Name = "lj"
	defaults.System.NAtoms = 13
	defaults.BasinHopping.Steps = 100000
	s := NewServer(":8080", defaults, Resources{})
	defer s.Shutdown(context.Background())
	h := s.Handler()

	w := postJob(t, h, `{}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	// GET is not allowed
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	finished := waitForState(t, s, job.ID)
	if finished.State != StateCancelled {
		t.Errorf("Expected cancelled job, got %s", finished.State)
	}

	// A finished job cannot be cancelled again
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nonexistent/cancel", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_ShutdownCancelsJobs(t *testing.T) {
	defaults := testDefaults(t)
	defaults.System.Name = "lj"
	defaults.System.NAtoms = 13
	defaults.BasinHopping.Steps = 100000
	s := NewServer(":8080", defaults, Resources{})

	w := postJob(t, s.Handler(), `{}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	finished := waitForState(t, s, job.ID)
	if finished.State != StateCancelled {
		t.Errorf("Expected cancelled job after shutdown, got %s", finished.State)
	}
}

func TestServer_DatabaseEndpoints(t *testing.T) {
	defaults := testDefaults(t)
	res := testResources(t, defaults.Storage.DataDir)
	s := NewServer(":8080", defaults, res)
	h := s.Handler()

	for _, x := range [][]float64{{0.5, 0, -0.5}, {0.4, 0.1, -0.5}} {
		if _, _, err := res.Database.AddMinimum(float64(len(x))*x[0], x); err != nil {
			t.Fatalf("AddMinimum failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/minima?limit=1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var minima []store.Minimum
	if err := json.NewDecoder(w.Body).Decode(&minima); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(minima) != 1 {
		t.Errorf("Expected 1 minimum with limit=1, got %d", len(minima))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/minima?limit=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transition-states", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/checkpoints", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestServer_DatabaseEndpoints_NotConfigured(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})
	h := s.Handler()

	for _, path := range []string{"/api/v1/minima", "/api/v1/transition-states", "/api/v1/checkpoints"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected default collectors in metrics output")
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	defaults := testDefaults(t)
	res := testResources(t, defaults.Storage.DataDir)
	s := NewServer("localhost:0", defaults, res)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Shutdown(context.Background())

	// Create a refine job
	body, _ := json.Marshal(JobRequest{Kind: KindRefine, Config: defaults, Guess: []float64{-0.08, 0.05, 0.03}})
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	json.NewDecoder(resp.Body).Decode(&job)

	// Poll status until completed
	maxAttempts := 100
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]any
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			if _, ok := status["refinement"]; !ok {
				t.Error("Completed refine job should report its refinement")
			}
			break
		}

		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}

		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(100 * time.Millisecond)
	}

	resp, err = http.Get(srv.URL + "/api/v1/transition-states")
	if err != nil {
		t.Fatalf("Failed to list transition states: %v", err)
	}
	defer resp.Body.Close()

	var states []store.TransitionState
	json.NewDecoder(resp.Body).Decode(&states)
	if len(states) != 1 {
		t.Errorf("Expected 1 transition state, got %d", len(states))
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	s := NewServer(":8080", testDefaults(t), Resources{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	job := s.jobManager.CreateJob(trimerRequest(t))
	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.StepNum = 7 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	// Check headers
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() ProgressEvent {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("Failed to read stream: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var event ProgressEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					t.Fatalf("Failed to parse event: %v", err)
				}
				return event
			}
		}
	}

	initial := readEvent()
	if initial.JobID != job.ID || initial.StepNum != 7 {
		t.Errorf("Unexpected initial event %+v", initial)
	}

	// Wait until the handler has subscribed before broadcasting
	for i := 0; i < 100; i++ {
		s.jobManager.broadcaster.mu.RLock()
		n := len(s.jobManager.broadcaster.clients[job.ID])
		s.jobManager.broadcaster.mu.RUnlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.jobManager.broadcaster.Broadcast(ProgressEvent{JobID: job.ID, State: StateRunning, StepNum: 9})

	next := readEvent()
	if next.StepNum != 9 {
		t.Errorf("Expected broadcast event with 9 steps, got %d", next.StepNum)
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", testDefaults(t), Resources{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:          "job1",
		State:          StateRunning,
		StepNum:        10,
		LowestEnergy:   -44.3,
		StepsPerSecond: 1500.0,
		Timestamp:      time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.StepNum != 10 {
			t.Errorf("Expected 10 steps, got %d", received.StepNum)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// A late subscriber receives the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.StepNum != 10 {
			t.Errorf("Expected replayed event with 10 steps, got %d", received.StepNum)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for replayed event")
	}

	// Cleanup
	eb.CleanupJob("job1")
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusTeapot, map[string]int{"a": 1})

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("Expected JSON content type")
	}
	if strings.TrimSpace(w.Body.String()) != `{"a":1}` {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
}

func TestServer_CheckpointsListing(t *testing.T) {
	defaults := testDefaults(t)
	fs, err := store.NewFSStore(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	cp := store.NewCheckpoint("job-1", []float64{0.5, 0, -0.5}, 0, 5, 2, store.JobConfig{System: "trimer", NAtoms: 3, NDim: 3, Steps: 10})
	if err := fs.SaveCheckpoint("job-1", cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	s := NewServer(":8080", defaults, Resources{Checkpoints: fs})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/checkpoints", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var infos []store.CheckpointInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(infos) != 1 || infos[0].JobID != "job-1" {
		t.Errorf("Unexpected checkpoint listing %+v", infos)
	}
}
