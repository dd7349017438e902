package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/duragraph"
	"github.com/randalmurphal/duragraph/controlplane"
)

// FakeControlPlane is an in-process control plane serving the worker
// HTTP API. Tests enqueue assignments, point a real HTTP client at
// URL(), and collect reported results.
type FakeControlPlane struct {
	server *httptest.Server

	mu            sync.Mutex
	queue         []duragraph.Assignment
	registrations []controlplane.WorkerRegistration
	results       []duragraph.Result
	cancelled     map[string]bool

	resultCh chan duragraph.Result
}

// NewFakeControlPlane starts a fake control plane. The server shuts
// down when the test ends.
func NewFakeControlPlane(t *testing.T) *FakeControlPlane {
	t.Helper()

	f := &FakeControlPlane{
		cancelled: make(map[string]bool),
		resultCh:  make(chan duragraph.Result, 32),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workers/register", f.handleRegister)
	mux.HandleFunc("POST /api/v1/runs/claim", f.handleClaim)
	mux.HandleFunc("POST /api/v1/runs/{id}/result", f.handleResult)
	mux.HandleFunc("GET /api/v1/runs/{id}", f.handleStatus)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the fake control plane's base URL.
func (f *FakeControlPlane) URL() string {
	return f.server.URL
}

// Client returns an HTTP client pointed at the fake control plane.
func (f *FakeControlPlane) Client() *controlplane.HTTPClient {
	return controlplane.NewHTTPClient(controlplane.HTTPClientConfig{
		BaseURL:   f.server.URL,
		RetryWait: 10 * time.Millisecond,
	})
}

// Enqueue adds assignments for workers to claim.
func (f *FakeControlPlane) Enqueue(assignments ...duragraph.Assignment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, assignments...)
}

// CancelRun marks a run cancelled; the engine's cancellation check will
// observe it on the next poll.
func (f *FakeControlPlane) CancelRun(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[runID] = true
}

// Registrations returns a copy of the worker registrations received.
func (f *FakeControlPlane) Registrations() []controlplane.WorkerRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controlplane.WorkerRegistration(nil), f.registrations...)
}

// Results returns a copy of the results reported so far.
func (f *FakeControlPlane) Results() []duragraph.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]duragraph.Result(nil), f.results...)
}

// AwaitResult blocks until a result is reported or the timeout elapses.
func (f *FakeControlPlane) AwaitResult(t *testing.T, timeout time.Duration) duragraph.Result {
	t.Helper()
	select {
	case result := <-f.resultCh:
		return result
	case <-time.After(timeout):
		t.Fatal("no result reported before timeout")
		return duragraph.Result{}
	}
}

func (f *FakeControlPlane) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg controlplane.WorkerRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.registrations = append(f.registrations, reg)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *FakeControlPlane) handleClaim(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	assignment := f.queue[0]
	f.queue = f.queue[1:]
	json.NewEncoder(w).Encode(assignment)
}

func (f *FakeControlPlane) handleResult(w http.ResponseWriter, r *http.Request) {
	var result duragraph.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if result.RunID == "" {
		result.RunID = r.PathValue("id")
	}
	f.mu.Lock()
	f.results = append(f.results, result)
	f.mu.Unlock()
	f.resultCh <- result
	w.WriteHeader(http.StatusOK)
}

func (f *FakeControlPlane) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	cancelled := f.cancelled[r.PathValue("id")]
	f.mu.Unlock()

	status := string(duragraph.RunRunning)
	if cancelled {
		status = string(duragraph.RunCancelled)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
