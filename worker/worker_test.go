package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/duragraph"
	"github.com/randalmurphal/duragraph/auth"
	"github.com/randalmurphal/duragraph/controlplane"
	"github.com/randalmurphal/duragraph/ledger"
)

// fakeClient is an in-memory control plane: a queue of assignments to
// hand out and a channel collecting reported results.
type fakeClient struct {
	mu            sync.Mutex
	queue         []duragraph.Assignment
	registrations []controlplane.WorkerRegistration
	registerFails int
	cancelled     map[string]bool

	results chan duragraph.Result
}

func newFakeClient(assignments ...duragraph.Assignment) *fakeClient {
	return &fakeClient{
		queue:     assignments,
		cancelled: make(map[string]bool),
		results:   make(chan duragraph.Result, 16),
	}
}

func (f *fakeClient) RegisterWorker(_ context.Context, reg controlplane.WorkerRegistration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerFails > 0 {
		f.registerFails--
		return errors.New("control plane unavailable")
	}
	f.registrations = append(f.registrations, reg)
	return nil
}

func (f *fakeClient) ClaimRun(_ context.Context, _ string) (*duragraph.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	a := f.queue[0]
	f.queue = f.queue[1:]
	return &a, nil
}

func (f *fakeClient) ReportResult(_ context.Context, result duragraph.Result) error {
	f.results <- result
	return nil
}

func (f *fakeClient) RunCancelled(_ context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[runID], nil
}

func helloGraph(t *testing.T) *duragraph.Graph {
	t.Helper()
	graph, err := duragraph.NewGraph("hello-world").
		AddNode("greet", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			name := state.GetString("name", "World")
			return state.Set("greeting", "Hello, "+name+"!"), nil
		}).
		AddNode("farewell", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return state.Set("farewell", "Goodbye!"), nil
		}).
		AddEdge("greet", "farewell").
		AddEdge("farewell", duragraph.END).
		SetEntry("greet").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return graph
}

func startWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return cancel
}

func awaitResult(t *testing.T, client *fakeClient) duragraph.Result {
	t.Helper()
	select {
	case result := <-client.results:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("no result reported")
		return duragraph.Result{}
	}
}

func TestWorker_ExecutesAssignment(t *testing.T) {
	client := newFakeClient(duragraph.Assignment{
		RunID:        "run-1",
		GraphName:    "hello-world",
		InitialState: duragraph.State{"name": "Ada"},
	})
	store := ledger.NewMemoryStore()

	w, err := New(Options{
		Name:         "test-worker",
		Client:       client,
		Store:        store,
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Register(helloGraph(t))
	startWorker(t, w)

	result := awaitResult(t, client)
	if result.Status != duragraph.RunCompleted {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if got := result.FinalState.GetString("greeting", ""); got != "Hello, Ada!" {
		t.Errorf("greeting = %q", got)
	}
	if got := result.FinalState.GetString("farewell", ""); got != "Goodbye!" {
		t.Errorf("farewell = %q", got)
	}

	entries, err := store.Entries(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Node != "greet" || entries[1].Node != "farewell" {
		t.Errorf("ledger entries = %+v", entries)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.registrations) != 1 {
		t.Fatalf("registrations = %d", len(client.registrations))
	}
	reg := client.registrations[0]
	if reg.WorkerName != "test-worker" || len(reg.Graphs) != 1 || reg.Graphs[0].Name != "hello-world" {
		t.Errorf("registration = %+v", reg)
	}
}

func TestWorker_UnregisteredGraph(t *testing.T) {
	client := newFakeClient(duragraph.Assignment{RunID: "run-2", GraphName: "unknown"})

	w, err := New(Options{
		Client:       client,
		Store:        ledger.NewMemoryStore(),
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Register(helloGraph(t))
	startWorker(t, w)

	result := awaitResult(t, client)
	if result.Status != duragraph.RunFailed {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Error == "" {
		t.Error("expected an error message for unregistered graph")
	}
}

func TestWorker_NodeFailure(t *testing.T) {
	boom := errors.New("boom")
	graph, err := duragraph.NewGraph("fragile").
		AddNode("ok", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return state, nil
		}).
		AddNode("bad", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return nil, boom
		}).
		AddEdge("ok", "bad").
		SetEntry("ok").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	client := newFakeClient(duragraph.Assignment{RunID: "run-3", GraphName: "fragile"})
	w, err := New(Options{
		Client:       client,
		Store:        ledger.NewMemoryStore(),
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Register(graph)
	startWorker(t, w)

	result := awaitResult(t, client)
	if result.Status != duragraph.RunFailed {
		t.Fatalf("status = %s", result.Status)
	}
	if result.FailedNode != "bad" || result.FailedIndex != 1 {
		t.Errorf("failed node = %s index = %d", result.FailedNode, result.FailedIndex)
	}
}

func TestWorker_CancelledRun(t *testing.T) {
	client := newFakeClient(duragraph.Assignment{RunID: "run-4", GraphName: "hello-world"})
	client.cancelled["run-4"] = true

	w, err := New(Options{
		Client:       client,
		Store:        ledger.NewMemoryStore(),
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Register(helloGraph(t))
	startWorker(t, w)

	result := awaitResult(t, client)
	if result.Status != duragraph.RunCancelled {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestWorker_RegistrationRetries(t *testing.T) {
	client := newFakeClient(duragraph.Assignment{RunID: "run-5", GraphName: "hello-world"})
	client.registerFails = 2

	w, err := New(Options{
		Client:       client,
		Store:        ledger.NewMemoryStore(),
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Register(helloGraph(t))
	startWorker(t, w)

	result := awaitResult(t, client)
	if result.Status != duragraph.RunCompleted {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestWorker_NoGraphsRegistered(t *testing.T) {
	w, err := New(Options{
		Client: newFakeClient(),
		Store:  ledger.NewMemoryStore(),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestWorker_RequiresClientAndStore(t *testing.T) {
	if _, err := New(Options{Store: ledger.NewMemoryStore()}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := New(Options{Client: newFakeClient()}); err == nil {
		t.Error("expected error without store")
	}
}

func TestRegister_Replaces(t *testing.T) {
	w, err := New(Options{
		Client: newFakeClient(),
		Store:  ledger.NewMemoryStore(),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.Register(helloGraph(t))

	replacement, err := duragraph.NewGraph("hello-world").
		AddNode("greet", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return state, nil
		}).
		SetEntry("greet").
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	w.Register(replacement)

	got, ok := w.Graph("hello-world")
	if !ok {
		t.Fatal("graph missing after replacement")
	}
	if got.Version() != replacement.Version() {
		t.Error("registry kept the old graph")
	}
}

func TestNewFromConfig_MintsWorkerTokens(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	tokenCfg := auth.TokenConfig{Secret: []byte(secret)}

	subjects := make(chan string, 8)
	results := make(chan duragraph.Result, 1)
	var claimed atomic.Bool

	validate := func(w http.ResponseWriter, r *http.Request) *auth.WorkerClaims {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := auth.ValidateWorkerToken(tokenCfg, token)
		if err != nil {
			t.Errorf("%s %s: worker token rejected: %v", r.Method, r.URL.Path, err)
			w.WriteHeader(http.StatusUnauthorized)
			return nil
		}
		return claims
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workers/register", func(w http.ResponseWriter, r *http.Request) {
		claims := validate(w, r)
		if claims == nil {
			return
		}
		subjects <- claims.Subject
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v1/runs/claim", func(w http.ResponseWriter, r *http.Request) {
		if validate(w, r) == nil {
			return
		}
		if claimed.Swap(true) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(duragraph.Assignment{
			RunID:        "run-jwt",
			GraphName:    "hello-world",
			InitialState: duragraph.State{"name": "Ada"},
		})
	})
	mux.HandleFunc("POST /api/v1/runs/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		if validate(w, r) == nil {
			return
		}
		var result duragraph.Result
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			t.Errorf("decode result: %v", err)
		}
		results <- result
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if validate(w, r) == nil {
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := Config{
		URL:          server.URL,
		WorkerName:   "jwt-worker",
		JWTSecret:    secret,
		PollInterval: 10 * time.Millisecond,
	}
	w, err := NewFromConfig(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	w.Register(helloGraph(t))
	startWorker(t, w)

	select {
	case result := <-results:
		if result.Status != duragraph.RunCompleted {
			t.Fatalf("status = %s, error = %s", result.Status, result.Error)
		}
		if got := result.FinalState.GetString("greeting", ""); got != "Hello, Ada!" {
			t.Errorf("greeting = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no result reported")
	}

	select {
	case subject := <-subjects:
		if subject != "jwt-worker" {
			t.Errorf("token subject = %q, want jwt-worker", subject)
		}
	default:
		t.Fatal("registration never validated a token")
	}
}

func TestWorker_ConcurrentAssignments(t *testing.T) {
	const runs = 6
	assignments := make([]duragraph.Assignment, runs)
	for i := range assignments {
		assignments[i] = duragraph.Assignment{
			RunID:        fmt.Sprintf("run-c%d", i),
			GraphName:    "hello-world",
			InitialState: duragraph.State{"name": fmt.Sprintf("user-%d", i)},
		}
	}

	client := newFakeClient(assignments...)
	w, err := New(Options{
		Client:            client,
		Store:             ledger.NewMemoryStore(),
		Logger:            slog.New(slog.DiscardHandler),
		MaxConcurrentRuns: 2,
		PollInterval:      5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Register(helloGraph(t))
	startWorker(t, w)

	seen := make(map[string]bool)
	for range runs {
		result := awaitResult(t, client)
		if result.Status != duragraph.RunCompleted {
			t.Errorf("run %s status = %s", result.RunID, result.Status)
		}
		seen[result.RunID] = true
	}
	if len(seen) != runs {
		t.Errorf("distinct results = %d, want %d", len(seen), runs)
	}
}
