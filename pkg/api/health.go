package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/types"
)

// HealthServer serves the run's health, progress and metrics over HTTP. Node
// states are learned from the event stream.
type HealthServer struct {
	version string
	mux     *http.ServeMux
	server  *http.Server

	mu       sync.RWMutex
	runID    string
	started  bool
	finished bool
	nodes    map[string]NodeStatus
}

// NodeStatus is the last known state of one node
type NodeStatus struct {
	State  types.NodeState `json:"state"`
	Since  time.Time       `json:"since"`
	Reason string          `json:"reason,omitempty"`
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		version: version,
		mux:     mux,
		nodes:   make(map[string]NodeStatus),
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/status", hs.statusHandler)
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/components", metrics.HealthHandler())
	mux.HandleFunc("/components/ready", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	hs.mu.Lock()
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server := hs.server
	hs.mu.Unlock()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a started server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.mu.RLock()
	server := hs.server
	hs.mu.RUnlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Track applies every event from sub until the channel is closed
func (hs *HealthServer) Track(sub events.Subscriber) {
	for e := range sub {
		hs.Observe(e)
	}
}

// Observe applies one event
func (hs *HealthServer) Observe(e *events.Event) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	switch e.Type {
	case events.EventRunStarted:
		hs.runID = e.Message
		hs.started = true
		hs.finished = false
		hs.nodes = make(map[string]NodeStatus)
	case events.EventRunFinished:
		hs.finished = true
	case events.EventNodeTransition, events.EventNodeFailed:
		if e.ServiceID == "" || e.To == "" {
			return
		}
		status := NodeStatus{State: e.To, Since: e.Timestamp}
		if e.To == types.StateFailed {
			status.Reason = e.Message
		}
		if prev, ok := hs.nodes[e.ServiceID]; ok && prev.State == types.StateFailed && status.Reason == "" {
			status.Reason = prev.Reason
		}
		hs.nodes[e.ServiceID] = status
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// StatusResponse is the live progress of the run
type StatusResponse struct {
	RunID    string                `json:"run_id,omitempty"`
	Finished bool                  `json:"finished"`
	Nodes    map[string]NodeStatus `json:"nodes"`
	Counts   map[string]int        `json:"counts"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	})
}

// readyHandler implements the /ready endpoint. The topology is ready once
// the run finished with every node ready.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hs.mu.RLock()
	checks := make(map[string]string, len(hs.nodes)+1)
	failed := 0
	for id, n := range hs.nodes {
		checks[id] = string(n.State)
		if n.State == types.StateFailed {
			failed++
		}
	}
	started, finished := hs.started, hs.finished
	hs.mu.RUnlock()

	ready := false
	var message string
	switch {
	case !started:
		checks["run"] = "not started"
		message = "No run started"
	case !finished:
		checks["run"] = "in progress"
		message = "Run in progress"
	case failed > 0:
		checks["run"] = "finished"
		message = fmt.Sprintf("%d node(s) failed", failed)
	default:
		checks["run"] = "finished"
		ready = true
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// statusHandler implements the /status endpoint
func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hs.mu.RLock()
	resp := StatusResponse{
		RunID:    hs.runID,
		Finished: hs.finished,
		Nodes:    make(map[string]NodeStatus, len(hs.nodes)),
		Counts:   make(map[string]int),
	}
	for id, n := range hs.nodes {
		resp.Nodes[id] = n
		resp.Counts[string(n.State)]++
	}
	hs.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
