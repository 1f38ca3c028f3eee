package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/types"
)

func transition(id string, to types.NodeState) *events.Event {
	return &events.Event{Type: events.EventNodeTransition, ServiceID: id, To: to, Timestamp: time.Now()}
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer("1.0.0")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE request fails",
			method:         http.MethodDelete,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				err := json.NewDecoder(w.Body).Decode(&response)
				assert.NoError(t, err)
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "1.0.0", response.Version)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

// TestReadyHandlerNoRun tests readiness before any run started
func TestReadyHandlerNoRun(t *testing.T) {
	hs := NewHealthServer("dev")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Equal(t, "not started", response.Checks["run"])
	assert.NotEmpty(t, response.Message)
}

func TestReadyFollowsRun(t *testing.T) {
	hs := NewHealthServer("dev")

	ready := func() (int, ReadyResponse) {
		w := httptest.NewRecorder()
		hs.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		var response ReadyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		return w.Code, response
	}

	hs.Observe(&events.Event{Type: events.EventRunStarted, Message: "run-1"})
	hs.Observe(transition("db", types.StatePending))
	hs.Observe(transition("db", types.StateReady))

	code, resp := ready()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "in progress", resp.Checks["run"])
	assert.Equal(t, "ready", resp.Checks["db"])

	hs.Observe(&events.Event{Type: events.EventRunFinished, Message: "run-1"})
	code, resp = ready()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", resp.Status)

	// A new run starts from scratch
	hs.Observe(&events.Event{Type: events.EventRunStarted, Message: "run-2"})
	hs.Observe(transition("db", types.StateFailed))
	hs.Observe(&events.Event{Type: events.EventNodeFailed, ServiceID: "db", To: types.StateFailed, Message: "launch failed"})
	hs.Observe(&events.Event{Type: events.EventRunFinished, Message: "run-2"})

	code, resp = ready()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "1 node(s) failed", resp.Message)
}

func TestStatusHandler(t *testing.T) {
	hs := NewHealthServer("dev")
	hs.Observe(&events.Event{Type: events.EventRunStarted, Message: "run-1"})
	hs.Observe(transition("db", types.StateReady))
	hs.Observe(transition("app", types.StateFailed))
	hs.Observe(&events.Event{Type: events.EventNodeFailed, ServiceID: "app", To: types.StateFailed, Message: "probe timed out"})
	hs.Observe(transition("mirror", types.StateFailed))

	w := httptest.NewRecorder()
	hs.statusHandler(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.False(t, resp.Finished)
	assert.Equal(t, "probe timed out", resp.Nodes["app"].Reason)
	assert.Equal(t, 2, resp.Counts["failed"])
	assert.Equal(t, 1, resp.Counts["ready"])
}

func TestTrack(t *testing.T) {
	hs := NewHealthServer("dev")
	sub := make(events.Subscriber, 4)
	sub <- &events.Event{Type: events.EventRunStarted, Message: "run-1"}
	sub <- transition("db", types.StateSeeding)
	close(sub)

	hs.Track(sub)

	hs.mu.RLock()
	defer hs.mu.RUnlock()
	assert.Equal(t, types.StateSeeding, hs.nodes["db"].State)
}

func TestTrackSeesFinalStateOfBusyRun(t *testing.T) {
	hs := NewHealthServer("dev")
	broker := events.NewBroker()
	sub := broker.SubscribeAll()
	broker.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		hs.Track(sub)
	}()

	states := []types.NodeState{types.StatePending, types.StateSeeding, types.StateStarting, types.StateAwaitingReady, types.StateReady}
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("svc-%02d", i)
		for _, st := range states {
			broker.Publish(transition(id, st))
		}
	}
	broker.Stop()
	broker.Unsubscribe(sub)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not return after unsubscribe")
	}

	hs.mu.RLock()
	defer hs.mu.RUnlock()
	require.Len(t, hs.nodes, 40)
	for id, node := range hs.nodes {
		assert.Equal(t, types.StateReady, node.State, id)
	}
}

// TestNewHealthServer tests health server creation
func TestNewHealthServer(t *testing.T) {
	hs := NewHealthServer("dev")

	assert.NotNil(t, hs)
	assert.NotNil(t, hs.mux)

	// Verify routes are registered by testing requests
	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{path: "/status", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestComponentEndpoints(t *testing.T) {
	hs := NewHealthServer("dev")
	metrics.SetCritical("api-test-db")
	metrics.UpdateComponent("api-test-db", false, "starting")
	t.Cleanup(func() { metrics.SetCritical() })

	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/components/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	metrics.UpdateComponent("api-test-db", true, "")
	w = httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/components", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Components["api-test-db"])
}

func TestShutdownBeforeStart(t *testing.T) {
	hs := NewHealthServer("dev")
	assert.NoError(t, hs.Shutdown(context.Background()))
}

// TestHealthServerConcurrency tests concurrent requests while events arrive
func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer("dev")

	done := make(chan bool, 20)

	for i := 0; i < 10; i++ {
		go func() {
			hs.Observe(transition("db", types.StateStarting))
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.readyHandler(w, req)
			assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}

func BenchmarkReadyHandler(b *testing.B) {
	hs := NewHealthServer("dev")
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.readyHandler(w, req)
	}
}
