package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/storage"
	"github.com/cuemby/stackup/pkg/types"
)

func testReport() *types.Report {
	start := time.Now().Add(-time.Minute)
	return &types.Report{
		RunID:      "run-1",
		Project:    "demo",
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
		Ready: []types.NodeResult{
			{ID: "db", State: types.StateReady, StartedAt: start, ReadyAt: start.Add(2 * time.Second)},
		},
		Failed: []types.NodeResult{
			{ID: "app", State: types.StateFailed, FailureKind: types.FailureTimedOut, Reason: "timed out"},
		},
		Warnings: []string{"post-bootstrap skipped: app is not ready"},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, testReport())

	out := buf.String()
	assert.Contains(t, out, "Run run-1 of demo finished in 30s")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "timed out")
	assert.Contains(t, out, "! post-bootstrap skipped: app is not ready")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("app ")), bytes.Index(buf.Bytes(), []byte("db ")))
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	instances := []*storage.InstanceRecord{
		{ID: "db", State: types.StateReady, Handle: "demo-db",
			LastProbe:   &types.ProbeResult{Outcome: types.OutcomeReady, Attempts: 3},
			Transitions: []types.Transition{{From: types.StatePending, To: types.StateSeeding, At: time.Now()}}},
		{ID: "app", State: types.StateFailed, FailureKind: types.FailureTimedOut, FailureReason: "timed out"},
	}
	printStatus(&buf, testReport(), instances)

	out := buf.String()
	assert.Contains(t, out, "failed (1 of 2 services)")
	assert.Contains(t, out, "ready after 3 attempts")
	assert.Contains(t, out, "demo-db")
	assert.Contains(t, out, "✗ app")
}

func TestPrintProgress(t *testing.T) {
	sub := make(events.Subscriber, 4)
	sub <- &events.Event{Type: events.EventNodeTransition, ServiceID: "db", From: types.StatePending, To: types.StateSeeding}
	sub <- &events.Event{Type: events.EventNodeReady, ServiceID: "db"}
	sub <- &events.Event{Type: events.EventNodeFailed, ServiceID: "app", Message: "boom", Metadata: map[string]string{"kind": "LaunchFailed"}}
	close(sub)

	var buf bytes.Buffer
	printProgress(&buf, sub)
	assert.Contains(t, buf.String(), "✓ db ready")
	assert.Contains(t, buf.String(), "✗ app failed (LaunchFailed): boom")
}
