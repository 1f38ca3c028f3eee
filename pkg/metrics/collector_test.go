package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/stackup/pkg/types"
)

type staticSource map[types.NodeState]int

func (s staticSource) StateCounts() map[types.NodeState]int { return s }

func TestCollectorSetsEveryState(t *testing.T) {
	c := NewCollector(staticSource{types.StateReady: 3, types.StateFailed: 1}, time.Hour)
	c.Collect()

	assert.Equal(t, 3.0, testutil.ToFloat64(NodesByState.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(NodesByState.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(NodesByState.WithLabelValues("pending")))
}

func TestCollectorStartStop(t *testing.T) {
	src := staticSource{types.StateSeeding: 2}
	c := NewCollector(src, time.Millisecond)
	c.Start()
	c.Stop()
	// Stop is idempotent
	c.Stop()

	assert.Equal(t, 2.0, testutil.ToFloat64(NodesByState.WithLabelValues("seeding")))
}
