package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/stackup/pkg/types"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		from, to types.NodeState
		want     bool
	}{
		{"", types.StatePending, true},
		{types.StatePending, types.StateSeeding, true},
		{types.StatePending, types.StateStarting, false},
		{types.StatePending, types.StateFailed, true},
		{types.StateSeeding, types.StateStarting, true},
		{types.StateStarting, types.StateAwaitingReady, true},
		{types.StateAwaitingReady, types.StateReady, true},
		{types.StateAwaitingReady, types.StateTrustBootstrap, true},
		{types.StateAwaitingReady, types.StateRestarting, false},
		{types.StateTrustBootstrap, types.StateRestarting, true},
		{types.StateTrustBootstrap, types.StateReady, false},
		{types.StateRestarting, types.StateAwaitingReadyAfterTrust, true},
		{types.StateAwaitingReadyAfterTrust, types.StateReady, true},
		{types.StateAwaitingReadyAfterTrust, types.StateFailed, true},
		{types.StateReady, types.StateFailed, false},
		{types.StateFailed, types.StatePending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Allowed(tt.from, tt.to), "%q -> %q", tt.from, tt.to)
	}
}

func instanceWith(trust bool, states ...types.NodeState) *types.ServiceInstance {
	inst := &types.ServiceInstance{Spec: &types.ServiceSpec{ID: "x", RequiresTrustBootstrap: trust}}
	for _, s := range states {
		inst.Transitions = append(inst.Transitions, types.Transition{To: s})
	}
	return inst
}

func TestReadyInvariant(t *testing.T) {
	plain := []types.NodeState{types.StatePending, types.StateSeeding, types.StateStarting, types.StateAwaitingReady, types.StateReady}
	_, ok := ReadyInvariant(instanceWith(false, plain...))
	assert.True(t, ok)

	missing, ok := ReadyInvariant(instanceWith(true, plain...))
	assert.False(t, ok)
	assert.Equal(t, types.StateTrustBootstrap, missing)

	full := []types.NodeState{
		types.StatePending, types.StateSeeding, types.StateStarting, types.StateAwaitingReady,
		types.StateTrustBootstrap, types.StateRestarting, types.StateAwaitingReadyAfterTrust, types.StateReady,
	}
	_, ok = ReadyInvariant(instanceWith(true, full...))
	assert.True(t, ok)

	missing, ok = ReadyInvariant(instanceWith(false, types.StatePending, types.StateStarting, types.StateSeeding, types.StateAwaitingReady))
	assert.False(t, ok)
	assert.Equal(t, types.StateStarting, missing)
}
