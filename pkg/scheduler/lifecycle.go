package scheduler

import "github.com/cuemby/stackup/pkg/types"

// transitions lists the successors of each lifecycle state. Failed is
// reachable from every non-terminal state and is added by Allowed.
var transitions = map[types.NodeState][]types.NodeState{
	"":                                 {types.StatePending},
	types.StatePending:                 {types.StateSeeding},
	types.StateSeeding:                 {types.StateStarting},
	types.StateStarting:                {types.StateAwaitingReady},
	types.StateAwaitingReady:           {types.StateReady, types.StateTrustBootstrap},
	types.StateTrustBootstrap:          {types.StateRestarting},
	types.StateRestarting:              {types.StateAwaitingReadyAfterTrust},
	types.StateAwaitingReadyAfterTrust: {types.StateReady},
}

// Allowed reports whether a node may move from one state to another
func Allowed(from, to types.NodeState) bool {
	if from.Terminal() {
		return false
	}
	if to == types.StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReadyInvariant checks the ordering an instance must have gone through to be
// Ready: seeded, started, probed successfully, and when trust bootstrap is
// required, restarted and probed again. It returns the first missing state.
func ReadyInvariant(inst *types.ServiceInstance) (types.NodeState, bool) {
	required := []types.NodeState{types.StateSeeding, types.StateStarting, types.StateAwaitingReady}
	if inst.Spec.RequiresTrustBootstrap {
		required = append(required,
			types.StateTrustBootstrap, types.StateRestarting, types.StateAwaitingReadyAfterTrust)
	}

	last := -1
	for _, state := range required {
		idx := -1
		for i, t := range inst.Transitions {
			if t.To == state {
				idx = i
				break
			}
		}
		if idx <= last {
			return state, false
		}
		last = idx
	}
	return "", true
}
