// Package runtimetest provides an in-memory Runtime for tests.
package runtimetest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/stackup/pkg/runtime"
	"github.com/cuemby/stackup/pkg/types"
)

// Op names a runtime operation
type Op string

const (
	OpLaunch   Op = "launch"
	OpRestart  Op = "restart"
	OpExec     Op = "exec"
	OpCopyInto Op = "copy"
	OpInspect  Op = "inspect"
	OpRemove   Op = "remove"
)

// Call records one invocation
type Call struct {
	Op      Op
	Handle  string
	Command []string
	Path    string
	At      time.Time
}

// File is content copied into an instance
type File struct {
	Content []byte
	Mode    os.FileMode
}

type instance struct {
	spec    *types.ServiceSpec
	volume  *types.Volume
	status  types.RuntimeStatus
	files   map[string]File
	project string
}

// Runtime is a goroutine-safe fake. The zero value is not usable; call New.
type Runtime struct {
	Project string

	// LaunchErr and RestartErr fail the operation for a service id
	LaunchErr  map[string]error
	RestartErr map[string]error
	CopyErr    map[string]error

	// ExitOnLaunch makes the instance of a service id exit right after it
	// starts
	ExitOnLaunch map[string]bool

	// ExecFunc answers Exec; the default succeeds with empty output
	ExecFunc func(handle string, command []string) (*types.ExecResult, error)

	// LaunchDelay is slept before Launch returns
	LaunchDelay time.Duration

	mu        sync.Mutex
	instances map[string]*instance
	calls     []Call
}

var _ runtime.Runtime = (*Runtime)(nil)

// New creates an empty fake runtime for project
func New(project string) *Runtime {
	return &Runtime{
		Project:      project,
		LaunchErr:    make(map[string]error),
		RestartErr:   make(map[string]error),
		CopyErr:      make(map[string]error),
		ExitOnLaunch: make(map[string]bool),
		instances:    make(map[string]*instance),
	}
}

func (r *Runtime) record(c Call) {
	c.At = time.Now()
	r.calls = append(r.calls, c)
}

// Launch registers a running instance for spec
func (r *Runtime) Launch(ctx context.Context, spec *types.ServiceSpec, volume *types.Volume) (string, error) {
	if r.LaunchDelay > 0 {
		select {
		case <-time.After(r.LaunchDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	handle := runtime.Handle(r.Project, spec.ID)
	r.record(Call{Op: OpLaunch, Handle: handle})
	if err := r.LaunchErr[spec.ID]; err != nil {
		return "", err
	}

	r.instances[handle] = &instance{
		spec:    spec,
		volume:  volume,
		status:  types.RuntimeRunning,
		files:   make(map[string]File),
		project: r.Project,
	}
	if r.ExitOnLaunch[spec.ID] {
		r.instances[handle].status = types.RuntimeExited
	}
	return handle, nil
}

// Restart marks the instance running again
func (r *Runtime) Restart(ctx context.Context, handle string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(Call{Op: OpRestart, Handle: handle})
	inst, ok := r.instances[handle]
	if !ok {
		return fmt.Errorf("no such instance %s", handle)
	}
	if err := r.RestartErr[inst.spec.ID]; err != nil {
		inst.status = types.RuntimeExited
		return err
	}
	inst.status = types.RuntimeRunning
	return nil
}

// Exec delegates to ExecFunc
func (r *Runtime) Exec(ctx context.Context, handle string, command []string) (*types.ExecResult, error) {
	r.mu.Lock()
	r.record(Call{Op: OpExec, Handle: handle, Command: append([]string(nil), command...)})
	_, ok := r.instances[handle]
	fn := r.ExecFunc
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no such instance %s", handle)
	}
	if fn == nil {
		return &types.ExecResult{}, nil
	}
	return fn(handle, command)
}

// CopyInto stores content under path
func (r *Runtime) CopyInto(ctx context.Context, handle string, content []byte, path string, mode os.FileMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(Call{Op: OpCopyInto, Handle: handle, Path: path})
	inst, ok := r.instances[handle]
	if !ok {
		return fmt.Errorf("no such instance %s", handle)
	}
	if err := r.CopyErr[inst.spec.ID]; err != nil {
		return err
	}
	inst.files[path] = File{Content: append([]byte(nil), content...), Mode: mode}
	return nil
}

// InspectStatus reports the instance status
func (r *Runtime) InspectStatus(ctx context.Context, handle string) (types.RuntimeStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(Call{Op: OpInspect, Handle: handle})
	inst, ok := r.instances[handle]
	if !ok {
		return types.RuntimeUnknown, fmt.Errorf("no such instance %s", handle)
	}
	return inst.status, nil
}

// Remove forgets the instance
func (r *Runtime) Remove(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(Call{Op: OpRemove, Handle: handle})
	delete(r.instances, handle)
	return nil
}

// List returns the sorted handles of project's instances
func (r *Runtime) List(ctx context.Context, project string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var handles []string
	for h, inst := range r.instances {
		if inst.project == project {
			handles = append(handles, h)
		}
	}
	sort.Strings(handles)
	return handles, nil
}

// Seed adds a running instance without recording a launch, as if left over
// from an earlier run
func (r *Runtime) Seed(spec *types.ServiceSpec) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle := runtime.Handle(r.Project, spec.ID)
	r.instances[handle] = &instance{
		spec:    spec,
		status:  types.RuntimeRunning,
		files:   make(map[string]File),
		project: r.Project,
	}
	return handle
}

// Calls returns a copy of the call log
func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsFor returns the calls for handle, optionally filtered by op
func (r *Runtime) CallsFor(handle string, ops ...Op) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Handle != handle {
			continue
		}
		if len(ops) > 0 && !containsOp(ops, c.Op) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// File returns content previously copied into handle at path
func (r *Runtime) File(handle, path string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[handle]
	if !ok {
		return File{}, false
	}
	f, ok := inst.files[path]
	return f, ok
}

// Volume returns the volume an instance was launched with
func (r *Runtime) Volume(handle string) *types.Volume {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[handle]; ok {
		return inst.volume
	}
	return nil
}

// Launched reports whether the service was ever launched
func (r *Runtime) Launched(serviceID string) bool {
	return len(r.CallsFor(runtime.Handle(r.Project, serviceID), OpLaunch)) > 0
}

func containsOp(ops []Op, op Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
