package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/health"
	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/registry"
	"github.com/cuemby/stackup/pkg/runtime"
	"github.com/cuemby/stackup/pkg/trust"
	"github.com/cuemby/stackup/pkg/types"
	"github.com/cuemby/stackup/pkg/volume"
)

const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 10 * time.Minute
)

// CheckerFactory builds the readiness checker for a launched instance
type CheckerFactory func(spec *types.ServiceSpec, handle string) (health.Checker, error)

// Options configures a Scheduler
type Options struct {
	RunID   string
	Project string

	// Parallelism bounds the nodes of one layer running at once; 0 means
	// the whole layer
	Parallelism int

	// RunTimeout bounds the whole run; 0 means no bound
	RunTimeout time.Duration

	ProbeInterval time.Duration // Used when a spec leaves Interval unset
	ProbeTimeout  time.Duration // Used when a spec leaves Timeout unset

	// Certificate is the shared root certificate imported by nodes that
	// require trust bootstrap
	Certificate     []byte
	CertificatePath string

	Clock    clock.Clock
	Events   events.Publisher
	Checkers CheckerFactory
}

// Scheduler drives every node of the registry through its lifecycle in
// dependency order. It is the only writer of ServiceInstance records.
type Scheduler struct {
	registry *registry.Registry
	runtime  runtime.Runtime
	volumes  volume.Driver
	seeder   *volume.Seeder
	prober   *health.Prober
	trust    *trust.Bootstrapper
	opts     Options
	clock    clock.Clock
	logger   zerolog.Logger

	mu        sync.RWMutex
	instances map[string]*types.ServiceInstance
}

// NewScheduler creates a scheduler for one run
func NewScheduler(reg *registry.Registry, rt runtime.Runtime, volumes volume.Driver, opts Options) *Scheduler {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}

	s := &Scheduler{
		registry:  reg,
		runtime:   rt,
		volumes:   volumes,
		seeder:    volume.NewSeeder(),
		prober:    health.NewProber(opts.Clock),
		trust:     trust.NewBootstrapper(rt),
		opts:      opts,
		clock:     opts.Clock,
		logger:    log.WithComponent("scheduler").With().Str("run_id", opts.RunID).Logger(),
		instances: make(map[string]*types.ServiceInstance),
	}
	if s.opts.Checkers == nil {
		s.opts.Checkers = func(spec *types.ServiceSpec, handle string) (health.Checker, error) {
			return health.NewChecker(spec.Readiness, handle, rt)
		}
	}

	for _, spec := range reg.List() {
		s.instances[spec.ID] = &types.ServiceInstance{Spec: spec, State: types.StatePending}
	}
	return s
}

// Run brings the topology up layer by layer and returns the report. Node
// failures never abort the run; they fail the node and its dependents.
func (s *Scheduler) Run(ctx context.Context) *types.Report {
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RunDuration)

	report := &types.Report{
		RunID:     s.opts.RunID,
		Project:   s.opts.Project,
		StartedAt: s.clock.Now(),
	}
	metrics.SetCritical(s.ids()...)
	s.logger.Info().Int("nodes", len(s.instances)).Int("layers", len(s.registry.Layers())).Msg("Starting run")

	for i, layer := range s.registry.Layers() {
		layerTimer := metrics.NewTimer()
		s.logger.Debug().Int("layer", i).Strs("nodes", layer).Msg("Starting layer")

		var g errgroup.Group
		if s.opts.Parallelism > 0 {
			g.SetLimit(s.opts.Parallelism)
		}
		for _, id := range layer {
			g.Go(func() error {
				s.runNode(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		layerTimer.ObserveDurationVec(metrics.LayerDuration, strconv.Itoa(i))
	}

	report.FinishedAt = s.clock.Now()
	s.fillReport(report)

	s.logger.Info().
		Int("ready", len(report.Ready)).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration()).
		Msg("Run finished")
	return report
}

// runNode advances one node from Pending to a terminal state
func (s *Scheduler) runNode(ctx context.Context, id string) {
	inst := s.instance(id)
	spec := inst.Spec
	logger := s.logger.With().Str("service_id", id).Logger()

	for _, dep := range s.registry.DependenciesOf(id) {
		if s.stateOf(dep) != types.StateReady {
			s.fail(inst, types.FailureUpstream, &types.UpstreamFailure{ServiceID: id, Dependency: dep})
			return
		}
	}

	s.transition(inst, types.StatePending)
	if ctx.Err() != nil {
		s.fail(inst, types.FailureCanceled, ctx.Err())
		return
	}

	s.transition(inst, types.StateSeeding)
	vol, err := s.prepareVolume(spec)
	if err != nil {
		s.fail(inst, types.FailureSeed, err)
		return
	}

	s.transition(inst, types.StateStarting)
	handle, err := s.runtime.Launch(ctx, spec, vol)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(inst, types.FailureCanceled, ctx.Err())
			return
		}
		s.fail(inst, types.FailureLaunch, &types.LaunchError{ServiceID: id, Cause: err})
		return
	}
	s.update(func() {
		inst.Handle = handle
		inst.StartedAt = s.clock.Now()
	})

	s.transition(inst, types.StateAwaitingReady)
	if !s.awaitReady(ctx, inst) {
		return
	}

	if !spec.RequiresTrustBootstrap {
		s.markReady(inst)
		return
	}

	s.transition(inst, types.StateTrustBootstrap)
	req := &types.TrustRequest{
		ServiceID:       id,
		Target:          handle,
		CertificatePath: s.opts.CertificatePath,
		Certificate:     s.opts.Certificate,
	}
	if warning := s.trust.Import(ctx, req, spec.Trust); warning != nil {
		logger.Warn().Err(warning).Bool("already_present", warning.AlreadyPresent).Msg("Trust import did not complete cleanly, restarting anyway")
		s.update(func() { inst.Warnings = append(inst.Warnings, warning.Error()) })
		s.publish(&events.Event{Type: events.EventTrustWarning, ServiceID: id, Message: warning.Error()})
	}

	s.transition(inst, types.StateRestarting)
	if err := s.runtime.Restart(ctx, handle, spec.StopTimeout); err != nil {
		s.fail(inst, types.FailureRestart, &types.LaunchError{ServiceID: id, Cause: err})
		return
	}

	s.transition(inst, types.StateAwaitingReadyAfterTrust)
	if !s.awaitReady(ctx, inst) {
		return
	}
	s.markReady(inst)
}

func (s *Scheduler) prepareVolume(spec *types.ServiceSpec) (*types.Volume, error) {
	if spec.Volume == nil {
		if len(spec.SeedFiles) > 0 {
			return nil, &types.SeedError{Path: spec.ID, Cause: errors.New("seed files declared without a volume")}
		}
		return nil, nil
	}

	vol := &types.Volume{
		ID:     volume.ID(s.opts.Project, spec.Volume.Name),
		Name:   spec.Volume.Name,
		Driver: "local",
		Owner:  spec.ID,
		Target: spec.Volume.Target,
	}
	if err := s.volumes.Create(vol); err != nil {
		return nil, &types.SeedError{Path: vol.ID, Cause: err}
	}
	if err := s.seeder.Seed(vol, spec.SeedFiles); err != nil {
		return nil, err
	}
	return vol, nil
}

// awaitReady probes the instance and fails it unless it became ready
func (s *Scheduler) awaitReady(ctx context.Context, inst *types.ServiceInstance) bool {
	spec := inst.Spec
	checker, err := s.opts.Checkers(spec, inst.Handle)
	if err != nil {
		s.fail(inst, types.FailureErrored, fmt.Errorf("readiness probe: %w", err))
		return false
	}

	interval := spec.Readiness.Interval
	if interval <= 0 {
		interval = s.opts.ProbeInterval
	}
	timeout := spec.Readiness.Timeout
	if timeout <= 0 {
		timeout = s.opts.ProbeTimeout
	}

	checker = &runningChecker{Checker: checker, runtime: s.runtime, handle: inst.Handle}
	result := s.prober.WaitReady(ctx, spec.ID, checker, interval, timeout)
	s.update(func() { inst.LastProbeResult = &result })

	if result.Outcome == types.OutcomeReady {
		return true
	}
	perr := &types.ProbeError{ServiceID: spec.ID, Result: result}
	s.fail(inst, perr.Kind(), perr)
	return false
}

// runningChecker fails permanently once the instance process has exited,
// so a service that dies while booting does not wait out its timeout
type runningChecker struct {
	health.Checker
	runtime runtime.Runtime
	handle  string
}

func (c *runningChecker) Check(ctx context.Context) health.Result {
	status, err := c.runtime.InspectStatus(ctx, c.handle)
	if err == nil && status == types.RuntimeExited {
		return health.Result{Permanent: true, Message: fmt.Sprintf("instance %s exited", c.handle), CheckedAt: time.Now()}
	}
	return c.Checker.Check(ctx)
}

func (s *Scheduler) markReady(inst *types.ServiceInstance) {
	if missing, ok := ReadyInvariant(inst); !ok {
		s.fail(inst, types.FailureErrored, fmt.Errorf("lifecycle skipped %s", missing))
		return
	}

	s.update(func() { inst.ReadyAt = s.clock.Now() })
	s.transition(inst, types.StateReady)
	metrics.UpdateComponent(inst.Spec.ID, true, string(types.StateReady))
	s.publish(&events.Event{Type: events.EventNodeReady, ServiceID: inst.Spec.ID, To: types.StateReady})
}

func (s *Scheduler) fail(inst *types.ServiceInstance, kind types.FailureKind, cause error) {
	s.update(func() {
		inst.FailureKind = kind
		inst.FailureReason = cause.Error()
	})
	s.transition(inst, types.StateFailed)

	metrics.NodeFailures.WithLabelValues(string(kind)).Inc()
	metrics.UpdateComponent(inst.Spec.ID, false, string(kind))

	ev := &events.Event{
		Type:      events.EventNodeFailed,
		ServiceID: inst.Spec.ID,
		To:        types.StateFailed,
		Message:   cause.Error(),
		Metadata:  map[string]string{"kind": string(kind)},
	}
	entry := s.logger.Error().Str("service_id", inst.Spec.ID).Str("kind", string(kind)).Err(cause)
	// Upstream failures are already part of the cascade their root reported
	if kind != types.FailureUpstream {
		if blocked := s.registry.TransitiveDependents(inst.Spec.ID); len(blocked) > 0 {
			ev.Metadata["blocked"] = strings.Join(blocked, ",")
			entry = entry.Strs("blocked", blocked)
		}
	}
	entry.Msg("Node failed")
	s.publish(ev)
}

// transition moves inst to state. An illegal move is a scheduler bug.
func (s *Scheduler) transition(inst *types.ServiceInstance, to types.NodeState) {
	s.mu.Lock()
	from := inst.State
	if len(inst.Transitions) == 0 && to == types.StatePending {
		from = ""
	}
	if !Allowed(from, to) {
		s.mu.Unlock()
		panic(fmt.Sprintf("scheduler: illegal transition %q -> %q for %s", from, to, inst.Spec.ID))
	}
	now := s.clock.Now()
	inst.State = to
	inst.Transitions = append(inst.Transitions, types.Transition{From: from, To: to, At: now})
	s.mu.Unlock()

	metrics.NodeTransitions.WithLabelValues(string(to)).Inc()
	if !to.Terminal() {
		metrics.UpdateComponent(inst.Spec.ID, false, string(to))
	}
	s.logger.Debug().Str("service_id", inst.Spec.ID).Str("from", string(from)).Str("to", string(to)).Msg("Transition")
	s.publish(&events.Event{
		Type:      events.EventNodeTransition,
		Timestamp: now,
		ServiceID: inst.Spec.ID,
		From:      from,
		To:        to,
	})
}

func (s *Scheduler) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Scheduler) publish(ev *events.Event) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(ev)
	}
}

func (s *Scheduler) instance(id string) *types.ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[id]
}

func (s *Scheduler) stateOf(id string) types.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inst, ok := s.instances[id]; ok {
		return inst.State
	}
	return ""
}

func (s *Scheduler) ids() []string {
	specs := s.registry.List()
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ID)
	}
	return ids
}

// Instance returns a copy of the instance record for id
func (s *Scheduler) Instance(id string) (types.ServiceInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return types.ServiceInstance{}, false
	}
	return copyInstance(inst), true
}

// Instances returns copies of every instance record in registry order
func (s *Scheduler) Instances() []types.ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ServiceInstance, 0, len(s.instances))
	for _, spec := range s.registry.List() {
		out = append(out, copyInstance(s.instances[spec.ID]))
	}
	return out
}

// StateCounts implements metrics.StateSource
func (s *Scheduler) StateCounts() map[types.NodeState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.NodeState]int)
	for _, inst := range s.instances {
		counts[inst.State]++
	}
	return counts
}

func (s *Scheduler) fillReport(report *types.Report) {
	for _, inst := range s.Instances() {
		result := types.NodeResult{
			ID:          inst.Spec.ID,
			State:       inst.State,
			FailureKind: inst.FailureKind,
			Reason:      inst.FailureReason,
			StartedAt:   inst.StartedAt,
			ReadyAt:     inst.ReadyAt,
			Warnings:    inst.Warnings,
		}
		report.Warnings = append(report.Warnings, inst.Warnings...)
		if inst.State == types.StateReady {
			report.Ready = append(report.Ready, result)
		} else {
			report.Failed = append(report.Failed, result)
		}
	}
}

func copyInstance(inst *types.ServiceInstance) types.ServiceInstance {
	c := *inst
	c.Warnings = append([]string(nil), inst.Warnings...)
	c.Transitions = append([]types.Transition(nil), inst.Transitions...)
	if inst.LastProbeResult != nil {
		r := *inst.LastProbeResult
		c.LastProbeResult = &r
	}
	return c
}
