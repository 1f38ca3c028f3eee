package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/cuemby/stackup/pkg/config"
	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/postboot"
	"github.com/cuemby/stackup/pkg/registry"
	"github.com/cuemby/stackup/pkg/runtime"
	"github.com/cuemby/stackup/pkg/scheduler"
	"github.com/cuemby/stackup/pkg/storage"
	"github.com/cuemby/stackup/pkg/types"
	"github.com/cuemby/stackup/pkg/volume"
	"github.com/cuemby/stackup/pkg/workspace"
)

// APIFactory creates the management API client for post-bootstrap
type APIFactory func(cfg postboot.ClientConfig) (postboot.API, error)

// Options configures a Provisioner
type Options struct {
	// ConfigPath is the topology file; empty selects the embedded default
	ConfigPath string
	Workdir    string

	// Env is the template environment; nil uses the process environment
	Env map[string]string

	Parallelism   int
	RunTimeout    time.Duration
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// KeepVolumes skips deleting volumes during teardown
	KeepVolumes bool

	// MetricsInterval is the node state gauge sampling period
	MetricsInterval time.Duration

	Clock    clock.Clock
	Checkers scheduler.CheckerFactory
	API      APIFactory
}

// Provisioner runs the whole bring-up of a topology: workspace, trust
// material, teardown of the previous topology, scheduling and
// post-bootstrap setup
type Provisioner struct {
	runtime runtime.Runtime
	events  events.Publisher
	opts    Options
	logger  zerolog.Logger
}

// New creates a provisioner. publisher may be nil.
func New(rt runtime.Runtime, publisher events.Publisher, opts Options) *Provisioner {
	if opts.Env == nil {
		opts.Env = config.EnvMap(os.Environ())
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.API == nil {
		opts.API = func(cfg postboot.ClientConfig) (postboot.API, error) {
			return postboot.NewClient(cfg)
		}
	}
	return &Provisioner{
		runtime: rt,
		events:  publisher,
		opts:    opts,
		logger:  log.WithComponent("provision"),
	}
}

// Plan loads and validates the topology without touching the runtime or the
// working directory
func (p *Provisioner) Plan() (*config.Topology, *registry.Registry, error) {
	file, ws, err := p.load()
	if err != nil {
		return nil, nil, err
	}
	return p.plan(file, ws)
}

func (p *Provisioner) load() (*config.File, *workspace.Workspace, error) {
	file, err := config.Load(p.opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	ws, err := workspace.New(p.opts.Workdir)
	if err != nil {
		return nil, nil, err
	}
	return file, ws, nil
}

// plan renders without reading seed sources, which may reference material
// generated later in the run
func (p *Provisioner) plan(file *config.File, ws *workspace.Workspace) (*config.Topology, *registry.Registry, error) {
	topo, err := file.Render(config.RenderContext{Workdir: ws.Root(), Env: p.opts.Env, SkipSources: true})
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.New(topo.Services)
	if err != nil {
		return nil, nil, err
	}
	return topo, reg, nil
}

// Up provisions the topology and returns the run report. An error means the
// run could not start; node failures are reported in the report.
func (p *Provisioner) Up(ctx context.Context) (*types.Report, error) {
	// Validation happens before any side effect
	file, ws, err := p.load()
	if err != nil {
		return nil, err
	}
	if _, _, err := p.plan(file, ws); err != nil {
		return nil, err
	}

	if err := ws.Prepare(); err != nil {
		return nil, err
	}

	ts, err := file.TrustSettings()
	if err != nil {
		return nil, err
	}
	material, err := ws.GenerateTrust(workspace.TrustOptions{
		Organization:    ts.Organization,
		KeyBits:         ts.KeyBits,
		ProxyCommonName: ts.ProxyHost,
		ProxyDNSNames:   ts.ProxyNames,
		ProxyIPs:        ts.ProxyIPs,
	})
	if err != nil {
		return nil, err
	}

	topo, err := file.Render(config.RenderContext{Workdir: ws.Root(), Env: p.opts.Env})
	if err != nil {
		return nil, err
	}
	p.writeRendered(ws, topo.Services)
	reg, err := registry.New(topo.Services)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(ws.Root())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	if err := store.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset state: %w", err)
	}

	driver, err := volume.NewLocalDriver(ws.VolumesDir())
	if err != nil {
		return nil, err
	}

	if err := p.teardown(ctx, topo, store, driver, !p.opts.KeepVolumes); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Str("project", topo.Project).Logger()

	var watch *readyWatch
	if topo.PostBootstrap != nil {
		watch = newReadyWatch(topo.PostBootstrap.After, p.events)
	}

	sched := scheduler.NewScheduler(reg, p.runtime, driver, scheduler.Options{
		RunID:           runID,
		Project:         topo.Project,
		Parallelism:     p.opts.Parallelism,
		RunTimeout:      p.opts.RunTimeout,
		ProbeInterval:   p.opts.ProbeInterval,
		ProbeTimeout:    p.opts.ProbeTimeout,
		Certificate:     material.CA.RootCertPEM(),
		CertificatePath: material.RootCertPath,
		Clock:           p.opts.Clock,
		Events:          publisherOf(watch, p.events),
		Checkers:        p.opts.Checkers,
	})

	collector := metrics.NewCollector(sched, p.opts.MetricsInterval)
	collector.Start()
	defer collector.Stop()

	// Post-bootstrap starts as soon as its service is ready, while the rest
	// of the topology keeps coming up
	postDone := make(chan []*types.PostBootstrapWarning, 1)
	runDone := make(chan struct{})
	if watch != nil {
		go func() {
			select {
			case <-watch.ready:
			case <-runDone:
				select {
				case <-watch.ready:
				default:
					postDone <- nil
					return
				}
			}
			postDone <- p.postBootstrap(ctx, topo.PostBootstrap)
		}()
	}

	p.publish(&events.Event{Type: events.EventRunStarted, Message: runID, Metadata: map[string]string{"project": topo.Project}})
	logger.Info().Str("workdir", ws.Root()).Msg("Provisioning topology")

	report := sched.Run(ctx)
	close(runDone)

	if watch != nil {
		for _, w := range <-postDone {
			report.Warnings = append(report.Warnings, w.Error())
		}
		if !report.IsReady(topo.PostBootstrap.After) {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("post-bootstrap skipped: %s is not ready", topo.PostBootstrap.After))
		}
	}

	if err := p.record(store, driver, topo, sched, report); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run state")
	}

	p.publish(&events.Event{
		Type:     events.EventRunFinished,
		Message:  runID,
		Metadata: map[string]string{"ready": fmt.Sprint(len(report.Ready)), "failed": fmt.Sprint(len(report.Failed))},
	})
	return report, nil
}

// Down removes every instance of the topology and, unless keepVolumes is
// set, its volumes
func (p *Provisioner) Down(ctx context.Context, keepVolumes bool) error {
	file, ws, err := p.load()
	if err != nil {
		return err
	}
	topo, _, err := p.plan(file, ws)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ws.Root(), 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	store, err := storage.NewBoltStore(ws.Root())
	if err != nil {
		return err
	}
	defer store.Close()

	driver, err := volume.NewLocalDriver(ws.VolumesDir())
	if err != nil {
		return err
	}
	return p.teardown(ctx, topo, store, driver, !keepVolumes)
}

// Status returns the last recorded report and instances
func (p *Provisioner) Status() (*types.Report, []*storage.InstanceRecord, error) {
	ws, err := workspace.New(p.opts.Workdir)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(ws.Root()); err != nil {
		return nil, nil, fmt.Errorf("no run recorded in %s: %w", ws.Root(), err)
	}

	store, err := storage.NewBoltStore(ws.Root())
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	report, err := store.LatestReport()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("no run recorded in %s", ws.Root())
	}
	if err != nil {
		return nil, nil, err
	}
	instances, err := store.ListInstances()
	if err != nil {
		return nil, nil, err
	}
	return report, instances, nil
}

// postBootstrap runs the configurator. Failure to build the client is a
// warning like any other post-bootstrap failure.
func (p *Provisioner) postBootstrap(ctx context.Context, pb *config.PostBootstrap) []*types.PostBootstrapWarning {
	api, err := p.opts.API(pb.Client)
	if err != nil {
		return []*types.PostBootstrapWarning{{Step: "connect", Cause: err}}
	}
	_, warnings := postboot.NewConfigurator(api, pb.Projects, p.events).Run(ctx)
	return warnings
}

// record persists the report, every instance and the volumes that exist now
func (p *Provisioner) record(store storage.Store, driver volume.Driver, topo *config.Topology, sched *scheduler.Scheduler, report *types.Report) error {
	var errs []error
	if err := store.SaveReport(report); err != nil {
		errs = append(errs, err)
	}

	for _, inst := range sched.Instances() {
		if err := store.SaveInstance(storage.NewInstanceRecord(report.RunID, inst)); err != nil {
			errs = append(errs, err)
		}

		spec := inst.Spec
		if spec.Volume == nil || !inst.Visited(types.StateSeeding) {
			continue
		}
		vol := volumeFor(topo.Project, spec)
		vol.MountPath = driver.GetPath(vol)
		if _, err := os.Stat(vol.MountPath); err != nil {
			continue
		}
		if err := store.SaveVolume(vol); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Provisioner) publish(e *events.Event) {
	if p.events != nil {
		p.events.Publish(e)
	}
}

func volumeFor(project string, spec *types.ServiceSpec) *types.Volume {
	return &types.Volume{
		ID:     volume.ID(project, spec.Volume.Name),
		Name:   spec.Volume.Name,
		Driver: "local",
		Owner:  spec.ID,
		Target: spec.Volume.Target,
	}
}

// writeRendered keeps a copy of every seed payload under rendered/ for
// inspection. A bad destination is left for the seeder to fail the node.
func (p *Provisioner) writeRendered(ws *workspace.Workspace, specs []*types.ServiceSpec) {
	for _, spec := range specs {
		for _, f := range spec.SeedFiles {
			if f.IsDirectory {
				continue
			}
			if _, err := ws.WriteRendered(spec.ID, f.Destination, f.Content, f.Mode.Perm()); err != nil {
				p.logger.Debug().Str("service_id", spec.ID).Err(err).Msg("Rendered payload not kept")
			}
		}
	}
}
