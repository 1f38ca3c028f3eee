package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for stackup
	DefaultNamespace = "stackup"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	defaultStopTimeout = 10 * time.Second
)

// Options configures a ContainerdRuntime
type Options struct {
	SocketPath string
	Namespace  string
	Project    string // Prefix for container handles and value of LabelProject
	LogDir     string // Task stdout/stderr files, one per handle
}

// ContainerdRuntime implements Runtime using containerd. Containers share the
// host network namespace so services reach each other on localhost.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	project   string
	logDir    string
	logger    zerolog.Logger
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(opts Options) (*ContainerdRuntime, error) {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}

	client, err := containerd.New(opts.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: opts.Namespace,
		project:   opts.Project,
		logDir:    opts.LogDir,
		logger:    log.WithComponent("runtime"),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Launch creates and starts the container for spec
func (r *ContainerdRuntime) Launch(ctx context.Context, spec *types.ServiceSpec, volume *types.Volume) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	handle := Handle(r.project, spec.ID)

	if err := r.Remove(ctx, handle); err != nil {
		return "", fmt.Errorf("failed to replace previous container: %w", err)
	}

	image, err := r.ensureImage(ctx, spec.Image)
	if err != nil {
		return "", err
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
		oci.WithEnv(spec.Env),
	}
	if len(spec.Args) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Args...))
	}
	if volume != nil {
		opts = append(opts, oci.WithMounts([]specs.Mount{
			{
				Source:      volume.MountPath,
				Destination: volume.Target,
				Type:        "bind",
				Options:     []string{"rbind", "rw"},
			},
		}))
	}

	container, err := r.client.NewContainer(
		ctx,
		handle,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(handle+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			LabelProject: r.project,
			LabelService: spec.ID,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.startTask(ctx, container); err != nil {
		return "", err
	}

	r.logger.Debug().Str("service_id", spec.ID).Str("handle", handle).Str("image", spec.Image).Msg("Container started")
	return handle, nil
}

// Restart stops the running task and starts a new one in the same container
func (r *ContainerdRuntime) Restart(ctx context.Context, handle string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", handle, err)
	}

	if err := r.stopTask(ctx, container, timeout); err != nil {
		return err
	}
	return r.startTask(ctx, container)
}

// Exec runs command in the container's running task
func (r *ContainerdRuntime) Exec(ctx context.Context, handle string, command []string) (*types.ExecResult, error) {
	return r.exec(namespaces.WithNamespace(ctx, r.namespace), handle, command, nil)
}

// CopyInto writes content at path inside the container. Paths under a bind
// mount are written on the host side with a rename; anything else is streamed
// through the container's shell.
func (r *ContainerdRuntime) CopyInto(ctx context.Context, handle string, content []byte, dest string, mode os.FileMode) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", handle, err)
	}
	spec, err := container.Spec(ctx)
	if err != nil {
		return fmt.Errorf("failed to read container spec: %w", err)
	}

	if hostPath, ok := resolveMount(spec.Mounts, dest); ok {
		return writeHostFile(hostPath, content, mode)
	}

	script := fmt.Sprintf(`mkdir -p "$(dirname "$1")" && cat > "$1" && chmod %o "$1"`, mode.Perm())
	res, err := r.exec(ctx, handle, []string{"sh", "-c", script, "sh", dest}, bytes.NewReader(content))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("copy to %s exited %d: %s", dest, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// InspectStatus maps the task status onto RuntimeStatus
func (r *ContainerdRuntime) InspectStatus(ctx context.Context, handle string) (types.RuntimeStatus, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		return types.RuntimeUnknown, fmt.Errorf("failed to load container %s: %w", handle, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means container is not running
		return types.RuntimeExited, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.RuntimeUnknown, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused, containerd.Pausing:
		return types.RuntimeRunning, nil
	case containerd.Stopped:
		return types.RuntimeExited, nil
	default:
		return types.RuntimeUnknown, nil
	}
}

// Remove stops the task and deletes the container and its snapshot
func (r *ContainerdRuntime) Remove(ctx context.Context, handle string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", handle, err)
	}

	if err := r.stopTask(ctx, container, defaultStopTimeout); err != nil {
		r.logger.Warn().Err(err).Str("handle", handle).Msg("Failed to stop container before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// List returns the handles of every container labelled with project
func (r *ContainerdRuntime) List(ctx context.Context, project string) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx, fmt.Sprintf("labels.%q==%s", LabelProject, project))
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

func (r *ContainerdRuntime) ensureImage(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := r.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get image %s: %w", ref, err)
	}

	r.logger.Info().Str("image", ref).Msg("Pulling image")
	image, err = r.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return image, nil
}

func (r *ContainerdRuntime) startTask(ctx context.Context, container containerd.Container) error {
	creator := cio.NullIO
	if r.logDir != "" {
		if err := os.MkdirAll(r.logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		creator = cio.LogFile(filepath.Join(r.logDir, container.ID()+".log"))
	}

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// stopTask sends SIGTERM, escalates to SIGKILL after timeout and deletes the
// task. A container without a task is already stopped.
func (r *ContainerdRuntime) stopTask(ctx context.Context, container containerd.Container, timeout time.Duration) error {
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}

	status, err := task.Status(ctx)
	if err == nil && status.Status != containerd.Stopped {
		stopCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		statusC, err := task.Wait(stopCtx)
		if err != nil {
			return fmt.Errorf("failed to wait for task: %w", err)
		}

		if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to kill task: %w", err)
		}

		select {
		case <-statusC:
		case <-stopCtx.Done():
			r.logger.Warn().Str("handle", container.ID()).Dur("timeout", timeout).Msg("Task did not stop in time, killing")
		}
	}

	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (r *ContainerdRuntime) exec(ctx context.Context, handle string, command []string, stdin io.Reader) (*types.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	container, err := r.client.LoadContainer(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to load container %s: %w", handle, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("container %s is not running: %w", handle, err)
	}
	spec, err := container.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read container spec: %w", err)
	}

	pspec := *spec.Process
	pspec.Args = command
	pspec.Terminal = false

	var stdout, stderr bytes.Buffer
	process, err := task.Exec(ctx, "exec-"+uuid.NewString(), &pspec,
		cio.NewCreator(cio.WithStreams(stdin, &stdout, &stderr)))
	if err != nil {
		return nil, fmt.Errorf("failed to exec in %s: %w", handle, err)
	}
	defer func() {
		_, _ = process.Delete(context.WithoutCancel(ctx), containerd.WithProcessKill)
	}()

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for exec: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start exec: %w", err)
	}
	if stdin != nil {
		_ = process.CloseIO(ctx, containerd.WithStdinCloser)
	}

	var code uint32
	select {
	case status := <-statusC:
		code, _, err = status.Result()
		if err != nil {
			return nil, fmt.Errorf("exec failed: %w", err)
		}
	case <-ctx.Done():
		_ = process.Kill(context.WithoutCancel(ctx), syscall.SIGKILL)
		return nil, ctx.Err()
	}
	process.IO().Wait()

	return &types.ExecResult{
		ExitCode: int(code),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// resolveMount maps a container path onto the host through the bind mount
// with the longest matching destination
func resolveMount(mounts []specs.Mount, dest string) (string, bool) {
	dest = path.Clean(dest)
	best := -1
	for i, m := range mounts {
		if m.Type != "bind" {
			continue
		}
		target := path.Clean(m.Destination)
		if dest != target && !strings.HasPrefix(dest, strings.TrimSuffix(target, "/")+"/") {
			continue
		}
		if best < 0 || len(target) > len(path.Clean(mounts[best].Destination)) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}

	rel := strings.TrimPrefix(dest, path.Clean(mounts[best].Destination))
	return filepath.Join(mounts[best].Source, filepath.FromSlash(rel)), true
}

func writeHostFile(hostPath string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(hostPath), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(hostPath), ".copy-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", hostPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", hostPath, err)
	}
	if err := os.Chmod(tmp.Name(), mode.Perm()); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", hostPath, err)
	}
	return os.Rename(tmp.Name(), hostPath)
}
