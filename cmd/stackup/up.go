package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/stackup/pkg/api"
	"github.com/cuemby/stackup/pkg/config"
	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/provision"
	"github.com/cuemby/stackup/pkg/runtime"
	"github.com/cuemby/stackup/pkg/workspace"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Tear down the previous topology and bring it up again",
	Long: `Bring up the topology from a clean slate.

The previous topology is removed first, including its volumes unless
--keep-volumes is set. Fresh trust material is generated, services start
layer by layer and the run ends with a report. The command exits non-zero
when any service failed to become ready.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		parallelism, _ := cmd.Flags().GetInt("parallelism")
		keepVolumes, _ := cmd.Flags().GetBool("keep-volumes")
		probeInterval, _ := cmd.Flags().GetDuration("probe-interval")
		probeTimeout, _ := cmd.Flags().GetDuration("probe-timeout")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		if metricsAddr != "" {
			hs := api.NewHealthServer(Version)
			tracked := broker.SubscribeAll()
			go hs.Track(tracked)
			go func() {
				if err := hs.Start(metricsAddr); err != nil {
					fmt.Fprintf(os.Stderr, "Error: health server: %v\n", err)
				}
			}()
			defer func() {
				broker.Stop()
				broker.Unsubscribe(tracked)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = hs.Shutdown(shutdownCtx)
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Health and metrics on http://%s\n", metricsAddr)
		}

		var progress events.Subscriber
		progressDone := make(chan struct{})
		if quiet {
			close(progressDone)
		} else {
			progress = broker.SubscribeAll()
			go func() {
				defer close(progressDone)
				printProgress(cmd.OutOrStdout(), progress)
			}()
		}

		p := provision.New(rt, broker, provisionOptions(cmd, provision.Options{
			Parallelism:   parallelism,
			RunTimeout:    timeout,
			ProbeInterval: probeInterval,
			ProbeTimeout:  probeTimeout,
			KeepVolumes:   keepVolumes,
		}))

		report, err := p.Up(ctx)
		// Deliver queued events before the report
		broker.Stop()
		if progress != nil {
			broker.Unsubscribe(progress)
		}
		<-progressDone
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout())
		printReport(cmd.OutOrStdout(), report)

		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("interrupted")
		}
		if !report.Succeeded() {
			return fmt.Errorf("%d of %d services failed", len(report.Failed), len(report.Failed)+len(report.Ready))
		}
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Remove the topology's instances and volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		keepVolumes, _ := cmd.Flags().GetBool("keep-volumes")

		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		p := provision.New(rt, nil, provisionOptions(cmd, provision.Options{}))
		if err := p.Down(cmd.Context(), keepVolumes); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Topology removed")
		return nil
	},
}

func init() {
	upCmd.Flags().Duration("timeout", 30*time.Minute, "Overall run timeout (0 disables)")
	upCmd.Flags().Int("parallelism", 0, "Maximum services started concurrently within a layer (0 is unbounded)")
	upCmd.Flags().Bool("keep-volumes", false, "Keep volumes of the previous topology")
	upCmd.Flags().Duration("probe-interval", 0, "Default readiness probe interval")
	upCmd.Flags().Duration("probe-timeout", 0, "Default readiness timeout")
	upCmd.Flags().String("metrics-addr", "", "Serve health, status and metrics on this address during the run")
	upCmd.Flags().BoolP("quiet", "q", false, "Only print the final report")

	downCmd.Flags().Bool("keep-volumes", false, "Keep volumes")
}

// provisionOptions fills the options shared by every command from the
// persistent flags
func provisionOptions(cmd *cobra.Command, opts provision.Options) provision.Options {
	opts.ConfigPath, _ = cmd.Flags().GetString("config")
	opts.Workdir, _ = cmd.Flags().GetString("workdir")
	return opts
}

// newRuntime connects to containerd. The project label comes from the
// topology so teardown finds the previous run's instances.
func newRuntime(cmd *cobra.Command) (*runtime.ContainerdRuntime, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	workdir, _ := cmd.Flags().GetString("workdir")
	socket, _ := cmd.Flags().GetString("containerd-socket")
	namespace, _ := cmd.Flags().GetString("namespace")

	file, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.New(workdir)
	if err != nil {
		return nil, err
	}

	rt, err := runtime.NewContainerdRuntime(runtime.Options{
		SocketPath: socket,
		Namespace:  namespace,
		Project:    file.Project,
		LogDir:     filepath.Join(ws.Root(), workspace.LogsDir),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	return rt, nil
}
