package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stackup",
	Short: "Stackup - bring up a multi-service topology in dependency order",
	Long: `Stackup provisions a topology of containerized services on a single host.

Services start in dependency order: each one is seeded, started and probed
until ready before its dependents begin. Services that need the run's root
certificate import it and restart before they count as ready. Once the
primary is ready, projects and repositories are created through its
management API.

Every run starts from a clean slate: the previous topology is torn down and
certificates are generated anew.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonLogs,
		})
		metrics.SetVersion(Version)
	},
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stackup version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Topology file (YAML or .toml); the built-in topology when empty")
	flags.StringP("workdir", "w", "./stackup-work", "Working directory for certificates, rendered files, volumes and state")
	flags.String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	flags.String("namespace", "stackup", "containerd namespace")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("json-logs", false, "Log as JSON")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
}
