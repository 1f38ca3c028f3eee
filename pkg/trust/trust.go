// Package trust imports the shared root certificate into a service's trust
// store.
package trust

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/types"
)

// DefaultMarker is the keytool message for an alias that is already trusted
const DefaultMarker = "already exists"

// Target is the part of the runtime the bootstrapper needs
type Target interface {
	CopyInto(ctx context.Context, handle string, content []byte, path string, mode os.FileMode) error
	Exec(ctx context.Context, handle string, command []string) (*types.ExecResult, error)
}

// Bootstrapper copies the certificate into an instance and runs the import
// command there
type Bootstrapper struct {
	target Target
	logger zerolog.Logger
}

// NewBootstrapper creates a bootstrapper running against target
func NewBootstrapper(target Target) *Bootstrapper {
	return &Bootstrapper{
		target: target,
		logger: log.WithComponent("trust"),
	}
}

// Import performs one import attempt and marks req as attempted. It returns
// nil on a clean import; every problem is reported as a warning since the
// caller restarts the service either way.
func (b *Bootstrapper) Import(ctx context.Context, req *types.TrustRequest, spec types.TrustSpec) *types.TrustImportWarning {
	req.Attempted = true
	logger := b.logger.With().Str("service_id", req.ServiceID).Str("alias", spec.Alias).Logger()

	if err := b.target.CopyInto(ctx, req.Target, req.Certificate, spec.RemotePath, 0644); err != nil {
		metrics.TrustImports.WithLabelValues("failed").Inc()
		return &types.TrustImportWarning{ServiceID: req.ServiceID, Cause: fmt.Errorf("copy certificate: %w", err)}
	}

	res, err := b.target.Exec(ctx, req.Target, spec.Command)
	if err != nil {
		metrics.TrustImports.WithLabelValues("failed").Inc()
		return &types.TrustImportWarning{ServiceID: req.ServiceID, Cause: fmt.Errorf("run import: %w", err)}
	}

	if res.ExitCode == 0 {
		metrics.TrustImports.WithLabelValues("imported").Inc()
		logger.Info().Msg("Root certificate imported")
		return nil
	}

	if alreadyPresent(res, spec.AlreadyPresentMarker) {
		metrics.TrustImports.WithLabelValues("already-present").Inc()
		logger.Info().Msg("Root certificate already trusted")
		return &types.TrustImportWarning{ServiceID: req.ServiceID, AlreadyPresent: true}
	}

	metrics.TrustImports.WithLabelValues("failed").Inc()
	output := strings.TrimSpace(res.Stderr)
	if output == "" {
		output = strings.TrimSpace(res.Stdout)
	}
	return &types.TrustImportWarning{
		ServiceID: req.ServiceID,
		Cause:     fmt.Errorf("import exited %d: %s", res.ExitCode, output),
	}
}

func alreadyPresent(res *types.ExecResult, marker string) bool {
	if marker == "" {
		marker = DefaultMarker
	}
	marker = strings.ToLower(marker)
	return strings.Contains(strings.ToLower(res.Stdout), marker) ||
		strings.Contains(strings.ToLower(res.Stderr), marker)
}
