package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/stackup/pkg/types"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
	CheckTypeGRPC CheckType = "grpc"
)

// Result represents the outcome of a single health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration

	// Permanent marks an unhealthy result that retrying cannot fix, such as
	// a service reporting an error state. Unreachable targets are never
	// permanent: that is the expected state while a service boots.
	Permanent bool
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Executor runs a command inside a running service instance
type Executor interface {
	Exec(ctx context.Context, handle string, command []string) (*types.ExecResult, error)
}

// NewChecker builds the checker for a readiness probe. Exec probes run
// through exec inside the instance identified by handle.
func NewChecker(probe types.Probe, handle string, exec Executor) (Checker, error) {
	switch probe.Type {
	case types.ProbeHTTP:
		c := NewHTTPChecker(probe.Target)
		if probe.StatusMin > 0 && probe.StatusMax > 0 {
			c.WithStatusRange(probe.StatusMin, probe.StatusMax)
		}
		if probe.AttemptTimeout > 0 {
			c.WithTimeout(probe.AttemptTimeout)
		}
		c.FatalStatus = probe.FatalStatus
		if probe.Method != "" {
			c.WithMethod(probe.Method)
		}
		for k, v := range probe.Headers {
			c.WithHeader(k, v)
		}
		if probe.JSONField != "" {
			c.WithJSONField(probe.JSONField, probe.ReadyValues, probe.ErrorValues)
		}
		return c, nil

	case types.ProbeTCP:
		c := NewTCPChecker(probe.Target)
		if probe.AttemptTimeout > 0 {
			c.WithTimeout(probe.AttemptTimeout)
		}
		return c, nil

	case types.ProbeExec:
		if exec == nil {
			return nil, fmt.Errorf("exec probe requires a runtime")
		}
		c := NewExecChecker(probe.Command).WithContainer(handle, exec)
		if probe.AttemptTimeout > 0 {
			c.WithTimeout(probe.AttemptTimeout)
		}
		return c, nil

	case types.ProbeGRPC:
		c := NewGRPCChecker(probe.Target, probe.Service)
		if probe.AttemptTimeout > 0 {
			c.WithTimeout(probe.AttemptTimeout)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown probe type %q", probe.Type)
	}
}

func unhealthy(start time.Time, permanent bool, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
		Permanent: permanent,
	}
}
