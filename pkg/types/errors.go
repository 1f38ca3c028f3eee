package types

import (
	"fmt"
	"strings"
	"time"
)

// CycleError is returned when the dependency graph is not acyclic
type CycleError struct {
	Path []string // The cycle, first element repeated at the end
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnknownDependencyError is returned when a spec depends on an undeclared service
type UnknownDependencyError struct {
	ServiceID  string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %q depends on unknown service %q", e.ServiceID, e.Dependency)
}

// SeedError reports an I/O failure while seeding a volume
type SeedError struct {
	Path  string
	Cause error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed %s: %v", e.Path, e.Cause)
}

func (e *SeedError) Unwrap() error {
	return e.Cause
}

// LaunchError reports that the runtime refused to start or restart a service
type LaunchError struct {
	ServiceID string
	Cause     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.ServiceID, e.Cause)
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// ProbeError reports a readiness wait that did not end in OutcomeReady
type ProbeError struct {
	ServiceID string
	Result    ProbeResult
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("service %s readiness %s after %d attempts (%s): %s",
		e.ServiceID, e.Result.Outcome, e.Result.Attempts, e.Result.Elapsed.Round(time.Millisecond), e.Result.Message)
}

// Kind maps the probe outcome onto the failure taxonomy
func (e *ProbeError) Kind() FailureKind {
	switch e.Result.Outcome {
	case OutcomeTimedOut:
		return FailureTimedOut
	case OutcomeCancelled:
		return FailureCanceled
	default:
		return FailureErrored
	}
}

// TrustImportWarning is a non-fatal trust store import problem
type TrustImportWarning struct {
	ServiceID      string
	AlreadyPresent bool
	Cause          error
}

func (e *TrustImportWarning) Error() string {
	if e.AlreadyPresent {
		return fmt.Sprintf("trust import on %s: certificate already present", e.ServiceID)
	}
	return fmt.Sprintf("trust import on %s failed: %v", e.ServiceID, e.Cause)
}

func (e *TrustImportWarning) Unwrap() error {
	return e.Cause
}

// UpstreamFailure marks a node that was never started because a dependency failed
type UpstreamFailure struct {
	ServiceID  string
	Dependency string
}

func (e *UpstreamFailure) Error() string {
	return fmt.Sprintf("service %s not started: dependency %s failed", e.ServiceID, e.Dependency)
}

// PostBootstrapWarning is a non-fatal failure of a management setup call
type PostBootstrapWarning struct {
	Step  string
	Cause error
}

func (e *PostBootstrapWarning) Error() string {
	return fmt.Sprintf("post-bootstrap step %q: %v", e.Step, e.Cause)
}

func (e *PostBootstrapWarning) Unwrap() error {
	return e.Cause
}
