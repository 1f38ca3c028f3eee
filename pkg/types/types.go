package types

import (
	"os"
	"time"
)

// ServiceSpec is the immutable description of one service in the topology
type ServiceSpec struct {
	ID          string
	Image       string
	DependsOn   []string
	Env         []string
	Args        []string // Overrides the image entrypoint arguments when set
	Volume      *VolumeMount
	SeedFiles   []SeedFile
	Readiness   Probe
	StopTimeout time.Duration

	// RequiresTrustBootstrap marks services that must import the shared root
	// certificate and restart before they count as ready
	RequiresTrustBootstrap bool
	Trust                  TrustSpec
}

// VolumeMount binds a named volume into a service container
type VolumeMount struct {
	Name   string // Volume name
	Target string // Container path
}

// SeedFile describes one file or directory materialized into a volume before
// the owning service first starts
type SeedFile struct {
	Content     []byte
	Destination string // Relative to the volume root
	Mode        os.FileMode
	UID         int // -1 leaves ownership unchanged
	GID         int
	IsDirectory bool
}

// ProbeType defines the kind of readiness query
type ProbeType string

const (
	ProbeHTTP ProbeType = "http"
	ProbeTCP  ProbeType = "tcp"
	ProbeExec ProbeType = "exec"
	ProbeGRPC ProbeType = "grpc"
)

// Probe defines how a service's readiness is determined
type Probe struct {
	Type    ProbeType
	Target  string   // URL, host:port or gRPC address
	Command []string // For exec probes, run inside the container

	// HTTP predicate. When JSONField is set the response body is decoded and
	// the field compared against ReadyValues / ErrorValues.
	JSONField   string
	ReadyValues []string
	ErrorValues []string
	StatusMin   int
	StatusMax   int
	FatalStatus []int
	Method      string            // Defaults to GET
	Headers     map[string]string // Sent with every HTTP readiness request

	Service string // gRPC health service name

	Interval       time.Duration
	Timeout        time.Duration
	AttemptTimeout time.Duration
}

// TrustSpec holds the per-service trust store import settings
type TrustSpec struct {
	Alias                string
	RemotePath           string   // Where the certificate is copied inside the container
	Command              []string // Import command, run inside the container
	AlreadyPresentMarker string   // Output fragment meaning the alias is already trusted
}

// NodeState is a position in the per-node lifecycle
type NodeState string

const (
	StatePending                 NodeState = "pending"
	StateSeeding                 NodeState = "seeding"
	StateStarting                NodeState = "starting"
	StateAwaitingReady           NodeState = "awaiting-ready"
	StateTrustBootstrap          NodeState = "trust-bootstrap"
	StateRestarting              NodeState = "restarting"
	StateAwaitingReadyAfterTrust NodeState = "awaiting-ready-after-trust"
	StateReady                   NodeState = "ready"
	StateFailed                  NodeState = "failed"
)

// Terminal reports whether no further transition is possible
func (s NodeState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// FailureKind classifies why an instance reached StateFailed
type FailureKind string

const (
	FailureSeed     FailureKind = "SeedError"
	FailureLaunch   FailureKind = "LaunchError"
	FailureTimedOut FailureKind = "ProbeTimedOut"
	FailureErrored  FailureKind = "ProbeErrored"
	FailureRestart  FailureKind = "RestartError"
	FailureUpstream FailureKind = "UpstreamFailure"
	FailureCanceled FailureKind = "Cancelled"
)

// ProbeOutcome is the typed result of waiting for readiness
type ProbeOutcome string

const (
	OutcomeReady     ProbeOutcome = "ready"
	OutcomeTimedOut  ProbeOutcome = "timed-out"
	OutcomeErrored   ProbeOutcome = "errored"
	OutcomeCancelled ProbeOutcome = "cancelled"
)

// ProbeResult summarizes one readiness wait
type ProbeResult struct {
	Outcome  ProbeOutcome
	Attempts int
	Message  string
	Elapsed  time.Duration
	At       time.Time
}

// RuntimeStatus is the coarse process state reported by the runtime
type RuntimeStatus string

const (
	RuntimeRunning RuntimeStatus = "running"
	RuntimeExited  RuntimeStatus = "exited"
	RuntimeUnknown RuntimeStatus = "unknown"
)

// ExecResult is the output of a command run inside a service instance
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Transition records one state change of an instance
type Transition struct {
	From NodeState
	To   NodeState
	At   time.Time
}

// ServiceInstance is the mutable runtime record of a service during one run.
// Only the scheduler mutates it.
type ServiceInstance struct {
	Spec            *ServiceSpec
	State           NodeState
	Handle          string
	StartedAt       time.Time
	ReadyAt         time.Time
	LastProbeResult *ProbeResult
	FailureKind     FailureKind
	FailureReason   string
	Warnings        []string
	Transitions     []Transition
}

// EnteredAt returns when the instance first entered state, if it did
func (i *ServiceInstance) EnteredAt(state NodeState) (time.Time, bool) {
	for _, t := range i.Transitions {
		if t.To == state {
			return t.At, true
		}
	}
	return time.Time{}, false
}

// Visited reports whether the instance ever entered state
func (i *ServiceInstance) Visited(state NodeState) bool {
	_, ok := i.EnteredAt(state)
	return ok
}

// Volume represents a persistent store bound to one service instance
type Volume struct {
	ID        string
	Name      string
	Driver    string // "local"
	Owner     string // Service ID
	MountPath string // Host path
	Target    string // Container path
	CreatedAt time.Time
}

// TrustRequest describes a pending certificate import
type TrustRequest struct {
	ServiceID       string
	Target          string // Runtime handle
	CertificatePath string // Host path of the shared root certificate
	Certificate     []byte
	Attempted       bool
}

// NodeResult is the per-node line of a run report
type NodeResult struct {
	ID          string
	State       NodeState
	FailureKind FailureKind `json:",omitempty"`
	Reason      string      `json:",omitempty"`
	StartedAt   time.Time
	ReadyAt     time.Time
	Warnings    []string `json:",omitempty"`
}

// Report is the outcome of one provisioning run
type Report struct {
	RunID      string
	Project    string
	StartedAt  time.Time
	FinishedAt time.Time
	Ready      []NodeResult
	Failed     []NodeResult
	Warnings   []string
}

// Succeeded reports whether every node reached StateReady
func (r *Report) Succeeded() bool {
	return len(r.Failed) == 0
}

// IsReady reports whether the node with id is in the ready list
func (r *Report) IsReady(id string) bool {
	for _, n := range r.Ready {
		if n.ID == id {
			return true
		}
	}
	return false
}

// Duration returns the wall-clock length of the run
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
