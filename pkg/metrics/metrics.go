package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology metrics
	NodesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stackup_nodes",
			Help: "Number of topology nodes by lifecycle state",
		},
		[]string{"state"},
	)

	NodeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackup_node_transitions_total",
			Help: "Total number of node state transitions by target state",
		},
		[]string{"to"},
	)

	NodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackup_node_failures_total",
			Help: "Total number of failed nodes by failure kind",
		},
		[]string{"kind"},
	)

	// Readiness metrics
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackup_probe_duration_seconds",
			Help:    "Time spent waiting for a service to become ready",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"service", "outcome"},
	)

	ProbeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackup_probe_attempts_total",
			Help: "Total number of readiness probe attempts by service",
		},
		[]string{"service"},
	)

	// Run metrics
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stackup_run_duration_seconds",
			Help:    "Wall-clock duration of a provisioning run",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	LayerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackup_layer_duration_seconds",
			Help:    "Time taken to bring one dependency layer to a terminal state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"layer"},
	)

	// Bootstrap metrics
	TrustImports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackup_trust_imports_total",
			Help: "Total number of trust store imports by result",
		},
		[]string{"result"},
	)

	PostBootstrapSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackup_post_bootstrap_steps_total",
			Help: "Total number of post-bootstrap management calls by step and result",
		},
		[]string{"step", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesByState)
	prometheus.MustRegister(NodeTransitions)
	prometheus.MustRegister(NodeFailures)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ProbeAttempts)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(LayerDuration)
	prometheus.MustRegister(TrustImports)
	prometheus.MustRegister(PostBootstrapSteps)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
