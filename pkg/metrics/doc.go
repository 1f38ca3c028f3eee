/*
Package metrics exposes Prometheus metrics and health endpoints for a
provisioning run.

All metrics are registered on the default registry at init and served by
Handler. Names carry the stackup_ prefix:

	stackup_nodes{state}                         gauge, sampled by Collector
	stackup_node_transitions_total{to}           counter
	stackup_node_failures_total{kind}            counter
	stackup_probe_duration_seconds{service,outcome}
	stackup_probe_attempts_total{service}
	stackup_run_duration_seconds
	stackup_layer_duration_seconds{layer}
	stackup_trust_imports_total{result}
	stackup_post_bootstrap_steps_total{step,result}

Timer is a small helper for observing durations:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LayerDuration, "0")

The component registry backs /health, /ready and /live. The scheduler
registers each service as a component and SetCritical makes every service a
readiness prerequisite, so /ready turns 200 only once the whole topology is up.
*/
package metrics
