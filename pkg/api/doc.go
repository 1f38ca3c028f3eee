/*
Package api serves the observability endpoints of a provisioning run.

	/health    process is up, with version
	/live      liveness with uptime
	/ready     200 once the run finished with every node ready, 503 before
	/status    last known state of every node
	/components         per-service health reported by the scheduler
	/components/ready   503 until every service of the topology is ready
	/metrics   Prometheus metrics

The server learns node states from the event stream: feed it with Track on a
broker subscription, or Observe events directly.
*/
package api
