/*
Package log provides structured logging for stackup using zerolog.

A single package-level logger is configured once by the CLI through Init.
Every other package derives a component logger from it and adds its own
fields (service_id, run_id, handle) per message.

# Output

Console output is the default and is meant for the operator watching a run:

	2024-10-13T10:30:00Z INF Node ready component=scheduler service_id=db

JSON output (--json-logs) writes one object per line for collection:

	{"level":"info","component":"scheduler","service_id":"db","time":"...","message":"Node ready"}

Logs go to stderr so progress lines and reports on stdout stay readable.

# Usage

	log.Init(log.Config{Level: log.InfoLevel})

	logger := log.WithComponent("provision")
	logger.Info().Str("run_id", runID).Msg("Provisioning topology")

Until Init is called the logger discards everything, which keeps package
tests quiet.
*/
package log
