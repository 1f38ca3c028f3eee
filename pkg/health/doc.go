/*
Package health decides whether a service instance is ready.

A Checker makes a single query (HTTP, TCP, exec or gRPC) and returns a Result.
Unreachable targets are ordinary unhealthy results, since that is the normal
state of a service that is still booting. A Result is Permanent when waiting
cannot help: a status document reporting an error state, a fatal HTTP status,
a gRPC server that does not know the service.

NewChecker builds the right checker for a types.Probe:

	checker, err := health.NewChecker(spec.Readiness, handle, runtime)

HTTP checkers can inspect a JSON status body. The primary application exposes

	GET /status  {"state":"RUNNING"}

and is configured with JSONField "state", ReadyValues ["RUNNING"] and
ErrorValues ["ERROR"].

# Prober

Prober.WaitReady polls a checker until it is healthy, permanently failed, the
context is cancelled, or the timeout expires:

	res := health.NewProber(clock.WallClock).WaitReady(ctx, id, checker, 5*time.Second, 10*time.Minute)
	switch res.Outcome {
	case types.OutcomeReady:
	case types.OutcomeTimedOut:
	case types.OutcomeErrored:
	case types.OutcomeCancelled:
	}

The first check is made immediately and the last wait is shortened so the
final check happens on the deadline. The clock is injected so tests can drive
time with testclock.
*/
package health
