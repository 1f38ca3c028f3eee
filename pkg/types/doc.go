/*
Package types defines the data model shared by every stackup package.

# Specs and instances

A ServiceSpec is the immutable description of one node of the topology: its
image, dependencies, volume and seed files, readiness probe and trust settings.
Specs are built once by the config package and owned by the registry.

A ServiceInstance is the mutable record of a spec during a single run. The
scheduler creates it, drives it through the lifecycle and is the only writer:

	pending → seeding → starting → awaiting-ready
	        → [trust-bootstrap → restarting → awaiting-ready-after-trust]
	        → ready

with failed reachable from every non-terminal state. Every state change is
appended to Transitions with its timestamp so callers can check ordering after
the fact.

# Errors

The failure taxonomy is expressed as typed errors (CycleError, SeedError,
LaunchError, ProbeError, UpstreamFailure) and non-fatal warnings
(TrustImportWarning, PostBootstrapWarning). Match them with errors.As.

# Reports

A Report lists every node that reached ready and every node that failed with
its FailureKind and reason, plus run-level warnings.
*/
package types
