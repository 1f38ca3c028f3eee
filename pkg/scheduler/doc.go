/*
Package scheduler brings a topology up in dependency order.

The registry's topological layers are run one after another. Nodes inside a
layer run concurrently on an errgroup, bounded by Options.Parallelism. Each
node is driven through its lifecycle:

	pending → seeding → starting → awaiting-ready → ready

and, for nodes that require trust bootstrap,

	awaiting-ready → trust-bootstrap → restarting → awaiting-ready-after-trust → ready

Any non-terminal state may move to failed. Allowed encodes the legal moves and
the scheduler panics on an illegal one, since that can only be a bug here.

A node enters pending only when every dependency is ready. If a dependency
failed the node is failed with UpstreamFailure straight away and is never
seeded or started. Failures stay inside their branch: siblings keep going and
Run always returns a complete Report.

Trust import problems are warnings. The node is restarted regardless and must
pass its readiness probe again before it counts as ready. ReadyInvariant
checks this ordering on the recorded transitions before the final move.

The Scheduler is the only writer of ServiceInstance records. Instance and
Instances return copies, and StateCounts feeds the metrics collector.
*/
package scheduler
