/*
Package events is an in-memory broker for provisioning progress.

The scheduler publishes an EventNodeTransition for every state change of a
node, followed by EventNodeReady or EventNodeFailed when it settles. The
provisioner adds run, trust, teardown and post-bootstrap events. The CLI
subscribes and prints progress lines.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Printf("%s %s -> %s\n", ev.ServiceID, ev.From, ev.To)
		}
	}()

Publish never blocks once the broker is stopped, and a subscriber whose buffer
is full misses events rather than stalling the scheduler. Stop flushes what is
already queued before returning.
*/
package events
