/*
Package events provides an in-memory event broker the resource manager uses
to notify downstream consumers (the notification service, the API tier) of
graph changes without requiring them to poll the store.

The broker is topic-agnostic: every subscriber receives every event and
filters by Type. Publish never blocks the caller beyond handing the event to
a buffered channel; a full subscriber buffer drops the event rather than
stalling the broadcast loop, since manager.Manager.mu is held by the
publisher at the time Publish is called and must not be made to wait on a
slow subscriber.

	manager entry point (mu held) ─▶ Broker.Publish ─▶ eventCh (buffer 100)
	                                                        │
	                                                   broadcast loop
	                                                        │
	                                          fan-out to each Subscriber
	                                             (buffer 50, best-effort)

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		switch ev.Type {
		case events.EventAlertRaised:
			// notify
		}
	}

A Manager with no Broker configured in its Options simply never calls
Publish; subscribers are entirely optional.
*/
package events
