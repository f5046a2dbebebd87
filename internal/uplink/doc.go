// Package uplink maintains the single broker session of a mesh node.
//
// The Manager owns the session lifecycle (open, backoff, reconnect), admits
// QoS1 publishes into a fixed-capacity SlotTable, correlates acknowledgements
// by packet identifier, and drains the outbound publish queue.
//
// # Architecture
//
//	producers ──► queue.Queue ──► Manager.Run ──► Session (paho adapter)
//	                                  │  ▲
//	                   PushInbound ◄──┘  └── Events: PUBACK, SUBACK, UNSUBACK, PUBLISH
//
// Run is the only goroutine that touches the SlotTable, the packet
// identifier counter and the pending-operation map. Subscribe and Unsubscribe
// hand their request to Run over a channel and wait for the acknowledgement,
// so several operations may be outstanding at once.
//
// # Session policy
//
// The session-open request asks for a clean session unless the KeyValueStore
// records that the broker already holds one for this client id. When the
// broker reports a resumed session, every in-flight slot is retransmitted with
// the DUP flag and its original packet id. When the session is clean, the
// slots are discarded (the broker has no record of them). In both cases the
// known subscription filters are sent again.
//
// # Backoff
//
// A connect cycle retries with exponential delays (Options.BaseDelay doubling
// up to Options.MaxDelay, jittered, non-decreasing) for Options.MaxAttempts
// retries. An exhausted cycle is followed by Options.IdleDelay of rest and a
// new cycle; Run never gives up until its context ends.
//
// # Usage
//
//	m, err := uplink.New(uplink.Options{
//	    ClientID: "AABBCCDDEEFF",
//	    Session:  session,
//	    Source:   publishQueue,
//	    Sink:     registry,
//	    Store:    kv,
//	})
//	go m.Run(ctx)
//	err = m.Subscribe(ctx, "/mesh/X/config")
package uplink
