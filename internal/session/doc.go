// Package session runs the connection to the grill cloud.
//
// A Coordinator lists the account's grills, hands them to a Supervisor and
// wakes periodically to keep the broker connection alive. The Supervisor
// owns the transport and moves through the states
//
//	Idle → Connecting → Connected → Renewing → Connected → ... → ShuttingDown → Disconnected
//
// An unexpected drop moves a Connected Supervisor back to Idle until the
// next check reconnects it. Signed broker URLs expire, so shortly before
// expiry (or after a drop) the Supervisor disconnects and dials again with
// a fresh URL. Messages arriving in between stay in the event queue.
//
// Two goroutines matter:
//
//   - the transport's receive loop, which only enqueues payloads;
//   - the dispatcher, which applies each payload to the grill.Store and
//     then notifies the grill.Registry.
//
// Observers therefore run on the dispatcher goroutine and must not block.
//
// Failure policy for the watchdog: a rejected credential or a broker
// connect failure ends the session (Done is closed, Err is set); lease
// failures and network errors reaching the cloud are retried on the next
// tick.
package session
