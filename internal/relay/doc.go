// Package relay correlates request/reply pairs flowing over a session's
// duplex channel.
//
// # Settlement
//
// Every call registers a pending entry keyed (sessionID, requestID) and can
// settle exactly one way: a matching reply resolves it, the per-call timer
// (15 seconds by default) rejects it with ErrPeerTimeout, a channel
// disconnect rejects it with ErrPeerDisconnected, or caller cancellation
// abandons it. All four paths funnel through the same take-under-lock gate,
// so whichever fires first wins and the rest become no-ops. Timers are
// always stopped on settlement.
//
// Calls against a session with no bound channel fail fast with
// ErrNoPeerConnected; no entry is registered and no timer started.
//
// # Late replies
//
// Settled request IDs are kept in a TTL cache for the timeout window.
// A reply that arrives after settlement is logged at debug as a late reply;
// a reply that never matched anything is logged at warn. Neither is an
// error: both are dropped.
//
// Concurrent calls on one session are independent — the correlator allows
// any number of simultaneous in-flight entries per session and imposes no
// ordering across request IDs.
package relay
