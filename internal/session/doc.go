// Package session owns the authoritative map from session ID to session
// state.
//
// # Model
//
// A Session is one logical client identity. It tracks a duplex (WebSocket)
// connection flag and handle, a transient gateway (HTTP) activity flag, a
// bounded FIFO queue of server-initiated messages awaiting delivery, and
// creation/activity timestamps.
//
// Sessions are created lazily on first reference and removed only by the
// periodic expiry sweep after the idle timeout (5 minutes by default, swept
// every 30 seconds). Removal closes any bound channel and force-rejects
// outstanding correlations through the registered DisconnectNotifier.
//
// # Health
//
// A session is healthy iff it is not expired and at least one of the duplex
// or gateway connections is live. Unhealthy sessions report one of three
// reasons: "session not found", "session expired", "no active connections".
//
// # Concurrency
//
// A single RWMutex guards the session map and all per-session fields, so
// every store operation is atomic with respect to a single session. Channel
// Close calls and notifier callbacks run outside the lock.
//
// The store is always injected (never a package global) so tests and
// embedders can run isolated instances with their own timings.
package session
