// Package listener accepts duplex (WebSocket) connections and binds them to
// sessions.
//
// Per-connection lifecycle: the credential is decoded from the token query
// parameter before the upgrade — rejection answers 401 and never upgrades.
// An accepted connection is wrapped as a session channel, bound in the
// store (flushing any queued outbound backlog), and its read loop routes
// reply envelopes to the correlator. Non-reply traffic from the peer and
// malformed frames are logged and dropped without affecting the connection.
//
// On close — remote close, read error, or replacement by a newer channel —
// the listener unbinds the session's duplex flag, which force-rejects the
// session's outstanding correlations.
package listener
