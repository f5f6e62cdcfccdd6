// ABOUTME: Package documentation for the gateway orchestrator.
// ABOUTME: Describes the HTTP surface and how it maps onto the session layer.

// Package gateway wires the bridge together: one HTTP server exposing the
// request surface (POST /api/call, GET /api/session), the WebSocket upgrade
// path (/ws), and health endpoints, all sharing a single session store and
// correlator.
//
// Requests authenticate with an opaque session credential before any
// session state is touched. The "ping" method is answered locally from
// session health; notifications are delivered or queued without waiting;
// every other method round-trips to the session's peer over its duplex
// channel and waits for the correlated reply.
package gateway
