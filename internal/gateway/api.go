// ABOUTME: HTTP API handlers for the request surface: POST /api/call relays
// ABOUTME: JSON-RPC envelopes to the peer, GET /api/session reports diagnostics.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/familiar-bridge/internal/auth"
	"github.com/2389/familiar-bridge/internal/protocol"
	"github.com/2389/familiar-bridge/internal/relay"
)

// SessionResponse is the JSON response for GET /api/session.
type SessionResponse struct {
	SessionID            string `json:"sessionId"`
	CreatedAt            string `json:"createdAt"`
	LastActivity         string `json:"lastActivity"`
	IsDuplexConnected    bool   `json:"isDuplexConnected"`
	IsGatewayConnected   bool   `json:"isGatewayConnected"`
	PendingMessagesCount int    `json:"pendingMessagesCount"`
	PendingRequestsCount int    `json:"pendingRequestsCount"`
	Health               string `json:"health"`
}

// PingResult is the locally-answered result payload for the "ping" method.
type PingResult struct {
	Connected bool `json:"connected"`
	Healthy   bool `json:"healthy"`
}

// authenticate extracts and decodes the bearer credential. It runs before
// any session state is touched, so a rejected request leaves no trace.
func (g *Gateway) authenticate(r *http.Request) (string, bool) {
	credential := auth.ExtractCredential(r)
	if credential == "" {
		return "", false
	}
	return g.decoder.Decode(credential)
}

// handleCall handles POST /api/call requests. The envelope's method selects
// the path: "ping" is answered locally from session health, notifications
// (no id) are delivered or queued without waiting, and everything else
// round-trips through the correlator to the peer.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID, ok := g.authenticate(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	env, err := parseCallEnvelope(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}

	g.store.GetOrCreate(sessionID)
	g.store.SetGatewayConnected(sessionID, true)
	defer g.store.SetGatewayConnected(sessionID, false)

	switch {
	case env.Method == "ping":
		g.handlePing(w, sessionID, env)
	case env.IsNotification():
		g.handleNotification(w, sessionID, env)
	default:
		g.relayCall(w, r, sessionID, env)
	}
}

// handlePing answers the "ping" method from local session state without
// involving the peer.
func (g *Gateway) handlePing(w http.ResponseWriter, sessionID string, env *protocol.Envelope) {
	snap, _ := g.store.Get(sessionID)
	health := g.store.Health(sessionID)

	reply, err := protocol.NewResult(env.ID, PingResult{
		Connected: snap.DuplexConnected,
		Healthy:   health.Healthy,
	})
	if err != nil {
		g.logger.Error("building ping result", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}
	g.writeEnvelope(w, reply)
}

// handleNotification delivers a fire-and-forget envelope: straight to a
// bound channel when one exists, onto the outbound queue otherwise. A send
// failure on a dying channel falls back to the queue rather than erroring.
func (g *Gateway) handleNotification(w http.ResponseWriter, sessionID string, env *protocol.Envelope) {
	if ch, ok := g.store.DuplexChannel(sessionID); ok {
		if err := ch.Send(env); err == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		g.logger.Warn("notification send failed, queueing",
			"session_id", sessionID,
			"method", env.Method,
		)
	}
	g.store.EnqueueOutbound(sessionID, env)
	w.WriteHeader(http.StatusAccepted)
}

// relayCall round-trips a request envelope through the correlator and maps
// relay errors onto HTTP statuses. Error bodies stay generic; detail goes to
// the log.
func (g *Gateway) relayCall(w http.ResponseWriter, r *http.Request, sessionID string, env *protocol.Envelope) {
	reply, err := g.correlator.Call(r.Context(), sessionID, env)
	switch {
	case errors.Is(err, relay.ErrNoPeerConnected):
		g.sendJSONError(w, http.StatusBadGateway, err.Error(), "no_peer")
	case errors.Is(err, relay.ErrPeerTimeout):
		g.sendJSONError(w, http.StatusGatewayTimeout, err.Error(), "peer_timeout")
	case errors.Is(err, relay.ErrPeerDisconnected):
		g.sendJSONError(w, http.StatusBadGateway, err.Error(), "peer_disconnected")
	case err != nil:
		g.logger.Error("relaying call", "session_id", sessionID, "method", env.Method, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "internal")
	default:
		g.writeEnvelope(w, reply)
	}
}

// handleSession handles GET /api/session diagnostics requests. Reads are
// non-perturbing: inspecting a session does not refresh its activity clock.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID, ok := g.authenticate(r)
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	snap, ok := g.store.Get(sessionID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found", "session_not_found")
		return
	}

	health := g.store.Health(sessionID)
	healthText := "HEALTHY"
	if !health.Healthy {
		healthText = fmt.Sprintf("UNHEALTHY (%s)", health.Reason)
	}

	resp := SessionResponse{
		SessionID:            snap.ID,
		CreatedAt:            snap.CreatedAt.Format(time.RFC3339),
		LastActivity:         snap.LastActivity.Format(time.RFC3339),
		IsDuplexConnected:    snap.DuplexConnected,
		IsGatewayConnected:   snap.GatewayConnected,
		PendingMessagesCount: snap.QueueDepth,
		PendingRequestsCount: g.correlator.PendingCount(sessionID),
		Health:               healthText,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEnvelope writes a JSON-RPC envelope as a 200 response.
func (g *Gateway) writeEnvelope(w http.ResponseWriter, env *protocol.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		g.logger.Error("writing response envelope", "error", err)
	}
}

// sendJSONError writes a JSON error body with a machine-readable code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// parseCallEnvelope parses and validates a JSON-RPC envelope from the
// request body.
func parseCallEnvelope(r io.Reader) (*protocol.Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New("reading request body")
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("invalid request envelope: %w", err)
	}
	return env, nil
}
