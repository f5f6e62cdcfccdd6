// ABOUTME: Owns the session map: connection flags, outbound queues, and timestamps.
// ABOUTME: Runs the periodic expiry sweep that removes idle sessions and closes resources.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/familiar-bridge/internal/protocol"
)

// Health reasons reported by Store.Health.
const (
	ReasonNotFound      = "session not found"
	ReasonExpired       = "session expired"
	ReasonNoConnections = "no active connections"
)

// Channel is the duplex handle a session holds while a WebSocket is bound.
// The store only needs to push envelopes and close the connection; the
// listener owns everything else about the socket.
type Channel interface {
	Send(env *protocol.Envelope) error
	Close() error
}

// DisconnectNotifier is told when a session loses its duplex channel so
// outstanding correlations can be force-rejected. The correlator implements
// this; the indirection keeps the store free of a package cycle.
type DisconnectNotifier interface {
	RejectSession(sessionID string)
}

// QueuedMessage is one server-initiated envelope awaiting delivery.
type QueuedMessage struct {
	Envelope *protocol.Envelope
	QueuedAt time.Time
}

// Session represents one logical client identity spanning possibly multiple
// physical connections. All fields are guarded by the owning store's mutex.
type Session struct {
	ID               string
	CreatedAt        time.Time
	LastActivity     time.Time
	DuplexConnected  bool
	GatewayConnected bool

	channel  Channel
	outbound []QueuedMessage
}

// HealthStatus is the computed health of a session.
type HealthStatus struct {
	Healthy bool
	Reason  string // empty when healthy
}

// Options configures a Store. Zero values fall back to the reference
/// timings: 100-entry queues, 5-minute idle timeout, 30-second sweeps.
type Options struct {
	QueueLimit    int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// Store is the authoritative map from session ID to session state. All
// mutation goes through Store methods, which are atomic with respect to a
// single session's fields.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	queueLimit  int
	idleTimeout time.Duration
	sweepEvery  time.Duration

	notifier DisconnectNotifier
	logger   *slog.Logger

	done   chan struct{}
	closed bool
}

// NewStore creates a session store and starts its background expiry sweep.
func NewStore(opts Options) *Store {
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = 100
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		sessions:    make(map[string]*Session),
		queueLimit:  opts.QueueLimit,
		idleTimeout: opts.IdleTimeout,
		sweepEvery:  opts.SweepInterval,
		logger:      opts.Logger,
		done:        make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// SetDisconnectNotifier wires the correlator in after construction. Must be
// called before any duplex channel binds.
func (s *Store) SetDisconnectNotifier(n DisconnectNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// GetOrCreate returns the session for the given ID, creating it with fresh
// timestamps and empty collections if it does not exist. Always refreshes
// LastActivity.
func (s *Store) GetOrCreate(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		sess = &Session{
			ID:           sessionID,
			CreatedAt:    now,
			LastActivity: now,
		}
		s.sessions[sessionID] = sess
		s.logger.Info("session created", "session_id", sessionID)
		return sess
	}

	sess.LastActivity = time.Now()
	return sess
}

// Snapshot is a read-only copy of a session's diagnostic state.
type Snapshot struct {
	ID               string
	CreatedAt        time.Time
	LastActivity     time.Time
	DuplexConnected  bool
	GatewayConnected bool
	QueueDepth       int
}

// Get returns a snapshot of the session, or false if it does not exist.
// Diagnostic reads are non-perturbing: they do not refresh activity.
func (s *Store) Get(sessionID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		ID:               sess.ID,
		CreatedAt:        sess.CreatedAt,
		LastActivity:     sess.LastActivity,
		DuplexConnected:  sess.DuplexConnected,
		GatewayConnected: sess.GatewayConnected,
		QueueDepth:       len(sess.outbound),
	}, true
}

// BindDuplex binds a channel to the session, creating the session if needed.
// A previously bound channel is closed and the session's outstanding
// correlations rejected: at most one live channel is ever "the" channel for
// a session, and pending entries may not outlive the channel they were sent
// on. Returns the queued outbound messages for the caller to flush.
func (s *Store) BindDuplex(sessionID string, ch Channel) []QueuedMessage {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		sess = &Session{ID: sessionID, CreatedAt: now, LastActivity: now}
		s.sessions[sessionID] = sess
		s.logger.Info("session created", "session_id", sessionID)
	}

	superseded := sess.channel
	sess.channel = ch
	sess.DuplexConnected = true
	sess.LastActivity = time.Now()

	backlog := sess.outbound
	sess.outbound = nil
	notifier := s.notifier
	s.mu.Unlock()

	if superseded != nil {
		s.logger.Warn("duplex channel superseded, closing previous", "session_id", sessionID)
		if err := superseded.Close(); err != nil {
			s.logger.Warn("closing superseded channel", "session_id", sessionID, "error", err)
		}
		if notifier != nil {
			notifier.RejectSession(sessionID)
		}
	}

	s.logger.Info("duplex channel bound", "session_id", sessionID, "backlog", len(backlog))
	return backlog
}

// UnbindDuplex clears the duplex handle and flag if ch is still the bound
// channel. The session itself is not deleted. Returns true if this call
// performed the unbind; a stale channel (already superseded) is a no-op.
func (s *Store) UnbindDuplex(sessionID string, ch Channel) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.channel != ch {
		s.mu.Unlock()
		return false
	}

	sess.channel = nil
	sess.DuplexConnected = false
	sess.LastActivity = time.Now()
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.RejectSession(sessionID)
	}
	s.logger.Info("duplex channel unbound", "session_id", sessionID)
	return true
}

// DuplexChannel returns the bound channel for a session, if any. Refreshes
// activity: a caller fetching the channel is about to use the session.
func (s *Store) DuplexChannel(sessionID string) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.channel == nil {
		return nil, false
	}
	sess.LastActivity = time.Now()
	return sess.channel, true
}

// SetGatewayConnected toggles the transient HTTP-activity flag and refreshes
// activity. The flag is only true for the duration of an in-flight call.
func (s *Store) SetGatewayConnected(sessionID string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.GatewayConnected = connected
	sess.LastActivity = time.Now()
}

// EnqueueOutbound appends a timestamped message to the session's outbound
// queue, creating the session if needed. Beyond the queue limit the oldest
// entry is dropped first.
func (s *Store) EnqueueOutbound(sessionID string, env *protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		sess = &Session{ID: sessionID, CreatedAt: now, LastActivity: now}
		s.sessions[sessionID] = sess
		s.logger.Info("session created", "session_id", sessionID)
	}

	if len(sess.outbound) >= s.queueLimit {
		dropped := sess.outbound[0]
		sess.outbound = sess.outbound[1:]
		s.logger.Warn("outbound queue full, dropping oldest message",
			"session_id", sessionID,
			"queue_limit", s.queueLimit,
			"dropped_method", dropped.Envelope.Method,
		)
	}

	sess.outbound = append(sess.outbound, QueuedMessage{Envelope: env, QueuedAt: time.Now()})
	sess.LastActivity = time.Now()
}

// DrainOutbound atomically returns and clears the session's outbound queue.
func (s *Store) DrainOutbound(sessionID string) []QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.outbound) == 0 {
		return nil
	}

	drained := sess.outbound
	sess.outbound = nil
	sess.LastActivity = time.Now()
	return drained
}

// Touch refreshes a session's activity timestamp. Inbound duplex traffic
// calls this so a chatty session never expires mid-conversation.
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = time.Now()
	}
}

// Health computes session health: a session is healthy iff it has not been
// idle past the timeout AND at least one of the duplex or gateway
// connections is live. Health checks are non-perturbing.
func (s *Store) Health(sessionID string) HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return HealthStatus{Healthy: false, Reason: ReasonNotFound}
	}
	if time.Since(sess.LastActivity) > s.idleTimeout {
		return HealthStatus{Healthy: false, Reason: ReasonExpired}
	}
	if !sess.DuplexConnected && !sess.GatewayConnected {
		return HealthStatus{Healthy: false, Reason: ReasonNoConnections}
	}
	return HealthStatus{Healthy: true}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// sweepLoop runs SweepExpired on a fixed interval until Shutdown.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepExpired()
		case <-s.done:
			return
		}
	}
}

// SweepExpired removes every session idle past the timeout, closing any held
// channel and rejecting outstanding correlations. A failure on one session
// never aborts the sweep of the others.
func (s *Store) SweepExpired() {
	type evicted struct {
		id string
		ch Channel
	}

	s.mu.Lock()
	var victims []evicted
	now := time.Now()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.idleTimeout {
			victims = append(victims, evicted{id: id, ch: sess.channel})
			delete(s.sessions, id)
		}
	}
	notifier := s.notifier
	s.mu.Unlock()

	for _, v := range victims {
		s.logger.Info("session expired", "session_id", v.id)
		if v.ch != nil {
			if err := v.ch.Close(); err != nil {
				s.logger.Warn("closing expired session channel", "session_id", v.id, "error", err)
			}
		}
		if notifier != nil {
			notifier.RejectSession(v.id)
		}
	}
}

// Shutdown stops the sweep timer and releases all sessions and their
// resources. Safe to call multiple times.
func (s *Store) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)

	var channels []Channel
	var ids []string
	for id, sess := range s.sessions {
		if sess.channel != nil {
			channels = append(channels, sess.channel)
		}
		ids = append(ids, id)
	}
	s.sessions = make(map[string]*Session)
	notifier := s.notifier
	s.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			s.logger.Warn("closing channel during shutdown", "error", err)
		}
	}
	if notifier != nil {
		for _, id := range ids {
			notifier.RejectSession(id)
		}
	}
	s.logger.Info("session store shut down", "released", len(ids))
}
