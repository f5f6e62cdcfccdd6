// ABOUTME: Matches asynchronous request/reply pairs over a session's duplex channel.
// ABOUTME: Enforces per-call timeouts and exactly-once settlement of pending entries.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/2389/familiar-bridge/internal/protocol"
	"github.com/2389/familiar-bridge/internal/session"
)

// Correlation errors.
var (
	ErrNoPeerConnected  = errors.New("no peer connected")
	ErrPeerTimeout      = errors.New("peer timeout")
	ErrPeerDisconnected = errors.New("peer disconnected")
)

// ChannelProvider resolves the live duplex channel for a session. The
// session store implements this.
type ChannelProvider interface {
	DuplexChannel(sessionID string) (session.Channel, bool)
}

// outcome is the single settlement of a pending call.
type outcome struct {
	reply *protocol.Envelope
	err   error
}

// pendingCall is one outstanding request awaiting its reply.
type pendingCall struct {
	sessionID string
	requestID string
	method    string
	createdAt time.Time
	done      chan outcome // buffered; receives exactly one outcome
	timer     *time.Timer
}

// Options configures a Correlator.
type Options struct {
	Channels ChannelProvider
	Timeout  time.Duration // per-call bound; defaults to 15s
	Logger   *slog.Logger
}

// Correlator tracks pending request/reply pairs keyed by (sessionID,
/// requestID). Each pending entry settles exactly once: reply arrival,
// timeout, and channel disconnect race, and the first to remove the entry
// wins; the others become no-ops.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]map[string]*pendingCall // sessionID -> requestID -> call

	// settled remembers recently settled request IDs for the timeout window
	// so late replies are logged as late rather than unknown.
	settled *gocache.Cache

	channels ChannelProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Correlator.
func New(opts Options) *Correlator {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Correlator{
		pending:  make(map[string]map[string]*pendingCall),
		settled:  gocache.New(opts.Timeout, 2*opts.Timeout),
		channels: opts.Channels,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

// Call sends the envelope to the session's duplex peer and waits for the
// matching reply. It fails immediately with ErrNoPeerConnected when no
// channel is bound (no timer is started), with ErrPeerTimeout after the
// per-call bound, and with ErrPeerDisconnected if the channel closes while
// the call is outstanding. An envelope without an ID is assigned a random
// one before being written.
func (c *Correlator) Call(ctx context.Context, sessionID string, env *protocol.Envelope) (*protocol.Envelope, error) {
	ch, ok := c.channels.DuplexChannel(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNoPeerConnected, sessionID)
	}

	if env.ID == "" {
		env.ID = uuid.New().String()
	}

	call := &pendingCall{
		sessionID: sessionID,
		requestID: env.ID,
		method:    env.Method,
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}

	c.register(call)

	if err := ch.Send(env); err != nil {
		if c.take(sessionID, call.requestID) != nil {
			return nil, fmt.Errorf("writing to duplex channel: %w", err)
		}
		// Settled concurrently (disconnect sweep); report that instead.
		res := <-call.done
		return res.reply, res.err
	}

	c.logger.Debug("request sent to peer",
		"session_id", sessionID,
		"request_id", call.requestID,
		"method", call.method,
	)

	select {
	case res := <-call.done:
		return res.reply, res.err
	case <-ctx.Done():
		if c.take(sessionID, call.requestID) != nil {
			return nil, ctx.Err()
		}
		res := <-call.done
		return res.reply, res.err
	}
}

// Resolve settles the pending entry matching an inbound reply. Replies for
// already-settled requests are logged as late; replies for requests that
// were never pending are logged as unknown. Either way they are dropped.
func (c *Correlator) Resolve(sessionID string, env *protocol.Envelope) {
	call := c.take(sessionID, env.ID)
	if call == nil {
		if _, wasSettled := c.settled.Get(settledKey(sessionID, env.ID)); wasSettled {
			c.logger.Debug("late reply for settled request",
				"session_id", sessionID,
				"request_id", env.ID,
			)
		} else {
			c.logger.Warn("reply for unknown request",
				"session_id", sessionID,
				"request_id", env.ID,
			)
		}
		return
	}

	c.logger.Debug("reply correlated",
		"session_id", sessionID,
		"request_id", env.ID,
		"elapsed", time.Since(call.createdAt),
	)
	call.done <- outcome{reply: env}
}

// RejectSession force-rejects every pending entry for a session with
// ErrPeerDisconnected. Called when the session's duplex channel closes or
// the session expires; no entry outlives its owning channel.
func (c *Correlator) RejectSession(sessionID string) {
	c.mu.Lock()
	calls := c.pending[sessionID]
	delete(c.pending, sessionID)
	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		c.settled.SetDefault(settledKey(sessionID, call.requestID), struct{}{})
	}
	c.mu.Unlock()

	for _, call := range calls {
		call.done <- outcome{err: fmt.Errorf("%w: session %s", ErrPeerDisconnected, sessionID)}
	}
	if len(calls) > 0 {
		c.logger.Info("rejected pending requests on disconnect",
			"session_id", sessionID,
			"count", len(calls),
		)
	}
}

// PendingCount returns the number of in-flight requests for a session.
func (c *Correlator) PendingCount(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[sessionID])
}

// register adds a pending entry and arms its timeout. The timer is created
// under the lock so no settlement path can observe the entry without it.
func (c *Correlator) register(call *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySession, ok := c.pending[call.sessionID]
	if !ok {
		bySession = make(map[string]*pendingCall)
		c.pending[call.sessionID] = bySession
	}
	call.timer = time.AfterFunc(c.timeout, func() {
		if c.take(call.sessionID, call.requestID) != nil {
			call.done <- outcome{err: fmt.Errorf("%w: %s after %s", ErrPeerTimeout, call.method, c.timeout)}
		}
	})
	bySession[call.requestID] = call
}

// take removes and returns the pending entry, or nil if it was already
// settled. This is the exactly-once gate: reply, timeout, disconnect, and
// cancellation all pass through it, and only the first caller gets the
// entry. The timer is always stopped and the ID recorded as settled.
func (c *Correlator) take(sessionID, requestID string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySession, ok := c.pending[sessionID]
	if !ok {
		return nil
	}
	call, ok := bySession[requestID]
	if !ok {
		return nil
	}

	delete(bySession, requestID)
	if len(bySession) == 0 {
		delete(c.pending, sessionID)
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	c.settled.SetDefault(settledKey(sessionID, requestID), struct{}{})
	return call
}

func settledKey(sessionID, requestID string) string {
	return sessionID + ":" + requestID
}
