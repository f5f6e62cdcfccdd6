// ABOUTME: Accepts inbound WebSocket connections and binds them to sessions.
// ABOUTME: Authenticates before upgrade; routes inbound replies to the correlator.

package listener

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/2389/familiar-bridge/internal/auth"
	"github.com/2389/familiar-bridge/internal/protocol"
	"github.com/2389/familiar-bridge/internal/relay"
	"github.com/2389/familiar-bridge/internal/session"
)

// Listener upgrades authenticated HTTP requests to duplex channels and binds
// them to sessions in the store.
type Listener struct {
	store      *session.Store
	correlator *relay.Correlator
	decoder    auth.SessionDecoder
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// Options configures a Listener.
type Options struct {
	Store      *session.Store
	Correlator *relay.Correlator
	Decoder    auth.SessionDecoder
	Logger     *slog.Logger
}

// New creates a Listener.
func New(opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{
		store:      opts.Store,
		correlator: opts.Correlator,
		decoder:    opts.Decoder,
		logger:     opts.Logger,
		upgrader: websocket.Upgrader{
			// The bridge fronts browser demo clients on arbitrary origins;
			// identity comes from the credential, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles the duplex upgrade endpoint. The access decision happens
// before the upgrade: an undecodable credential answers 401 and the
// connection is never upgraded.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := auth.ExtractQueryCredential(r)
	sessionID, ok := l.decoder.Decode(credential)
	if !ok {
		l.logger.Warn("duplex upgrade rejected: unauthorized", "remote", r.RemoteAddr)
		http.Error(w, `{"error":"unauthorized","code":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake failure response.
		l.logger.Warn("duplex upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	logger := l.logger.With("session_id", sessionID)
	ch := newWSChannel(conn, logger)

	backlog := l.store.BindDuplex(sessionID, ch)
	for _, queued := range backlog {
		if err := ch.Send(queued.Envelope); err != nil {
			logger.Warn("flushing queued message failed", "error", err)
			l.store.EnqueueOutbound(sessionID, queued.Envelope)
		}
	}

	logger.Info("duplex channel connected", "remote", r.RemoteAddr, "flushed", len(backlog))
	go l.readLoop(sessionID, ch, logger)
}

// readLoop consumes inbound frames until the connection dies. Replies are
// routed to the correlator; anything else is logged and dropped — a
// malformed frame never crashes the connection.
func (l *Listener) readLoop(sessionID string, ch *wsChannel, logger *slog.Logger) {
	defer func() {
		_ = ch.Close()
		if l.store.UnbindDuplex(sessionID, ch) {
			logger.Info("duplex channel disconnected")
		}
	}()

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("duplex read failed", "error", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("malformed duplex message dropped", "error", err)
			continue
		}

		l.store.Touch(sessionID)

		switch {
		case env.IsReply():
			l.correlator.Resolve(sessionID, env)
		default:
			logger.Warn("unexpected duplex message ignored",
				"method", env.Method,
				"request_id", env.ID,
			)
		}
	}
}
