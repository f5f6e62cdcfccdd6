// ABOUTME: Gateway orchestrator wiring the session store, correlator, and listener
// ABOUTME: behind one HTTP server, with health endpoints and graceful shutdown.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/familiar-bridge/internal/auth"
	"github.com/2389/familiar-bridge/internal/config"
	"github.com/2389/familiar-bridge/internal/listener"
	"github.com/2389/familiar-bridge/internal/relay"
	"github.com/2389/familiar-bridge/internal/session"
)

// Gateway orchestrates the familiar-bridge server components: the HTTP
// request surface, the WebSocket listener, and the shared session state
// underneath both.
type Gateway struct {
	config     *config.Config
	store      *session.Store
	correlator *relay.Correlator
	listener   *listener.Listener
	decoder    auth.SessionDecoder
	httpServer *http.Server
	logger     *slog.Logger
}

// newDecoder picks the credential decoder based on config. A configured
// jwt_secret switches on signature verification; otherwise credentials are
// decoded without verification and the caller is trusted to have
// authenticated upstream.
func newDecoder(cfg *config.Config, logger *slog.Logger) auth.SessionDecoder {
	if cfg.Auth.JWTSecret != "" {
		logger.Info("credential verification enabled (HS256)")
		return auth.NewHS256Decoder([]byte(cfg.Auth.JWTSecret), logger.With("component", "auth"))
	}
	logger.Warn("credential verification disabled - no jwt_secret configured")
	return auth.NewUnverifiedDecoder(logger.With("component", "auth"))
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	store := session.NewStore(session.Options{
		QueueLimit:    cfg.Session.QueueLimit,
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		Logger:        logger.With("component", "sessions"),
	})

	correlator := relay.New(relay.Options{
		Channels: store,
		Timeout:  cfg.Session.CallTimeout,
		Logger:   logger.With("component", "relay"),
	})
	store.SetDisconnectNotifier(correlator)

	decoder := newDecoder(cfg, logger)

	wsListener := listener.New(listener.Options{
		Store:      store,
		Correlator: correlator,
		Decoder:    decoder,
		Logger:     logger.With("component", "listener"),
	})

	g := &Gateway{
		config:     cfg,
		store:      store,
		correlator: correlator,
		listener:   wsListener,
		decoder:    decoder,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.Handle("/ws", wsListener)
	mux.HandleFunc("/api/call", g.handleCall)
	mux.HandleFunc("/api/session", g.handleSession)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler exposes the gateway's HTTP mux, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases session state.
// The store shutdown closes every bound duplex channel, which rejects any
// requests still in flight.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	err := g.httpServer.Shutdown(ctx)
	g.store.Shutdown()

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness along with the number of tracked sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.store.Count())
}
