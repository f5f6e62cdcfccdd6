// ABOUTME: Tests for gateway lifecycle: health endpoints, Run/Shutdown, and
// ABOUTME: decoder selection from configuration.

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/familiar-bridge/internal/auth"
	"github.com/2389/familiar-bridge/internal/config"
)

func TestHealthEndpoints(t *testing.T) {
	b := newTestBridge(t)

	resp, err := http.Get(b.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(b.server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ready")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"

	g, err := New(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// Give the server a moment to bind before canceling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestDecoderSelection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("verified when jwt_secret is set", func(t *testing.T) {
		cfg := config.Default()
		cfg.Auth.JWTSecret = "s3cret"
		assert.IsType(t, &auth.HS256Decoder{}, newDecoder(cfg, logger))
	})

	t.Run("unverified otherwise", func(t *testing.T) {
		assert.IsType(t, &auth.UnverifiedDecoder{}, newDecoder(config.Default(), logger))
	})
}
