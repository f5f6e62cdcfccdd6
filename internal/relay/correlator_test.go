// ABOUTME: Tests for request/reply correlation, timeouts, and forced rejection.
// ABOUTME: Uses a fake channel provider so no real sockets are involved.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/familiar-bridge/internal/protocol"
	"github.com/2389/familiar-bridge/internal/session"
)

// fakeChannel captures sent envelopes.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []*protocol.Envelope
	sendErr error
}

func (c *fakeChannel) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) sentEnvelopes() []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Envelope(nil), c.sent...)
}

// fakeProvider maps session IDs to channels.
type fakeProvider struct {
	mu       sync.Mutex
	channels map[string]session.Channel
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{channels: make(map[string]session.Channel)}
}

func (p *fakeProvider) bind(sessionID string, ch session.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[sessionID] = ch
}

func (p *fakeProvider) DuplexChannel(sessionID string) (session.Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[sessionID]
	return ch, ok
}

func testCorrelator(t *testing.T, provider ChannelProvider, timeout time.Duration) *Correlator {
	t.Helper()
	return New(Options{
		Channels: provider,
		Timeout:  timeout,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func request(id, method string) *protocol.Envelope {
	return &protocol.Envelope{JSONRPC: protocol.Version, ID: id, Method: method}
}

func reply(id string, result string) *protocol.Envelope {
	return &protocol.Envelope{JSONRPC: protocol.Version, ID: id, Result: json.RawMessage(result)}
}

func TestCallNoPeer(t *testing.T) {
	c := testCorrelator(t, newFakeProvider(), time.Second)

	_, err := c.Call(context.Background(), "abc", request("", "tools/list"))
	assert.ErrorIs(t, err, ErrNoPeerConnected)
	assert.Contains(t, err.Error(), "abc")
	assert.Equal(t, 0, c.PendingCount("abc"))
}

func TestCallResolved(t *testing.T) {
	t.Run("resolves with the matching reply", func(t *testing.T) {
		provider := newFakeProvider()
		ch := &fakeChannel{}
		provider.bind("abc", ch)
		c := testCorrelator(t, provider, 5*time.Second)

		var got *protocol.Envelope
		var callErr error
		done := make(chan struct{})
		go func() {
			got, callErr = c.Call(context.Background(), "abc", request("req-1", "tools/call"))
			close(done)
		}()

		// Wait until the request hits the channel, then answer it.
		require.Eventually(t, func() bool { return len(ch.sentEnvelopes()) == 1 },
			time.Second, time.Millisecond)
		c.Resolve("abc", reply("req-1", `{"ok":true}`))

		<-done
		require.NoError(t, callErr)
		assert.Equal(t, "req-1", got.ID)
		assert.JSONEq(t, `{"ok":true}`, string(got.Result))
		assert.Equal(t, 0, c.PendingCount("abc"))
	})

	t.Run("assigns a request id when missing", func(t *testing.T) {
		provider := newFakeProvider()
		ch := &fakeChannel{}
		provider.bind("abc", ch)
		c := testCorrelator(t, provider, 5*time.Second)

		done := make(chan struct{})
		go func() {
			c.Call(context.Background(), "abc", request("", "tools/list"))
			close(done)
		}()

		require.Eventually(t, func() bool { return len(ch.sentEnvelopes()) == 1 },
			time.Second, time.Millisecond)
		sent := ch.sentEnvelopes()[0]
		require.NotEmpty(t, sent.ID)

		c.Resolve("abc", reply(sent.ID, `{}`))
		<-done
	})

	t.Run("concurrent calls settle independently in any order", func(t *testing.T) {
		provider := newFakeProvider()
		ch := &fakeChannel{}
		provider.bind("abc", ch)
		c := testCorrelator(t, provider, 5*time.Second)

		results := make(chan string, 2)
		for _, id := range []string{"req-a", "req-b"} {
			go func(id string) {
				got, err := c.Call(context.Background(), "abc", request(id, "tools/call"))
				if err != nil {
					results <- "err:" + id
					return
				}
				results <- got.ID
			}(id)
		}

		require.Eventually(t, func() bool { return c.PendingCount("abc") == 2 },
			time.Second, time.Millisecond)

		// Answer in reverse order of submission possibilities.
		c.Resolve("abc", reply("req-b", `{"n":2}`))
		c.Resolve("abc", reply("req-a", `{"n":1}`))

		settled := map[string]bool{}
		for i := 0; i < 2; i++ {
			select {
			case id := <-results:
				settled[id] = true
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for calls to settle")
			}
		}
		assert.True(t, settled["req-a"])
		assert.True(t, settled["req-b"])
		assert.Equal(t, 0, c.PendingCount("abc"))
	})
}

func TestCallTimeout(t *testing.T) {
	provider := newFakeProvider()
	provider.bind("abc", &fakeChannel{})
	c := testCorrelator(t, provider, 30*time.Millisecond)

	start := time.Now()
	_, err := c.Call(context.Background(), "abc", request("req-1", "tools/call"))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrPeerTimeout)
	assert.Contains(t, err.Error(), "tools/call", "timeout error names the method")
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Equal(t, 0, c.PendingCount("abc"), "entry removed after timeout")
}

func TestCallSendFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.bind("abc", &fakeChannel{sendErr: errors.New("socket gone")})
	c := testCorrelator(t, provider, time.Second)

	_, err := c.Call(context.Background(), "abc", request("req-1", "tools/call"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket gone")
	assert.Equal(t, 0, c.PendingCount("abc"))
}

func TestCallCancellation(t *testing.T) {
	provider := newFakeProvider()
	provider.bind("abc", &fakeChannel{})
	c := testCorrelator(t, provider, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "abc", request("req-1", "tools/call"))
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.PendingCount("abc") == 1 },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("call did not return after cancellation")
	}
	assert.Equal(t, 0, c.PendingCount("abc"))
}

func TestRejectSession(t *testing.T) {
	t.Run("rejects all in-flight requests", func(t *testing.T) {
		provider := newFakeProvider()
		provider.bind("abc", &fakeChannel{})
		c := testCorrelator(t, provider, 5*time.Second)

		const n = 5
		errCh := make(chan error, n)
		for i := 0; i < n; i++ {
			go func(i int) {
				_, err := c.Call(context.Background(), "abc", request(fmt.Sprintf("req-%d", i), "tools/call"))
				errCh <- err
			}(i)
		}

		require.Eventually(t, func() bool { return c.PendingCount("abc") == n },
			time.Second, time.Millisecond)

		c.RejectSession("abc")

		for i := 0; i < n; i++ {
			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, ErrPeerDisconnected)
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for rejection")
			}
		}
		assert.Equal(t, 0, c.PendingCount("abc"))
	})

	t.Run("does not touch other sessions", func(t *testing.T) {
		provider := newFakeProvider()
		provider.bind("abc", &fakeChannel{})
		provider.bind("xyz", &fakeChannel{})
		c := testCorrelator(t, provider, 5*time.Second)

		go c.Call(context.Background(), "abc", request("req-1", "m"))
		go c.Call(context.Background(), "xyz", request("req-2", "m"))
		require.Eventually(t, func() bool {
			return c.PendingCount("abc") == 1 && c.PendingCount("xyz") == 1
		}, time.Second, time.Millisecond)

		c.RejectSession("abc")

		assert.Equal(t, 0, c.PendingCount("abc"))
		assert.Equal(t, 1, c.PendingCount("xyz"))
	})

	t.Run("no pending entries is a no-op", func(t *testing.T) {
		c := testCorrelator(t, newFakeProvider(), time.Second)
		c.RejectSession("abc") // must not panic
	})
}

func TestResolveUnmatched(t *testing.T) {
	t.Run("late reply after timeout is dropped", func(t *testing.T) {
		provider := newFakeProvider()
		provider.bind("abc", &fakeChannel{})
		c := testCorrelator(t, provider, 20*time.Millisecond)

		_, err := c.Call(context.Background(), "abc", request("req-1", "tools/call"))
		require.ErrorIs(t, err, ErrPeerTimeout)

		// Late arrival: no pending entry, must not panic or block.
		c.Resolve("abc", reply("req-1", `{}`))
	})

	t.Run("reply for never-seen request is dropped", func(t *testing.T) {
		c := testCorrelator(t, newFakeProvider(), time.Second)
		c.Resolve("abc", reply("ghost", `{}`))
	})
}
