// ABOUTME: Wraps a WebSocket connection as a session duplex channel.
// ABOUTME: A single writer goroutine drains a buffered send queue onto the socket.

package listener

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/2389/familiar-bridge/internal/protocol"
)

// Channel errors.
var (
	ErrChannelClosed   = errors.New("duplex channel closed")
	ErrSendBufferFull  = errors.New("duplex channel send buffer full")
	sendBufferCapacity = 16
)

// wsChannel adapts a *websocket.Conn to the session.Channel interface.
// gorilla/websocket permits at most one concurrent writer, so all outbound
// envelopes funnel through the send queue and a single writePump goroutine.
type wsChannel struct {
	conn   *websocket.Conn
	send   chan *protocol.Envelope
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newWSChannel(conn *websocket.Conn, logger *slog.Logger) *wsChannel {
	c := &wsChannel{
		conn:   conn,
		send:   make(chan *protocol.Envelope, sendBufferCapacity),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.writePump()
	return c
}

// Send queues an envelope for delivery. It never blocks: a closed channel
// returns ErrChannelClosed and a saturated queue returns ErrSendBufferFull.
func (c *wsChannel) Send(env *protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears down the socket and stops the write pump. Safe to call from
// any goroutine, any number of times.
func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// writePump is the only goroutine allowed to write to the socket.
func (c *wsChannel) writePump() {
	for {
		select {
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("duplex write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
