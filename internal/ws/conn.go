// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threadline/threadline/internal/realtime"
)

// Conn adapts a WebSocket to realtime.Socket. Frames are queued and written
// by a single goroutine, so they reach the peer in Send order.
type Conn struct {
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func newConn(ws *websocket.Conn, s Settings, logger *slog.Logger) *Conn {
	return &Conn{
		ws:           ws,
		send:         make(chan []byte, s.SendBuffer),
		done:         make(chan struct{}),
		pingInterval: s.PingInterval,
		writeTimeout: s.WriteTimeout,
		logger:       logger,
	}
}

// Send queues frame without blocking.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return realtime.ErrSocketClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return realtime.ErrSocketClosed
	default:
		return realtime.ErrSendBufferFull
	}
}

// Close stops the write loop, which sends a close frame and closes the
// connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writeLoop runs until Close or a write error. It owns all writes to ws.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close() //nolint:errcheck // connection is going away
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				_ = c.Close() //nolint:errcheck // always nil
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				_ = c.Close() //nolint:errcheck // always nil
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)) //nolint:errcheck // best effort
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

var _ realtime.Socket = (*Conn)(nil)
