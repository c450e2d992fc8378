// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package ws serves the client WebSocket endpoint. Each socket joins the
// connection registry and receives room, user and global events through
// the realtime router.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threadline/threadline/internal/realtime"
	"github.com/threadline/threadline/pkg/errutil"
)

// Settings tunes per-socket delivery.
type Settings struct {
	// SendBuffer is the number of frames queued per socket before sends fail.
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
	// MaxFrameBytes caps inbound frames; larger frames close the socket.
	MaxFrameBytes int64
}

// DefaultSettings returns the built-in delivery settings.
func DefaultSettings() Settings {
	return Settings{
		SendBuffer:    64,
		PingInterval:  30 * time.Second,
		WriteTimeout:  10 * time.Second,
		MaxFrameBytes: 64 << 10,
	}
}

// Gateway upgrades HTTP requests and runs the socket read and write loops.
type Gateway struct {
	registry *realtime.Registry
	router   *realtime.Router
	settings Settings
	upgrader websocket.Upgrader
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	shutdown bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSettings overrides the delivery settings. Zero fields keep defaults.
func WithSettings(s Settings) Option {
	return func(g *Gateway) {
		if s.SendBuffer > 0 {
			g.settings.SendBuffer = s.SendBuffer
		}
		if s.PingInterval > 0 {
			g.settings.PingInterval = s.PingInterval
		}
		if s.WriteTimeout > 0 {
			g.settings.WriteTimeout = s.WriteTimeout
		}
		if s.MaxFrameBytes > 0 {
			g.settings.MaxFrameBytes = s.MaxFrameBytes
		}
	}
}

// WithCheckOrigin sets the upgrader's origin check. The default accepts
// only same-origin requests.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(g *Gateway) {
		g.upgrader.CheckOrigin = fn
	}
}

// NewGateway creates a gateway over registry and router.
func NewGateway(registry *realtime.Registry, router *realtime.Router, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		router:   router,
		settings: DefaultSettings(),
		logger:   slog.Default(),
		conns:    make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wait blocks until every socket served by the gateway has finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// Shutdown closes every socket, including ones that never joined, and waits
// for their loops to finish. Sockets upgraded afterwards are dropped.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.shutdown = true
	for c := range g.conns {
		_ = c.Close() //nolint:errcheck // always nil
	}
	g.mu.Unlock()
	g.wg.Wait()
}

// track records c and reserves its two loops. It reports false once
// Shutdown has started.
func (g *Gateway) track(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdown {
		return false
	}
	g.conns[c] = struct{}{}
	g.wg.Add(2)
	return true
}

func (g *Gateway) untrack(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c)
}

// ServeHTTP upgrades the request and reads frames until the socket closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		g.logger.DebugContext(r.Context(), "websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(wsConn, g.settings, g.logger)
	if !g.track(conn) {
		_ = wsConn.Close() //nolint:errcheck // shutting down
		return
	}
	go func() {
		defer g.wg.Done()
		conn.writeLoop()
	}()
	go func() {
		defer g.wg.Done()
		g.readLoop(context.WithoutCancel(r.Context()), conn)
	}()
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn) {
	defer func() {
		g.registry.Unregister(c)
		_ = c.Close() //nolint:errcheck // always nil
		g.untrack(c)
	}()

	readTimeout := 2 * g.settings.PingInterval
	c.ws.SetReadLimit(g.settings.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck // fails only on a closed conn
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.DebugContext(ctx, "websocket closed unexpectedly", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck // next read reports it
		if messageType != websocket.TextMessage {
			g.reject(ctx, c, ErrInvalidFrame("frames must be JSON text"))
			continue
		}
		if !g.handleFrame(ctx, c, data) {
			return
		}
	}
}

// handleFrame processes one client frame. It returns false when the socket
// should stop reading.
func (g *Gateway) handleFrame(ctx context.Context, c *Conn, data []byte) bool {
	if err := ValidateFrame(data); err != nil {
		g.reject(ctx, c, err)
		return true
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		g.reject(ctx, c, ErrInvalidFrame("frame is not valid JSON"))
		return true
	}

	switch head.Type {
	case FrameJoin:
		var f JoinFrame
		if err := json.Unmarshal(data, &f); err != nil {
			g.reject(ctx, c, ErrInvalidFrame("malformed join frame"))
			return true
		}
		connID := g.registry.Register(f.UserID, c, f.Channels)
		if connID == "" {
			return false
		}
		g.logger.DebugContext(ctx, "socket joined",
			"connection_id", connID,
			"user_id", f.UserID,
			"rooms", len(f.Channels))

	case FrameTyping:
		var f TypingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			g.reject(ctx, c, ErrInvalidFrame("malformed typing frame"))
			return true
		}
		g.relayTyping(ctx, c, f)
	}
	return true
}

func (g *Gateway) relayTyping(ctx context.Context, c *Conn, f TypingFrame) {
	userID, ok := g.registry.UserFor(c)
	if !ok || !g.registry.IsSubscribed(userID, f.ChannelID) {
		g.reject(ctx, c, ErrNotJoined(f.ChannelID))
		return
	}
	if f.UserID != userID {
		g.reject(ctx, c, ErrInvalidFrame("userId does not match the joined user"))
		return
	}
	g.router.BroadcastToRoomExcept(ctx, f.ChannelID, userID, realtime.EventTyping, realtime.TypingPayload{
		UserID:   userID,
		IsTyping: f.IsTyping,
	})
}

func (g *Gateway) reject(ctx context.Context, c *Conn, err error) {
	errutil.LogWarn(ctx, g.logger, "client frame rejected", err)
	g.router.SendTo(ctx, c, realtime.Envelope{
		Type: realtime.EventError,
		Data: realtime.ErrorPayload{Code: errutil.Code(err), Message: err.Error()},
	})
}
