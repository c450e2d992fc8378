// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/observability"
)

// Connection is one user's live socket and the rooms it is subscribed to.
type Connection struct {
	ID          string
	UserID      string
	Socket      Socket
	Rooms       map[string]struct{}
	ConnectedAt time.Time
}

// copyConnection returns a copy whose room set can be handed to callers.
func copyConnection(c *Connection) *Connection {
	rooms := make(map[string]struct{}, len(c.Rooms))
	for k := range c.Rooms {
		rooms[k] = struct{}{}
	}
	cp := *c
	cp.Rooms = rooms
	return &cp
}

// Registry maps users to their single live socket.
//
// Both indexes are guarded by mu. Sockets are never written or closed while
// mu is held.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]*Connection
	bySocket map[Socket]string
	closed   bool
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byUser:   make(map[string]*Connection),
		bySocket: make(map[Socket]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes socket the live connection for userID, subscribed to roomIDs.
//
// Any previous entry for userID is replaced, not merged. If that entry held a
// different socket, the old socket is closed. Registering the same socket
// again only replaces its room set. If socket was registered under another
// user, that user's entry is removed.
//
// Returns the connection id, or "" if the registry is closed (the socket is
// closed in that case).
func (r *Registry) Register(userID string, socket Socket, roomIDs []string) string {
	rooms := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		if id != "" {
			rooms[id] = struct{}{}
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = socket.Close()
		return ""
	}

	if prevUser, ok := r.bySocket[socket]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
		r.logger.Debug("socket moved to another user",
			"from_user_id", prevUser,
			"to_user_id", userID,
		)
	}

	event := "register"
	var superseded Socket
	if prev, ok := r.byUser[userID]; ok {
		event = "replace"
		if prev.Socket != socket {
			superseded = prev.Socket
			delete(r.bySocket, prev.Socket)
		}
	}

	conn := &Connection{
		ID:          core.NewID(),
		UserID:      userID,
		Socket:      socket,
		Rooms:       rooms,
		ConnectedAt: time.Now(),
	}
	r.byUser[userID] = conn
	r.bySocket[socket] = userID
	active := len(r.byUser)
	r.mu.Unlock()

	observability.RecordConnection(event, active)
	r.logger.Debug("connection registered",
		"user_id", userID,
		"conn_id", conn.ID,
		"rooms", len(rooms),
		"event", event,
	)

	if superseded != nil {
		if err := superseded.Close(); err != nil {
			r.logger.Debug("closing superseded socket failed", "user_id", userID, "error", err)
		}
	}
	return conn.ID
}

// Unregister removes the entry owned by socket. Returns false if socket is not
// registered, which includes sockets already superseded by a newer Register.
func (r *Registry) Unregister(socket Socket) bool {
	r.mu.Lock()
	userID, ok := r.bySocket[socket]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.bySocket, socket)
	delete(r.byUser, userID)
	active := len(r.byUser)
	r.mu.Unlock()

	observability.RecordConnection("unregister", active)
	r.logger.Debug("connection unregistered", "user_id", userID)
	return true
}

// IsSubscribed reports whether userID has a live connection subscribed to roomID.
func (r *Registry) IsSubscribed(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	if !ok {
		return false
	}
	_, ok = conn.Rooms[roomID]
	return ok
}

// LiveSocketFor returns the live socket for userID.
func (r *Registry) LiveSocketFor(userID string) (Socket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return conn.Socket, true
}

// UserFor returns the user a socket is registered under.
func (r *Registry) UserFor(socket Socket) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.bySocket[socket]
	return userID, ok
}

// Connection returns a copy of the live connection for userID, or nil.
func (r *Registry) Connection(userID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	return copyConnection(conn)
}

// SocketsInRoom returns a snapshot of the sockets subscribed to roomID.
func (r *Registry) SocketsInRoom(roomID string) []Socket {
	return r.roomSockets(roomID, "")
}

// roomSockets snapshots the sockets subscribed to roomID, skipping exceptUser.
func (r *Registry) roomSockets(roomID, exceptUser string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Socket
	for userID, conn := range r.byUser {
		if userID == exceptUser {
			continue
		}
		if _, ok := conn.Rooms[roomID]; ok {
			out = append(out, conn.Socket)
		}
	}
	return out
}

// AllSockets returns a snapshot of every live socket.
func (r *Registry) AllSockets() []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Socket, 0, len(r.byUser))
	for _, conn := range r.byUser {
		out = append(out, conn.Socket)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Close closes every registered socket and rejects further registrations.
// Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sockets := make([]Socket, 0, len(r.byUser))
	for _, conn := range r.byUser {
		sockets = append(sockets, conn.Socket)
	}
	r.byUser = make(map[string]*Connection)
	r.bySocket = make(map[Socket]string)
	r.mu.Unlock()

	observability.RecordConnection("shutdown", 0)
	for _, s := range sockets {
		if err := s.Close(); err != nil {
			r.logger.Debug("closing socket on shutdown failed", "error", err)
		}
	}
	r.logger.Info("connection registry closed", "closed_sockets", len(sockets))
}
