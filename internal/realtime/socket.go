// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package realtime tracks live client sockets and routes events to them.
package realtime

import "errors"

var (
	// ErrSocketClosed is returned by Send after the socket has been closed.
	ErrSocketClosed = errors.New("socket closed")

	// ErrSendBufferFull is returned by Send when the socket cannot accept
	// another frame without blocking.
	ErrSendBufferFull = errors.New("socket send buffer full")
)

// Socket is a live client transport.
//
// Send must not block: it either queues the frame for delivery or returns an
// error. Frames queued by one goroutine are written in the order queued.
// Implementations are used as map keys and must be comparable, which in
// practice means pointer types.
type Socket interface {
	Send(frame []byte) error
	Close() error
}
