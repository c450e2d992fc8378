// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package realtimetest provides test helpers for the realtime package.
package realtimetest

import (
	"encoding/json"
	"sync"

	"github.com/threadline/threadline/internal/realtime"
)

// Socket records the frames sent to it.
type Socket struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	closes  int
	SendErr error // returned by Send when set
}

// NewSocket creates an open recording socket.
func NewSocket() *Socket {
	return &Socket{}
}

// Send records frame.
func (s *Socket) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	if s.closed {
		return realtime.ErrSocketClosed
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

// Close marks the socket closed.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closes++
	return nil
}

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCount returns how many times Close was called.
func (s *Socket) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Frames returns the raw frames received so far.
func (s *Socket) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Frame is a decoded envelope with the data left raw.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ChannelID string          `json:"channelId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// Decoded returns the received frames decoded. Frames that are not valid
// JSON are skipped.
func (s *Socket) Decoded() []Frame {
	var out []Frame
	for _, raw := range s.Frames() {
		var f Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Types returns the event type of every received frame in order.
func (s *Socket) Types() []string {
	frames := s.Decoded()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}
