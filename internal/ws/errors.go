// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package ws

import "github.com/samber/oops"

// Error codes sent to clients in error frames.
const (
	CodeInvalidFrame = "INVALID_FRAME"
	CodeNotJoined    = "NOT_JOINED"
)

// ErrInvalidFrame creates an error for a frame the server cannot accept.
func ErrInvalidFrame(reason string) error {
	return oops.Code(CodeInvalidFrame).Errorf("%s", reason)
}

// ErrNotJoined creates an error for a typing frame on a channel the socket
// has not joined.
func ErrNotJoined(channelID string) error {
	return oops.Code(CodeNotJoined).
		With("channel_id", channelID).
		Errorf("join the channel before sending typing updates")
}
