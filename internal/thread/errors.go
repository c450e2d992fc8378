// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package thread

import (
	"github.com/samber/oops"
)

// Error codes for thread validation and reads.
const (
	CodeAmbiguousRouting = "AMBIGUOUS_ROUTING"
	CodeMissingRouting   = "MISSING_ROUTING"
	CodeThreadTooDeep    = "THREAD_TOO_DEEP"
	CodeParentNotFound   = "PARENT_NOT_FOUND"
	CodeThreadNotFound   = "THREAD_NOT_FOUND"
)

// ErrAmbiguousRouting creates an error for a root message that names both a
// channel and a direct message.
func ErrAmbiguousRouting(channelID, directMessageID string) error {
	return oops.Code(CodeAmbiguousRouting).
		With("channel_id", channelID).
		With("direct_message_id", directMessageID).
		Errorf("message must target either a channel or a direct message, not both")
}

// ErrMissingRouting creates an error for a root message with no target.
func ErrMissingRouting() error {
	return oops.Code(CodeMissingRouting).
		Errorf("message must target a channel or a direct message")
}

// ErrThreadTooDeep creates an error for a reply whose parent is already at
// the deepest allowed level.
func ErrThreadTooDeep(parentID string, parentDepth int) error {
	return oops.Code(CodeThreadTooDeep).
		With("parent_id", parentID).
		With("parent_depth", parentDepth).
		With("max_depth", MaxDepth).
		Errorf("thread is too deep: replies are limited to %d levels", MaxDepth)
}

// ErrParentNotFound creates an error for a reply to a message that does not exist.
func ErrParentNotFound(parentID string) error {
	return oops.Code(CodeParentNotFound).
		With("parent_id", parentID).
		Errorf("parent message not found")
}

// ErrThreadNotFound creates an error for a thread read whose root cannot be resolved.
func ErrThreadNotFound(messageID string) error {
	return oops.Code(CodeThreadNotFound).
		With("message_id", messageID).
		Errorf("thread not found")
}
