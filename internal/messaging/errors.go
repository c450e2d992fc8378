// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package messaging

import (
	"github.com/samber/oops"
)

// Error codes for message operations.
const (
	CodeEmptyContent         = "EMPTY_CONTENT"
	CodeMessageNotFound      = "MESSAGE_NOT_FOUND"
	CodeNotAuthor            = "NOT_AUTHOR"
	CodeInvalidReaction      = "INVALID_REACTION"
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeRoomNotFound         = "ROOM_NOT_FOUND"
	CodeUnknownSender        = "UNKNOWN_SENDER"
)

// ErrEmptyContent creates an error for a message with no text.
func ErrEmptyContent() error {
	return oops.Code(CodeEmptyContent).
		Errorf("message content must not be empty")
}

// ErrMessageNotFound creates an error for an operation on a missing message.
func ErrMessageNotFound(messageID string) error {
	return oops.Code(CodeMessageNotFound).
		With("message_id", messageID).
		Errorf("message not found")
}

// ErrNotAuthor creates an error for an edit or delete by someone other than the sender.
func ErrNotAuthor(userID, messageID string) error {
	return oops.Code(CodeNotAuthor).
		With("user_id", userID).
		With("message_id", messageID).
		Errorf("only the author can change this message")
}

// ErrInvalidReaction creates an error for a reaction without an emoji.
func ErrInvalidReaction() error {
	return oops.Code(CodeInvalidReaction).
		Errorf("reaction emoji must not be empty")
}

// ErrNotificationNotFound creates an error for a notification the user does not own.
func ErrNotificationNotFound(notificationID string) error {
	return oops.Code(CodeNotificationNotFound).
		With("notification_id", notificationID).
		Errorf("notification not found")
}

// ErrRoomNotFound creates an error for a post to a channel or direct message
// that does not exist.
func ErrRoomNotFound(channelID, directMessageID string) error {
	return oops.Code(CodeRoomNotFound).
		With("channel_id", channelID).
		With("direct_message_id", directMessageID).
		Errorf("room not found")
}

// ErrUnknownSender creates an error for a post by a user with no profile.
func ErrUnknownSender(userID string) error {
	return oops.Code(CodeUnknownSender).
		With("user_id", userID).
		Errorf("sender is not a known user")
}
