// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrParentMissing is returned by CreateMessage when the referenced
	// parent message no longer exists.
	ErrParentMissing = errors.New("parent message missing")

	// ErrRoomNotFound is returned by CreateMessage when the target channel
	// or direct message does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrSenderNotFound is returned by CreateMessage when the sender has no
	// user record.
	ErrSenderNotFound = errors.New("sender not found")

	// ErrAlreadyExists is returned when creating a channel or direct
	// message whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// MessageStore persists messages.
type MessageStore interface {
	// GetMessage returns the message or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// CreateMessage persists a new message. The caller sets ID and timestamps.
	// Returns ErrParentMissing if ParentMessageID refers to no message,
	// ErrRoomNotFound if the room does not exist and ErrSenderNotFound if
	// the sender does not.
	CreateMessage(ctx context.Context, msg *Message) error

	// UpdateMessageContent replaces the content of a message, bumps
	// UpdatedAt and returns the updated row.
	UpdateMessageContent(ctx context.Context, id, content string) (*Message, error)

	// DeleteMessage removes a message and every reply beneath it.
	// Returns ErrNotFound if the message does not exist.
	DeleteMessage(ctx context.Context, id string) error

	// ListReplies returns every message whose parent is one of parentIDs,
	// ordered by creation time then id.
	ListReplies(ctx context.Context, parentIDs []string) ([]*Message, error)
}

// UserStore resolves user profiles.
type UserStore interface {
	// GetUsers returns the profiles found for ids, keyed by id.
	// Unknown ids are absent from the map.
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
}

// ChannelStore answers membership questions for rooms.
type ChannelStore interface {
	GetChannel(ctx context.Context, id string) (*Channel, error)
	GetDirectMessage(ctx context.Context, id string) (*DirectMessage, error)
	ListChannelMemberIDs(ctx context.Context, channelID string) ([]string, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error)
	// MarkNotificationRead sets the read flag. Returns ErrNotFound if the
	// notification does not exist or belongs to another user.
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// ReactionStore persists reactions.
type ReactionStore interface {
	// ToggleReaction adds the reaction if absent and removes it otherwise.
	// Returns true when the reaction was added.
	ToggleReaction(ctx context.Context, r Reaction) (bool, error)
}

// Store is the full storage collaborator.
type Store interface {
	MessageStore
	UserStore
	ChannelStore
	NotificationStore
	ReactionStore
}
