// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package chat contains the chat domain model and the storage interfaces
// the real-time core consumes.
package chat

import (
	"encoding/json"
	"time"
)

// ChannelType distinguishes public channels from private ones.
type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
)

// NotificationMessageCreated is the notification type emitted for new messages.
const NotificationMessageCreated = "message.created"

// User is the subset of a user profile attached to messages and thread nodes.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Channel is a named room inside a workspace.
type Channel struct {
	ID          string      `json:"id"`
	WorkspaceID string      `json:"workspaceId"`
	Name        string      `json:"name"`
	Type        ChannelType `json:"type"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// IsPrivate reports whether members of the channel receive push notifications.
func (c *Channel) IsPrivate() bool {
	return c.Type == ChannelPrivate
}

// DirectMessage is a conversation between a fixed set of participants.
type DirectMessage struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspaceId"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message is a chat message. An empty string means the field is unset.
//
// A root message carries exactly one of ChannelID and DirectMessageID.
// A reply carries ParentMessageID and the same routing as its parent.
type Message struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"senderId"`
	ChannelID       string    `json:"channelId,omitempty"`
	DirectMessageID string    `json:"directMessageId,omitempty"`
	ParentMessageID string    `json:"parentMessageId,omitempty"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsRoot reports whether the message starts a thread.
func (m *Message) IsRoot() bool {
	return m.ParentMessageID == ""
}

// RoomID returns the broadcast scope of the message: its channel or DM id.
// Returns "" when neither is set.
func (m *Message) RoomID() string {
	if m.ChannelID != "" {
		return m.ChannelID
	}
	return m.DirectMessageID
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// MessageWithSender is the payload of "message" events.
type MessageWithSender struct {
	Message
	Sender *User `json:"sender,omitempty"`
}

// Notification is a per-recipient record of something that happened.
// Only Read changes after creation.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Reaction is one user's emoji on one message.
type Reaction struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}
