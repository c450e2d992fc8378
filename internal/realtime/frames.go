// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package realtime

import "encoding/json"

// Server-to-client event types.
const (
	EventMessage        = "message"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
	EventReactionUpdate = "reactionUpdate"
	EventNotification   = "notification"
	EventTyping         = "typing"
	EventError          = "error"
)

// Envelope is the JSON frame written to sockets.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Encode marshals the envelope into a text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// TypingPayload is the data of a relayed typing event.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is the data of an error frame sent to a single socket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
