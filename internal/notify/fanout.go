// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package notify persists per-recipient notifications for new messages and
// pushes them to connected recipients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/realtime"
	"github.com/threadline/threadline/pkg/errutil"
)

// previewRunes bounds the message excerpt carried in a notification payload.
const previewRunes = 120

// Store is the storage the fanout reads and writes.
type Store interface {
	GetChannel(ctx context.Context, id string) (*chat.Channel, error)
	GetDirectMessage(ctx context.Context, id string) (*chat.DirectMessage, error)
	ListChannelMemberIDs(ctx context.Context, channelID string) ([]string, error)
	CreateNotification(ctx context.Context, n *chat.Notification) error
}

// Deliverer pushes an event to one user's live connection.
type Deliverer interface {
	BroadcastToUser(ctx context.Context, userID, eventType string, payload any) bool
}

// MessagePayload is the payload of a message.created notification.
type MessagePayload struct {
	MessageID       string `json:"messageId"`
	ChannelID       string `json:"channelId,omitempty"`
	DirectMessageID string `json:"directMessageId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	SenderID        string `json:"senderId"`
	Preview         string `json:"preview"`
}

// Fanout creates notifications for new messages.
type Fanout struct {
	store     Store
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithLogger sets the fanout logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fanout) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides the notification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Fanout) {
		if now != nil {
			f.now = now
		}
	}
}

// New creates a fanout that persists to store and pushes through deliverer.
func New(store Store, deliverer Deliverer, opts ...Option) *Fanout {
	f := &Fanout{
		store:     store,
		deliverer: deliverer,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Recipients returns who should be notified of msg, sender excluded:
// every participant of a direct message, every member of a private channel,
// and nobody for a public channel.
func (f *Fanout) Recipients(ctx context.Context, msg *chat.Message) ([]string, error) {
	var candidates []string
	switch {
	case msg.DirectMessageID != "":
		dm, err := f.store.GetDirectMessage(ctx, msg.DirectMessageID)
		if err != nil {
			return nil, oops.With("operation", "get direct message").
				With("direct_message_id", msg.DirectMessageID).
				Wrap(err)
		}
		candidates = dm.ParticipantIDs
	case msg.ChannelID != "":
		ch, err := f.store.GetChannel(ctx, msg.ChannelID)
		if err != nil {
			return nil, oops.With("operation", "get channel").
				With("channel_id", msg.ChannelID).
				Wrap(err)
		}
		if !ch.IsPrivate() {
			return nil, nil
		}
		members, err := f.store.ListChannelMemberIDs(ctx, msg.ChannelID)
		if err != nil {
			return nil, oops.With("operation", "list channel members").
				With("channel_id", msg.ChannelID).
				Wrap(err)
		}
		candidates = members
	default:
		return nil, nil
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || id == msg.SenderID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// Notify persists one notification per recipient of msg and pushes each to
// the recipient's live connection. A failure for one recipient does not stop
// the others; all failures are returned joined. Returns the number of
// notifications persisted.
func (f *Fanout) Notify(ctx context.Context, msg *chat.Message) (int, error) {
	recipients, err := f.Recipients(ctx, msg)
	if err != nil {
		observability.RecordNotification("failed")
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(MessagePayload{
		MessageID:       msg.ID,
		ChannelID:       msg.ChannelID,
		DirectMessageID: msg.DirectMessageID,
		ParentMessageID: msg.ParentMessageID,
		SenderID:        msg.SenderID,
		Preview:         preview(msg.Content),
	})
	if err != nil {
		return 0, oops.With("operation", "encode notification payload").With("message_id", msg.ID).Wrap(err)
	}

	var errs []error
	created := 0
	for _, userID := range recipients {
		n := &chat.Notification{
			ID:        core.NewID(),
			UserID:    userID,
			Type:      chat.NotificationMessageCreated,
			Payload:   payload,
			CreatedAt: f.now().UTC(),
		}
		if err := f.store.CreateNotification(ctx, n); err != nil {
			observability.RecordNotification("failed")
			err = oops.With("operation", "create notification").
				With("user_id", userID).
				With("message_id", msg.ID).
				Wrap(err)
			errutil.LogWarn(ctx, f.logger, "notification not persisted", err)
			errs = append(errs, err)
			continue
		}
		created++

		if f.deliverer.BroadcastToUser(ctx, userID, realtime.EventNotification, n) {
			observability.RecordNotification("sent")
		} else {
			observability.RecordNotification("offline")
		}
	}

	return created, errors.Join(errs...)
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "…"
}
