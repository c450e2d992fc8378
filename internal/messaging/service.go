// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package messaging runs message writes through thread validation,
// persistence, room broadcast and notification fanout.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/realtime"
	"github.com/threadline/threadline/internal/thread"
	"github.com/threadline/threadline/pkg/errutil"
)

var tracer = otel.Tracer("threadline/messaging")

// Notification list bounds.
const (
	DefaultNotificationLimit = 50
	MaxNotificationLimit     = 200
)

// Store is the storage the service writes through.
type Store interface {
	chat.MessageStore
	chat.UserStore
	chat.NotificationStore
	chat.ReactionStore
}

// Validator checks new messages and rebuilds threads.
type Validator interface {
	ValidateAndResolveRouting(ctx context.Context, candidate *chat.Message) (*chat.Message, error)
	Thread(ctx context.Context, messageID string) (*thread.Node, error)
}

// Broadcaster pushes room events to live connections.
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, roomID, eventType string, payload any) int
	BroadcastReactionUpdate(ctx context.Context, messageID string) int
	BroadcastReactionUpdateToRoom(ctx context.Context, roomID, messageID string) int
}

// Notifier creates per-recipient notifications for a new message.
type Notifier interface {
	Notify(ctx context.Context, msg *chat.Message) (int, error)
}

// PostInput is a request to create a message.
type PostInput struct {
	SenderID        string `json:"-"`
	ChannelID       string `json:"channelId,omitempty"`
	DirectMessageID string `json:"directMessageId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	Content         string `json:"content"`
}

// MessageUpdated is the data of a message.updated event.
type MessageUpdated struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageDeleted is the data of a message.deleted event.
type MessageDeleted struct {
	ID string `json:"id"`
}

// Service coordinates message writes and reads.
type Service struct {
	store          Store
	validator      Validator
	broadcaster    Broadcaster
	notifier       Notifier
	logger         *slog.Logger
	now            func() time.Time
	scopeReactions bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithScopedReactionUpdates sends reaction updates only to the message's
// room instead of every connection.
func WithScopedReactionUpdates(scoped bool) Option {
	return func(s *Service) {
		s.scopeReactions = scoped
	}
}

// NewService creates a service.
func NewService(store Store, validator Validator, broadcaster Broadcaster, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:       store,
		validator:   validator,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PostMessage validates, persists and broadcasts a new message, then fans
// out notifications. Fanout failures are logged and never fail the post.
func (s *Service) PostMessage(ctx context.Context, in PostInput) (out *chat.MessageWithSender, err error) {
	ctx, span := tracer.Start(ctx, "messaging.post_message",
		trace.WithAttributes(
			attribute.String("user.id", in.SenderID),
			attribute.Bool("message.is_reply", in.ParentMessageID != ""),
		),
	)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent()
	}

	resolved, err := s.validator.ValidateAndResolveRouting(ctx, &chat.Message{
		SenderID:        in.SenderID,
		ChannelID:       in.ChannelID,
		DirectMessageID: in.DirectMessageID,
		ParentMessageID: in.ParentMessageID,
		Content:         in.Content,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	resolved.ID = core.NewIDAt(now)
	resolved.CreatedAt = now
	resolved.UpdatedAt = now

	if err := s.store.CreateMessage(ctx, resolved); err != nil {
		switch {
		case errors.Is(err, chat.ErrParentMissing):
			return nil, thread.ErrParentNotFound(resolved.ParentMessageID)
		case errors.Is(err, chat.ErrRoomNotFound):
			return nil, ErrRoomNotFound(resolved.ChannelID, resolved.DirectMessageID)
		case errors.Is(err, chat.ErrSenderNotFound):
			return nil, ErrUnknownSender(resolved.SenderID)
		}
		return nil, oops.With("operation", "create message").
			With("sender_id", resolved.SenderID).
			Wrap(err)
	}
	span.SetAttributes(attribute.String("message.id", resolved.ID))

	out = &chat.MessageWithSender{Message: *resolved, Sender: s.sender(ctx, resolved.SenderID)}
	s.broadcaster.BroadcastToRoom(ctx, resolved.RoomID(), realtime.EventMessage, out)

	if _, nerr := s.notifier.Notify(ctx, resolved); nerr != nil {
		errutil.LogError(ctx, s.logger, "notification fanout failed", oops.
			With("message_id", resolved.ID).
			Wrap(nerr))
	}

	return out, nil
}

// EditMessage replaces the content of a message owned by userID.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, content string) (msg *chat.Message, err error) {
	ctx, span := tracer.Start(ctx, "messaging.edit_message",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent()
	}
	if _, err := s.authored(ctx, userID, messageID); err != nil {
		return nil, err
	}

	msg, err = s.store.UpdateMessageContent(ctx, messageID, content)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, ErrMessageNotFound(messageID)
	}
	if err != nil {
		return nil, oops.With("operation", "update message").With("message_id", messageID).Wrap(err)
	}

	s.broadcaster.BroadcastToRoom(ctx, msg.RoomID(), realtime.EventMessageUpdated, MessageUpdated{
		ID:        msg.ID,
		Content:   msg.Content,
		UpdatedAt: msg.UpdatedAt,
	})
	return msg, nil
}

// DeleteMessage removes a message owned by userID along with its replies.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) (err error) {
	ctx, span := tracer.Start(ctx, "messaging.delete_message",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer func() { endSpan(span, err) }()

	msg, err := s.authored(ctx, userID, messageID)
	if err != nil {
		return err
	}

	err = s.store.DeleteMessage(ctx, messageID)
	if errors.Is(err, chat.ErrNotFound) {
		return ErrMessageNotFound(messageID)
	}
	if err != nil {
		return oops.With("operation", "delete message").With("message_id", messageID).Wrap(err)
	}

	s.broadcaster.BroadcastToRoom(ctx, msg.RoomID(), realtime.EventMessageDeleted, MessageDeleted{ID: messageID})
	return nil
}

// ToggleReaction adds userID's emoji to a message, or removes it if already
// present, and signals clients to refetch reactions. Returns true when added.
func (s *Service) ToggleReaction(ctx context.Context, userID, messageID, emoji string) (added bool, err error) {
	ctx, span := tracer.Start(ctx, "messaging.toggle_reaction",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer func() { endSpan(span, err) }()

	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, ErrInvalidReaction()
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, chat.ErrNotFound) {
		return false, ErrMessageNotFound(messageID)
	}
	if err != nil {
		return false, oops.With("operation", "get message").With("message_id", messageID).Wrap(err)
	}

	added, err = s.store.ToggleReaction(ctx, chat.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, chat.ErrNotFound) {
		return false, ErrMessageNotFound(messageID)
	}
	if err != nil {
		return false, oops.With("operation", "toggle reaction").With("message_id", messageID).Wrap(err)
	}

	if s.scopeReactions {
		s.broadcaster.BroadcastReactionUpdateToRoom(ctx, msg.RoomID(), messageID)
	} else {
		s.broadcaster.BroadcastReactionUpdate(ctx, messageID)
	}
	return added, nil
}

// Thread returns the thread containing messageID.
func (s *Service) Thread(ctx context.Context, messageID string) (*thread.Node, error) {
	return s.validator.Thread(ctx, messageID)
}

// ListNotifications returns userID's notifications, newest first. A limit
// outside 1..MaxNotificationLimit falls back to the nearest bound or the default.
func (s *Service) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*chat.Notification, error) {
	switch {
	case limit <= 0:
		limit = DefaultNotificationLimit
	case limit > MaxNotificationLimit:
		limit = MaxNotificationLimit
	}
	out, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, oops.With("operation", "list notifications").With("user_id", userID).Wrap(err)
	}
	if out == nil {
		out = []*chat.Notification{}
	}
	return out, nil
}

// MarkNotificationRead sets the read flag on one of userID's notifications.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	err := s.store.MarkNotificationRead(ctx, userID, notificationID)
	if errors.Is(err, chat.ErrNotFound) {
		return ErrNotificationNotFound(notificationID)
	}
	if err != nil {
		return oops.With("operation", "mark notification read").
			With("notification_id", notificationID).
			Wrap(err)
	}
	return nil
}

// authored loads a message and checks that userID sent it.
func (s *Service) authored(ctx context.Context, userID, messageID string) (*chat.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, ErrMessageNotFound(messageID)
	}
	if err != nil {
		return nil, oops.With("operation", "get message").With("message_id", messageID).Wrap(err)
	}
	if msg.SenderID != userID {
		return nil, ErrNotAuthor(userID, messageID)
	}
	return msg, nil
}

// sender loads the profile attached to broadcast messages. A failed lookup
// yields nil; clients refetch profiles they are missing.
func (s *Service) sender(ctx context.Context, userID string) *chat.User {
	users, err := s.store.GetUsers(ctx, []string{userID})
	if err != nil {
		s.logger.WarnContext(ctx, "loading message sender failed", "user_id", userID, "error", err)
		return nil
	}
	return users[userID]
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		if code := errutil.Code(err); code != "" {
			span.SetAttributes(attribute.String("error.code", code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
