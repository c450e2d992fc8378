// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package realtime

import (
	"context"
	"log/slog"

	"github.com/threadline/threadline/internal/observability"
)

// Router delivers events to the sockets held by a Registry.
//
// Delivery is best effort and at most once. A send that fails is skipped and
// counted; nothing is retried or queued for offline users.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BroadcastToRoom sends {type, data, channelId} to every live connection
// subscribed to roomID and returns the number of successful sends.
// An empty roomID sends nothing.
func (r *Router) BroadcastToRoom(ctx context.Context, roomID, eventType string, payload any) int {
	return r.broadcastRoom(ctx, roomID, "", eventType, payload)
}

// BroadcastToRoomExcept is BroadcastToRoom skipping exceptUserID's connection.
func (r *Router) BroadcastToRoomExcept(ctx context.Context, roomID, exceptUserID, eventType string, payload any) int {
	return r.broadcastRoom(ctx, roomID, exceptUserID, eventType, payload)
}

func (r *Router) broadcastRoom(ctx context.Context, roomID, exceptUserID, eventType string, payload any) int {
	if roomID == "" {
		observability.RecordEmptyRoomBroadcast(eventType)
		r.logger.WarnContext(ctx, "room broadcast without room id, nothing sent", "event_type", eventType)
		return 0
	}

	frame, ok := r.encode(ctx, Envelope{Type: eventType, Data: payload, ChannelID: roomID})
	if !ok {
		return 0
	}
	return r.fanout(ctx, r.registry.roomSockets(roomID, exceptUserID), eventType, frame)
}

// BroadcastToUser sends {type, data} to userID's live socket. Returns false
// when the user has no connection or the send fails.
func (r *Router) BroadcastToUser(ctx context.Context, userID, eventType string, payload any) bool {
	socket, ok := r.registry.LiveSocketFor(userID)
	if !ok {
		observability.RecordDeliveryDropped(eventType, observability.DropReasonNoConnection)
		r.logger.DebugContext(ctx, "user not connected, event dropped",
			"user_id", userID,
			"event_type", eventType,
		)
		return false
	}

	frame, ok := r.encode(ctx, Envelope{Type: eventType, Data: payload})
	if !ok {
		return false
	}
	return r.fanout(ctx, []Socket{socket}, eventType, frame) == 1
}

// BroadcastReactionUpdate sends {type:"reactionUpdate", messageId} to every
// live connection regardless of room subscription.
func (r *Router) BroadcastReactionUpdate(ctx context.Context, messageID string) int {
	frame, ok := r.encode(ctx, Envelope{Type: EventReactionUpdate, MessageID: messageID})
	if !ok {
		return 0
	}
	return r.fanout(ctx, r.registry.AllSockets(), EventReactionUpdate, frame)
}

// BroadcastReactionUpdateToRoom sends the reaction update only to connections
// subscribed to roomID.
func (r *Router) BroadcastReactionUpdateToRoom(ctx context.Context, roomID, messageID string) int {
	if roomID == "" {
		observability.RecordEmptyRoomBroadcast(EventReactionUpdate)
		r.logger.WarnContext(ctx, "room broadcast without room id, nothing sent", "event_type", EventReactionUpdate)
		return 0
	}
	frame, ok := r.encode(ctx, Envelope{Type: EventReactionUpdate, MessageID: messageID, ChannelID: roomID})
	if !ok {
		return 0
	}
	return r.fanout(ctx, r.registry.SocketsInRoom(roomID), EventReactionUpdate, frame)
}

// SendTo writes an envelope to one socket, registered or not.
func (r *Router) SendTo(ctx context.Context, socket Socket, env Envelope) bool {
	frame, ok := r.encode(ctx, env)
	if !ok {
		return false
	}
	return r.fanout(ctx, []Socket{socket}, env.Type, frame) == 1
}

func (r *Router) encode(ctx context.Context, env Envelope) ([]byte, bool) {
	frame, err := env.Encode()
	if err != nil {
		observability.RecordDeliveryDropped(env.Type, observability.DropReasonMarshal)
		r.logger.ErrorContext(ctx, "encode event frame failed",
			"event_type", env.Type,
			"error", err,
		)
		return nil, false
	}
	return frame, true
}

func (r *Router) fanout(ctx context.Context, sockets []Socket, eventType string, frame []byte) int {
	sent := 0
	for _, s := range sockets {
		if err := s.Send(frame); err != nil {
			observability.RecordDeliveryDropped(eventType, observability.DropReasonSendFailed)
			r.logger.WarnContext(ctx, "event dropped: socket send failed",
				"event_type", eventType,
				"error", err,
			)
			continue
		}
		sent++
	}
	observability.RecordDelivered(eventType, sent)
	return sent
}
