// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package thread enforces the structure of the reply graph: bounded depth,
// a single routing target per root, and routing inherited by replies.
package thread

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/pkg/errutil"
)

// MaxDepth is the number of levels a thread may have, counting the root as
// level 1. Validation and tree reads share it.
const MaxDepth = 3

var tracer = otel.Tracer("threadline/thread")

// Store is the storage the engine reads.
type Store interface {
	GetMessage(ctx context.Context, id string) (*chat.Message, error)
	ListReplies(ctx context.Context, parentIDs []string) ([]*chat.Message, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*chat.User, error)
}

// Engine validates new messages against the thread rules and rebuilds
// threads for reading.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine reading from store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateAndResolveRouting checks candidate against the thread rules and
// returns a copy ready to persist. Replies take their parent's channel and
// direct message ids; whatever the caller supplied is discarded. Depth is
// read from the stored parent chain on every call.
func (e *Engine) ValidateAndResolveRouting(ctx context.Context, candidate *chat.Message) (resolved *chat.Message, err error) {
	ctx, span := tracer.Start(ctx, "thread.validate",
		trace.WithAttributes(
			attribute.String("message.parent_id", candidate.ParentMessageID),
		),
	)
	defer func() {
		if err != nil {
			if code := errutil.Code(err); code != "" {
				observability.RecordThreadRejection(code)
				span.SetAttributes(attribute.String("thread.rejection", code))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	out := candidate.Clone()

	if candidate.ParentMessageID == "" {
		switch {
		case candidate.ChannelID != "" && candidate.DirectMessageID != "":
			return nil, ErrAmbiguousRouting(candidate.ChannelID, candidate.DirectMessageID)
		case candidate.ChannelID == "" && candidate.DirectMessageID == "":
			return nil, ErrMissingRouting()
		}
		return out, nil
	}

	parent, err := e.store.GetMessage(ctx, candidate.ParentMessageID)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, ErrParentNotFound(candidate.ParentMessageID)
	}
	if err != nil {
		return nil, oops.With("operation", "get parent message").
			With("parent_id", candidate.ParentMessageID).
			Wrap(err)
	}

	depth, err := e.parentDepth(ctx, parent)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("thread.parent_depth", depth))
	if depth >= MaxDepth {
		return nil, ErrThreadTooDeep(parent.ID, depth)
	}

	out.ChannelID = parent.ChannelID
	out.DirectMessageID = parent.DirectMessageID
	return out, nil
}

// parentDepth returns the level of parent within its thread, walking upward
// no further than MaxDepth. A cycle in the stored chain is rejected as too
// deep. A missing ancestor ends the walk, treating the last message found as
// the root.
func (e *Engine) parentDepth(ctx context.Context, parent *chat.Message) (int, error) {
	depth := 1
	visited := map[string]bool{parent.ID: true}
	cur := parent

	for cur.ParentMessageID != "" && depth < MaxDepth {
		next := cur.ParentMessageID
		if visited[next] {
			e.cycleDetected(ctx, "validate", cur.ID, next)
			return depth, ErrThreadTooDeep(parent.ID, depth)
		}
		visited[next] = true

		ancestor, err := e.store.GetMessage(ctx, next)
		if errors.Is(err, chat.ErrNotFound) {
			e.logger.WarnContext(ctx, "ancestor missing while walking thread, treating last message as root",
				"message_id", cur.ID,
				"missing_parent_id", next,
			)
			break
		}
		if err != nil {
			return 0, oops.With("operation", "get ancestor message").
				With("message_id", next).
				Wrap(err)
		}
		depth++
		cur = ancestor
	}
	return depth, nil
}

func (e *Engine) cycleDetected(ctx context.Context, operation, messageID, parentID string) {
	observability.RecordThreadCycleBreak(operation)
	e.logger.ErrorContext(ctx, "invariant violation: cycle in message parent chain",
		"operation", operation,
		"message_id", messageID,
		"parent_id", parentID,
	)
}
