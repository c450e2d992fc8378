// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package thread

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadline/threadline/internal/chat"
)

// Node is one message in a rebuilt thread.
type Node struct {
	chat.Message
	Sender  *chat.User `json:"sender,omitempty"`
	Replies []*Node    `json:"replies"`
}

// Size returns the number of messages in the subtree rooted at n.
func (n *Node) Size() int {
	total := 1
	for _, r := range n.Replies {
		total += r.Size()
	}
	return total
}

// Depth returns the number of levels in the subtree rooted at n.
func (n *Node) Depth() int {
	deepest := 0
	for _, r := range n.Replies {
		deepest = max(deepest, r.Depth())
	}
	return deepest + 1
}

// Thread rebuilds the thread containing messageID with the standard depth limit.
func (e *Engine) Thread(ctx context.Context, messageID string) (*Node, error) {
	return e.BuildThreadTree(ctx, messageID, MaxDepth)
}

// BuildThreadTree finds the root of the thread containing messageID and
// expands it breadth first, at most maxDepth levels (the root is level 1).
// Replies are ordered by creation time then id. The result is the same for
// any message id within the thread.
func (e *Engine) BuildThreadTree(ctx context.Context, messageID string, maxDepth int) (root *Node, err error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	ctx, span := tracer.Start(ctx, "thread.build_tree",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.Int("thread.max_depth", maxDepth),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rootMsg, err := e.resolveRoot(ctx, messageID)
	if err != nil {
		return nil, err
	}

	root = newNode(rootMsg)
	all := []*Node{root}
	seen := map[string]bool{root.ID: true}
	level := []*Node{root}

	for depth := 1; depth < maxDepth && len(level) > 0; depth++ {
		byID := make(map[string]*Node, len(level))
		ids := make([]string, 0, len(level))
		for _, n := range level {
			byID[n.ID] = n
			ids = append(ids, n.ID)
		}

		replies, err := e.store.ListReplies(ctx, ids)
		if err != nil {
			return nil, oops.With("operation", "list replies").
				With("root_id", root.ID).
				With("level", depth+1).
				Wrap(err)
		}

		var next []*Node
		for _, msg := range replies {
			parent, ok := byID[msg.ParentMessageID]
			if !ok || seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			child := newNode(msg)
			parent.Replies = append(parent.Replies, child)
			next = append(next, child)
			all = append(all, child)
		}
		level = next
	}

	e.attachSenders(ctx, all)
	span.SetAttributes(
		attribute.String("thread.root_id", root.ID),
		attribute.Int("thread.size", len(all)),
	)
	return root, nil
}

// resolveRoot walks up from messageID to the message with no parent.
func (e *Engine) resolveRoot(ctx context.Context, messageID string) (*chat.Message, error) {
	cur, err := e.store.GetMessage(ctx, messageID)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, ErrThreadNotFound(messageID)
	}
	if err != nil {
		return nil, oops.With("operation", "get message").With("message_id", messageID).Wrap(err)
	}

	visited := map[string]bool{cur.ID: true}
	for cur.ParentMessageID != "" {
		next := cur.ParentMessageID
		if visited[next] {
			e.cycleDetected(ctx, "build_tree", cur.ID, next)
			break
		}
		visited[next] = true

		parent, err := e.store.GetMessage(ctx, next)
		if errors.Is(err, chat.ErrNotFound) {
			e.logger.WarnContext(ctx, "ancestor missing while resolving thread root, treating last message as root",
				"message_id", cur.ID,
				"missing_parent_id", next,
			)
			break
		}
		if err != nil {
			return nil, oops.With("operation", "get ancestor message").With("message_id", next).Wrap(err)
		}
		cur = parent
	}
	return cur, nil
}

// attachSenders loads every sender in one lookup. A failed lookup leaves
// senders unset.
func (e *Engine) attachSenders(ctx context.Context, nodes []*Node) {
	seen := make(map[string]bool, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.SenderID != "" && !seen[n.SenderID] {
			seen[n.SenderID] = true
			ids = append(ids, n.SenderID)
		}
	}
	if len(ids) == 0 {
		return
	}

	users, err := e.store.GetUsers(ctx, ids)
	if err != nil {
		e.logger.WarnContext(ctx, "loading thread senders failed", "count", len(ids), "error", err)
		return
	}
	for _, n := range nodes {
		n.Sender = users[n.SenderID]
	}
}

func newNode(msg *chat.Message) *Node {
	return &Node{Message: *msg, Replies: []*Node{}}
}
