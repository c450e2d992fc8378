// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package chat

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and the memory driver.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         map[string]*User
	channels      map[string]*Channel
	members       map[string][]string
	dms           map[string]*DirectMessage
	messages      map[string]*Message
	notifications map[string]*Notification
	notifOrder    []string
	reactions     map[Reaction]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		users:         make(map[string]*User),
		channels:      make(map[string]*Channel),
		members:       make(map[string][]string),
		dms:           make(map[string]*DirectMessage),
		messages:      make(map[string]*Message),
		notifications: make(map[string]*Notification),
		reactions:     make(map[Reaction]struct{}),
	}
}

// AddUser seeds a user profile.
func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// AddChannel seeds a channel with its member ids.
func (s *MemoryStore) AddChannel(c Channel, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.ID] = &c
	s.members[c.ID] = slices.Clone(memberIDs)
}

// AddDirectMessage seeds a direct message conversation.
func (s *MemoryStore) AddDirectMessage(dm DirectMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dm.ParticipantIDs = slices.Clone(dm.ParticipantIDs)
	s.dms[dm.ID] = &dm
}

// UpsertUser inserts or replaces a user profile.
func (s *MemoryStore) UpsertUser(_ context.Context, u User) error {
	s.AddUser(u)
	return nil
}

// CreateChannel adds a channel unless its id is taken.
func (s *MemoryStore) CreateChannel(_ context.Context, c Channel, memberIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[c.ID]; ok {
		return ErrAlreadyExists
	}
	s.channels[c.ID] = &c
	s.members[c.ID] = slices.Clone(memberIDs)
	return nil
}

// CreateDirectMessage adds a direct message unless its id is taken.
func (s *MemoryStore) CreateDirectMessage(_ context.Context, dm DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dms[dm.ID]; ok {
		return ErrAlreadyExists
	}
	dm.ParticipantIDs = slices.Clone(dm.ParticipantIDs)
	s.dms[dm.ID] = &dm
	return nil
}

// PutMessage stores a message as-is, bypassing parent checks.
// Tests use it to build graphs that CreateMessage would refuse.
func (s *MemoryStore) PutMessage(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg.Clone()
}

// GetMessage implements MessageStore.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// CreateMessage implements MessageStore.
func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ParentMessageID != "" {
		if _, ok := s.messages[msg.ParentMessageID]; !ok {
			return ErrParentMissing
		}
	}
	if !s.roomExists(msg) {
		return ErrRoomNotFound
	}
	if _, ok := s.users[msg.SenderID]; !ok {
		return ErrSenderNotFound
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

func (s *MemoryStore) roomExists(msg *Message) bool {
	if msg.ChannelID != "" {
		if _, ok := s.channels[msg.ChannelID]; !ok {
			return false
		}
	}
	if msg.DirectMessageID != "" {
		if _, ok := s.dms[msg.DirectMessageID]; !ok {
			return false
		}
	}
	return true
}

// UpdateMessageContent implements MessageStore.
func (s *MemoryStore) UpdateMessageContent(_ context.Context, id, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	msg.Content = content
	msg.UpdatedAt = s.now().UTC()
	return msg.Clone(), nil
}

// DeleteMessage implements MessageStore.
func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	doomed := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		var next []string
		for mid, m := range s.messages {
			if !doomed[mid] && slices.Contains(frontier, m.ParentMessageID) {
				doomed[mid] = true
				next = append(next, mid)
			}
		}
		frontier = next
	}
	for mid := range doomed {
		delete(s.messages, mid)
	}
	for r := range s.reactions {
		if doomed[r.MessageID] {
			delete(s.reactions, r)
		}
	}
	return nil
}

// ListReplies implements MessageStore.
func (s *MemoryStore) ListReplies(_ context.Context, parentIDs []string) ([]*Message, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages {
		if m.ParentMessageID != "" && slices.Contains(parentIDs, m.ParentMessageID) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetUsers implements UserStore.
func (s *MemoryStore) GetUsers(_ context.Context, ids []string) (map[string]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

// GetChannel implements ChannelStore.
func (s *MemoryStore) GetChannel(_ context.Context, id string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetDirectMessage implements ChannelStore.
func (s *MemoryStore) GetDirectMessage(_ context.Context, id string) (*DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dm, ok := s.dms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *dm
	cp.ParticipantIDs = slices.Clone(dm.ParticipantIDs)
	return &cp, nil
}

// ListChannelMemberIDs implements ChannelStore.
func (s *MemoryStore) ListChannelMemberIDs(_ context.Context, channelID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.channels[channelID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.members[channelID]), nil
}

// CreateNotification implements NotificationStore.
func (s *MemoryStore) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	cp.Payload = slices.Clone(n.Payload)
	s.notifications[n.ID] = &cp
	s.notifOrder = append(s.notifOrder, n.ID)
	return nil
}

// ListNotifications implements NotificationStore. Newest first.
func (s *MemoryStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for i := len(s.notifOrder) - 1; i >= 0; i-- {
		n := s.notifications[s.notifOrder[i]]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkNotificationRead implements NotificationStore.
func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// ToggleReaction implements ReactionStore.
func (s *MemoryStore) ToggleReaction(_ context.Context, r Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return false, ErrNotFound
	}
	r.CreatedAt = time.Time{}
	if _, ok := s.reactions[r]; ok {
		delete(s.reactions, r)
		return false, nil
	}
	s.reactions[r] = struct{}{}
	return true, nil
}

// ReactionCount returns the number of reactions stored for a message.
func (s *MemoryStore) ReactionCount(messageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for r := range s.reactions {
		if r.MessageID == messageID {
			n++
		}
	}
	return n
}

var _ Store = (*MemoryStore)(nil)
