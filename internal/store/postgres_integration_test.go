// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/store"
)

func migrateUp() {
	m, err := store.NewMigrator(dsn)
	Expect(err).NotTo(HaveOccurred())
	defer func() { Expect(m.Close()).To(Succeed()) }()
	Expect(m.Up()).To(Succeed())
}

var _ = Describe("PostgresStore", func() {
	var (
		ctx context.Context
		s   *store.PostgresStore
		now time.Time
	)

	newMessage := func(sender, channel, parent, content string) *chat.Message {
		now = now.Add(time.Second)
		return &chat.Message{
			ID:              core.NewIDAt(now),
			SenderID:        sender,
			ChannelID:       channel,
			ParentMessageID: parent,
			Content:         content,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Now().UTC().Truncate(time.Microsecond)
		migrateUp()

		var err error
		s, err = store.Connect(ctx, dsn, store.ConnectOptions{Attempts: 5, Backoff: 100 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		for _, u := range []chat.User{{ID: "alice", DisplayName: "Alice"}, {ID: "bob", DisplayName: "Bob"}, {ID: "carol", DisplayName: "Carol"}} {
			Expect(s.UpsertUser(ctx, u)).To(Succeed())
		}
		Expect(s.CreateChannel(ctx, chat.Channel{ID: "general", WorkspaceID: "w1", Name: "general", Type: chat.ChannelPublic}, "alice", "bob")).To(Succeed())
		Expect(s.CreateChannel(ctx, chat.Channel{ID: "secret", WorkspaceID: "w1", Name: "secret", Type: chat.ChannelPrivate}, "alice", "bob", "carol")).To(Succeed())
		Expect(s.CreateDirectMessage(ctx, chat.DirectMessage{ID: "dm1", WorkspaceID: "w1", ParticipantIDs: []string{"alice", "bob"}})).To(Succeed())
	})

	AfterEach(func() {
		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Down()).To(Succeed())
		Expect(m.Close()).To(Succeed())
	})

	Describe("messages", func() {
		It("round-trips a root message", func() {
			msg := newMessage("alice", "general", "", "hello")
			Expect(s.CreateMessage(ctx, msg)).To(Succeed())

			got, err := s.GetMessage(ctx, msg.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ChannelID).To(Equal("general"))
			Expect(got.DirectMessageID).To(BeEmpty())
			Expect(got.IsRoot()).To(BeTrue())
			Expect(got.CreatedAt).To(BeTemporally("==", msg.CreatedAt))
		})

		It("rejects a reply to a missing parent", func() {
			err := s.CreateMessage(ctx, newMessage("alice", "general", core.NewID(), "orphan"))
			Expect(err).To(MatchError(chat.ErrParentMissing))
		})

		It("maps unknown rooms and senders to sentinels", func() {
			Expect(s.CreateMessage(ctx, newMessage("alice", "nope", "", "lost"))).
				To(MatchError(chat.ErrRoomNotFound))

			dm := newMessage("alice", "", "", "lost")
			dm.DirectMessageID = "nope"
			Expect(s.CreateMessage(ctx, dm)).To(MatchError(chat.ErrRoomNotFound))

			Expect(s.CreateMessage(ctx, newMessage("ghost", "general", "", "boo"))).
				To(MatchError(chat.ErrSenderNotFound))
		})

		It("lists replies of several parents in creation order", func() {
			root := newMessage("alice", "general", "", "root")
			Expect(s.CreateMessage(ctx, root)).To(Succeed())
			r1 := newMessage("bob", "general", root.ID, "one")
			r2 := newMessage("alice", "general", root.ID, "two")
			Expect(s.CreateMessage(ctx, r1)).To(Succeed())
			Expect(s.CreateMessage(ctx, r2)).To(Succeed())
			r3 := newMessage("bob", "general", r1.ID, "nested")
			Expect(s.CreateMessage(ctx, r3)).To(Succeed())

			level1, err := s.ListReplies(ctx, []string{root.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(level1).To(HaveLen(2))
			Expect(level1[0].ID).To(Equal(r1.ID))
			Expect(level1[1].ID).To(Equal(r2.ID))

			level2, err := s.ListReplies(ctx, []string{r1.ID, r2.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(level2).To(HaveLen(1))
			Expect(level2[0].ID).To(Equal(r3.ID))
		})

		It("edits content and bumps updated_at", func() {
			msg := newMessage("alice", "general", "", "draft")
			Expect(s.CreateMessage(ctx, msg)).To(Succeed())

			got, err := s.UpdateMessageContent(ctx, msg.ID, "final")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("final"))
			Expect(got.UpdatedAt).NotTo(BeTemporally("==", msg.UpdatedAt))
		})

		It("cascades deletes to replies and reactions", func() {
			root := newMessage("alice", "general", "", "root")
			Expect(s.CreateMessage(ctx, root)).To(Succeed())
			reply := newMessage("bob", "general", root.ID, "reply")
			Expect(s.CreateMessage(ctx, reply)).To(Succeed())
			_, err := s.ToggleReaction(ctx, chat.Reaction{MessageID: reply.ID, UserID: "alice", Emoji: "👍"})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.DeleteMessage(ctx, root.ID)).To(Succeed())
			_, err = s.GetMessage(ctx, reply.ID)
			Expect(err).To(MatchError(chat.ErrNotFound))
			Expect(s.DeleteMessage(ctx, root.ID)).To(MatchError(chat.ErrNotFound))
		})
	})

	Describe("rooms and users", func() {
		It("loads channels, members and direct messages", func() {
			ch, err := s.GetChannel(ctx, "secret")
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.IsPrivate()).To(BeTrue())

			members, err := s.ListChannelMemberIDs(ctx, "secret")
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(ConsistOf("alice", "bob", "carol"))

			dm, err := s.GetDirectMessage(ctx, "dm1")
			Expect(err).NotTo(HaveOccurred())
			Expect(dm.ParticipantIDs).To(Equal([]string{"alice", "bob"}))

			_, err = s.ListChannelMemberIDs(ctx, "nope")
			Expect(err).To(MatchError(chat.ErrNotFound))
		})

		It("batch loads users and skips unknown ids", func() {
			users, err := s.GetUsers(ctx, []string{"alice", "ghost"})
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(1))
			Expect(users["alice"].DisplayName).To(Equal("Alice"))
		})
	})

	Describe("notifications", func() {
		It("lists newest first and marks read per owner", func() {
			for i, id := range []string{core.NewIDAt(now), core.NewIDAt(now.Add(time.Second))} {
				payload, _ := json.Marshal(map[string]int{"n": i})
				Expect(s.CreateNotification(ctx, &chat.Notification{
					ID: id, UserID: "bob", Type: chat.NotificationMessageCreated,
					Payload: payload, CreatedAt: now.Add(time.Duration(i) * time.Second),
				})).To(Succeed())
			}

			all, err := s.ListNotifications(ctx, "bob", false, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
			Expect(string(all[0].Payload)).To(MatchJSON(`{"n":1}`))

			Expect(s.MarkNotificationRead(ctx, "alice", all[0].ID)).To(MatchError(chat.ErrNotFound))
			Expect(s.MarkNotificationRead(ctx, "bob", all[0].ID)).To(Succeed())

			unread, err := s.ListNotifications(ctx, "bob", true, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(unread).To(HaveLen(1))
			Expect(unread[0].ID).To(Equal(all[1].ID))
		})
	})

	Describe("reactions", func() {
		It("toggles on and off", func() {
			msg := newMessage("alice", "general", "", "react to me")
			Expect(s.CreateMessage(ctx, msg)).To(Succeed())
			r := chat.Reaction{MessageID: msg.ID, UserID: "bob", Emoji: "🎉"}

			added, err := s.ToggleReaction(ctx, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeTrue())

			added, err = s.ToggleReaction(ctx, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeFalse())
		})

		It("reports a missing message", func() {
			_, err := s.ToggleReaction(ctx, chat.Reaction{MessageID: core.NewID(), UserID: "bob", Emoji: "🎉"})
			Expect(err).To(MatchError(chat.ErrNotFound))
		})
	})
})
