// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/threadline/threadline/internal/api"
	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/messaging"
	"github.com/threadline/threadline/internal/notify"
	"github.com/threadline/threadline/internal/realtime"
	"github.com/threadline/threadline/internal/thread"
	"github.com/threadline/threadline/internal/ws"
)

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	ChannelID string          `json:"channelId"`
	MessageID string          `json:"messageId"`
}

type pipeline struct {
	registry *realtime.Registry
	gateway  *ws.Gateway
	srv      *httptest.Server
}

func newPipeline(scoped bool) *pipeline {
	registry := realtime.NewRegistry()
	router := realtime.NewRouter(registry)
	svc := messaging.NewService(db, thread.NewEngine(db), router, notify.New(db, router),
		messaging.WithScopedReactionUpdates(scoped))
	gw := ws.NewGateway(registry, router)
	srv := httptest.NewServer(api.NewRouter(svc, api.WithWebSocket(gw)))

	p := &pipeline{registry: registry, gateway: gw, srv: srv}
	DeferCleanup(func() {
		registry.Close()
		gw.Shutdown()
		srv.Close()
	})
	return p
}

func (p *pipeline) call(method, path, user string, body any) (int, []byte) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, p.srv.URL+path, r)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set(api.UserIDHeader, user)
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, out
}

func (p *pipeline) post(user string, in messaging.PostInput) chat.MessageWithSender {
	status, body := p.call(http.MethodPost, "/api/messages", user, in)
	Expect(status).To(Equal(http.StatusCreated), string(body))
	var msg chat.MessageWithSender
	Expect(json.Unmarshal(body, &msg)).To(Succeed())
	return msg
}

// connect opens a socket for user and waits until its join is applied.
func (p *pipeline) connect(user string, channels ...string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	Expect(err).NotTo(HaveOccurred())
	_ = resp.Body.Close()
	DeferCleanup(conn.Close)

	Expect(conn.WriteJSON(ws.JoinFrame{Type: ws.FrameJoin, UserID: user, Channels: channels})).To(Succeed())
	Eventually(func() bool {
		_, ok := p.registry.LiveSocketFor(user)
		return ok
	}).WithTimeout(2 * time.Second).Should(BeTrue())
	return conn
}

func next(conn *websocket.Conn) frame {
	Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
	var f frame
	Expect(conn.ReadJSON(&f)).To(Succeed())
	return f
}

func silent(conn *websocket.Conn) {
	Expect(conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))).To(Succeed())
	_, _, err := conn.ReadMessage()
	Expect(err).To(HaveOccurred())
}

var _ = Describe("Message pipeline", func() {
	var p *pipeline

	BeforeEach(func() {
		p = newPipeline(false)
	})

	It("delivers a channel message to every joined socket", func() {
		ann := p.connect("ann", "general")
		ben := p.connect("ben", "general")
		cat := p.connect("cat", "ops")

		msg := p.post("ann", messaging.PostInput{ChannelID: "general", Content: "hello all"})
		Expect(msg.Sender).NotTo(BeNil())
		Expect(msg.Sender.DisplayName).To(Equal("Ann"))

		for _, conn := range []*websocket.Conn{ann, ben} {
			f := next(conn)
			Expect(f.Type).To(Equal(realtime.EventMessage))
			Expect(f.ChannelID).To(Equal("general"))
			Expect(string(f.Data)).To(ContainSubstring(msg.ID))
		}
		silent(cat)
	})

	It("notifies private channel members other than the sender", func() {
		cat := p.connect("cat")

		msg := p.post("ann", messaging.PostInput{ChannelID: "ops", Content: "deploy at noon"})

		f := next(cat)
		Expect(f.Type).To(Equal(realtime.EventNotification))
		var n chat.Notification
		Expect(json.Unmarshal(f.Data, &n)).To(Succeed())
		Expect(n.UserID).To(Equal("cat"))
		Expect(string(n.Payload)).To(ContainSubstring(msg.ID))

		status, body := p.call(http.MethodGet, "/api/notifications?unread=true", "cat", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(n.ID))

		status, _ = p.call(http.MethodGet, "/api/notifications", "ann", nil)
		Expect(status).To(Equal(http.StatusOK))

		status, _ = p.call(http.MethodPost, "/api/notifications/"+n.ID+"/read", "ann", nil)
		Expect(status).To(Equal(http.StatusNotFound), "only the owner can mark it read")
		status, _ = p.call(http.MethodPost, "/api/notifications/"+n.ID+"/read", "cat", nil)
		Expect(status).To(Equal(http.StatusNoContent))
	})

	It("notifies the other direct message participant", func() {
		ben := p.connect("ben")
		cat := p.connect("cat")

		p.post("ann", messaging.PostInput{DirectMessageID: "dm-ann-ben", Content: "psst"})

		Expect(next(ben).Type).To(Equal(realtime.EventNotification))
		silent(cat)
	})

	It("routes replies to the parent's room and enforces the depth limit", func() {
		root := p.post("ann", messaging.PostInput{ChannelID: "general", Content: "root"})
		r1 := p.post("ben", messaging.PostInput{ParentMessageID: root.ID, ChannelID: "ops", Content: "level two"})
		Expect(r1.ChannelID).To(Equal("general"), "reply inherits the parent's channel")
		r2 := p.post("cat", messaging.PostInput{ParentMessageID: r1.ID, Content: "level three"})

		status, body := p.call(http.MethodPost, "/api/messages", "ann",
			messaging.PostInput{ParentMessageID: r2.ID, Content: "level four"})
		Expect(status).To(Equal(http.StatusUnprocessableEntity))
		var e api.ErrorBody
		Expect(json.Unmarshal(body, &e)).To(Succeed())
		Expect(e.Code).To(Equal(thread.CodeThreadTooDeep))

		status, body = p.call(http.MethodGet, "/api/messages/"+r2.ID+"/thread", "ann", nil)
		Expect(status).To(Equal(http.StatusOK))
		var tree thread.Node
		Expect(json.Unmarshal(body, &tree)).To(Succeed())
		Expect(tree.ID).To(Equal(root.ID))
		Expect(tree.Replies).To(HaveLen(1))
		Expect(tree.Replies[0].ID).To(Equal(r1.ID))
		Expect(tree.Replies[0].Replies).To(HaveLen(1))
		Expect(tree.Replies[0].Replies[0].ID).To(Equal(r2.ID))
		Expect(tree.Size()).To(Equal(3))
	})

	It("rejects a reply to a missing parent", func() {
		status, body := p.call(http.MethodPost, "/api/messages", "ann",
			messaging.PostInput{ParentMessageID: "no-such-message", Content: "hi"})
		Expect(status).To(Equal(http.StatusUnprocessableEntity))
		Expect(string(body)).To(ContainSubstring(thread.CodeParentNotFound))
	})

	It("broadcasts edits and removes a deleted thread", func() {
		ann := p.connect("ann", "general")
		root := p.post("ann", messaging.PostInput{ChannelID: "general", Content: "draft"})
		reply := p.post("ben", messaging.PostInput{ParentMessageID: root.ID, Content: "reply"})
		Expect(next(ann).Type).To(Equal(realtime.EventMessage))
		Expect(next(ann).Type).To(Equal(realtime.EventMessage))

		status, _ := p.call(http.MethodPatch, "/api/messages/"+root.ID, "ben", api.EditRequest{Content: "hijack"})
		Expect(status).To(Equal(http.StatusForbidden))

		status, _ = p.call(http.MethodPatch, "/api/messages/"+root.ID, "ann", api.EditRequest{Content: "final"})
		Expect(status).To(Equal(http.StatusOK))
		f := next(ann)
		Expect(f.Type).To(Equal(realtime.EventMessageUpdated))
		Expect(string(f.Data)).To(ContainSubstring(`"content":"final"`))

		status, _ = p.call(http.MethodDelete, "/api/messages/"+root.ID, "ann", nil)
		Expect(status).To(Equal(http.StatusNoContent))
		Expect(next(ann).Type).To(Equal(realtime.EventMessageDeleted))

		status, _ = p.call(http.MethodGet, "/api/messages/"+reply.ID+"/thread", "ann", nil)
		Expect(status).To(Equal(http.StatusNotFound), "replies go with their root")
	})

	It("relays typing to the rest of the room", func() {
		ann := p.connect("ann", "general")
		ben := p.connect("ben", "general")

		Expect(ben.WriteJSON(ws.TypingFrame{Type: ws.FrameTyping, UserID: "ben", ChannelID: "general", IsTyping: true})).To(Succeed())

		f := next(ann)
		Expect(f.Type).To(Equal(realtime.EventTyping))
		Expect(string(f.Data)).To(MatchJSON(`{"userId":"ben","isTyping":true}`))
		silent(ben)
	})
})

var _ = Describe("Reaction updates", func() {
	toggle := func(p *pipeline, user, messageID string) bool {
		status, body := p.call(http.MethodPost, "/api/messages/"+messageID+"/reactions", user, api.ReactionRequest{Emoji: "👍"})
		Expect(status).To(Equal(http.StatusOK))
		var r api.ReactionResponse
		Expect(json.Unmarshal(body, &r)).To(Succeed())
		return r.Added
	}

	It("reach every live socket by default", func() {
		p := newPipeline(false)
		msg := p.post("ann", messaging.PostInput{ChannelID: "general", Content: "vote"})
		outsider := p.connect("cat", "ops")

		Expect(toggle(p, "ben", msg.ID)).To(BeTrue())
		f := next(outsider)
		Expect(f.Type).To(Equal(realtime.EventReactionUpdate))
		Expect(f.MessageID).To(Equal(msg.ID))

		Expect(toggle(p, "ben", msg.ID)).To(BeFalse())
		Expect(next(outsider).Type).To(Equal(realtime.EventReactionUpdate))
	})

	It("stay in the message's room when scoped", func() {
		p := newPipeline(true)
		msg := p.post("ann", messaging.PostInput{ChannelID: "general", Content: "vote"})
		member := p.connect("ben", "general")
		outsider := p.connect("cat", "ops")

		Expect(toggle(p, "ann", msg.ID)).To(BeTrue())
		f := next(member)
		Expect(f.Type).To(Equal(realtime.EventReactionUpdate))
		Expect(f.ChannelID).To(Equal("general"))
		silent(outsider)
	})
})
