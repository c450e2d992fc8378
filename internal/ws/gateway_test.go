// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/threadline/threadline/internal/realtime"
	"github.com/threadline/threadline/internal/ws"
)

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	ChannelID string          `json:"channelId"`
	MessageID string          `json:"messageId"`
}

type fixture struct {
	registry *realtime.Registry
	router   *realtime.Router
	gateway  *ws.Gateway
	url      string
}

// verifyNoLeaks runs after every cleanup registered later in the test.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })
}

func newFixture(t *testing.T, settings ws.Settings) *fixture {
	t.Helper()
	verifyNoLeaks(t)
	reg := realtime.NewRegistry()
	router := realtime.NewRouter(reg)
	gw := ws.NewGateway(reg, router, ws.WithSettings(settings))
	srv := httptest.NewServer(gw)

	t.Cleanup(func() {
		reg.Close()
		gw.Shutdown()
		srv.Close()
	})
	return &fixture{
		registry: reg,
		router:   router,
		gateway:  gw,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) join(t *testing.T, conn *websocket.Conn, userID string, channels ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ws.JoinFrame{Type: ws.FrameJoin, UserID: userID, Channels: channels}))
	require.Eventually(t, func() bool {
		for _, ch := range channels {
			if !f.registry.IsSubscribed(userID, ch) {
				return false
			}
		}
		_, ok := f.registry.LiveSocketFor(userID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestGateway_RoomBroadcastReachesJoinedSockets(t *testing.T) {
	f := newFixture(t, ws.Settings{})

	a := f.dial(t)
	b := f.dial(t)
	f.join(t, a, "alice", "general")
	f.join(t, b, "bob", "general", "random")

	n := f.router.BroadcastToRoom(context.Background(), "general", realtime.EventMessage, map[string]string{"id": "m1"})
	assert.Equal(t, 2, n)

	for _, conn := range []*websocket.Conn{a, b} {
		got := read(t, conn)
		assert.Equal(t, realtime.EventMessage, got.Type)
		assert.Equal(t, "general", got.ChannelID)
		assert.JSONEq(t, `{"id":"m1"}`, string(got.Data))
	}
}

func TestGateway_TypingRelayedToOthersInRoom(t *testing.T) {
	f := newFixture(t, ws.Settings{})

	a := f.dial(t)
	b := f.dial(t)
	f.join(t, a, "alice", "general")
	f.join(t, b, "bob", "general")

	require.NoError(t, b.WriteJSON(ws.TypingFrame{Type: ws.FrameTyping, UserID: "bob", ChannelID: "general", IsTyping: true}))

	got := read(t, a)
	assert.Equal(t, realtime.EventTyping, got.Type)
	assert.Equal(t, "general", got.ChannelID)
	assert.JSONEq(t, `{"userId":"bob","isTyping":true}`, string(got.Data))

	// The sender gets nothing back; the next frame it sees is this broadcast.
	f.router.BroadcastToUser(context.Background(), "bob", "notice", nil)
	assert.Equal(t, "notice", read(t, b).Type)
}

func TestGateway_RejectsFrames(t *testing.T) {
	f := newFixture(t, ws.Settings{})

	tests := []struct {
		name     string
		joined   bool
		payload  string
		wantCode string
	}{
		{"unknown type", false, `{"type":"shout","userId":"u"}`, ws.CodeInvalidFrame},
		{"not json", false, `hello`, ws.CodeInvalidFrame},
		{"join without user", false, `{"type":"join","userId":""}`, ws.CodeInvalidFrame},
		{"extra field", false, `{"type":"join","userId":"u","admin":true}`, ws.CodeInvalidFrame},
		{"typing before join", false, `{"type":"typing","userId":"u","channelId":"general","isTyping":true}`, ws.CodeNotJoined},
		{"typing in other room", true, `{"type":"typing","userId":"u","channelId":"secret","isTyping":true}`, ws.CodeNotJoined},
		{"typing as someone else", true, `{"type":"typing","userId":"mallory","channelId":"general","isTyping":true}`, ws.CodeInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := f.dial(t)
			if tt.joined {
				f.join(t, conn, "u", "general")
			}

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))

			got := read(t, conn)
			require.Equal(t, realtime.EventError, got.Type)
			var payload realtime.ErrorPayload
			require.NoError(t, json.Unmarshal(got.Data, &payload))
			assert.Equal(t, tt.wantCode, payload.Code)
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestGateway_RejoinReplacesAndClosesOldSocket(t *testing.T) {
	f := newFixture(t, ws.Settings{})

	first := f.dial(t)
	f.join(t, first, "alice", "general")
	oldSocket, _ := f.registry.LiveSocketFor("alice")

	second := f.dial(t)
	require.NoError(t, second.WriteJSON(ws.JoinFrame{Type: ws.FrameJoin, UserID: "alice", Channels: []string{"random"}}))
	require.Eventually(t, func() bool {
		s, ok := f.registry.LiveSocketFor("alice")
		return ok && s != oldSocket
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.True(t, f.registry.IsSubscribed("alice", "random"))
	assert.False(t, f.registry.IsSubscribed("alice", "general"))
	assert.Equal(t, 1, f.registry.Len())
}

func TestGateway_ClientDisconnectUnregisters(t *testing.T) {
	f := newFixture(t, ws.Settings{})

	conn := f.dial(t)
	f.join(t, conn, "alice", "general")
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestGateway_OversizedFrameClosesSocket(t *testing.T) {
	f := newFixture(t, ws.Settings{MaxFrameBytes: 512})

	conn := f.dial(t)
	f.join(t, conn, "alice", "general")
	big := `{"type":"join","userId":"` + strings.Repeat("a", 2048) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestGateway_PingKeepsSocketAlive(t *testing.T) {
	f := newFixture(t, ws.Settings{PingInterval: 50 * time.Millisecond})

	conn := f.dial(t)
	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	f.join(t, conn, "alice", "general")

	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
	time.Sleep(300 * time.Millisecond)
	_, ok := f.registry.LiveSocketFor("alice")
	assert.True(t, ok, "socket answering pings stays registered")
}

func TestGateway_ShutdownClosesAllSockets(t *testing.T) {
	defer goleak.VerifyNone(t)
	reg := realtime.NewRegistry()
	gw := ws.NewGateway(reg, realtime.NewRouter(reg))
	srv := httptest.NewServer(gw)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		c, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		defer c.Close()
		conns[i] = c
		require.NoError(t, c.WriteJSON(ws.JoinFrame{Type: ws.FrameJoin, UserID: string(rune('a' + i))}))
	}
	require.Eventually(t, func() bool { return reg.Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	reg.Close()
	gw.Wait()

	for _, c := range conns {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := c.ReadMessage()
		assert.Error(t, err)
	}
}

func TestGateway_ShutdownClosesSocketsThatNeverJoined(t *testing.T) {
	verifyNoLeaks(t)
	reg := realtime.NewRegistry()
	gw := ws.NewGateway(reg, realtime.NewRouter(reg))
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	// A reply proves the read loop is running.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`hello`)))
	require.Equal(t, realtime.EventError, read(t, conn).Type)

	done := make(chan struct{})
	go func() {
		gw.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown waited on an idle socket")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	late, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "the upgrade itself still succeeds")
	_ = resp.Body.Close()
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err, "sockets after shutdown are dropped")
}
