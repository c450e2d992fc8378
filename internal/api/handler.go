// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package api exposes the messaging service over HTTP. The caller's identity
// comes from a header set by the upstream authentication proxy.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/messaging"
	"github.com/threadline/threadline/internal/thread"
)

// UserIDHeader carries the authenticated user id.
const UserIDHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Service is the messaging surface the handlers call.
type Service interface {
	PostMessage(ctx context.Context, in messaging.PostInput) (*chat.MessageWithSender, error)
	EditMessage(ctx context.Context, userID, messageID, content string) (*chat.Message, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
	ToggleReaction(ctx context.Context, userID, messageID, emoji string) (bool, error)
	Thread(ctx context.Context, messageID string) (*thread.Node, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*chat.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// EditRequest is the body of PATCH /api/messages/{id}.
type EditRequest struct {
	Content string `json:"content"`
}

// ReactionRequest is the body of POST /api/messages/{id}/reactions.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ReactionResponse reports whether a toggle added or removed the reaction.
type ReactionResponse struct {
	Added bool `json:"added"`
}

// NotificationsResponse wraps a notification listing.
type NotificationsResponse struct {
	Notifications []*chat.Notification `json:"notifications"`
}

type handler struct {
	svc    Service
	logger *slog.Logger
}

// Option configures the router.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	websocket http.Handler
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWebSocket mounts h at GET /ws.
func WithWebSocket(h http.Handler) Option {
	return func(o *options) {
		o.websocket = h
	}
}

// NewRouter builds the HTTP routes.
func NewRouter(svc Service, opts ...Option) chi.Router {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	h := &handler{svc: svc, logger: o.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(o.logger))

	if o.websocket != nil {
		r.Method(http.MethodGet, "/ws", o.websocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser(o.logger))

		r.Post("/messages", h.postMessage)
		r.Route("/messages/{id}", func(r chi.Router) {
			r.Patch("/", h.editMessage)
			r.Delete("/", h.deleteMessage)
			r.Post("/reactions", h.toggleReaction)
			r.Get("/thread", h.thread)
		})
		r.Get("/notifications", h.listNotifications)
		r.Post("/notifications/{id}/read", h.markRead)
	})
	return r
}

type userKey struct{}

func userID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func requireUser(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(UserIDHeader)
			if id == "" {
				writeError(r.Context(), w, logger, errUnauthenticated())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidRequest("request body must be a JSON object")
	}
	return nil
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var in messaging.PostInput
	if err := decode(w, r, &in); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	in.SenderID = userID(r.Context())

	msg, err := h.svc.PostMessage(r.Context(), in)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) editMessage(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	msg, err := h.svc.EditMessage(r.Context(), userID(r.Context()), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteMessage(r.Context(), userID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) toggleReaction(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	added, err := h.svc.ToggleReaction(r.Context(), userID(r.Context()), chi.URLParam(r, "id"), req.Emoji)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ReactionResponse{Added: added})
}

func (h *handler) thread(w http.ResponseWriter, r *http.Request) {
	root, err := h.svc.Thread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, root)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unread := q.Get("unread") == "true"
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(r.Context(), w, h.logger, errInvalidRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := h.svc.ListNotifications(r.Context(), userID(r.Context()), unread, limit)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: list})
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkNotificationRead(r.Context(), userID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
