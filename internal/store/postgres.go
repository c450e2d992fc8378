// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package store provides the PostgreSQL implementation of the chat stores
// and its schema migrations.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/threadline/threadline/internal/chat"
)

// poolIface is the subset of pgxpool.Pool the store uses, so pgxmock can
// stand in for it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ConnectOptions controls the initial connection attempt.
type ConnectOptions struct {
	// Attempts is the total number of pings tried before giving up.
	Attempts int
	// Backoff is the first retry delay; it doubles on every attempt.
	Backoff time.Duration
	Logger  *slog.Logger
}

// PostgresStore implements chat.Store on PostgreSQL.
type PostgresStore struct {
	pool poolIface
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool for dsn and pings it until it answers or the attempts
// run out.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pingWithRetry(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func pingWithRetry(ctx context.Context, pool poolIface, opts ConnectOptions) error {
	attempts := max(opts.Attempts, 1)
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(backoff))
	try := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		try++
		if err := pool.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not reachable yet", "attempt", try, "max_attempts", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", try).
			Wrap(err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

const messageColumns = `id, sender_id, COALESCE(channel_id, ''), COALESCE(direct_message_id, ''),
	COALESCE(parent_message_id, ''), content, created_at, updated_at`

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var m chat.Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ChannelID, &m.DirectMessageID,
		&m.ParentMessageID, &m.Content, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage implements chat.MessageStore.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "get message").With("message_id", id).Wrap(err)
	}
	return msg, nil
}

// CreateMessage implements chat.MessageStore.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *chat.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, channel_id, direct_message_id, parent_message_id, content, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`,
		msg.ID, msg.SenderID, msg.ChannelID, msg.DirectMessageID, msg.ParentMessageID,
		msg.Content, msg.CreatedAt, msg.UpdatedAt)
	if err == nil {
		return nil
	}
	code, constraint := pgErrorCode(err)
	if code == pgerrcode.ForeignKeyViolation {
		switch constraint {
		case "messages_parent_message_id_fkey":
			return chat.ErrParentMissing
		case "messages_channel_id_fkey", "messages_direct_message_id_fkey":
			return chat.ErrRoomNotFound
		case "messages_sender_id_fkey":
			return chat.ErrSenderNotFound
		}
	}
	return oops.With("operation", "create message").
		With("message_id", msg.ID).
		With("pg_code", code).
		Wrap(err)
}

// UpdateMessageContent implements chat.MessageStore.
func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id, content string) (*chat.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE messages SET content = $2, updated_at = now() WHERE id = $1
		 RETURNING `+messageColumns, id, content))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "update message").With("message_id", id).Wrap(err)
	}
	return msg, nil
}

// DeleteMessage implements chat.MessageStore. Replies go with it through
// the parent foreign key.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return oops.With("operation", "delete message").With("message_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// ListReplies implements chat.MessageStore.
func (s *PostgresStore) ListReplies(ctx context.Context, parentIDs []string) ([]*chat.Message, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE parent_message_id = ANY($1)
		 ORDER BY created_at, id`, parentIDs)
	if err != nil {
		return nil, oops.With("operation", "list replies").With("parents", len(parentIDs)).Wrap(err)
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, oops.With("operation", "scan reply").Wrap(err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate replies").Wrap(err)
	}
	return out, nil
}

// GetUsers implements chat.UserStore.
func (s *PostgresStore) GetUsers(ctx context.Context, ids []string) (map[string]*chat.User, error) {
	out := make(map[string]*chat.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, avatar_url FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, oops.With("operation", "get users").With("count", len(ids)).Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var u chat.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL); err != nil {
			return nil, oops.With("operation", "scan user").Wrap(err)
		}
		out[u.ID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate users").Wrap(err)
	}
	return out, nil
}

// GetChannel implements chat.ChannelStore.
func (s *PostgresStore) GetChannel(ctx context.Context, id string) (*chat.Channel, error) {
	var c chat.Channel
	var typ string
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name, type, created_at FROM channels WHERE id = $1`, id).
		Scan(&c.ID, &c.WorkspaceID, &c.Name, &typ, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "get channel").With("channel_id", id).Wrap(err)
	}
	c.Type = chat.ChannelType(typ)
	return &c, nil
}

// GetDirectMessage implements chat.ChannelStore.
func (s *PostgresStore) GetDirectMessage(ctx context.Context, id string) (*chat.DirectMessage, error) {
	var dm chat.DirectMessage
	err := s.pool.QueryRow(ctx,
		`SELECT d.id, d.workspace_id, d.created_at,
		        COALESCE(array_agg(p.user_id ORDER BY p.user_id) FILTER (WHERE p.user_id IS NOT NULL), '{}')
		 FROM direct_messages d
		 LEFT JOIN direct_message_participants p ON p.direct_message_id = d.id
		 WHERE d.id = $1
		 GROUP BY d.id`, id).
		Scan(&dm.ID, &dm.WorkspaceID, &dm.CreatedAt, &dm.ParticipantIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "get direct message").With("direct_message_id", id).Wrap(err)
	}
	return &dm, nil
}

// ListChannelMemberIDs implements chat.ChannelStore.
func (s *PostgresStore) ListChannelMemberIDs(ctx context.Context, channelID string) ([]string, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM channels WHERE id = $1)`, channelID).Scan(&exists); err != nil {
		return nil, oops.With("operation", "check channel").With("channel_id", channelID).Wrap(err)
	}
	if !exists {
		return nil, chat.ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY joined_at, user_id`, channelID)
	if err != nil {
		return nil, oops.With("operation", "list channel members").With("channel_id", channelID).Wrap(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, oops.With("operation", "scan channel member").Wrap(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate channel members").Wrap(err)
	}
	return ids, nil
}

// CreateNotification implements chat.NotificationStore.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *chat.Notification) error {
	payload := n.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Type, payload, n.Read, n.CreatedAt)
	if err != nil {
		return oops.With("operation", "create notification").
			With("notification_id", n.ID).
			With("user_id", n.UserID).
			Wrap(err)
	}
	return nil
}

// ListNotifications implements chat.NotificationStore. Newest first; a
// limit of zero or less returns every row.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*chat.Notification, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, payload, read, created_at FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR NOT read)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`, userID, unreadOnly, limitArg)
	if err != nil {
		return nil, oops.With("operation", "list notifications").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var out []*chat.Notification
	for rows.Next() {
		var n chat.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan notification").Wrap(err)
		}
		n.Payload = payload
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate notifications").Wrap(err)
	}
	return out, nil
}

// MarkNotificationRead implements chat.NotificationStore.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return oops.With("operation", "mark notification read").With("notification_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// ToggleReaction implements chat.ReactionStore.
func (s *PostgresStore) ToggleReaction(ctx context.Context, r chat.Reaction) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		r.MessageID, r.UserID, r.Emoji)
	if err != nil {
		return false, oops.With("operation", "remove reaction").With("message_id", r.MessageID).Wrap(err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)`,
		r.MessageID, r.UserID, r.Emoji, createdAt)
	if err == nil {
		return true, nil
	}
	code, constraint := pgErrorCode(err)
	switch {
	case code == pgerrcode.UniqueViolation:
		// A concurrent toggle added the same reaction first.
		return true, nil
	case code == pgerrcode.ForeignKeyViolation && constraint == "reactions_message_id_fkey":
		return false, chat.ErrNotFound
	}
	return false, oops.With("operation", "add reaction").
		With("message_id", r.MessageID).
		With("pg_code", code).
		Wrap(err)
}

var _ chat.Store = (*PostgresStore)(nil)
