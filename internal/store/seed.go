// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/threadline/threadline/internal/chat"
)

// UpsertUser inserts a user or refreshes its profile.
func (s *PostgresStore) UpsertUser(ctx context.Context, u chat.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, avatar_url) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.DisplayName, u.AvatarURL)
	if err != nil {
		return oops.With("operation", "upsert user").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

// CreateChannel inserts a channel and its members in one transaction.
// Returns chat.ErrAlreadyExists if the id is taken.
func (s *PostgresStore) CreateChannel(ctx context.Context, c chat.Channel, memberIDs ...string) error {
	return s.inTx(ctx, "create channel", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO channels (id, workspace_id, name, type) VALUES ($1, $2, $3, $4)`,
			c.ID, c.WorkspaceID, c.Name, string(c.Type)); err != nil {
			if code, _ := pgErrorCode(err); code == pgerrcode.UniqueViolation {
				return chat.ErrAlreadyExists
			}
			return oops.With("channel_id", c.ID).Wrap(err)
		}
		for _, uid := range memberIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				c.ID, uid); err != nil {
				return oops.With("channel_id", c.ID).With("user_id", uid).Wrap(err)
			}
		}
		return nil
	})
}

// CreateDirectMessage inserts a direct conversation and its participants.
// Returns chat.ErrAlreadyExists if the id is taken.
func (s *PostgresStore) CreateDirectMessage(ctx context.Context, dm chat.DirectMessage) error {
	return s.inTx(ctx, "create direct message", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO direct_messages (id, workspace_id) VALUES ($1, $2)`,
			dm.ID, dm.WorkspaceID); err != nil {
			if code, _ := pgErrorCode(err); code == pgerrcode.UniqueViolation {
				return chat.ErrAlreadyExists
			}
			return oops.With("direct_message_id", dm.ID).Wrap(err)
		}
		for _, uid := range dm.ParticipantIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO direct_message_participants (direct_message_id, user_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`,
				dm.ID, uid); err != nil {
				return oops.With("direct_message_id", dm.ID).With("user_id", uid).Wrap(err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", op).Wrap(err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return oops.With("operation", op).Wrap(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.With("operation", op).With("phase", "commit").Wrap(err)
	}
	return nil
}
