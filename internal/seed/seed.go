// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package seed loads a directory of users, channels and direct messages from
// YAML and writes it into a store.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/threadline/threadline/internal/chat"
)

// Error codes for seed files.
const (
	CodeInvalid = "SEED_INVALID"
	CodeFailed  = "SEED_FAILED"
)

// File is the seed document.
type File struct {
	Users          []User          `yaml:"users"`
	Channels       []Channel       `yaml:"channels"`
	DirectMessages []DirectMessage `yaml:"direct_messages"`
}

// User is a seeded user profile.
type User struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	AvatarURL   string `yaml:"avatar_url"`
}

// Channel is a seeded channel with its members.
type Channel struct {
	ID          string   `yaml:"id"`
	WorkspaceID string   `yaml:"workspace_id"`
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Members     []string `yaml:"members"`
}

// DirectMessage is a seeded direct conversation.
type DirectMessage struct {
	ID           string   `yaml:"id"`
	WorkspaceID  string   `yaml:"workspace_id"`
	Participants []string `yaml:"participants"`
}

// Target receives seeded records. CreateChannel and CreateDirectMessage
// return chat.ErrAlreadyExists for ids that are already present.
type Target interface {
	UpsertUser(ctx context.Context, u chat.User) error
	CreateChannel(ctx context.Context, c chat.Channel, memberIDs ...string) error
	CreateDirectMessage(ctx context.Context, dm chat.DirectMessage) error
}

// Result counts what Apply wrote.
type Result struct {
	Users    int
	Created  int
	Existing int
}

// Load reads and validates the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "read seed file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return f, nil
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, oops.Code(CodeInvalid).Errorf("seed file is empty")
		}
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode seed file")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids, channel types and that every member is a declared user.
func (f *File) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	users := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		check(u.ID != "", "users[%d].id is required", i)
		check(!users[u.ID], "duplicate user %q", u.ID)
		users[u.ID] = true
	}

	rooms := make(map[string]bool)
	for i, c := range f.Channels {
		check(c.ID != "", "channels[%d].id is required", i)
		check(!rooms[c.ID], "duplicate channel %q", c.ID)
		rooms[c.ID] = true
		check(c.Type == string(chat.ChannelPublic) || c.Type == string(chat.ChannelPrivate),
			"channel %q type must be public or private, got %q", c.ID, c.Type)
		for _, m := range c.Members {
			check(users[m], "channel %q member %q is not a declared user", c.ID, m)
		}
	}

	dms := make(map[string]bool)
	for i, dm := range f.DirectMessages {
		check(dm.ID != "", "direct_messages[%d].id is required", i)
		check(!dms[dm.ID], "duplicate direct message %q", dm.ID)
		dms[dm.ID] = true
		check(len(dm.Participants) >= 2, "direct message %q needs at least two participants", dm.ID)
		for _, p := range dm.Participants {
			check(users[p], "direct message %q participant %q is not a declared user", dm.ID, p)
		}
	}

	if len(problems) > 0 {
		return oops.Code(CodeInvalid).
			With("problems", problems).
			Errorf("invalid seed file: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Apply writes f into t. Users are upserted; channels and direct messages
// that already exist are left as they are, so Apply can be run repeatedly.
func Apply(ctx context.Context, t Target, f *File, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res Result

	for _, u := range f.Users {
		if err := t.UpsertUser(ctx, chat.User{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}); err != nil {
			return res, oops.Code(CodeFailed).With("user_id", u.ID).Wrap(err)
		}
		res.Users++
	}

	for _, c := range f.Channels {
		err := t.CreateChannel(ctx, chat.Channel{
			ID:          c.ID,
			WorkspaceID: c.WorkspaceID,
			Name:        c.Name,
			Type:        chat.ChannelType(c.Type),
		}, c.Members...)
		if err := countCreate(&res, err); err != nil {
			return res, oops.Code(CodeFailed).With("channel_id", c.ID).Wrap(err)
		}
		if errors.Is(err, chat.ErrAlreadyExists) {
			logger.InfoContext(ctx, "channel already seeded", "channel_id", c.ID)
		}
	}

	for _, dm := range f.DirectMessages {
		err := t.CreateDirectMessage(ctx, chat.DirectMessage{
			ID:             dm.ID,
			WorkspaceID:    dm.WorkspaceID,
			ParticipantIDs: dm.Participants,
		})
		if err := countCreate(&res, err); err != nil {
			return res, oops.Code(CodeFailed).With("direct_message_id", dm.ID).Wrap(err)
		}
		if errors.Is(err, chat.ErrAlreadyExists) {
			logger.InfoContext(ctx, "direct message already seeded", "direct_message_id", dm.ID)
		}
	}

	return res, nil
}

func countCreate(res *Result, err error) error {
	switch {
	case err == nil:
		res.Created++
	case errors.Is(err, chat.ErrAlreadyExists):
		res.Existing++
	default:
		return err
	}
	return nil
}
