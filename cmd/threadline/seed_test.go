// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/seed"
	"github.com/threadline/threadline/pkg/errutil"
)

const seedYAML = `
users:
  - id: ann
    display_name: Ann
  - id: ben
    display_name: Ben
channels:
  - id: general
    name: general
    type: public
    members: [ann, ben]
direct_messages:
  - id: dm-ann-ben
    participants: [ann, ben]
`

func writeSeedFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// mockSeedStore records what the seed command wrote.
type mockSeedStore struct {
	*chat.MemoryStore
	closed bool
}

func (m *mockSeedStore) Close() { m.closed = true }

func runSeedCmd(t *testing.T, s *mockSeedStore, factoryErr error, args ...string) (string, *config.Config, error) {
	t.Helper()
	configFile = ""
	var gotCfg *config.Config
	cmd := newSeedCmdWithDeps(&SeedDeps{
		StoreFactory: func(_ context.Context, cfg *config.Config, _ *slog.Logger) (SeedStore, error) {
			gotCfg = cfg
			if factoryErr != nil {
				return nil, factoryErr
			}
			return s, nil
		},
		Getenv: func(string) string { return "" },
	})
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), gotCfg, err
}

func TestSeedCommand_AppliesFile(t *testing.T) {
	s := &mockSeedStore{MemoryStore: chat.NewMemoryStore()}
	path := writeSeedFile(t, seedYAML)

	out, cfg, err := runSeedCmd(t, s, nil, path, "--database-url", testDatabaseURL)
	require.NoError(t, err)

	assert.Equal(t, testDatabaseURL, cfg.Database.URL)
	assert.Contains(t, out, "Seeded 2 users, created 2 rooms, 0 already present")
	assert.True(t, s.closed)

	members, err := s.ListChannelMemberIDs(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"ann", "ben"}, members)
	dm, err := s.GetDirectMessage(context.Background(), "dm-ann-ben")
	require.NoError(t, err)
	assert.Equal(t, []string{"ann", "ben"}, dm.ParticipantIDs)
}

func TestSeedCommand_RerunSkipsExistingRooms(t *testing.T) {
	s := &mockSeedStore{MemoryStore: chat.NewMemoryStore()}
	path := writeSeedFile(t, seedYAML)

	_, _, err := runSeedCmd(t, s, nil, path, "--database-url", testDatabaseURL)
	require.NoError(t, err)
	out, _, err := runSeedCmd(t, s, nil, path, "--database-url", testDatabaseURL)
	require.NoError(t, err)
	assert.Contains(t, out, "created 0 rooms, 2 already present")
}

func TestSeedCommand_Errors(t *testing.T) {
	good := writeSeedFile(t, seedYAML)
	bad := writeSeedFile(t, "users:\n  - id: ann\nchannels:\n  - id: c1\n    type: secret\n")

	tests := []struct {
		name       string
		args       []string
		factoryErr error
		wantCode   string
	}{
		{"missing file", []string{filepath.Join(t.TempDir(), "absent.yaml"), "--database-url", testDatabaseURL}, nil, seed.CodeInvalid},
		{"invalid file", []string{bad, "--database-url", testDatabaseURL}, nil, seed.CodeInvalid},
		{"missing url", []string{good}, nil, config.CodeInvalid},
		{"connect failure", []string{good, "--database-url", testDatabaseURL}, oops.Code("DB_CONNECT_FAILED").Errorf("connection refused"), "DB_CONNECT_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSeedStore{MemoryStore: chat.NewMemoryStore()}
			_, _, err := runSeedCmd(t, s, tt.factoryErr, tt.args...)
			errutil.AssertErrorCode(t, err, tt.wantCode)
			assert.False(t, s.closed)
		})
	}
}

func TestSeedCommand_RequiresFileArgument(t *testing.T) {
	_, _, err := runSeedCmd(t, &mockSeedStore{MemoryStore: chat.NewMemoryStore()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
