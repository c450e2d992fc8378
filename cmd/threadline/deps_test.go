// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"context"
	"sync"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/store"
)

// mockBackend is an in-memory Backend with scriptable health.
type mockBackend struct {
	*chat.MemoryStore
	pingFunc func(ctx context.Context) error

	mu     sync.Mutex
	closed int
}

func newMockBackend() *mockBackend {
	s := chat.NewMemoryStore()
	s.AddUser(chat.User{ID: "ann", DisplayName: "Ann"})
	s.AddUser(chat.User{ID: "ben", DisplayName: "Ben"})
	s.AddChannel(chat.Channel{ID: "general", Type: chat.ChannelPublic}, "ann", "ben")
	return &mockBackend{MemoryStore: s}
}

func (m *mockBackend) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

func (m *mockBackend) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *mockBackend) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	stopFunc  func(ctx context.Context) error
	addrFunc  func() string
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	ch := make(chan error, 1)
	return ch, nil
}

func (m *mockObservabilityServer) Stop(ctx context.Context) error {
	if m.stopFunc != nil {
		return m.stopFunc(ctx)
	}
	return nil
}

func (m *mockObservabilityServer) Addr() string {
	if m.addrFunc != nil {
		return m.addrFunc()
	}
	return "127.0.0.1:9100"
}

// mockMigrator implements Migrator for testing.
type mockMigrator struct {
	upErr     error
	downErr   error
	forceErr  error
	closeErr  error
	status    *store.MigrationStatus
	statusErr error

	calls  []string
	forced int
}

func (m *mockMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *mockMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return m.downErr
}

func (m *mockMigrator) Force(version int) error {
	m.calls = append(m.calls, "force")
	m.forced = version
	return m.forceErr
}

func (m *mockMigrator) Status() (*store.MigrationStatus, error) {
	m.calls = append(m.calls, "status")
	return m.status, m.statusErr
}

func (m *mockMigrator) Close() error {
	m.calls = append(m.calls, "close")
	return m.closeErr
}
