// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/seed"
	"github.com/threadline/threadline/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendFactory opens the configured storage backend.
	// Default: openBackend
	BackendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory binds the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// Getenv reads environment variables.
	// Default: os.Getenv
	Getenv func(string) string
}

// SeedDeps contains injectable dependencies for the seed command.
type SeedDeps struct {
	// StoreFactory connects to the database being seeded.
	// Default: store.Connect
	StoreFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (SeedStore, error)

	// Getenv reads environment variables.
	// Default: os.Getenv
	Getenv func(string) string
}

// SeedStore is the storage the seed command writes to.
type SeedStore interface {
	seed.Target
	Close()
}

// Backend is the storage the serve command runs on.
type Backend interface {
	chat.Store
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// memoryBackend adapts the in-process store to Backend.
type memoryBackend struct {
	*chat.MemoryStore
}

func (memoryBackend) Ping(context.Context) error { return nil }

func (memoryBackend) Close() {}

var (
	_ Backend   = (*store.PostgresStore)(nil)
	_ Backend   = memoryBackend{}
	_ Migrator  = (*store.Migrator)(nil)
	_ SeedStore = (*store.PostgresStore)(nil)
)
