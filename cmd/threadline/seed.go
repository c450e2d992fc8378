// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/seed"
	"github.com/threadline/threadline/internal/store"
)

// Default timeout for the seed command.
const defaultSeedTimeout = 30 * time.Second

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	return newSeedCmdWithDeps(nil)
}

func newSeedCmdWithDeps(deps *SeedDeps) *cobra.Command {
	if deps == nil {
		deps = &SeedDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = connectSeedStore
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}

	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load users, channels and direct messages into the database",
		Long: `Reads a YAML seed file and writes its users, channels and direct messages
to PostgreSQL. Users are upserted and existing rooms are skipped, so the
command can be run repeatedly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args[0], timeout, deps)
		},
	}
	cmd.Flags().String("database-url", "", "PostgreSQL URL (default $DATABASE_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSeedTimeout, "timeout for database operations")
	return cmd
}

func runSeed(cmd *cobra.Command, path string, timeout time.Duration, deps *SeedDeps) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	cfg, err := databaseConfig(cmd.Flags(), deps.Getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	s, err := deps.StoreFactory(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := seed.Apply(ctx, s, f, slog.Default())
	if err != nil {
		return err
	}
	cmd.Printf("Seeded %d users, created %d rooms, %d already present\n", res.Users, res.Created, res.Existing)
	return nil
}

func connectSeedStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (SeedStore, error) {
	pg, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}
