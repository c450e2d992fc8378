// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *MigrateDeps) *cobra.Command {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the PostgreSQL schema migrations.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default $DATABASE_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				printStatus(cmd, st)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use this to
recover after a failed migration has been repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})
	return cmd
}

// withMigrator resolves the database URL, opens a migrator and closes it
// after fn returns.
func withMigrator(cmd *cobra.Command, deps *MigrateDeps, fn func(Migrator) error) (err error) {
	url, err := migrationURL(cmd.Flags(), deps.Getenv)
	if err != nil {
		return err
	}
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// migrationURL reads the URL from the flag, the config file or
// DATABASE_URL, in that order.
func migrationURL(flags *pflag.FlagSet, getenv func(string) string) (string, error) {
	cfg, err := databaseConfig(flags, getenv)
	if err != nil {
		return "", err
	}
	return cfg.Database.URL, nil
}

// databaseConfig loads the configuration for a command that needs
// PostgreSQL and checks that a URL is set.
func databaseConfig(flags *pflag.FlagSet, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configFile, getenv), flags, getenv)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, oops.Code(config.CodeInvalid).Errorf("database.url or DATABASE_URL is required")
	}
	return cfg, nil
}

func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be a non-negative integer, got %q", s)
	}
	return v, nil
}

func printStatus(cmd *cobra.Command, st *store.MigrationStatus) {
	if st.Version == 0 {
		cmd.Println("Schema version: none")
	} else {
		cmd.Printf("Schema version: %d (%s)\n", st.Version, st.Name)
	}
	if st.Dirty {
		cmd.Println("State: dirty (a migration failed; repair it and run 'migrate force')")
	}
	cmd.Printf("Applied: %d\n", len(st.Applied))
	cmd.Printf("Pending: %s\n", formatVersions(st.Pending))
}

func formatVersions(vs []uint) string {
	if len(vs) == 0 {
		return "none"
	}
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", v)
	}
	return out
}
