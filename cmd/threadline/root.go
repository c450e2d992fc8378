// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Threadline CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threadline",
		Short: "Threadline - real-time chat fan-out",
		Long: `Threadline serves chat messages, threads, reactions and notifications
over HTTP and pushes live updates to connected WebSocket clients.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
