// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/ws"
)

type schemaConfig struct {
	format string
	output string
}

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	cfg := &schemaConfig{}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for client WebSocket frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.format, "format", "json", "output format (json or yaml)")
	cmd.Flags().StringVarP(&cfg.output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func runSchema(cmd *cobra.Command, cfg *schemaConfig) error {
	var (
		data []byte
		err  error
	)
	switch cfg.format {
	case "json":
		data, err = ws.GenerateSchema()
	case "yaml":
		data, err = ws.GenerateSchemaYAML()
	default:
		return oops.Code("INVALID_FORMAT").With("format", cfg.format).Errorf("format must be json or yaml, got %q", cfg.format)
	}
	if err != nil {
		return err
	}

	if cfg.output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.output), 0o750); err != nil {
		return oops.With("path", cfg.output).Wrapf(err, "create output directory")
	}
	if err := os.WriteFile(cfg.output, data, 0o600); err != nil {
		return oops.With("path", cfg.output).Wrapf(err, "write schema")
	}
	cmd.Printf("Generated %s\n", cfg.output)
	return nil
}
