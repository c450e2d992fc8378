// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "threadline"

// Dir returns the XDG config directory for threadline. It checks
// XDG_CONFIG_HOME first and falls back to ~/.config.
func Dir(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ResolvePath returns explicit when set. Otherwise it returns config.yaml in
// Dir if that file exists, or "" so that only defaults, flags and the
// environment apply.
func ResolvePath(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	candidate := filepath.Join(Dir(getenv), "config.yaml")
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
