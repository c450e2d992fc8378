// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package config loads server settings from defaults, an optional YAML file
// and command-line flags, in increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// CodeInvalid is the error code for settings that fail validation.
const CodeInvalid = "CONFIG_INVALID"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Database DatabaseConfig `koanf:"database"`
	Realtime RealtimeConfig `koanf:"realtime"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// MetricsAddr serves /metrics and health probes. Empty disables it.
	MetricsAddr     string        `koanf:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	// SeedFile is a YAML directory loaded into the memory store at startup.
	SeedFile string `koanf:"seed_file"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// RealtimeConfig tunes WebSocket delivery.
type RealtimeConfig struct {
	SendBuffer            int           `koanf:"send_buffer"`
	PingInterval          time.Duration `koanf:"ping_interval"`
	WriteTimeout          time.Duration `koanf:"write_timeout"`
	MaxFrameBytes         int64         `koanf:"max_frame_bytes"`
	ScopedReactionUpdates bool          `koanf:"scoped_reaction_updates"`
}

var defaults = map[string]any{
	"server.addr":                      ":8080",
	"server.metrics_addr":              "127.0.0.1:9100",
	"server.shutdown_timeout":          10 * time.Second,
	"log.format":                       "json",
	"log.level":                        "info",
	"store.driver":                     DriverPostgres,
	"store.seed_file":                  "",
	"database.url":                     "",
	"database.connect_attempts":        5,
	"database.connect_backoff":         500 * time.Millisecond,
	"realtime.send_buffer":             64,
	"realtime.ping_interval":           30 * time.Second,
	"realtime.write_timeout":           10 * time.Second,
	"realtime.max_frame_bytes":         int64(64 << 10),
	"realtime.scoped_reaction_updates": false,
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":                    "server.addr",
	"metrics-addr":            "server.metrics_addr",
	"log-format":              "log.format",
	"log-level":               "log.level",
	"store":                   "store.driver",
	"seed-file":               "store.seed_file",
	"database-url":            "database.url",
	"scoped-reaction-updates": "realtime.scoped_reaction_updates",
}

// RegisterFlags adds the overridable settings to fs. Flag defaults only
// document the built-in values; an unset flag never overrides the file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", defaults["server.addr"].(string), "HTTP and WebSocket listen address")
	fs.String("metrics-addr", defaults["server.metrics_addr"].(string), "metrics and health address (empty disables)")
	fs.String("log-format", defaults["log.format"].(string), "log format (json or text)")
	fs.String("log-level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("store", defaults["store.driver"].(string), "storage backend (postgres or memory)")
	fs.String("seed-file", "", "YAML users, channels and direct messages for the memory store")
	fs.String("database-url", "", "PostgreSQL URL (default $DATABASE_URL)")
	fs.Bool("scoped-reaction-updates", false, "send reaction updates only to the message's room")
}

// Load builds a Config. path may be empty; flags may be nil. getenv supplies
// DATABASE_URL when no URL is configured.
func Load(path string, flags *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeInvalid).With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "load config file")
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}

	if cfg.Database.URL == "" && getenv != nil {
		cfg.Database.URL = getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")
	check(c.Log.Format == "json" || c.Log.Format == "text",
		"log.format must be json or text, got %q", c.Log.Format)
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		check(false, "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		check(c.Store.SeedFile == "", "store.seed_file only applies to the memory store; run threadline seed for postgres")
		check(c.Database.URL != "", "database.url or DATABASE_URL is required for the postgres store")
		check(c.Database.ConnectAttempts >= 1, "database.connect_attempts must be at least 1")
		check(c.Database.ConnectBackoff > 0, "database.connect_backoff must be positive")
	default:
		check(false, "store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	check(c.Realtime.SendBuffer >= 1, "realtime.send_buffer must be at least 1")
	check(c.Realtime.PingInterval > 0, "realtime.ping_interval must be positive")
	check(c.Realtime.WriteTimeout > 0, "realtime.write_timeout must be positive")
	check(c.Realtime.MaxFrameBytes >= 512, "realtime.max_frame_bytes must be at least 512")

	if len(problems) > 0 {
		return oops.Code(CodeInvalid).
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
