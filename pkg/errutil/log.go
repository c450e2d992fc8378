// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package errutil holds helpers for logging and inspecting oops errors.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at Error level. For oops errors the code and context are
// added as attributes; other errors are logged by their string.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logAt(ctx, logger, slog.LevelError, msg, err)
}

// LogWarn is LogError at Warn level, for failures the caller recovers from.
func LogWarn(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logAt(ctx, logger, slog.LevelWarn, msg, err)
}

func logAt(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"error", err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := Code(err); code != "" {
			attrs = append(attrs, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			attrs = append(attrs, "context", errCtx)
		}
	}
	logger.Log(ctx, level, msg, attrs...)
}

// Code returns the oops code carried by err, or "" if there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	if s, ok := code.(string); ok {
		return s
	}
	return fmt.Sprint(code)
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
