// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/threadline/threadline/internal/messaging"
	"github.com/threadline/threadline/internal/thread"
	"github.com/threadline/threadline/pkg/errutil"
)

// Error codes produced by the HTTP layer itself.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInternal        = "INTERNAL"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusByCode = map[string]int{
	messaging.CodeEmptyContent:         http.StatusUnprocessableEntity,
	messaging.CodeInvalidReaction:      http.StatusUnprocessableEntity,
	messaging.CodeRoomNotFound:         http.StatusUnprocessableEntity,
	messaging.CodeUnknownSender:        http.StatusUnprocessableEntity,
	thread.CodeAmbiguousRouting:        http.StatusUnprocessableEntity,
	thread.CodeMissingRouting:          http.StatusUnprocessableEntity,
	thread.CodeThreadTooDeep:           http.StatusUnprocessableEntity,
	thread.CodeParentNotFound:          http.StatusUnprocessableEntity,
	messaging.CodeMessageNotFound:      http.StatusNotFound,
	messaging.CodeNotificationNotFound: http.StatusNotFound,
	thread.CodeThreadNotFound:          http.StatusNotFound,
	messaging.CodeNotAuthor:            http.StatusForbidden,
	CodeInvalidRequest:                 http.StatusBadRequest,
	CodeUnauthenticated:                http.StatusUnauthorized,
}

func errInvalidRequest(reason string) error {
	return oops.Code(CodeInvalidRequest).Errorf("%s", reason)
}

func errUnauthenticated() error {
	return oops.Code(CodeUnauthenticated).Errorf("missing %s header", UserIDHeader)
}

// writeError maps err to a status and writes an ErrorBody. Errors without a
// known code are logged and reported as a generic internal error.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	code := errutil.Code(err)
	status, known := statusByCode[code]
	body := ErrorBody{Error: err.Error(), Code: code}
	if !known {
		errutil.LogError(ctx, logger, "request failed", err)
		status = http.StatusInternalServerError
		body = ErrorBody{Error: "internal error", Code: CodeInternal}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
