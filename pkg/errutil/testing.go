// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error with the given code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key], "context %q", key)
	}
}

// AssertRejection asserts the code of err and each key/value pair in kv,
// e.g. AssertRejection(t, err, "THREAD_TOO_DEEP", "parent_id", "m3").
func AssertRejection(t testing.TB, err error, code string, kv ...any) {
	t.Helper()
	require.Zero(t, len(kv)%2, "context must be key/value pairs")
	AssertErrorCode(t, err, code)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		require.True(t, ok, "context key %v is not a string", kv[i])
		AssertErrorContext(t, err, key, kv[i+1])
	}
}
