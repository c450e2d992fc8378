// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

// Package core holds identifiers shared by every threadline component.
package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID returns a new ULID rendered as a string.
// IDs minted in the same millisecond are strictly increasing.
func NewID() string {
	return NewIDAt(time.Now())
}

// NewIDAt returns a new ULID string carrying the given timestamp.
func NewIDAt(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ParseID validates s as a ULID and returns its canonical form.
func ParseID(s string) (string, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", oops.Code("INVALID_ID").With("id", s).Wrap(err)
	}
	return id.String(), nil
}

// IDTime returns the timestamp encoded in a ULID string.
// The zero time is returned for strings that are not ULIDs.
func IDTime(s string) time.Time {
	id, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time())
}
