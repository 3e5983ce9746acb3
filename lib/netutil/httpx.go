// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities for the Matrix client.
//
// Response helpers bound every body read so a misbehaving server
// cannot exhaust memory. They are for JSON API responses; streaming
// bodies should be read incrementally.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxResponseSize is the default bound on JSON API response bodies.
// An initial /sync for a large account is the biggest legitimate body.
const MaxResponseSize int64 = 64 << 20

// ErrResponseTooLarge is returned when a body exceeds its bound.
var ErrResponseTooLarge = errors.New("netutil: response body too large")

// ReadResponse reads a response body of at most limit bytes. A limit
// of zero or less means MaxResponseSize. Longer bodies return
// ErrResponseTooLarge rather than a silently truncated read.
func ReadResponse(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxResponseSize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("netutil: reading response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrResponseTooLarge, limit)
	}
	return data, nil
}

// ErrorSnippet renders at most limit bytes of an error response body
// for a diagnostic message, cut on a rune boundary.
func ErrorSnippet(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
