// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable value types for the Matrix
// identifiers parley passes around: user IDs, room IDs, event IDs,
// device IDs and server names.
//
// Identifiers arrive as raw strings from the homeserver, from the
// persisted session record, and from user input. They are parsed into
// these types at the boundary so that the rest of the client cannot
// confuse a room ID with a user ID or an access token. Every type
// implements encoding.TextMarshaler, so JSON and CBOR encode the full
// Matrix form ("@alice:example.org", "!room:example.org", "$event").
//
// The zero value of each type means "unset"; use IsZero to check.
package ref
