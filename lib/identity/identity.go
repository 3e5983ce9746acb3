// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity turns loosely typed user input into canonical
// homeserver URLs and Matrix user IDs. Both functions are pure: the
// only context they need (the local user's ID) is passed in.
package identity

import (
	"strings"

	"github.com/bureau-foundation/parley/lib/ref"
)

// NormalizeHomeserver canonicalizes a homeserver entered by the user.
// Surrounding whitespace is trimmed, an explicit http:// or https://
// scheme is kept as given, and anything else gets https:// prepended.
// Empty input yields empty output so callers can show a validation
// message instead of dialing "https://".
//
//	"matrix.org"            → "https://matrix.org"
//	"http://localhost:8008" → "http://localhost:8008"
func NormalizeHomeserver(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if hasSchemePrefix(trimmed, "https://") || hasSchemePrefix(trimmed, "http://") {
		return trimmed
	}
	return "https://" + trimmed
}

// NormalizeRecipientID expands a recipient typed into the direct
// message dialog into a full user ID. Input that already looks like
// "@localpart:server" is returned as is. Otherwise leading '@'
// characters are dropped and the domain of myUserID (everything after
// its first ':') is appended, falling back to ref.DefaultServer when
// myUserID has no domain.
//
//	("bob", "@alice:example.org")  → "@bob:example.org"
//	("@bob", "")                   → "@bob:matrix.org"
//	("@bob:other.org", anything)   → "@bob:other.org"
//
// The result is not validated; parse it with ref.ParseUserID.
func NormalizeRecipientID(input, myUserID string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "@") && strings.Contains(trimmed, ":") {
		return trimmed
	}
	localpart := strings.TrimLeft(trimmed, "@")
	return "@" + localpart + ":" + DomainOf(myUserID)
}

// DomainOf returns the text after the first ':' of a user ID, or
// ref.DefaultServer if there is none.
func DomainOf(userID string) string {
	if _, domain, found := strings.Cut(userID, ":"); found && domain != "" {
		return domain
	}
	return ref.DefaultServer
}

func hasSchemePrefix(value, scheme string) bool {
	return len(value) >= len(scheme) && strings.EqualFold(value[:len(scheme)], scheme)
}
