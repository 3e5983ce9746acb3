// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID such as "@alice:example.org".
//
// Only the structure is checked (sigil, non-empty localpart, server
// after the first ':'). Localpart character rules vary between
// homeservers and historical accounts, so they are left to the server.
type UserID struct {
	id        string
	separator int
}

// ParseUserID validates a raw user ID string.
func ParseUserID(raw string) (UserID, error) {
	localpart, _, err := splitSigilID(raw, '@', "user ID")
	if err != nil {
		return UserID{}, err
	}
	return UserID{id: raw, separator: 1 + len(localpart)}, nil
}

// MustParseUserID is ParseUserID for known-valid literals. Panics on
// error.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

// NewUserID builds "@localpart:server". The localpart must be
// non-empty.
func NewUserID(localpart string, server ServerName) (UserID, error) {
	if server.IsZero() {
		return UserID{}, fmt.Errorf("user ID for %q: zero server name", localpart)
	}
	return ParseUserID("@" + localpart + ":" + server.String())
}

func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is unset.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'. Empty for
// the zero value.
func (u UserID) Localpart() string {
	if u.id == "" {
		return ""
	}
	return u.id[1:u.separator]
}

// Server returns the server name after the first ':'. Zero for the
// zero value.
func (u UserID) Server() ServerName {
	if u.id == "" {
		return ServerName{}
	}
	return ServerName{name: u.id[u.separator+1:]}
}

func (u UserID) MarshalText() ([]byte, error) { return []byte(u.id), nil }

// UnmarshalText validates the input. Empty input yields the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
