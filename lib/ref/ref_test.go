// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		localpart string
		server    string
		wantErr   string
	}{
		{name: "simple", input: "@alice:example.org", localpart: "alice", server: "example.org"},
		{name: "port in server", input: "@bob:localhost:8448", localpart: "bob", server: "localhost:8448"},
		{name: "empty", input: "", wantErr: "empty user ID"},
		{name: "missing sigil", input: "alice:example.org", wantErr: "must start with '@'"},
		{name: "room sigil", input: "!alice:example.org", wantErr: "must start with '@'"},
		{name: "missing server", input: "@alice", wantErr: "missing ':server'"},
		{name: "empty localpart", input: "@:example.org", wantErr: "empty local part"},
		{name: "empty server", input: "@alice:", wantErr: "empty server name"},
		{name: "space in server", input: "@alice:exa mple.org", wantErr: "control or space"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			userID, err := ParseUserID(test.input)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseUserID(%q) succeeded, want error containing %q", test.input, test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("ParseUserID(%q) error = %q, want error containing %q", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUserID(%q): %v", test.input, err)
			}
			if userID.String() != test.input {
				t.Errorf("String() = %q, want %q", userID.String(), test.input)
			}
			if userID.Localpart() != test.localpart {
				t.Errorf("Localpart() = %q, want %q", userID.Localpart(), test.localpart)
			}
			if userID.Server().String() != test.server {
				t.Errorf("Server() = %q, want %q", userID.Server(), test.server)
			}
		})
	}
}

func TestUserIDZeroValue(t *testing.T) {
	var userID UserID
	if !userID.IsZero() {
		t.Error("zero UserID reports IsZero() = false")
	}
	if userID.Localpart() != "" || !userID.Server().IsZero() {
		t.Errorf("zero UserID has localpart %q server %q", userID.Localpart(), userID.Server())
	}
}

func TestNewUserID(t *testing.T) {
	userID, err := NewUserID("carol", MustParseServerName("example.org"))
	if err != nil {
		t.Fatalf("NewUserID: %v", err)
	}
	if userID != MustParseUserID("@carol:example.org") {
		t.Errorf("NewUserID = %q, want @carol:example.org", userID)
	}
	if _, err := NewUserID("carol", ServerName{}); err == nil {
		t.Error("NewUserID with zero server succeeded")
	}
}

func TestParseRoomID(t *testing.T) {
	valid := []string{"!abc:example.org", "!opaque:localhost:6167"}
	for _, input := range valid {
		if _, err := ParseRoomID(input); err != nil {
			t.Errorf("ParseRoomID(%q): %v", input, err)
		}
	}
	invalid := []string{"", "abc:example.org", "#room:example.org", "!abc", "!:example.org", "!abc:", "!"}
	for _, input := range invalid {
		if _, err := ParseRoomID(input); err == nil {
			t.Errorf("ParseRoomID(%q) succeeded, want error", input)
		}
	}
}

func TestParseEventID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"$abc123xyz", false},
		{"$legacy:server.local", false},
		{"", true},
		{"abc", true},
		{"!abc", true},
		{"$", true},
	}
	for _, test := range tests {
		_, err := ParseEventID(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseEventID(%q): err=%v, wantErr=%v", test.input, err, test.wantErr)
		}
	}
}

func TestIdentifierJSON(t *testing.T) {
	type record struct {
		User   UserID   `json:"user"`
		Room   RoomID   `json:"room"`
		Event  EventID  `json:"event"`
		Device DeviceID `json:"device"`
	}
	original := record{
		User:   MustParseUserID("@alice:example.org"),
		Room:   MustParseRoomID("!room:example.org"),
		Event:  MustParseEventID("$event"),
		Device: NewDeviceID("ABCDEF"),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"user":"@alice:example.org","room":"!room:example.org","event":"$event","device":"ABCDEF"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var decoded record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}

	var bad record
	if err := json.Unmarshal([]byte(`{"user":"alice"}`), &bad); err == nil {
		t.Error("Unmarshal of invalid user ID succeeded")
	}

	var empty record
	if err := json.Unmarshal([]byte(`{"user":"","room":""}`), &empty); err != nil {
		t.Fatalf("Unmarshal empty: %v", err)
	}
	if !empty.User.IsZero() || !empty.Room.IsZero() {
		t.Errorf("empty strings decoded to non-zero IDs: %+v", empty)
	}
}

func TestParseServerName(t *testing.T) {
	for _, input := range []string{"example.org", "localhost:8448", "[::1]:8448"} {
		if _, err := ParseServerName(input); err != nil {
			t.Errorf("ParseServerName(%q): %v", input, err)
		}
	}
	for _, input := range []string{"", "bad host", "@evil", "tab\there"} {
		if _, err := ParseServerName(input); err == nil {
			t.Errorf("ParseServerName(%q) succeeded, want error", input)
		}
	}
}
