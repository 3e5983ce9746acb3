// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/parley/lib/ref"
)

// Event is a Matrix event as it appears in /sync and /messages.
type Event struct {
	EventID        ref.EventID    `json:"event_id" cbor:"event_id"`
	Type           ref.EventType  `json:"type" cbor:"type"`
	Sender         ref.UserID     `json:"sender" cbor:"sender"`
	OriginServerTS int64          `json:"origin_server_ts" cbor:"ts"`
	Content        map[string]any `json:"content" cbor:"content"`
	StateKey       *string        `json:"state_key,omitempty" cbor:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty" cbor:"-"`
}

// EventUnsigned carries server-added metadata.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ContentString returns content[key] if it is a string.
func (e *Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// IsState reports whether the event carries a state key.
func (e *Event) IsState() bool { return e.StateKey != nil }

// LoginRequest is the body of POST /login for password login.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier is the m.id.user login identifier.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by /login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`

	// WellKnown optionally redirects the client to another base URL.
	WellKnown *struct {
		Homeserver struct {
			BaseURL string `json:"base_url"`
		} `json:"m.homeserver"`
	} `json:"well_known,omitempty"`
}

// ServerVersionsResponse is returned by /versions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// Supports reports whether the server advertises the given spec
// version (for example "v1.4").
func (r *ServerVersionsResponse) Supports(version string) bool {
	for _, advertised := range r.Versions {
		if advertised == version {
			return true
		}
	}
	return false
}

// WhoAmIResponse is returned by /account/whoami.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// CreateRoomRequest is the body of POST /createRoom.
type CreateRoomRequest struct {
	Name         string         `json:"name,omitempty"`
	Topic        string         `json:"topic,omitempty"`
	Preset       string         `json:"preset,omitempty"`
	Visibility   string         `json:"visibility,omitempty"`
	Invite       []ref.UserID   `json:"invite,omitempty"`
	IsDirect     bool           `json:"is_direct,omitempty"`
	InitialState []InitialState `json:"initial_state,omitempty"`
}

// InitialState is a state event applied at room creation.
type InitialState struct {
	Type     ref.EventType `json:"type"`
	StateKey string        `json:"state_key"`
	Content  any           `json:"content"`
}

// Room creation presets.
const (
	PresetPrivateChat        = "private_chat"
	PresetTrustedPrivateChat = "trusted_private_chat"
	PresetPublicChat         = "public_chat"
)

// MegolmAlgorithm is the room encryption algorithm requested for new
// direct-message rooms.
const MegolmAlgorithm = "m.megolm.v1.aes-sha2"

// CreateRoomResponse is returned by /createRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// SendEventResponse is returned by the send endpoint.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// TypingRequest is the body of PUT /rooms/{roomId}/typing/{userId}.
type TypingRequest struct {
	Typing  bool  `json:"typing"`
	Timeout int64 `json:"timeout,omitempty"`
}

// ReadMarkersRequest is the body of POST /rooms/{roomId}/read_markers.
type ReadMarkersRequest struct {
	FullyRead ref.EventID `json:"m.fully_read"`
	Read      ref.EventID `json:"m.read,omitzero"`
}

// KeysQueryRequest is the body of POST /keys/query.
type KeysQueryRequest struct {
	DeviceKeys map[string][]string `json:"device_keys"`
	Timeout    int                 `json:"timeout,omitempty"`
}

// KeysQueryResponse is returned by /keys/query. Only the shape the
// client inspects is decoded.
type KeysQueryResponse struct {
	DeviceKeys map[string]map[string]json.RawMessage `json:"device_keys"`
	Failures   map[string]json.RawMessage            `json:"failures,omitempty"`
}

// DirectRooms is the content of the m.direct account data event: for
// each counterpart user, the rooms that are direct chats with them.
type DirectRooms map[string][]string

// SyncOptions controls one /sync request.
type SyncOptions struct {
	Since      string
	Timeout    int
	SetTimeout bool
	Filter     string
}

// SyncResponse is the body of /sync.
type SyncResponse struct {
	NextBatch   string             `json:"next_batch"`
	Rooms       RoomsSection       `json:"rooms"`
	AccountData AccountDataSection `json:"account_data"`
}

// AccountDataSection holds global account data events.
type AccountDataSection struct {
	Events []Event `json:"events"`
}

// RoomsSection groups per-room updates by membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is the update for a joined room.
type JoinedRoom struct {
	Summary   RoomSummaryHeader `json:"summary"`
	State     StateSection      `json:"state"`
	Timeline  TimelineSection   `json:"timeline"`
	Ephemeral EphemeralSection  `json:"ephemeral"`
}

// RoomSummaryHeader is the server-computed naming summary.
type RoomSummaryHeader struct {
	Heroes             []ref.UserID `json:"m.heroes,omitempty"`
	JoinedMemberCount  *int         `json:"m.joined_member_count,omitempty"`
	InvitedMemberCount *int         `json:"m.invited_member_count,omitempty"`
}

// InvitedRoom is the update for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is the update for a room the user left or was removed from.
type LeftRoom struct {
	State    StateSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection is a batch of timeline events.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch,omitempty"`
	Limited   bool    `json:"limited,omitempty"`
}

// StateSection is a batch of state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// EphemeralSection carries typing and receipt events.
type EphemeralSection struct {
	Events []Event `json:"events"`
}
