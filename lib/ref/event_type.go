// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType is a Matrix event type string. Event types need no
// validation; the named type exists for compile-time separation from
// state keys and message types.
type EventType string

func (t EventType) String() string { return string(t) }

// Event types the client reads or writes.
const (
	EventTypeRoomMessage    EventType = "m.room.message"
	EventTypeRoomName       EventType = "m.room.name"
	EventTypeCanonicalAlias EventType = "m.room.canonical_alias"
	EventTypeRoomMember     EventType = "m.room.member"
	EventTypeRoomAvatar     EventType = "m.room.avatar"
	EventTypeRoomEncryption EventType = "m.room.encryption"
	EventTypeRoomCreate     EventType = "m.room.create"
	EventTypeEncrypted      EventType = "m.room.encrypted"
	EventTypeTyping         EventType = "m.typing"
	EventTypeReceipt        EventType = "m.receipt"
	EventTypeDirect         EventType = "m.direct"
)
