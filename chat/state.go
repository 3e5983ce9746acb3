// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"

	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/messaging"
)

// Platform is the presentation context. It only affects whether the
// first room is selected automatically.
type Platform int

const (
	// PlatformWide shows the room list and a timeline side by side.
	PlatformWide Platform = iota

	// PlatformCompact shows one pane at a time, starting with the
	// room list.
	PlatformCompact
)

func (p Platform) String() string {
	if p == PlatformCompact {
		return "compact"
	}
	return "wide"
}

// ParsePlatform accepts "wide" and "compact".
func ParsePlatform(value string) (Platform, error) {
	switch value {
	case "wide":
		return PlatformWide, nil
	case "compact":
		return PlatformCompact, nil
	default:
		return PlatformWide, fmt.Errorf("unknown platform %q (want wide or compact)", value)
	}
}

// ConnectionState is a Connection's lifecycle position.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionSynced
	ConnectionStopped
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionSynced:
		return "synced"
	case ConnectionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Room is one entry of the room list.
type Room struct {
	ID          ref.RoomID
	DisplayName string
	AvatarURL   string
	MemberCount int
	IsDirect    bool
	Encrypted   bool

	// LastActivity is the newest event timestamp in milliseconds, or 0.
	LastActivity       int64
	LastMessagePreview string
}

func roomFromSummary(summary messaging.RoomSummary) Room {
	return Room{
		ID:                 summary.ID,
		DisplayName:        summary.DisplayName,
		AvatarURL:          summary.AvatarURL,
		MemberCount:        summary.MemberCount,
		IsDirect:           summary.IsDirect,
		Encrypted:          summary.Encrypted,
		LastActivity:       max(summary.LastActivity, 0),
		LastMessagePreview: summary.LastMessagePreview,
	}
}

// TimelineEvent is one event of the active room.
type TimelineEvent struct {
	ID         ref.EventID
	Type       ref.EventType
	Sender     ref.UserID
	SenderName string
	Timestamp  int64
	Content    map[string]any

	// Body and MsgType are extracted from m.room.message content.
	Body    string
	MsgType string
}

// IsVisibleMessage reports whether the event is rendered: an
// m.room.message with a non-empty body.
func (e *TimelineEvent) IsVisibleMessage() bool {
	return e.Type == ref.EventTypeRoomMessage && e.Body != ""
}

func timelineEventFrom(event messaging.Event, senderName string) TimelineEvent {
	converted := TimelineEvent{
		ID:         event.EventID,
		Type:       event.Type,
		Sender:     event.Sender,
		SenderName: senderName,
		Timestamp:  event.OriginServerTS,
		Content:    event.Content,
	}
	if event.Type == ref.EventTypeRoomMessage {
		converted.Body = event.ContentString("body")
		converted.MsgType = event.ContentString("msgtype")
	}
	return converted
}

// State is a point-in-time copy of everything the presentation layer
// renders. Slices are owned by the caller.
type State struct {
	HasSession   bool
	UserID       ref.UserID
	Connection   ConnectionState
	SyncState    messaging.SyncState
	Capabilities messaging.Capabilities
	Platform     Platform

	// Rooms is the ordered room list with RoomFilter applied.
	Rooms      []Room
	RoomFilter string

	ActiveRoom     ref.RoomID
	ActiveRoomName string

	// Timeline holds only the active room's visible messages.
	Timeline []TimelineEvent
	Typing   []string
	Composer string

	LoggingIn  bool
	Sending    bool
	CreatingDM bool

	LoginError string
	SendError  string
	DMError    string

	DMDialogOpen bool
}
