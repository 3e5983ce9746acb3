// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"slices"

	"github.com/bureau-foundation/parley/lib/ref"
)

// Timeline window bounds.
const (
	DefaultTimelineWindow = 300
	MinTimelineWindow     = 1
	MaxTimelineWindow     = 5000
)

// Timeline holds the event sequence of the active room and nothing
// else. Switching rooms replaces the sequence wholesale.
//
// Timeline is not safe for concurrent use; the Controller serializes
// access.
type Timeline struct {
	window int
	roomID ref.RoomID
	events []TimelineEvent

	// Visible-message state as of the last receipt check.
	lastVisibleCount int
	lastVisibleID    ref.EventID

	// acknowledged holds the newest event acknowledged in each room,
	// so returning to a room does not repeat its receipt. One entry per
	// room keeps it bounded by the room list.
	acknowledged map[ref.RoomID]ref.EventID
}

func newTimeline(window int) *Timeline {
	return &Timeline{window: window, acknowledged: make(map[ref.RoomID]ref.EventID)}
}

// RoomID returns the active room, or the zero ID.
func (t *Timeline) RoomID() ref.RoomID { return t.roomID }

// SetActiveRoom replaces the sequence with the tail of history.
// history is the room's live event sequence, oldest first; pass nil
// for a zero or unknown room.
func (t *Timeline) SetActiveRoom(roomID ref.RoomID, history []TimelineEvent) {
	t.roomID = roomID
	if overflow := len(history) - t.window; overflow > 0 {
		history = history[overflow:]
	}
	t.events = slices.Clone(history)
	t.lastVisibleCount = 0
	t.lastVisibleID = ref.EventID{}
}

// OnAppend applies a live event. Historical events and events for any
// room but the active one are ignored. It reports whether the
// sequence changed.
func (t *Timeline) OnAppend(event TimelineEvent, roomID ref.RoomID, historical bool) bool {
	if historical || roomID.IsZero() || roomID != t.roomID {
		return false
	}
	t.events = append(t.events, event)
	if overflow := len(t.events) - t.window; overflow > 0 {
		t.events = slices.Delete(t.events, 0, overflow)
	}
	return true
}

// Events returns the full retained sequence, including events that are
// not rendered.
func (t *Timeline) Events() []TimelineEvent { return slices.Clone(t.events) }

// Visible returns the rendered subset: messages with a body.
func (t *Timeline) Visible() []TimelineEvent {
	var visible []TimelineEvent
	for index := range t.events {
		if t.events[index].IsVisibleMessage() {
			visible = append(visible, t.events[index])
		}
	}
	return visible
}

// ReceiptCandidate returns the event to acknowledge, if any. A
// candidate exists when the visible messages changed since the last
// call and the newest message from someone other than self has not
// been acknowledged yet. The returned event is recorded as
// acknowledged.
func (t *Timeline) ReceiptCandidate(self ref.UserID) (ref.EventID, bool) {
	count := 0
	var newest ref.EventID
	var candidate ref.EventID
	for index := range t.events {
		event := &t.events[index]
		if !event.IsVisibleMessage() {
			continue
		}
		count++
		newest = event.ID
		if event.Sender != self && !event.ID.IsZero() {
			candidate = event.ID
		}
	}
	if count == t.lastVisibleCount && newest == t.lastVisibleID {
		return ref.EventID{}, false
	}
	t.lastVisibleCount = count
	t.lastVisibleID = newest

	if candidate.IsZero() {
		return ref.EventID{}, false
	}
	if t.acknowledged[t.roomID] == candidate {
		return ref.EventID{}, false
	}
	t.acknowledged[t.roomID] = candidate
	return candidate, true
}

// Reset clears the active room and every acknowledgement.
func (t *Timeline) Reset() {
	t.SetActiveRoom(ref.RoomID{}, nil)
	clear(t.acknowledged)
}
