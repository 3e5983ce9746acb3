// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/parley/lib/ref"
)

// DefaultRefreshThrottle bounds how often timeline activity refreshes
// the room list.
const DefaultRefreshThrottle = 500 * time.Millisecond

// Registry is the ordered room list. It is rebuilt wholesale from the
// connection on every refresh, never patched.
//
// Registry is not safe for concurrent use; the Controller serializes
// access.
type Registry struct {
	rooms    []Room
	throttle *debouncer
	interval time.Duration

	// autoSelectDone is set by the first refresh after a connection
	// attaches.
	autoSelectDone bool
}

func newRegistry(throttle *debouncer, interval time.Duration) *Registry {
	return &Registry{throttle: throttle, interval: interval}
}

// Refresh replaces the room list with the transport's current rooms
// and returns the new ordering.
func (r *Registry) Refresh(transport Transport) []Room {
	summaries := transport.Rooms()
	rooms := make([]Room, len(summaries))
	for index, summary := range summaries {
		rooms[index] = roomFromSummary(summary)
	}
	sortRooms(rooms)
	r.rooms = rooms
	return slices.Clone(rooms)
}

// sortRooms orders by last activity, newest first. Rooms without
// activity (0) sort after every room with some. Display name and then
// ID break ties so the order is stable across refreshes.
func sortRooms(rooms []Room) {
	slices.SortStableFunc(rooms, func(a, b Room) int {
		if c := cmp.Compare(b.LastActivity, a.LastActivity); c != 0 {
			return c
		}
		if c := cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// Rooms returns the current ordering.
func (r *Registry) Rooms() []Room { return slices.Clone(r.rooms) }

// Room looks up one room by ID.
func (r *Registry) Room(id ref.RoomID) (Room, bool) {
	index := slices.IndexFunc(r.rooms, func(room Room) bool { return room.ID == id })
	if index < 0 {
		return Room{}, false
	}
	return r.rooms[index], true
}

// Filter returns the rooms whose display name or last message preview
// contains query, ignoring case, in registry order. A blank query
// returns every room.
func (r *Registry) Filter(query string) []Room {
	if strings.TrimSpace(query) == "" {
		return r.Rooms()
	}
	var matched []Room
	for _, room := range r.rooms {
		if matches(room, query) {
			matched = append(matched, room)
		}
	}
	return matched
}

// ScheduleRefresh arranges for refresh to run once the throttle
// interval elapses. Calls while a refresh is already pending are
// absorbed into it.
func (r *Registry) ScheduleRefresh(refresh func()) {
	if r.throttle.Pending() {
		return
	}
	r.throttle.Schedule(r.interval, refresh)
}

// Invalidate drops any pending refresh and re-arms auto-selection for
// the next connection.
func (r *Registry) Invalidate() {
	r.throttle.Cancel()
	r.autoSelectDone = false
}

// Reset empties the registry.
func (r *Registry) Reset() {
	r.Invalidate()
	r.rooms = nil
}
