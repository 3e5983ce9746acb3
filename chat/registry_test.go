// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/messaging"
)

func newTestRegistry(clk clock.Clock) *Registry {
	return newRegistry(newDebouncer(clk, unguarded), DefaultRefreshThrottle)
}

func TestRegistryRefreshOrdersByActivity(t *testing.T) {
	transport := newFakeTransport(alice)
	transport.setRooms(
		summary(roomA, "quiet", 0, ""),
		summary(roomB, "busy", 5000, "latest"),
		summary(roomC, "older", 1000, "earlier"),
		summary(ref.MustParseRoomID("!d:example.org"), "also quiet", 0, ""),
	)
	registry := newTestRegistry(clock.Fake(epoch))

	rooms := registry.Refresh(transport)
	want := []ref.RoomID{roomB, roomC, ref.MustParseRoomID("!d:example.org"), roomA}
	if got := roomIDs(rooms); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for index := 1; index < len(rooms); index++ {
		if rooms[index].LastActivity > rooms[index-1].LastActivity {
			t.Errorf("room %d (%d) newer than room %d (%d)", index, rooms[index].LastActivity, index-1, rooms[index-1].LastActivity)
		}
	}
}

func TestRegistryRefreshReplacesWholesale(t *testing.T) {
	transport := newFakeTransport(alice)
	transport.setRooms(summary(roomA, "a", 1, ""), summary(roomB, "b", 2, ""))
	registry := newTestRegistry(clock.Fake(epoch))
	registry.Refresh(transport)

	transport.setRooms(summary(roomC, "c", 3, ""))
	registry.Refresh(transport)
	if got := roomIDs(registry.Rooms()); !slices.Equal(got, []ref.RoomID{roomC}) {
		t.Errorf("rooms = %v, want only %s", got, roomC)
	}
	if _, ok := registry.Room(roomA); ok {
		t.Error("room A survived a refresh that no longer reports it")
	}
}

func TestRegistryFilter(t *testing.T) {
	transport := newFakeTransport(alice)
	transport.setRooms(
		summary(roomA, "alice's room", 3000, "see you"),
		summary(roomB, "standup", 2000, "Alice said hi"),
		summary(roomC, "random", 1000, "cats"),
	)
	registry := newTestRegistry(clock.Fake(epoch))
	all := registry.Refresh(transport)

	tests := []struct {
		name  string
		query string
		want  []ref.RoomID
	}{
		{"empty", "", roomIDs(all)},
		{"blank", "   ", roomIDs(all)},
		{"case-insensitive name and preview", "ALICE", []ref.RoomID{roomA, roomB}},
		{"preview only", "cats", []ref.RoomID{roomC}},
		{"no match", "zebra", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := roomIDs(registry.Filter(test.query)); !slices.Equal(got, test.want) {
				t.Errorf("Filter(%q) = %v, want %v", test.query, got, test.want)
			}
		})
	}
}

func TestRegistryThrottleCoalesces(t *testing.T) {
	clk := clock.Fake(epoch)
	registry := newTestRegistry(clk)
	refreshes := 0
	for range 10 {
		registry.ScheduleRefresh(func() { refreshes++ })
	}
	clk.Advance(DefaultRefreshThrottle - time.Millisecond)
	if refreshes != 0 {
		t.Fatalf("refreshed %d times before the window closed", refreshes)
	}
	clk.Advance(time.Millisecond)
	if refreshes != 1 {
		t.Fatalf("refreshed %d times, want 1", refreshes)
	}

	// A new burst after the window schedules a new refresh.
	registry.ScheduleRefresh(func() { refreshes++ })
	clk.Advance(DefaultRefreshThrottle)
	if refreshes != 2 {
		t.Errorf("refreshed %d times, want 2", refreshes)
	}
}

func TestRegistryInvalidateDropsPendingRefresh(t *testing.T) {
	clk := clock.Fake(epoch)
	registry := newTestRegistry(clk)
	ran := false
	registry.ScheduleRefresh(func() { ran = true })
	registry.Invalidate()
	clk.Advance(time.Second)
	if ran {
		t.Error("refresh ran after Invalidate")
	}
}

func TestRoomFromSummaryFloorsActivity(t *testing.T) {
	room := roomFromSummary(messaging.RoomSummary{ID: roomA, LastActivity: -5})
	if room.LastActivity != 0 {
		t.Errorf("LastActivity = %d, want 0", room.LastActivity)
	}
}
