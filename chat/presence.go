// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"slices"
	"time"

	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/ref"
)

// Typing signal timings.
const (
	// DefaultTypingTimeout is how long the server shows the user as
	// typing without a refresh.
	DefaultTypingTimeout = 4000 * time.Millisecond

	// DefaultTypingRefresh is how often a continuing "typing" signal
	// is resent, one second short of the timeout.
	DefaultTypingRefresh = DefaultTypingTimeout - time.Second

	// DefaultTypingStopDelay is the composer-empty debounce before
	// "stopped typing" is sent.
	DefaultTypingStopDelay = 200 * time.Millisecond

	// DefaultTypingDisplayLimit caps the displayed typing set.
	DefaultTypingDisplayLimit = 3
)

// typingSignal sends one outgoing typing state. It is called with the
// Controller's lock held and must not block.
type typingSignal func(roomID ref.RoomID, typing bool)

// Presence tracks the local user's outgoing typing state and the set
// of other users typing in the active room.
//
// Presence is not safe for concurrent use; the Controller serializes
// access, including the stop timer's callback.
type Presence struct {
	clock        clock.Clock
	signal       typingSignal
	stopTimer    *debouncer
	refresh      time.Duration
	stopDelay    time.Duration
	displayLimit int

	roomID     ref.RoomID
	signaling  bool
	lastSignal time.Time
	typing     []string
}

func newPresence(clk clock.Clock, stopTimer *debouncer, signal typingSignal, refresh, stopDelay time.Duration, displayLimit int) *Presence {
	return &Presence{
		clock:        clk,
		signal:       signal,
		stopTimer:    stopTimer,
		refresh:      refresh,
		stopDelay:    stopDelay,
		displayLimit: displayLimit,
	}
}

// Signaling reports whether the server was last told "typing".
func (p *Presence) Signaling() bool { return p.signaling }

// SetRoom moves the coordinator to roomID. A "typing" signal in the old
// room is withdrawn asynchronously. The typing set is cleared; the
// caller recomputes it for the new room.
func (p *Presence) SetRoom(roomID ref.RoomID) {
	if roomID == p.roomID {
		return
	}
	p.stopTimer.Cancel()
	if p.signaling && !p.roomID.IsZero() {
		p.signal(p.roomID, false)
	}
	p.signaling = false
	p.roomID = roomID
	p.typing = nil
}

// ComposerChanged reacts to the composer's new text. Non-empty text
// starts signaling, or refreshes a signal about to expire. Empty text
// schedules the debounced stop.
func (p *Presence) ComposerChanged(text string) {
	if p.roomID.IsZero() {
		return
	}
	if text == "" {
		if p.signaling {
			p.stopTimer.Schedule(p.stopDelay, p.stopDue)
		}
		return
	}

	p.stopTimer.Cancel()
	now := p.clock.Now()
	if p.signaling && now.Sub(p.lastSignal) < p.refresh {
		return
	}
	p.signaling = true
	p.lastSignal = now
	p.signal(p.roomID, true)
}

func (p *Presence) stopDue() {
	if !p.signaling {
		return
	}
	p.signaling = false
	p.signal(p.roomID, false)
}

// StopNow cancels the debounce and returns to idle without signaling.
// It returns the room whose "stopped typing" the caller must send
// itself, synchronously, before transmitting a message.
func (p *Presence) StopNow() ref.RoomID {
	p.stopTimer.Cancel()
	p.signaling = false
	return p.roomID
}

// UpdateTyping recomputes the displayed typing set from the users the
// server reports: self is excluded, names are resolved, duplicates
// are dropped, and the result is capped.
func (p *Presence) UpdateTyping(users []ref.UserID, self ref.UserID, name func(ref.UserID) string) {
	var names []string
	for _, user := range users {
		if user == self {
			continue
		}
		display := name(user)
		if display == "" {
			display = user.Localpart()
		}
		if slices.Contains(names, display) {
			continue
		}
		names = append(names, display)
		if len(names) == p.displayLimit {
			break
		}
	}
	p.typing = names
}

// Typing returns the displayed typing set.
func (p *Presence) Typing() []string { return slices.Clone(p.typing) }

// Reset returns to idle with no room, without signaling.
func (p *Presence) Reset() {
	p.stopTimer.Cancel()
	p.roomID = ref.RoomID{}
	p.signaling = false
	p.lastSignal = time.Time{}
	p.typing = nil
}
