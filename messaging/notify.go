// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"slices"
	"sync"

	"github.com/bureau-foundation/parley/lib/ref"
)

// NotificationKind selects which notifications a subscriber receives.
type NotificationKind int

const (
	// SyncStateChanged fires when the sync loop changes SyncState.
	SyncStateChanged NotificationKind = iota + 1

	// TimelineAppended fires once per timeline event, in server order.
	TimelineAppended

	// RoomsChanged fires when the set of joined rooms or any room's
	// state (name, members, avatar, encryption, direct flag) changed.
	RoomsChanged

	// TypingChanged fires when a room's set of typing users changed.
	TypingChanged
)

func (k NotificationKind) String() string {
	switch k {
	case SyncStateChanged:
		return "sync_state_changed"
	case TimelineAppended:
		return "timeline_appended"
	case RoomsChanged:
		return "rooms_changed"
	case TypingChanged:
		return "typing_changed"
	default:
		return "unknown"
	}
}

// SyncState is the sync loop's lifecycle state.
type SyncState int

const (
	SyncStateStopped SyncState = iota
	// SyncStatePrepared is entered once, after the first successful
	// sync of a Start.
	SyncStatePrepared
	SyncStateSyncing
	SyncStateError
)

func (s SyncState) String() string {
	switch s {
	case SyncStateStopped:
		return "stopped"
	case SyncStatePrepared:
		return "prepared"
	case SyncStateSyncing:
		return "syncing"
	case SyncStateError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification describes one change. Which fields are set depends on
// Kind.
type Notification struct {
	Kind NotificationKind

	// SyncState and Err are set for SyncStateChanged. Err is set when
	// SyncState is SyncStateError.
	SyncState SyncState
	Err       error

	// RoomID is set for TimelineAppended and TypingChanged.
	RoomID ref.RoomID

	// Event and Historical are set for TimelineAppended. Historical
	// events were delivered by an initial sync, not as they happened.
	Event      Event
	Historical bool
}

// Subscription is returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so that it runs at most once. It lets
// other notification sources hand out Subscriptions with the same
// semantics as LiveClient's.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe stops delivery. A handler may still be running when
// Unsubscribe returns, but it will not be called again. Unsubscribe is
// idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

type emitter struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[NotificationKind]map[uint64]func(Notification)
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[NotificationKind]map[uint64]func(Notification))}
}

func (e *emitter) add(kind NotificationKind, handler func(Notification)) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	if e.handlers[kind] == nil {
		e.handlers[kind] = make(map[uint64]func(Notification))
	}
	id := e.nextID
	e.handlers[kind][id] = handler
	return NewSubscription(func() { e.remove(kind, id) })
}

func (e *emitter) remove(kind NotificationKind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers[kind], id)
}

// emit calls every handler subscribed to each notification's kind, in
// subscription order. The set is re-read per notification, so an
// Unsubscribe from inside a handler takes effect for the rest of the
// batch.
func (e *emitter) emit(notifications []Notification) {
	for _, notification := range notifications {
		for _, handler := range e.snapshot(notification.Kind) {
			handler(notification)
		}
	}
}

func (e *emitter) snapshot(kind NotificationKind) []func(Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uint64, 0, len(e.handlers[kind]))
	for id := range e.handlers[kind] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(Notification), len(ids))
	for index, id := range ids {
		handlers[index] = e.handlers[kind][id]
	}
	return handlers
}
