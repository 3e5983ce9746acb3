// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"time"

	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/messaging"
)

// Transport is the protocol client a Connection drives.
// *messaging.LiveClient is the production implementation.
type Transport interface {
	UserID() ref.UserID

	// NegotiateCapabilities is called once per connection. On error
	// the returned capabilities are usable defaults.
	NegotiateCapabilities(ctx context.Context) (messaging.Capabilities, error)
	InitSecureChannel(ctx context.Context) error

	Start(ctx context.Context, options messaging.StartOptions) error
	Stop() error
	Subscribe(kind messaging.NotificationKind, handler func(messaging.Notification)) *messaging.Subscription

	Rooms() []messaging.RoomSummary
	RoomEvents(roomID ref.RoomID) []messaging.Event
	TypingMembers(roomID ref.RoomID) []ref.UserID
	MemberName(roomID ref.RoomID, userID ref.UserID) string

	SendMessage(ctx context.Context, roomID ref.RoomID, transactionID string, content messaging.MessageContent) (ref.EventID, error)
	SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error
	SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (ref.RoomID, error)
	MarkDirect(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error
	Logout(ctx context.Context) error
}

var _ Transport = (*messaging.LiveClient)(nil)

// Dialer exchanges credentials for sessions and sessions for
// transports.
type Dialer interface {
	// Login performs a password login against homeserver, which must
	// already be normalized. The password is read, not closed.
	Login(ctx context.Context, homeserver, username string, password *secret.Buffer) (*sessionstore.Session, error)

	// Dial builds a stopped Transport for session.
	Dial(ctx context.Context, session sessionstore.Session) (Transport, error)

	// Discard deletes any local state kept for session, such as the
	// sync cache.
	Discard(session sessionstore.Session) error
}
