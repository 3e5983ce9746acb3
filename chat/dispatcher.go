// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/bureau-foundation/parley/lib/identity"
	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/messaging"
)

// Dispatcher is the command surface the presentation layer drives.
type Dispatcher interface {
	Login(ctx context.Context, homeserver, username string, password *secret.Buffer) error
	Logout(ctx context.Context)
	Send(ctx context.Context, text string) error
	StartDirectMessage(ctx context.Context, recipient string) error
	SelectRoom(roomID ref.RoomID)
	OnComposerChange(text string)
	FilterRooms(query string)
	OpenDirectMessageDialog()
	CloseDirectMessageDialog()
}

var _ Dispatcher = (*Controller)(nil)

// ErrBusy is returned when the same command is already in flight.
var ErrBusy = errors.New("chat: operation already in progress")

// ErrNotConnected is returned by commands that need a connection.
var ErrNotConnected = errors.New("chat: not connected")

// Resume connects with the persisted session, if there is one. Without
// one it does nothing.
func (c *Controller) Resume(ctx context.Context) error {
	session := c.config.Store.Load()
	if session == nil {
		return nil
	}
	return c.connect(ctx, *session)
}

// Login exchanges a password for a session, persists it, and connects.
// If the connection fails the session is discarded again. The error is
// also recorded as State.LoginError. There is no retry.
func (c *Controller) Login(ctx context.Context, homeserver, username string, password *secret.Buffer) error {
	c.mu.Lock()
	if c.loggingIn {
		c.mu.Unlock()
		return ErrBusy
	}
	c.loggingIn = true
	c.loginError = ""
	c.notify()
	c.mu.Unlock()

	err := c.login(ctx, identity.NormalizeHomeserver(homeserver), strings.TrimSpace(username), password)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggingIn = false
	if err != nil {
		c.loginError = err.Error()
	}
	c.notify()
	return err
}

func (c *Controller) login(ctx context.Context, homeserver, username string, password *secret.Buffer) error {
	if homeserver == "" {
		return errors.New("homeserver is required")
	}
	if username == "" {
		return errors.New("username is required")
	}
	session, err := c.config.Dialer.Login(ctx, homeserver, username, password)
	if err != nil {
		return err
	}
	if err := c.config.Store.Save(session); err != nil {
		c.logger.Warn("persisting session failed", "user_id", session.UserID, "error", err)
	}
	if err := c.connect(ctx, *session); err != nil {
		c.abandonLogin(session)
		return err
	}
	return nil
}

// abandonLogin forgets a session whose first connection failed, so a
// failed Login never leaves a session behind. A session replaced in
// the meantime is left alone.
func (c *Controller) abandonLogin(session *sessionstore.Session) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	current := c.session != nil && *c.session == *session
	c.mu.Unlock()
	if current {
		c.forget(session)
	}
}

// Logout invalidates the token on the server if possible, then clears
// the persisted session and every piece of in-memory state. Server
// failure is logged; the local logout always completes.
func (c *Controller) Logout(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	conn := c.connection
	session := c.session
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Transport.Logout(ctx); err != nil {
			c.logger.Warn("server logout failed", "user_id", conn.Session.UserID, "error", err)
		}
	}
	c.forget(session)
	c.logger.Info("logged out")
}

// Send transmits text to the active room. Blank text or no active room
// makes it a no-op. The outgoing typing state is withdrawn first. On
// success the composer is cleared; on failure it is kept and the error
// is recorded as State.SendError.
func (c *Controller) Send(ctx context.Context, text string) error {
	body := strings.TrimSpace(text)

	c.mu.Lock()
	roomID := c.timeline.RoomID()
	if roomID.IsZero() || body == "" {
		c.mu.Unlock()
		return nil
	}
	if c.sending {
		c.mu.Unlock()
		return ErrBusy
	}
	conn := c.connection
	if conn == nil {
		c.sendError = ErrNotConnected.Error()
		c.notify()
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.sending = true
	c.sendError = ""
	typingRoom := c.presence.StopNow()
	c.notify()
	c.mu.Unlock()

	if !typingRoom.IsZero() {
		stop := typingRequest{conn: conn, roomID: typingRoom, typing: false}
		if err := c.typing.deliver(ctx, stop); err != nil {
			c.logger.Debug("typing stop before send failed", "room_id", typingRoom, "error", err)
		}
	}
	err := c.transmit(ctx, conn, roomID, body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		c.sendError = err.Error()
	} else {
		c.composer = ""
	}
	c.notify()
	return err
}

func (c *Controller) transmit(ctx context.Context, conn *Connection, roomID ref.RoomID, body string) error {
	transactionID, err := c.config.NewTransactionID()
	if err != nil {
		return err
	}
	content := messaging.NewTextMessage(body)
	if c.config.Markdown {
		content = messaging.NewMarkdownMessage(body)
	}
	eventID, err := conn.Transport.SendMessage(ctx, roomID, transactionID, content)
	if err != nil {
		return err
	}
	c.logger.Debug("message sent", "room_id", roomID, "event_id", eventID, "transaction_id", transactionID)
	return nil
}

// StartDirectMessage creates an encrypted direct-message room with
// recipient, given as a full user ID or a localpart on the local
// user's server. On success the room becomes active and the dialog
// closes; on failure the dialog stays open and State.DMError is set.
func (c *Controller) StartDirectMessage(ctx context.Context, recipient string) error {
	c.mu.Lock()
	if c.creatingDM {
		c.mu.Unlock()
		return ErrBusy
	}
	conn := c.connection
	if conn == nil {
		c.dmError = ErrNotConnected.Error()
		c.notify()
		c.mu.Unlock()
		return ErrNotConnected
	}
	self := c.selfLocked()
	c.creatingDM = true
	c.dmError = ""
	c.notify()
	c.mu.Unlock()

	roomID, err := c.createDirectRoom(ctx, conn, identity.NormalizeRecipientID(recipient, self.String()))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creatingDM = false
	if c.connection != conn {
		// Logged out or disconnected meanwhile; the dialog state
		// belongs to whatever came after.
		c.notify()
		if err == nil {
			c.logger.Debug("direct message room created after disconnect", "room_id", roomID)
		}
		return ErrNotConnected
	}
	if err != nil {
		c.dmError = err.Error()
		c.notify()
		return err
	}
	c.dmDialogOpen = false
	c.selectRoomLocked(roomID)
	c.notify()
	return nil
}

func (c *Controller) createDirectRoom(ctx context.Context, conn *Connection, recipient string) (ref.RoomID, error) {
	userID, err := ref.ParseUserID(recipient)
	if err != nil {
		return ref.RoomID{}, err
	}
	roomID, err := conn.Transport.CreateRoom(ctx, messaging.CreateRoomRequest{
		Preset:   messaging.PresetTrustedPrivateChat,
		IsDirect: true,
		Invite:   []ref.UserID{userID},
		InitialState: []messaging.InitialState{{
			Type:    ref.EventTypeRoomEncryption,
			Content: map[string]string{"algorithm": messaging.MegolmAlgorithm},
		}},
	})
	if err != nil {
		return ref.RoomID{}, err
	}
	if err := conn.Transport.MarkDirect(ctx, userID, roomID); err != nil {
		c.logger.Debug("recording direct room failed", "room_id", roomID, "error", err)
	}
	c.logger.Info("direct message room created", "room_id", roomID, "recipient", userID)
	return roomID, nil
}

// SelectRoom makes roomID active. The zero ID clears the selection.
func (c *Controller) SelectRoom(roomID ref.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectRoomLocked(roomID)
	c.notify()
}

// OnComposerChange records the composer text and drives the outgoing
// typing state.
func (c *Controller) OnComposerChange(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.composer = text
	c.presence.ComposerChanged(text)
	c.notify()
}

// FilterRooms sets the room list query.
func (c *Controller) FilterRooms(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomFilter = query
	c.notify()
}

// OpenDirectMessageDialog shows the recipient dialog with no error.
func (c *Controller) OpenDirectMessageDialog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dmDialogOpen = true
	c.dmError = ""
	c.notify()
}

// CloseDirectMessageDialog hides the recipient dialog.
func (c *Controller) CloseDirectMessageDialog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dmDialogOpen = false
	c.dmError = ""
	c.notify()
}
