// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/messaging"
)

// DefaultRequestTimeout bounds each best-effort background request
// (typing, receipts).
const DefaultRequestTimeout = 30 * time.Second

// Config configures a Controller. Zero durations and limits take the
// package defaults.
type Config struct {
	// Dialer and Store are required.
	Dialer Dialer
	Store  sessionstore.Store

	Clock  clock.Clock
	Logger *slog.Logger

	Platform Platform

	// TimelineWindow bounds the active room's retained events. It
	// must be within [MinTimelineWindow, MaxTimelineWindow].
	TimelineWindow int
	InitialHistory int

	TypingTimeout      time.Duration
	TypingRefresh      time.Duration
	TypingStopDelay    time.Duration
	TypingDisplayLimit int

	RefreshThrottle time.Duration
	RequestTimeout  time.Duration

	// Markdown sends an HTML formatted body alongside the plain one.
	Markdown bool

	// NewTransactionID defaults to UUIDv7 strings.
	NewTransactionID func() (string, error)
}

func (c *Config) applyDefaults() error {
	if c.Dialer == nil {
		return errors.New("chat: Config.Dialer is required")
	}
	if c.Store == nil {
		return errors.New("chat: Config.Store is required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TimelineWindow == 0 {
		c.TimelineWindow = DefaultTimelineWindow
	}
	if c.TimelineWindow < MinTimelineWindow || c.TimelineWindow > MaxTimelineWindow {
		return fmt.Errorf("chat: timeline window %d outside [%d, %d]", c.TimelineWindow, MinTimelineWindow, MaxTimelineWindow)
	}
	if c.InitialHistory == 0 {
		c.InitialHistory = DefaultInitialHistory
	}
	if c.TypingDisplayLimit == 0 {
		c.TypingDisplayLimit = DefaultTypingDisplayLimit
	}
	if c.InitialHistory < 0 || c.TypingDisplayLimit < 0 {
		return errors.New("chat: initial history and typing display limit must be positive")
	}
	for _, duration := range []struct {
		value    *time.Duration
		fallback time.Duration
		name     string
	}{
		{&c.TypingTimeout, DefaultTypingTimeout, "typing timeout"},
		{&c.TypingRefresh, DefaultTypingRefresh, "typing refresh"},
		{&c.TypingStopDelay, DefaultTypingStopDelay, "typing stop delay"},
		{&c.RefreshThrottle, DefaultRefreshThrottle, "refresh throttle"},
		{&c.RequestTimeout, DefaultRequestTimeout, "request timeout"},
	} {
		if *duration.value == 0 {
			*duration.value = duration.fallback
		}
		if *duration.value < 0 {
			return fmt.Errorf("chat: %s must be positive", duration.name)
		}
	}
	if c.NewTransactionID == nil {
		c.NewTransactionID = newUUIDv7
	}
	return nil
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Controller owns the application state. All exported methods are safe
// for concurrent use.
type Controller struct {
	config      Config
	logger      *slog.Logger
	connections *ConnectionManager

	// lifecycle serializes connect, logout, and teardown sequences. It
	// is held across network calls; mu is not.
	lifecycle sync.Mutex

	mu           sync.Mutex
	session      *sessionstore.Session
	sessionEpoch uint64
	connection   *Connection
	connState    ConnectionState
	syncState    messaging.SyncState
	platform     Platform

	registry *Registry
	timeline *Timeline
	presence *Presence
	typing   *typingQueue

	roomFilter   string
	composer     string
	loggingIn    bool
	sending      bool
	creatingDM   bool
	loginError   string
	sendError    string
	dmError      string
	dmDialogOpen bool

	changes    chan struct{}
	background sync.WaitGroup
}

// New creates a Controller with no session. Call Resume to connect
// from the persisted session, or Login.
func New(config Config) (*Controller, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	c := &Controller{
		config:      config,
		logger:      config.Logger,
		connections: newConnectionManager(config.Dialer, config.Logger, config.InitialHistory),
		platform:    config.Platform,
		timeline:    newTimeline(config.TimelineWindow),
		changes:     make(chan struct{}, 1),
	}
	c.typing = newTypingQueue(config.Logger, config.RequestTimeout, &c.background)
	c.registry = newRegistry(newDebouncer(config.Clock, c.locked), config.RefreshThrottle)
	c.presence = newPresence(
		config.Clock,
		newDebouncer(config.Clock, c.locked),
		c.signalTyping,
		config.TypingRefresh,
		config.TypingStopDelay,
		config.TypingDisplayLimit,
	)
	return c, nil
}

func (c *Controller) locked(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f()
}

// Changes receives a value after state changes. Bursts coalesce into
// one pending value; read Snapshot after each receive.
func (c *Controller) Changes() <-chan struct{} { return c.changes }

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := State{
		HasSession:   c.session != nil,
		Connection:   c.connState,
		SyncState:    c.syncState,
		Platform:     c.platform,
		Rooms:        c.registry.Filter(c.roomFilter),
		RoomFilter:   c.roomFilter,
		ActiveRoom:   c.timeline.RoomID(),
		Timeline:     c.timeline.Visible(),
		Typing:       c.presence.Typing(),
		Composer:     c.composer,
		LoggingIn:    c.loggingIn,
		Sending:      c.sending,
		CreatingDM:   c.creatingDM,
		LoginError:   c.loginError,
		SendError:    c.sendError,
		DMError:      c.dmError,
		DMDialogOpen: c.dmDialogOpen,
	}
	if c.session != nil {
		state.UserID = c.session.UserID
	}
	if c.connection != nil {
		state.Capabilities = c.connection.Capabilities
	}
	if room, ok := c.registry.Room(state.ActiveRoom); ok {
		state.ActiveRoomName = room.DisplayName
	} else if !state.ActiveRoom.IsZero() {
		state.ActiveRoomName = state.ActiveRoom.String()
	}
	return state
}

// SetPlatform records the presentation context.
func (c *Controller) SetPlatform(platform Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.platform != platform {
		c.platform = platform
		c.notify()
	}
}

// Close tears down the connection, leaving the persisted session in
// place for the next Resume.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown()
}

// selfLocked returns the session's user, or the zero ID.
func (c *Controller) selfLocked() ref.UserID {
	if c.session == nil {
		return ref.UserID{}
	}
	return c.session.UserID
}

// spawn runs f on a new goroutine with a bounded context.
func (c *Controller) spawn(f func(ctx context.Context)) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		defer cancel()
		f(ctx)
	}()
}

// connect replaces the current connection with one for session.
func (c *Controller) connect(ctx context.Context, session sessionstore.Session) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown()

	c.mu.Lock()
	c.sessionEpoch++
	epoch := c.sessionEpoch
	c.session = &session
	c.connState = ConnectionConnecting
	c.syncState = messaging.SyncStateStopped
	c.notify()
	c.mu.Unlock()

	_, err := c.connections.Connect(ctx, session, c.routes(epoch))
	if err != nil {
		c.mu.Lock()
		if c.sessionEpoch == epoch {
			c.connState = ConnectionDisconnected
		}
		c.notify()
		c.mu.Unlock()
		c.logger.Warn("connection failed", "user_id", session.UserID, "error", err)
		return err
	}
	return nil
}

// teardown detaches and stops the current connection and clears the
// room state derived from it. The caller holds c.lifecycle.
func (c *Controller) teardown() {
	c.mu.Lock()
	conn := c.connection
	c.connection = nil
	c.connState = ConnectionDisconnected
	c.syncState = messaging.SyncStateStopped
	c.registry.Reset()
	c.timeline.Reset()
	c.presence.Reset()
	c.notify()
	c.mu.Unlock()

	c.connections.Disconnect(conn)
}

// forget tears down the connection and deletes every persisted trace
// of session, then resets all state. The caller holds c.lifecycle.
func (c *Controller) forget(session *sessionstore.Session) {
	c.teardown()
	if err := c.config.Store.Clear(); err != nil {
		c.logger.Warn("clearing persisted session failed", "error", err)
	}
	if session != nil {
		if err := c.config.Dialer.Discard(*session); err != nil {
			c.logger.Debug("discarding sync cache failed", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.sessionEpoch++
	c.roomFilter = ""
	c.composer = ""
	c.loggingIn = false
	c.sending = false
	c.creatingDM = false
	c.loginError = ""
	c.sendError = ""
	c.dmError = ""
	c.dmDialogOpen = false
	c.notify()
}

// expireSession handles a token the server no longer accepts.
func (c *Controller) expireSession(conn *Connection, cause error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	current := c.connection == conn
	session := c.session
	c.mu.Unlock()
	if !current {
		return
	}

	c.logger.Warn("session expired, logging out", "user_id", conn.Session.UserID, "error", cause)
	c.forget(session)

	c.mu.Lock()
	c.loginError = fmt.Sprintf("session expired: %v", cause)
	c.notify()
	c.mu.Unlock()
}

func (c *Controller) routes(epoch uint64) Routes {
	return Routes{
		Attach: func(conn *Connection) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.session == nil || c.sessionEpoch != epoch {
				return false
			}
			c.connection = conn
			c.registry.Invalidate()
			c.notify()
			return true
		},
		SyncState: c.onSyncState,
		Timeline:  c.onTimeline,
		Rooms:     c.onRoomsChanged,
		Typing:    c.onTyping,
	}
}

func (c *Controller) onSyncState(conn *Connection, notification messaging.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connection != conn {
		return
	}
	c.syncState = notification.SyncState
	switch notification.SyncState {
	case messaging.SyncStatePrepared:
		conn.setState(ConnectionSynced)
		c.connState = ConnectionSynced
		c.refreshRoomsLocked(conn)
	case messaging.SyncStateSyncing:
		c.connState = ConnectionSynced
	case messaging.SyncStateError:
		if messaging.IsAuthFailure(notification.Err) {
			cause := notification.Err
			c.spawn(func(context.Context) { c.expireSession(conn, cause) })
		}
	}
	c.notify()
}

func (c *Controller) onRoomsChanged(conn *Connection, _ messaging.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connection != conn {
		return
	}
	c.refreshRoomsLocked(conn)
	c.notify()
}

func (c *Controller) onTimeline(conn *Connection, notification messaging.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connection != conn {
		return
	}
	if notification.RoomID == c.timeline.RoomID() {
		event := timelineEventFrom(notification.Event,
			conn.Transport.MemberName(notification.RoomID, notification.Event.Sender))
		if c.timeline.OnAppend(event, notification.RoomID, notification.Historical) {
			c.sendReceiptLocked(conn)
			c.notify()
		}
	}
	if !notification.Historical {
		c.registry.ScheduleRefresh(func() {
			if c.connection == conn {
				c.refreshRoomsLocked(conn)
				c.notify()
			}
		})
	}
}

func (c *Controller) onTyping(conn *Connection, notification messaging.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connection != conn || notification.RoomID != c.timeline.RoomID() {
		return
	}
	c.updateTypingLocked(conn)
	c.notify()
}

// refreshRoomsLocked rebuilds the registry and applies the auto-select
// policy. The policy is consumed by the first refresh that finds any
// room.
func (c *Controller) refreshRoomsLocked(conn *Connection) {
	rooms := c.registry.Refresh(conn.Transport)
	if c.registry.autoSelectDone || len(rooms) == 0 {
		return
	}
	c.registry.autoSelectDone = true
	if c.timeline.RoomID().IsZero() && c.platform == PlatformWide {
		c.selectRoomLocked(rooms[0].ID)
	}
}

// selectRoomLocked switches the active room: typing in the old room
// is withdrawn, the timeline is rebuilt from the new room's history,
// and the typing set is recomputed.
func (c *Controller) selectRoomLocked(roomID ref.RoomID) {
	if roomID == c.timeline.RoomID() {
		return
	}
	conn := c.connection
	c.presence.SetRoom(roomID)
	c.sendError = ""

	var history []TimelineEvent
	if conn != nil && !roomID.IsZero() {
		for _, event := range conn.Transport.RoomEvents(roomID) {
			history = append(history, timelineEventFrom(event, conn.Transport.MemberName(roomID, event.Sender)))
		}
	}
	c.timeline.SetActiveRoom(roomID, history)

	if conn != nil && !roomID.IsZero() {
		c.updateTypingLocked(conn)
		c.sendReceiptLocked(conn)
	}
}

func (c *Controller) updateTypingLocked(conn *Connection) {
	roomID := c.timeline.RoomID()
	c.presence.UpdateTyping(conn.Transport.TypingMembers(roomID), c.selfLocked(), func(user ref.UserID) string {
		return conn.Transport.MemberName(roomID, user)
	})
}

// sendReceiptLocked acknowledges the newest message from someone else
// when the visible messages changed. The result is only logged; a
// completion for a room that is no longer active is dropped.
func (c *Controller) sendReceiptLocked(conn *Connection) {
	eventID, due := c.timeline.ReceiptCandidate(c.selfLocked())
	if !due {
		return
	}
	roomID := c.timeline.RoomID()
	c.spawn(func(ctx context.Context) {
		err := conn.Transport.SendReceipt(ctx, roomID, eventID)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.timeline.RoomID() != roomID {
			c.logger.Debug("dropping receipt result for inactive room", "room_id", roomID)
			return
		}
		if err != nil {
			c.logger.Debug("read receipt failed", "room_id", roomID, "event_id", eventID, "error", err)
		}
	})
}

// signalTyping is Presence's outgoing signal. It runs with c.mu held
// and only queues the request.
func (c *Controller) signalTyping(roomID ref.RoomID, typing bool) {
	conn := c.connection
	if conn == nil {
		return
	}
	c.typing.push(typingRequest{conn: conn, roomID: roomID, typing: typing, timeout: c.config.TypingTimeout})
}
