// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/messaging"
)

// DefaultInitialHistory is the per-room timeline depth of the first
// sync.
const DefaultInitialHistory = 20

// errSuperseded is returned by Connect when Attach declined the new
// connection because the session changed while it was being built.
var errSuperseded = errors.New("chat: session replaced while connecting")

// Connection is one live transport bound to one session.
type Connection struct {
	Session      sessionstore.Session
	Transport    Transport
	Capabilities messaging.Capabilities

	mu            sync.Mutex
	state         ConnectionState
	subscriptions []*messaging.Subscription
}

// State returns the connection's lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConnectionStopped {
		c.state = state
	}
}

// Routes receives a connection's notifications. Each handler is passed
// the Connection it was registered on, so it can drop deliveries from a
// connection that is no longer current.
type Routes struct {
	// Attach is called after capability negotiation and before any
	// subscription. Returning false abandons the connection.
	Attach func(*Connection) bool

	SyncState func(*Connection, messaging.Notification)
	Timeline  func(*Connection, messaging.Notification)
	Rooms     func(*Connection, messaging.Notification)
	Typing    func(*Connection, messaging.Notification)
}

// ConnectionManager builds and tears down Connections. It holds no
// reference to the current connection; the Controller does.
type ConnectionManager struct {
	dialer         Dialer
	logger         *slog.Logger
	initialHistory int
}

func newConnectionManager(dialer Dialer, logger *slog.Logger, initialHistory int) *ConnectionManager {
	return &ConnectionManager{dialer: dialer, logger: logger, initialHistory: initialHistory}
}

// Connect dials a transport for session, negotiates capabilities,
// attempts secure-channel setup, subscribes routes, and starts syncing.
// Secure-channel failure is logged and downgraded. Any other failure
// tears down what was built and is returned.
func (m *ConnectionManager) Connect(ctx context.Context, session sessionstore.Session, routes Routes) (*Connection, error) {
	transport, err := m.dialer.Dial(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("chat: connecting as %s: %w", session.UserID, err)
	}
	conn := &Connection{Session: session, Transport: transport, state: ConnectionConnecting}
	logger := m.logger.With("user_id", session.UserID)

	capabilities, err := transport.NegotiateCapabilities(ctx)
	if err != nil {
		logger.Debug("capability negotiation failed, using defaults", "error", err)
	}
	if err := transport.InitSecureChannel(ctx); err != nil {
		logger.Debug("secure channel unavailable", "error", err)
		capabilities.SecureChannel = false
	} else {
		capabilities.SecureChannel = true
	}
	conn.Capabilities = capabilities

	if routes.Attach != nil && !routes.Attach(conn) {
		conn.setState(ConnectionStopped)
		m.stop(conn)
		return nil, errSuperseded
	}

	conn.mu.Lock()
	conn.subscriptions = []*messaging.Subscription{
		transport.Subscribe(messaging.SyncStateChanged, bind(conn, routes.SyncState)),
		transport.Subscribe(messaging.TimelineAppended, bind(conn, routes.Timeline)),
		transport.Subscribe(messaging.RoomsChanged, bind(conn, routes.Rooms)),
		transport.Subscribe(messaging.TypingChanged, bind(conn, routes.Typing)),
	}
	conn.mu.Unlock()

	if err := transport.Start(ctx, messaging.StartOptions{
		InitialHistory:  m.initialHistory,
		LazyLoadMembers: true,
	}); err != nil {
		m.Disconnect(conn)
		return nil, fmt.Errorf("chat: starting sync: %w", err)
	}
	logger.Info("connected",
		"receipts", capabilities.Receipts.String(),
		"secure_channel", capabilities.SecureChannel,
	)
	return conn, nil
}

func bind(conn *Connection, handler func(*Connection, messaging.Notification)) func(messaging.Notification) {
	return func(notification messaging.Notification) {
		if handler != nil {
			handler(conn, notification)
		}
	}
}

// Disconnect unsubscribes every route and stops the transport. Stop
// failures, including panics, are logged and swallowed. Disconnect is
// idempotent and must not be called from a notification handler.
func (m *ConnectionManager) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}
	conn.mu.Lock()
	if conn.state == ConnectionStopped {
		conn.mu.Unlock()
		return
	}
	conn.state = ConnectionStopped
	subscriptions := conn.subscriptions
	conn.subscriptions = nil
	conn.mu.Unlock()

	for _, subscription := range subscriptions {
		subscription.Unsubscribe()
	}
	m.stop(conn)
}

func (m *ConnectionManager) stop(conn *Connection) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Warn("transport stop panicked", "user_id", conn.Session.UserID, "panic", recovered)
		}
	}()
	if err := conn.Transport.Stop(); err != nil {
		m.logger.Debug("transport stop failed", "user_id", conn.Session.UserID, "error", err)
	}
}
