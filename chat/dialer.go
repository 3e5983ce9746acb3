// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/lib/synccache"
	"github.com/bureau-foundation/parley/messaging"
)

// MatrixDialer is the production Dialer.
type MatrixDialer struct {
	// HTTPClient is shared by every connection. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	// DeviceDisplayName is sent with password logins.
	DeviceDisplayName string

	// Cache configures the sync snapshot cache. A zero Directory
	// means synccache.DefaultDirectory(); set DisableCache to run
	// without one.
	Cache        synccache.Config
	DisableCache bool

	MaxTimelineEvents int
	Clock             clock.Clock
	Logger            *slog.Logger
}

func (d *MatrixDialer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *MatrixDialer) client(homeserver string) (*messaging.Client, error) {
	return messaging.NewClient(messaging.ClientConfig{
		HomeserverURL:     homeserver,
		HTTPClient:        d.HTTPClient,
		DeviceDisplayName: d.DeviceDisplayName,
		Logger:            d.logger(),
	})
}

// Login implements Dialer.
func (d *MatrixDialer) Login(ctx context.Context, homeserver, username string, password *secret.Buffer) (*sessionstore.Session, error) {
	client, err := d.client(homeserver)
	if err != nil {
		return nil, err
	}
	session, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return &sessionstore.Session{
		ServerURL:   client.BaseURL(),
		AccessToken: session.AccessToken(),
		UserID:      session.UserID(),
		DeviceID:    session.DeviceID(),
	}, nil
}

// Dial implements Dialer. A sync cache that cannot be opened is logged
// and skipped.
func (d *MatrixDialer) Dial(ctx context.Context, record sessionstore.Session) (Transport, error) {
	client, err := d.client(record.ServerURL)
	if err != nil {
		return nil, err
	}
	session, err := client.SessionFromToken(record.UserID, record.DeviceID, record.AccessToken)
	if err != nil {
		return nil, err
	}

	var cache messaging.SnapshotCache
	if !d.DisableCache {
		opened, err := synccache.New(d.Cache, record.ServerURL, record.UserID, session.AccessTokenBuffer())
		if err != nil {
			d.logger().Warn("sync cache unavailable", "error", err)
		} else {
			cache = opened
		}
	}

	live, err := messaging.NewLiveClient(messaging.LiveClientConfig{
		Session:           session,
		Clock:             d.Clock,
		Logger:            d.logger(),
		Cache:             cache,
		MaxTimelineEvents: d.MaxTimelineEvents,
	})
	if err != nil {
		session.Close()
		if cache != nil {
			cache.Close()
		}
		return nil, fmt.Errorf("chat: %w", err)
	}
	return live, nil
}

// Discard implements Dialer by deleting the session's sync cache.
func (d *MatrixDialer) Discard(record sessionstore.Session) error {
	if d.DisableCache {
		return nil
	}
	token, err := secret.NewFromString(record.AccessToken)
	if err != nil {
		return err
	}
	defer token.Close()
	cache, err := synccache.New(d.Cache, record.ServerURL, record.UserID, token)
	if err != nil {
		return err
	}
	defer cache.Close()
	return cache.Clear()
}
