// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is parley's Matrix client-server API client.
//
// It has two layers. Client and Session are thin, stateless wrappers
// over individual HTTP endpoints (/login, /sync, /send, /typing,
// /receipt, /createRoom, ...), with every non-2xx response surfaced as
// a *MatrixError. LiveClient builds on a Session: it runs the long-poll
// /sync loop, keeps an in-memory model of every joined room (state,
// members, a bounded timeline, typing users), and publishes change
// notifications to subscribers.
//
// LiveClient applies each sync response under its own lock and then
// delivers notifications on the sync goroutine, in server order, after
// the lock is released. Subscribers may therefore query the LiveClient
// from inside a handler.
package messaging
