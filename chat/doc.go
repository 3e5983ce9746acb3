// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat is the reconciliation layer between a live Matrix
// connection and a presentation layer.
//
// A [Controller] owns all application state: the session, the single
// [Connection], the room list ([Registry]), the active room's timeline
// ([Timeline]), and typing signals ([Presence]). Notifications from the
// connection, timer callbacks, and command completions all mutate that
// state under one mutex, so they apply one at a time. Network calls are
// made without the mutex; their results re-check the active room when
// they are applied.
//
// The presentation layer reads [Controller.Snapshot], waits on
// [Controller.Changes], and drives the [Dispatcher] commands. It never
// touches the connection directly.
package chat
