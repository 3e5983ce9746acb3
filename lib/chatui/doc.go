// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the terminal presentation layer for parley, built
// on bubbletea (Elm architecture).
//
// The [Model] holds no chat state of its own: it renders the latest
// [chat.State] snapshot and turns keystrokes into [Controller] calls.
// It re-reads the snapshot whenever the controller's Changes channel
// fires. Commands that touch the network (login, send, direct-message
// creation, logout) run as tea.Cmds off the update loop; their
// outcomes arrive through the snapshot.
//
// Two layouts follow the controller's platform: wide shows the room
// list beside the active room, compact shows one of them at a time.
// Code blocks in message bodies are highlighted with Chroma using a
// formatter matched to the terminal's color profile.
//
// [LogHandler] routes slog records at warn and above into the status
// line so background failures are visible without writing to the
// alt-screen.
package chatui
