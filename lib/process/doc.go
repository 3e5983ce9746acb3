// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint error handler. It is
// the one place that writes to stderr before the structured logger
// exists or after the terminal UI has exited.
package process
