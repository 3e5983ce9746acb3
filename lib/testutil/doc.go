// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for parley packages.
//
// [RequireReceive], [RequireReceiveMatch], and [RequireClosed]
// encapsulate the timeout safety valve pattern (select with a
// time.After fallback) so that individual tests do not need direct
// time.After calls. They are the only place in the test suite where
// real wall-clock timeouts are used; everything timer-driven runs on
// clock.Fake instead.
//
// [UniqueID] generates monotonically increasing identifiers for
// transaction IDs and message bodies that must be distinguishable.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no parley-internal dependencies.
package testutil
