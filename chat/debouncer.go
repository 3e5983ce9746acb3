// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"time"

	"github.com/bureau-foundation/parley/lib/clock"
)

// debouncer holds at most one pending callback. Scheduling always
// cancels the previous one first.
//
// A debouncer is not safe for concurrent use: every method must be
// called with the owner's lock held, and guard must acquire that same
// lock. The generation check in the fired callback makes a timer that
// fired while its owner was cancelling it a no-op.
type debouncer struct {
	clock      clock.Clock
	guard      func(func())
	timer      *clock.Timer
	generation uint64
}

func newDebouncer(clk clock.Clock, guard func(func())) *debouncer {
	return &debouncer{clock: clk, guard: guard}
}

// Schedule runs f under guard after delay, replacing any pending
// callback. delay must be positive: a fake clock runs non-positive
// delays inline, which would re-enter guard.
func (d *debouncer) Schedule(delay time.Duration, f func()) {
	d.Cancel()
	generation := d.generation
	d.timer = d.clock.AfterFunc(delay, func() {
		d.guard(func() {
			if d.generation != generation {
				return
			}
			d.timer = nil
			f()
		})
	})
}

// Pending reports whether a callback is scheduled.
func (d *debouncer) Pending() bool { return d.timer != nil }

// Cancel drops the pending callback, if any.
func (d *debouncer) Cancel() {
	d.generation++
	d.timer.Stop()
	d.timer = nil
}
