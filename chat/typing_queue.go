// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/parley/lib/ref"
)

// typingRequest is one outgoing typing state.
type typingRequest struct {
	conn    *Connection
	roomID  ref.RoomID
	typing  bool
	timeout time.Duration

	// done, when set, receives the request's result. A request with a
	// waiter is never superseded.
	done chan error
}

// typingQueue delivers typing states one at a time, in the order they
// were pushed, so the server always ends on the newest state. A
// queued request that has not started is dropped when a newer one for
// the same connection and room arrives.
type typingQueue struct {
	logger         *slog.Logger
	requestTimeout time.Duration
	workers        *sync.WaitGroup

	mu      sync.Mutex
	pending []typingRequest
	running bool
}

func newTypingQueue(logger *slog.Logger, requestTimeout time.Duration, workers *sync.WaitGroup) *typingQueue {
	return &typingQueue{logger: logger, requestTimeout: requestTimeout, workers: workers}
}

// push queues request without blocking.
func (q *typingQueue) push(request typingRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = slices.DeleteFunc(q.pending, func(queued typingRequest) bool {
		return queued.done == nil && queued.conn == request.conn && queued.roomID == request.roomID
	})
	q.pending = append(q.pending, request)
	if !q.running {
		q.running = true
		q.workers.Add(1)
		go q.drain()
	}
}

// deliver queues request behind everything already pushed and waits
// for it to be sent.
func (q *typingQueue) deliver(ctx context.Context, request typingRequest) error {
	request.done = make(chan error, 1)
	q.push(request)
	select {
	case err := <-request.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *typingQueue) drain() {
	defer q.workers.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		request := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.requestTimeout)
		err := request.conn.Transport.SendTyping(ctx, request.roomID, request.typing, request.timeout)
		cancel()
		if err != nil {
			q.logger.Debug("typing signal failed", "room_id", request.roomID, "typing", request.typing, "error", err)
		}
		if request.done != nil {
			request.done <- err
		}
	}
}
