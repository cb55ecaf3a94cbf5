// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package realmessages

import (
	"sync"

	"gopkg.in/eapache/channels.v1"
)

// unboundedQueue is an InfiniteChannel that may be pushed to after it was
// closed. Pushes on a closed queue are dropped.
type unboundedQueue struct {
	sync.RWMutex

	ch     *channels.InfiniteChannel
	closed bool
}

func newUnboundedQueue() *unboundedQueue {
	return &unboundedQueue{ch: channels.NewInfiniteChannel()}
}

func (q *unboundedQueue) push(v interface{}) bool {
	q.RLock()
	defer q.RUnlock()
	if q.closed {
		return false
	}
	q.ch.In() <- v
	return true
}

func (q *unboundedQueue) out() <-chan interface{} {
	return q.ch.Out()
}

func (q *unboundedQueue) len() int {
	return q.ch.Len()
}

func (q *unboundedQueue) close() {
	q.Lock()
	defer q.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.ch.Close()
}
