// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package stats

import (
	"sync"

	"gopkg.in/eapache/channels.v1"
)

// Reporter is the sending side of the statistics channel. Reporting never
// blocks and never fails; a nil Reporter silently drops everything.
type Reporter struct {
	sync.RWMutex

	ch     *channels.InfiniteChannel
	closed bool
}

// NewReporter returns a Reporter with an unbounded buffer.
func NewReporter() *Reporter {
	return &Reporter{
		ch: channels.NewInfiniteChannel(),
	}
}

// Report queues e.
func (r *Reporter) Report(e Event) {
	if r == nil {
		return
	}
	r.RLock()
	defer r.RUnlock()
	if r.closed {
		return
	}
	r.ch.In() <- e
}

// Len returns the number of events not yet consumed.
func (r *Reporter) Len() int {
	return r.ch.Len()
}

// Close stops accepting events. Events already queued are still delivered.
func (r *Reporter) Close() {
	r.Lock()
	defer r.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.ch.Close()
}

func (r *Reporter) out() <-chan interface{} {
	return r.ch.Out()
}
