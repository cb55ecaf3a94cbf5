// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transmission

import (
	"math/rand"
	"time"
)

// MaxConnectionIdle is how long a connection lane may go without being
// written to before PruneStaleConnections drops it.
const MaxConnectionIdle = 10 * time.Minute

// Sizer is implemented by items that know their encoded size.
type Sizer interface {
	Size() int
}

// LanedItem is an item together with the lane it was queued on.
type LanedItem[T any] struct {
	Lane Lane
	Item T
}

type laneBuffer[T any] struct {
	items        []T
	lastModified time.Time
}

func (b *laneBuffer[T]) pop() T {
	item := b.items[0]
	var zero T
	b.items[0] = zero
	b.items = b.items[1:]
	return item
}

// Buffer holds items in per lane FIFO queues. Lanes are served in random
// order so that no single lane can starve the others. Buffer is not safe
// for concurrent use; it is owned by exactly one task.
type Buffer[T any] struct {
	lanes map[Lane]*laneBuffer[T]
	order []Lane
	now   func() time.Time
}

// NewBuffer returns an empty Buffer.
func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{
		lanes: make(map[Lane]*laneBuffer[T]),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for lane staleness.
func (b *Buffer[T]) SetClock(now func() time.Time) {
	b.now = now
}

// Store appends items to lane.
func (b *Buffer[T]) Store(lane Lane, items ...T) {
	if len(items) == 0 {
		return
	}
	lb, ok := b.lanes[lane]
	if !ok {
		lb = new(laneBuffer[T])
		b.lanes[lane] = lb
		b.order = append(b.order, lane)
	}
	lb.items = append(lb.items, items...)
	lb.lastModified = b.now()
}

// StoreMultiple puts every item back on its own lane.
func (b *Buffer[T]) StoreMultiple(items []LanedItem[T]) {
	for _, it := range items {
		b.Store(it.Lane, it.Item)
	}
}

// Remove drops lane and returns everything that was queued on it.
func (b *Buffer[T]) Remove(lane Lane) []T {
	lb, ok := b.lanes[lane]
	if !ok {
		return nil
	}
	delete(b.lanes, lane)
	for i, l := range b.order {
		if l == lane {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return lb.items
}

// PopNextAtRandom pops the oldest item of a uniformly chosen lane.
func (b *Buffer[T]) PopNextAtRandom(rng *rand.Rand) (Lane, T, bool) {
	var zero T
	if len(b.order) == 0 {
		return Lane{}, zero, false
	}
	lane := b.order[rng.Intn(len(b.order))]
	lb := b.lanes[lane]
	item := lb.pop()
	if len(lb.items) == 0 {
		b.Remove(lane)
	}
	return lane, item, true
}

// PopAtMostN pops up to n items, each from a uniformly chosen lane.
func (b *Buffer[T]) PopAtMostN(rng *rand.Rand, n int) []LanedItem[T] {
	if n <= 0 || b.TotalSize() == 0 {
		return nil
	}
	out := make([]LanedItem[T], 0, min(n, b.TotalSize()))
	for len(out) < n {
		lane, item, ok := b.PopNextAtRandom(rng)
		if !ok {
			break
		}
		out = append(out, LanedItem[T]{Lane: lane, Item: item})
	}
	return out
}

// LaneLength returns the number of items queued on lane, and false if the
// lane does not exist.
func (b *Buffer[T]) LaneLength(lane Lane) (int, bool) {
	lb, ok := b.lanes[lane]
	if !ok {
		return 0, false
	}
	return len(lb.items), true
}

// TotalSize returns the number of items queued on all lanes.
func (b *Buffer[T]) TotalSize() int {
	n := 0
	for _, lb := range b.lanes {
		n += len(lb.items)
	}
	return n
}

// TotalSizeInBytes sums Size() over every queued item implementing Sizer.
func (b *Buffer[T]) TotalSizeInBytes() int {
	n := 0
	for _, lb := range b.lanes {
		for _, item := range lb.items {
			if s, ok := any(item).(Sizer); ok {
				n += s.Size()
			}
		}
	}
	return n
}

// NumLanes returns the number of non empty lanes.
func (b *Buffer[T]) NumLanes() int {
	return len(b.order)
}

// IsEmpty returns true iff nothing is queued.
func (b *Buffer[T]) IsEmpty() bool {
	return len(b.order) == 0
}

// Lanes returns the current lanes in insertion order.
func (b *Buffer[T]) Lanes() []Lane {
	out := make([]Lane, len(b.order))
	copy(out, b.order)
	return out
}

// PruneStaleConnections drops connection lanes that were not written to
// within MaxConnectionIdle and returns the items they held.
func (b *Buffer[T]) PruneStaleConnections() []LanedItem[T] {
	now := b.now()
	var stale []Lane
	for _, lane := range b.order {
		if !lane.IsConnection() {
			continue
		}
		if now.Sub(b.lanes[lane].lastModified) > MaxConnectionIdle {
			stale = append(stale, lane)
		}
	}
	var dropped []LanedItem[T]
	for _, lane := range stale {
		for _, item := range b.Remove(lane) {
			dropped = append(dropped, LanedItem[T]{Lane: lane, Item: item})
		}
	}
	return dropped
}
