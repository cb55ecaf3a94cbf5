// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transmission

import (
	"sync"
)

// LaneQueueLengths publishes the outbound queue length of every lane to the
// producers feeding it, so that they can slow down on a congested lane.
type LaneQueueLengths struct {
	sync.RWMutex

	lengths map[Lane]int
}

// NewLaneQueueLengths returns an empty LaneQueueLengths.
func NewLaneQueueLengths() *LaneQueueLengths {
	return &LaneQueueLengths{
		lengths: make(map[Lane]int),
	}
}

// Set records the queue length of lane. A length of zero removes the entry.
func (l *LaneQueueLengths) Set(lane Lane, length int) {
	l.Lock()
	defer l.Unlock()
	if length <= 0 {
		delete(l.lengths, lane)
		return
	}
	l.lengths[lane] = length
}

// Get returns the last published queue length of lane.
func (l *LaneQueueLengths) Get(lane Lane) int {
	l.RLock()
	defer l.RUnlock()
	return l.lengths[lane]
}

// Remove drops lane.
func (l *LaneQueueLengths) Remove(lane Lane) {
	l.Set(lane, 0)
}

// Total returns the sum of every published length.
func (l *LaneQueueLengths) Total() int {
	l.RLock()
	defer l.RUnlock()
	n := 0
	for _, v := range l.lengths {
		n += v
	}
	return n
}
