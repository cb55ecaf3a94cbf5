// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package queue implements a min-heap based priority queue.
package queue

import (
	"container/heap"
)

// Entry is a PriorityQueue entry.
type Entry[T any] struct {
	Value    T
	Priority int64
}

type entries[T any] []*Entry[T]

func (h entries[T]) Len() int           { return len(h) }
func (h entries[T]) Less(i, j int) bool { return h[i].Priority < h[j].Priority }
func (h entries[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entries[T]) Push(x any) {
	*h = append(*h, x.(*Entry[T]))
}

func (h *entries[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// PriorityQueue is a priority queue instance. It is not safe for
// concurrent use.
type PriorityQueue[T any] struct {
	heap entries[T]
}

// New creates a new PriorityQueue.
func New[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

// Enqueue inserts the provided value, into the queue with the specified
// priority.
func (q *PriorityQueue[T]) Enqueue(priority int64, value T) {
	heap.Push(&q.heap, &Entry[T]{Value: value, Priority: priority})
}

// Peek returns the entry with the lowest priority if any, leaving the
// PriorityQueue unaltered. Callers MUST NOT alter the Priority of the
// returned entry.
func (q *PriorityQueue[T]) Peek() *Entry[T] {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// Pop removes and returns the entry with the lowest priority if any.
func (q *PriorityQueue[T]) Pop() *Entry[T] {
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*Entry[T])
}

// PopUntil removes and returns, in priority order, every entry with a
// priority not above limit.
func (q *PriorityQueue[T]) PopUntil(limit int64) []*Entry[T] {
	var out []*Entry[T]
	for len(q.heap) > 0 && q.heap[0].Priority <= limit {
		out = append(out, heap.Pop(&q.heap).(*Entry[T]))
	}
	return out
}

// Len returns the current length of the priority queue.
func (q *PriorityQueue[T]) Len() int {
	return len(q.heap)
}
