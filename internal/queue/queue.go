// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the hub's locked FIFO (spec section 4.1): a
// thread-safe queue over any payload type, with an optional blocking
// front-peek so a worker can wait for work without spinning, and without
// removing the head until it has finished processing it (so a concurrent
// "list"/"find" still observes the in-flight item).
package queue

import (
	"container/list"
	"context"
	"sync"
)

// Queue is a thread-safe FIFO of T, modeled on locked::queue<T> (see
// original_source/locked/queue.h): push_back/push_front, a blocking
// front-peek that does not remove, predicate-based removal and scan, and a
// running/blocking toggle used to release waiters at shutdown.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    *list.List
	running  bool
	blocking bool
}

// New creates an empty queue. The queue starts disabled (pushes are dropped)
// until Enable is called, matching the teacher queue's isRunning gate.
func New[T any]() *Queue[T] {
	q := &Queue[T]{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enable marks the queue running; pushes are no-ops while disabled.
func (q *Queue[T]) Enable(on bool) {
	q.mu.Lock()
	q.running = on
	q.mu.Unlock()
}

// SetBlocking toggles whether FrontBlocking waits for data. Clearing it
// wakes every blocked waiter, which observes a false ok.
func (q *Queue[T]) SetBlocking(on bool) {
	q.mu.Lock()
	q.blocking = on
	q.mu.Unlock()
	q.cond.Broadcast()
}

// PushBack appends v, preserving arrival order for ordinary (non-urgent) work.
func (q *Queue[T]) PushBack(v T) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.items.PushBack(v)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// PushFront prepends v: the "urgent" routing hint (spec section 4.4/9),
// making v the next item FrontBlocking returns regardless of queue depth.
func (q *Queue[T]) PushFront(v T) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.items.PushFront(v)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// FrontBlocking returns the head item without removing it. If blocking is
// enabled and the queue is empty, it waits until an item arrives, blocking
// is disabled, or ctx is done. ok is false if it returned with no item.
func (q *Queue[T]) FrontBlocking(ctx context.Context) (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 && q.blocking {
		done := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			close(done)
			q.mu.Unlock()
			q.cond.Broadcast()
		})
		defer stop()

		for q.items.Len() == 0 && q.blocking {
			select {
			case <-done:
				return v, false
			default:
			}
			q.cond.Wait()
		}
	}

	if q.items.Len() == 0 {
		return v, false
	}
	return q.items.Front().Value.(T), true
}

// PopFront atomically returns and removes the head item, or ok=false if
// the queue is empty. Unlike FrontBlocking, this does remove the item; it
// exists for single-consumer queues (the SPI engine's outbound queue) where
// no concurrent "list"/"find" needs to observe the in-flight item, so the
// peek-then-remove race FrontBlocking+RemoveFunc would have is avoided.
func (q *Queue[T]) PopFront() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		return v, false
	}
	q.items.Remove(e)
	return e.Value.(T), true
}

// RemoveFunc removes the first element for which pred returns true,
// mirroring the teacher's remove-by-shared-identity; callers pass a
// closure comparing by pointer/id since payloads need not be comparable.
func (q *Queue[T]) RemoveFunc(pred func(T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = e.Next() {
		if pred(e.Value.(T)) {
			q.items.Remove(e)
			return true
		}
	}
	return false
}

// FindQOrder returns the zero-based position of the first element matching
// pred, or -1 if none matches.
func (q *Queue[T]) FindQOrder(pred func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := 0
	for e := q.items.Front(); e != nil; e = e.Next() {
		if pred(e.Value.(T)) {
			return i
		}
		i++
	}
	return -1
}

// ForEach applies f to every queued element under the lock. f must not
// call back into this queue (push/pop/remove), or it deadlocks.
func (q *Queue[T]) ForEach(f func(T)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = e.Next() {
		f(e.Value.(T))
	}
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
