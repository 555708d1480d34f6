// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the hub's worker template (spec section 4.5),
// grounded on original_source/worker.h/worker.cpp: a thread that drains a
// queue, processes the head item, and removes it once processing
// completes, so concurrent "list"/"find" can still observe an in-flight
// item.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dakyri/xypi/pkg/logging"
	"github.com/dakyri/xypi/pkg/metrics"
	"github.com/dakyri/xypi/pkg/retry"
)

// Queue is the narrow view of internal/queue.Queue[T] the worker needs.
type Queue[T any] interface {
	FrontBlocking(ctx context.Context) (T, bool)
	RemoveFunc(pred func(T) bool) bool
	SetBlocking(on bool)
}

// Handler processes one dequeued item. A non-nil error is logged and counted
// before the item is removed; recording a result for the item is left to the
// handler itself.
type Handler[T any] func(ctx context.Context, item T) error

// IdentityFunc reports whether a queued item is the one being removed,
// mirroring the teacher queue's "remove by shared identity" contract.
type IdentityFunc[T any] func(T) bool

// Worker drains a single queue on its own goroutine, matching spec section
// 4.5's one-thread-per-queue worker template. T is the queue element type.
type Worker[T any] struct {
	q       Queue[T]
	handle  Handler[T]
	identOf func(T) IdentityFunc[T]
	policy  retry.Policy
	reboot  retry.RebootFunc

	log     logging.Logger
	metrics metrics.Counters

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Worker at construction.
type Option[T any] func(*Worker[T])

// WithRetry attaches the reboot-and-retry-once policy (spec section 4.5)
// used when handle returns a retryable error.
func WithRetry[T any](policy retry.Policy, reboot retry.RebootFunc) Option[T] {
	return func(w *Worker[T]) {
		w.policy = policy
		w.reboot = reboot
	}
}

// New builds a Worker draining q with handle, identified for removal by
// identOf (called once per dequeued item to build a predicate matching
// that specific item).
func New[T any](q Queue[T], handle Handler[T], identOf func(T) IdentityFunc[T], log logging.Logger, opts ...Option[T]) *Worker[T] {
	w := &Worker[T]{q: q, handle: handle, identOf: identOf, log: log}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start transitions the worker false->true and spawns its goroutine; a
// second Start on an already-running worker is a no-op (spec section 4.5's
// atomic running-flag transition).
func (w *Worker[T]) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.q.SetBlocking(true)

	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop transitions true->false, disables queue blocking to release the
// drain goroutine out of FrontBlocking, and joins it.
func (w *Worker[T]) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.q.SetBlocking(false)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Metrics returns a snapshot of this worker's processed/errored/retried counts.
func (w *Worker[T]) Metrics() metrics.Snapshot { return w.metrics.Snapshot() }

func (w *Worker[T]) loop(ctx context.Context) {
	defer w.wg.Done()
	for w.running.Load() {
		item, ok := w.q.FrontBlocking(ctx)
		if !ok {
			continue
		}
		w.processOne(ctx, item)
	}
}

func (w *Worker[T]) processOne(ctx context.Context, item T) {
	var err error
	if w.policy != nil {
		attempts := 0
		err = retry.WithReboot(ctx, w.policy, w.reboot, func(ctx context.Context) error {
			attempts++
			return w.handle(ctx, item)
		})
		if attempts > 1 {
			w.metrics.IncRetried()
		}
	} else {
		err = w.handle(ctx, item)
	}

	if err != nil {
		w.metrics.IncErrored()
		logging.LogError(w.log, err, "worker.process")
	} else {
		w.metrics.IncProcessed()
	}

	w.q.RemoveFunc(w.identOf(item))
}
