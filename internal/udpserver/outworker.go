// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package udpserver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/pkg/logging"
	"github.com/dakyri/xypi/pkg/metrics"
)

// OutQueue is the narrow view of internal/queue.Queue[msg.Msg] the OSC-out
// worker needs. oscInQ has exactly one consumer (this worker), so PopFront
// is used for atomic pop rather than the peek-then-remove pattern
// FrontBlocking+RemoveFunc would need for a queue with a concurrent
// "list"/"find" reader.
type OutQueue interface {
	FrontBlocking(ctx context.Context) (msg.Msg, bool)
	PopFront() (msg.Msg, bool)
}

// Sender transmits one Msg over the OSC plane.
type Sender interface {
	Send(msg.Msg) error
}

// OutWorker drains oscInQ and hands each Msg to the UDP server for
// transmission (spec section 4.11: "OSC-out worker references oscInQ and
// UDP server"). It runs its own drain loop rather than internal/worker.Worker.
type OutWorker struct {
	q    OutQueue
	send Sender
	log  logging.Logger

	metrics metrics.Counters

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOutWorker builds an OutWorker draining q, sending each item via send.
func NewOutWorker(q OutQueue, send Sender, log logging.Logger) *OutWorker {
	return &OutWorker{q: q, send: send, log: log}
}

// Start spawns the drain goroutine; a second Start is a no-op.
func (w *OutWorker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop joins the drain goroutine.
func (w *OutWorker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Metrics returns a snapshot of this worker's processed/errored counts.
func (w *OutWorker) Metrics() metrics.Snapshot { return w.metrics.Snapshot() }

func (w *OutWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	for w.running.Load() {
		if _, ok := w.q.FrontBlocking(ctx); !ok {
			continue
		}
		m, ok := w.q.PopFront()
		if !ok {
			continue
		}
		if err := w.send.Send(m); err != nil {
			w.metrics.IncErrored()
			logging.LogError(w.log, err, "udpserver.out_worker")
			continue
		}
		w.metrics.IncProcessed()
	}
}
