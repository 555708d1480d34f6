// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package spi

import (
	"context"
	"time"

	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/pkg/logging"
	"github.com/dakyri/xypi/pkg/retry"
)

// Device is the consumed SPI transport capability (spec section 1: "the SPI
// driver" is out of scope). One Transfer call is one full-duplex exchange:
// out bytes go out, the same number of bytes come back, the typical shape
// of a single SPI bus transaction.
type Device interface {
	Transfer(out []byte) (in []byte, err error)
}

// OutQueue is the narrow view of internal/queue.Queue[msg.Msg] the engine
// needs to pop its next outbound frame. PopFront is used instead of
// FrontBlocking+RemoveFunc since the SPI outbound queue has exactly one
// consumer and no concurrent "list"/"find" needs to observe the in-flight
// item. PushFront lets the engine itself queue a reply (e.g. a requested
// tempo) ahead of whatever's already queued.
type OutQueue interface {
	PopFront() (msg.Msg, bool)
	PushFront(msg.Msg)
	IsEmpty() bool
}

// Sink receives Msg values the decoder reconstructs from an inbound reply,
// fanning them out to the OSC plane (and, per spec section 2, potentially
// to MIDI).
type Sink interface {
	PushBack(msg.Msg)
}

// idleSleep is how long the engine yields the CPU when the outbound queue
// is empty and the previous transfer's reply was an idle Pong (spec
// section 4.7's "sleeps briefly ... to yield CPU on idle").
const idleSleep = 2 * time.Millisecond

// Engine drives the SPI framing protocol: one Tick is one full-duplex
// transfer, alternating the outbound request (a queued Msg, or a Ping if
// none is queued) with decoding the inbound byte-stream reply.
type Engine struct {
	device  Device
	out     OutQueue
	decoder *Decoder
	framer  *Framer
	log     logging.Logger

	backoff retry.BackoffStrategy
	reopen  func(ctx context.Context) error
	attempt int

	haveLastTempo bool
	lastTempo     float32
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithReopen wires a function that reopens the SPI device, invoked once the
// backoff strategy exhausts its attempts on a persistently failing Transfer
// (original_source/pi_spi.cpp's "reopen SPI device on persistent framing
// error" path, SPEC_FULL.md's C7/pkg-retry expansion).
func WithReopen(reopen func(ctx context.Context) error) Option {
	return func(e *Engine) { e.reopen = reopen }
}

// New builds an Engine over device, popping outbound frames from out and
// logging through log.
func New(device Device, out OutQueue, log logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		device:  device,
		out:     out,
		decoder: NewDecoder(),
		framer:  NewFramer(),
		log:     log,
		backoff: retry.NewExponentialBackoff(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Framer exposes the engine's outbound encoder, e.g. so the hub can query
// DroppedMidi() for diagnostics.
func (e *Engine) Framer() *Framer { return e.framer }

// Tick performs one outbound/inbound exchange and returns every Msg the
// reply completed. It never blocks waiting for outbound work: an empty
// queue still ticks (sending an idle Ping), matching spec section 4.7's
// "drives a single SPI transfer per tick" cadence.
func (e *Engine) Tick(ctx context.Context) ([]msg.Msg, error) {
	outMsg, hasNext := e.out.PopFront()
	if !hasNext {
		outMsg = msg.None()
	}
	if outMsg.Kind() == msg.KindTempo {
		e.lastTempo = outMsg.Tempo()
		e.haveLastTempo = true
	}

	frame, err := e.framer.Encode(outMsg)
	if err != nil {
		logging.LogError(e.log, err, "spi.encode")
		frame = []byte{tagPing}
	}

	reply, err := e.device.Transfer(frame)
	if err != nil {
		return nil, err
	}

	events := make([]msg.Msg, 0, len(reply))
	for _, b := range reply {
		if m, ok := e.decoder.Feed(b); ok {
			events = append(events, m)
		}
	}
	if e.decoder.TempoRequested() {
		e.serveTempoRequest()
	}
	return events, nil
}

// serveTempoRequest answers a SendTempo command byte (spec section 4.7)
// with the last tempo this engine sent outbound, queued for the next tick;
// if no tempo has ever been sent there is nothing to answer with, and the
// request is dropped with a warning rather than sending a stale zero.
func (e *Engine) serveTempoRequest() {
	e.decoder.ClearTempoRequested()
	if !e.haveLastTempo {
		e.log.Warn("spi: tempo requested by microcontroller but no tempo has been set yet")
		return
	}
	e.log.Debug("spi: tempo requested by microcontroller", "bpm", e.lastTempo)
	e.out.PushFront(msg.Tempo(e.lastTempo))
}

// Idle reports whether the engine should sleep before its next tick: the
// outbound queue is empty and the previous reply was a Pong.
func (e *Engine) Idle() bool {
	return e.out.IsEmpty() && e.decoder.LastPong()
}

// Run ticks the engine until ctx is done, pushing every decoded Msg to
// sink and sleeping briefly between idle ticks. A failing Transfer is
// retried with the configured backoff rather than busy-looping; once the
// backoff strategy gives up, WithReopen's reopen function (if any) is
// invoked and the backoff resets for the device's next lease on life.
func (e *Engine) Run(ctx context.Context, sink Sink) {
	for ctx.Err() == nil {
		events, err := e.Tick(ctx)
		if err != nil {
			logging.LogError(e.log, err, "spi.tick", "attempt", e.attempt)
			if !e.awaitRetry(ctx) {
				e.reopenDevice(ctx)
			}
			continue
		}
		e.attempt = 0
		e.backoff.Reset()
		for _, m := range events {
			sink.PushBack(m)
		}
		if e.Idle() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}

// awaitRetry sleeps for the next backoff delay and reports whether another
// attempt should be made before giving up on the current device lease.
func (e *Engine) awaitRetry(ctx context.Context) bool {
	delay, more := e.backoff.NextDelay(e.attempt)
	e.attempt++
	if !more {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	case <-time.After(delay):
		return true
	}
}

// reopenDevice invokes the WithReopen hook after the backoff strategy gives
// up, then resets the backoff so the reopened device gets a fresh attempt
// budget.
func (e *Engine) reopenDevice(ctx context.Context) {
	e.attempt = 0
	e.backoff.Reset()
	if e.reopen == nil {
		return
	}
	if err := e.reopen(ctx); err != nil {
		logging.LogError(e.log, err, "spi.reopen")
	}
}
