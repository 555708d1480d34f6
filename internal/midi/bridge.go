// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package midi implements the local MIDI bridge (spec section 4.8),
// grounded on original_source/pi_midi.cpp/pi_midi.h. Port enumeration and
// callback delivery are a consumed capability (spec section 1: "the
// low-level MIDI library"), so the bridge is specified against the small
// InPort/OutPort interfaces below rather than importing a concrete driver.
package midi

import (
	"context"
	"fmt"

	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/pkg/logging"
)

// InCallback is invoked by the driver for every inbound MIDI event: a
// timestamp (driver-defined units) and the raw byte buffer.
type InCallback func(timestampMs uint32, data []byte)

// InPort is one enumerated MIDI input port.
type InPort interface {
	Name() string
	// SetCallback registers the handler the driver invokes per inbound event.
	SetCallback(cb InCallback) error
	Close() error
}

// OutPort is one enumerated MIDI output port.
type OutPort interface {
	Name() string
	Write(data []byte) error
	Close() error
}

// OutQueue is the narrow view of internal/queue.Queue[msg.Msg] the bridge
// needs to drain midiOutQ. PopFront is used since midiOutQ has exactly one
// consumer (this bridge's Drain loop).
type OutQueue interface {
	FrontBlocking(ctx context.Context) (msg.Msg, bool)
	PopFront() (msg.Msg, bool)
}

// Sink receives a Msg the bridge builds from an inbound MIDI callback.
type Sink interface {
	PushBack(msg.Msg)
}

// Bridge enumerates MIDI ports at Start and feeds the same internal Msg
// type the SPI and OSC planes use (spec section 2): inbound bytes become
// Msg values pushed to both spiInQ and oscInQ; outbound Msg values drain
// midiOutQ and are written to the first open output port.
type Bridge struct {
	spiIn  Sink
	oscIn  Sink
	outQ   OutQueue
	log    logging.Logger

	ins  []InPort
	outs []OutPort
}

// New builds a Bridge pushing inbound events to spiIn and oscIn and
// draining outQ to whichever output port Start opens.
func New(spiIn, oscIn Sink, outQ OutQueue, log logging.Logger) *Bridge {
	return &Bridge{spiIn: spiIn, oscIn: oscIn, outQ: outQ, log: log}
}

// Start registers this bridge's callback on every input port and records
// the output ports available for Drain to write to.
func (b *Bridge) Start(ins []InPort, outs []OutPort) error {
	b.ins = ins
	b.outs = outs
	for i, in := range ins {
		port := uint8(i)
		if err := in.SetCallback(func(timestampMs uint32, data []byte) {
			b.handleIn(port, timestampMs, data)
		}); err != nil {
			return fmt.Errorf("midi: registering callback on %q: %w", in.Name(), err)
		}
	}
	return nil
}

// Stop closes every port this bridge opened.
func (b *Bridge) Stop() {
	for _, in := range b.ins {
		if err := in.Close(); err != nil {
			logging.LogError(b.log, err, "midi.close_input")
		}
	}
	for _, out := range b.outs {
		if err := out.Close(); err != nil {
			logging.LogError(b.log, err, "midi.close_output")
		}
	}
}

// handleIn is the driver callback: buffers of 3 bytes or fewer become a
// MidiAtom pushed to both queues; longer buffers (SysEx) are dropped with
// a warning (spec section 4.8).
func (b *Bridge) handleIn(port uint8, timestampMs uint32, data []byte) {
	if len(data) == 0 || len(data) > 3 {
		b.log.Warn("midi: dropping out-of-range buffer", "port", port, "len", len(data))
		return
	}
	atom := msg.MidiAtom{Port: port, Status: data[0]}
	if len(data) > 1 {
		atom.Data1 = data[1]
	}
	if len(data) > 2 {
		atom.Data2 = data[2]
	}
	m := msg.Midi(atom)
	b.spiIn.PushBack(m)
	b.oscIn.PushBack(m)
}

// Drain pops Msg values from midiOutQ until ctx is done, writing each to
// the first open output port. It is meant to run on its own goroutine,
// mirroring the spec.md 4.8 "drains midiOutQ" loop.
func (b *Bridge) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		if _, ok := b.outQ.FrontBlocking(ctx); !ok {
			continue
		}
		if m, ok := b.outQ.PopFront(); ok {
			b.writeOut(m)
		}
	}
}

func (b *Bridge) writeOut(m msg.Msg) {
	if len(b.outs) == 0 {
		b.log.Warn("midi: no open output port, dropping outbound message")
		return
	}
	out := b.outs[0]

	var atoms []msg.MidiAtom
	switch m.Kind() {
	case msg.KindMidi:
		atoms = []msg.MidiAtom{m.Midi()}
	case msg.KindMidiList:
		atoms = m.MidiList()
	default:
		b.log.Warn("midi: Msg kind has no MIDI wire encoding", "kind", m.Kind().String())
		return
	}

	for _, a := range atoms {
		wire := wireBytes(a)
		if err := out.Write(wire); err != nil {
			logging.LogError(b.log, err, "midi.write", "port", out.Name())
		}
	}
}

// wireBytes reconstructs the raw MIDI bytes for atom using the per-status
// payload-length table (spec section 4.8): system vs channel-voice.
func wireBytes(a msg.MidiAtom) []byte {
	n := msg.PayloadLen(a.Status)
	switch n {
	case 0:
		return []byte{a.Status}
	case 1:
		return []byte{a.Status, a.Data1}
	default:
		return []byte{a.Status, a.Data1, a.Data2}
	}
}
