// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package spi

import (
	"encoding/binary"
	"math"

	"github.com/dakyri/xypi/internal/msg"
)

type state int

const (
	stCmdByte state = iota
	stMidiStatus
	stMidiData1
	stMidiData2
	stTempoByte
	stDiagLen
	stDiagData
)

// Decoder is the inbound byte-stream state machine (spec section 4.7's
// table): fed one byte at a time, it reconstructs Msg values from the
// microcontroller's reply stream. Inbound MIDI atoms carry no port byte on
// the wire (the SPI plane has exactly one device), so Port is always 0.
type Decoder struct {
	st state

	midiRemaining int
	midiStatus    uint8
	midiData1     uint8

	tempoBuf    [4]byte
	tempoFilled int

	diagLen  int
	diagBuf  []byte
	diagRead int

	tempoRequested bool
	lastPong       bool
}

// NewDecoder builds a Decoder starting in the CmdByte state.
func NewDecoder() *Decoder { return &Decoder{st: stCmdByte} }

// TempoRequested reports whether a SendTempo command byte has been seen
// since it was last cleared (spec section 4.7: "set 'tempo requested' flag").
func (d *Decoder) TempoRequested() bool { return d.tempoRequested }

// ClearTempoRequested resets the tempo-requested flag once the hub has
// served the request.
func (d *Decoder) ClearTempoRequested() { d.tempoRequested = false }

// LastPong reports whether the most recently completed command byte was a
// Pong, used by the engine to decide whether to sleep on an idle tick
// (spec section 4.7).
func (d *Decoder) LastPong() bool { return d.lastPong }

// Feed advances the state machine by one inbound byte. It returns a
// completed Msg when a byte completes one (a MIDI atom, a tempo value, or a
// diagnostic payload); both return values are zero otherwise.
func (d *Decoder) Feed(b byte) (m msg.Msg, ok bool) {
	if d.st == stCmdByte {
		d.lastPong = false
	}
	switch d.st {
	case stCmdByte:
		return d.feedCmdByte(b)
	case stMidiStatus:
		d.midiStatus = b
		d.st = stMidiData1
		return msg.Msg{}, false
	case stMidiData1:
		d.midiData1 = b
		d.st = stMidiData2
		return msg.Msg{}, false
	case stMidiData2:
		atom := msg.MidiAtom{Status: d.midiStatus, Data1: d.midiData1, Data2: b}
		d.midiRemaining--
		if d.midiRemaining > 0 {
			d.st = stMidiStatus
		} else {
			d.st = stCmdByte
		}
		return msg.Midi(atom), true
	case stTempoByte:
		d.tempoBuf[d.tempoFilled] = b
		d.tempoFilled++
		if d.tempoFilled < 4 {
			return msg.Msg{}, false
		}
		bits := binary.LittleEndian.Uint32(d.tempoBuf[:])
		d.st = stCmdByte
		d.tempoFilled = 0
		return msg.Tempo(math.Float32frombits(bits)), true
	case stDiagLen:
		d.diagLen = int(b)
		d.diagRead = 0
		if d.diagLen == 0 {
			d.st = stCmdByte
			return msg.Diag(nil), true
		}
		d.diagBuf = make([]byte, d.diagLen)
		d.st = stDiagData
		return msg.Msg{}, false
	case stDiagData:
		d.diagBuf[d.diagRead] = b
		d.diagRead++
		if d.diagRead < d.diagLen {
			return msg.Msg{}, false
		}
		d.st = stCmdByte
		return msg.Diag(d.diagBuf), true
	default:
		d.st = stCmdByte
		return msg.Msg{}, false
	}
}

func (d *Decoder) feedCmdByte(b byte) (msg.Msg, bool) {
	if b&midiTagBit != 0 {
		d.midiRemaining = int(b & midiCountMask)
		if d.midiRemaining == 0 {
			return msg.Msg{}, false
		}
		d.st = stMidiStatus
		return msg.Msg{}, false
	}
	switch b {
	case tagNull:
		// stay in CmdByte
	case tagPong:
		d.lastPong = true
	case tagPing:
		// stay in CmdByte
	case tagSendTempo:
		d.tempoRequested = true
	case tagTempo:
		d.st = stTempoByte
	case tagDiagMessage:
		d.st = stDiagLen
	default:
		// unrecognised tag byte: ignored, stays in CmdByte (spec leaves the
		// unspecified-byte case open; treated leniently rather than fatally)
	}
	return msg.Msg{}, false
}
