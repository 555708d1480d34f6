// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package spi implements the SPI framing engine (spec section 4.7),
// grounded on original_source/pi_spi.cpp/pi_spi.h: outbound serialisation of
// internal Msg values to the microcontroller's byte protocol, and an
// inbound byte-stream state machine reconstructing Msg values from its
// reply. The bit-level layout of microcontroller configuration payloads
// themselves stays opaque, per spec section 1; only the framing envelope
// around them is specified here.
package spi

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dakyri/xypi/internal/msg"
)

// Command tag bytes. midiTagBit distinguishes a MIDI-count byte (bit 7 set,
// low 7 bits the atom count) from every other single-byte command tag
// (bit 7 clear), matching the CmdByte state's dispatch in spec section 4.7.
const (
	midiTagBit byte = 0x80
	midiCountMask byte = 0x7f

	tagNull        byte = 0x00
	tagPong        byte = 0x01
	tagPing        byte = 0x02
	tagSendTempo   byte = 0x03
	tagTempo       byte = 0x04
	tagDiagMessage byte = 0x05
	tagCfgButton   byte = 0x06
	tagCfgPedal    byte = 0x07
	tagCfgXlrm8r   byte = 0x08
)

// Framer encodes outbound Msg values to the SPI wire format and tracks the
// latching "dropped MIDI" condition (spec section 4.7) an oversized
// MidiList trips.
type Framer struct {
	dropped atomic.Bool
}

// NewFramer builds a Framer with no dropped-MIDI condition latched.
func NewFramer() *Framer { return &Framer{} }

// DroppedMidi reports whether an oversized MidiList has been dropped since
// the flag was last cleared.
func (f *Framer) DroppedMidi() bool { return f.dropped.Load() }

// ClearDroppedMidi resets the latching dropped-MIDI flag.
func (f *Framer) ClearDroppedMidi() { f.dropped.Store(false) }

// Encode serialises m to its outbound byte frame (spec section 4.7's
// outbound framing table). An idle tick (Msg.None) encodes as a single
// Ping byte.
func (f *Framer) Encode(m msg.Msg) ([]byte, error) {
	switch m.Kind() {
	case msg.KindNone:
		return []byte{tagPing}, nil
	case msg.KindMidi:
		a := m.Midi()
		return []byte{midiTagBit | 1, a.Status, a.Data1, a.Data2}, nil
	case msg.KindMidiList:
		atoms := m.MidiList()
		if len(atoms) > msg.MaxMidiListLen() {
			f.dropped.Store(true)
			return nil, fmt.Errorf("spi: MidiList of %d atoms exceeds %d, dropped", len(atoms), msg.MaxMidiListLen())
		}
		if len(atoms) == 0 {
			return []byte{tagPing}, nil
		}
		out := make([]byte, 0, 1+3*len(atoms))
		out = append(out, midiTagBit|byte(len(atoms)))
		for _, a := range atoms {
			out = append(out, a.Status, a.Data1, a.Data2)
		}
		return out, nil
	case msg.KindConfigButton:
		return encodeConfig(tagCfgButton, m.Which(), m.Config())
	case msg.KindConfigPedal:
		return encodeConfig(tagCfgPedal, m.Which(), m.Config())
	case msg.KindConfigXlrm8r:
		return encodeConfig(tagCfgXlrm8r, m.Which(), m.Config())
	case msg.KindTempo:
		buf := make([]byte, 5)
		buf[0] = tagTempo
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(m.Tempo()))
		return buf, nil
	case msg.KindDuinoCmd:
		return []byte{m.DuinoCmd()}, nil
	default:
		return nil, fmt.Errorf("spi: Msg kind %s has no outbound frame", m.Kind())
	}
}

func encodeConfig(tag byte, which uint8, cfg []byte) ([]byte, error) {
	if len(cfg) > math.MaxUint8 {
		return nil, fmt.Errorf("spi: config payload of %d bytes exceeds 255", len(cfg))
	}
	out := make([]byte, 0, 3+len(cfg))
	out = append(out, tag, which, byte(len(cfg)))
	out = append(out, cfg...)
	return out, nil
}
