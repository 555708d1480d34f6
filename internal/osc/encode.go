// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package osc

import (
	"fmt"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/dakyri/xypi/internal/msg"
)

// Encode packs an internal Msg into an outbound OSC message. KindMidi and
// KindMidiList (expanded to one message per atom) map onto the /midi[port]
// grammar; KindDiag carries a raw diagnostic payload off the SPI plane and
// is forwarded as a single /diag blob argument. Other kinds have no OSC
// analogue and return an error so the OSC-out worker can log and skip them.
func (c *Codec) Encode(m msg.Msg) ([]*goosc.Message, error) {
	switch m.Kind() {
	case msg.KindMidi:
		om, err := encodeAtom(m.Midi())
		if err != nil {
			return nil, err
		}
		return []*goosc.Message{om}, nil
	case msg.KindMidiList:
		atoms := m.MidiList()
		out := make([]*goosc.Message, 0, len(atoms))
		for _, a := range atoms {
			om, err := encodeAtom(a)
			if err != nil {
				return nil, err
			}
			out = append(out, om)
		}
		return out, nil
	case msg.KindDiag:
		om := goosc.NewMessage("/diag")
		om.Append(m.Diag())
		return []*goosc.Message{om}, nil
	default:
		return nil, fmt.Errorf("osc: Msg kind %s has no OSC representation", m.Kind())
	}
}

func encodeAtom(a msg.MidiAtom) (*goosc.Message, error) {
	addr := midiAddress(a.Port, opFor(a.Status))
	switch {
	case !msg.IsSystem(a.Status):
		switch a.Status & 0xf0 {
		case msg.StatusNoteOn, msg.StatusNoteOff, msg.StatusKeyPressure, msg.StatusControl:
			return newMsg(addr, int32(msg.Channel(a.Status)), int32(a.Data1), int32(a.Data2)), nil
		case msg.StatusProgram, msg.StatusChanPressure:
			return newMsg(addr, int32(msg.Channel(a.Status)), int32(a.Data1)), nil
		case msg.StatusPitchBend:
			return newMsg(addr, int32(msg.Channel(a.Status)), int32(a.BendValue())), nil
		}
	case a.Status == msg.StatusTimeCode:
		return newMsg(addr, int32(a.Data1), int32(a.Data2)), nil
	case a.Status == msg.StatusSongPos:
		return newMsg(addr, int32(a.BendValue())), nil
	case a.Status == msg.StatusSongSelect:
		return newMsg(addr, int32(a.Data1)), nil
	case a.Status == msg.StatusTuneRequest, a.Status == msg.StatusClock,
		a.Status == msg.StatusStart, a.Status == msg.StatusContinue, a.Status == msg.StatusStop:
		return newMsg(addr), nil
	}
	return nil, fmt.Errorf("osc: status 0x%02x has no /midi encoding", a.Status)
}

func newMsg(addr string, args ...int32) *goosc.Message {
	m := goosc.NewMessage(addr)
	for _, a := range args {
		m.Append(a)
	}
	return m
}

func midiAddress(port uint8, op string) string {
	if port == 0 {
		return "/midi/" + op
	}
	return fmt.Sprintf("/midi%d/%s", port, op)
}

// opFor maps a status byte back to its address-grammar op token, the
// reverse of decodeOp.
func opFor(status uint8) string {
	if !msg.IsSystem(status) {
		switch status & 0xf0 {
		case msg.StatusNoteOn:
			return "non"
		case msg.StatusNoteOff:
			return "nof"
		case msg.StatusKeyPressure:
			return "key"
		case msg.StatusControl:
			return "ctl"
		case msg.StatusProgram:
			return "prg"
		case msg.StatusChanPressure:
			return "chn"
		case msg.StatusPitchBend:
			return "bnd"
		}
	}
	switch status {
	case msg.StatusTimeCode:
		return "tcd"
	case msg.StatusSongPos:
		return "pos"
	case msg.StatusSongSelect:
		return "sel"
	case msg.StatusTuneRequest:
		return "tun"
	case msg.StatusClock:
		return "clk"
	case msg.StatusStart:
		return "stt"
	case msg.StatusContinue:
		return "cnt"
	case msg.StatusStop:
		return "stp"
	}
	return "unk"
}
