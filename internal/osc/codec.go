// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package osc implements the bidirectional OSC<->internal-message codec
// (spec section 4.6), grounded on original_source/osc_api.cpp's address
// grammar and bundle-unpacking, built on github.com/hypebeast/go-osc for
// wire-level packet parsing and message construction.
package osc

import (
	"fmt"
	"regexp"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/pkg/logging"
)

// maxBundleDepth bounds recursive bundle unpacking (spec section 4.6) so a
// maliciously nested bundle cannot blow the stack.
const maxBundleDepth = 8

var addrPattern = regexp.MustCompile(`^/midi([0-9]+)?/([a-z]+)$`)

// DecodeError is returned for an address/argument mismatch; the caller logs
// it and drops only the offending message, per spec section 4.6.
type DecodeError struct {
	Address string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("osc: %s: %s", e.Address, e.Reason)
}

// Codec translates between OSC wire packets and internal Msg values.
type Codec struct {
	log logging.Logger
}

// New builds a Codec that logs decode errors and ignored bundle timetags
// through log.
func New(log logging.Logger) *Codec {
	return &Codec{log: log}
}

// Decode parses an inbound UDP payload as an OSC packet (message or
// recursively-nested bundle) and returns every recognised /midi... message
// as a Msg. Addresses outside the grammar are accepted syntactically and
// silently skipped (spec section 6); per-message decode errors are logged
// and drop only that message.
func (c *Codec) Decode(payload []byte) ([]msg.Msg, error) {
	packet, err := goosc.ParsePacket(string(payload))
	if err != nil {
		return nil, fmt.Errorf("osc: parse packet: %w", err)
	}
	var out []msg.Msg
	c.unpack(packet, 0, &out)
	return out, nil
}

func (c *Codec) unpack(packet goosc.Packet, depth int, out *[]msg.Msg) {
	if depth > maxBundleDepth {
		c.log.Warn("osc: bundle recursion depth exceeded, dropping remainder", "depth", depth)
		return
	}
	switch p := packet.(type) {
	case *goosc.Message:
		m, err := c.decodeMessage(p)
		if err != nil {
			c.log.Warn("osc: dropping message", "error", err.Error())
			return
		}
		if m != nil {
			*out = append(*out, *m)
		}
	case *goosc.Bundle:
		c.log.Debug("osc: unpacking bundle", "timetag_ignored", p.Timetag, "depth", depth)
		for _, nested := range p.Messages {
			c.unpack(nested, depth+1, out)
		}
		for _, nested := range p.Bundles {
			c.unpack(nested, depth+1, out)
		}
	default:
		c.log.Warn("osc: unrecognised packet type, dropping")
	}
}

// decodeMessage decodes a single OSC message against the /midi grammar
// (spec section 4.6). A nil, nil result means the address didn't match the
// grammar and is silently ignored; a non-nil error means the address did
// match but the arguments didn't, which the caller logs and drops.
func (c *Codec) decodeMessage(m *goosc.Message) (*msg.Msg, error) {
	groups := addrPattern.FindStringSubmatch(m.Address)
	if groups == nil {
		return nil, nil
	}
	port, err := parsePort(groups[1])
	if err != nil {
		return nil, &DecodeError{Address: m.Address, Reason: err.Error()}
	}
	op := groups[2]

	args, err := intArgs(m)
	if err != nil {
		return nil, &DecodeError{Address: m.Address, Reason: err.Error()}
	}

	atom, err := decodeOp(op, port, args)
	if err != nil {
		return nil, &DecodeError{Address: m.Address, Reason: err.Error()}
	}
	out := msg.Midi(atom)
	return &out, nil
}

func parsePort(digits string) (uint8, error) {
	if digits == "" {
		return 0, nil
	}
	var v int
	if _, err := fmt.Sscanf(digits, "%d", &v); err != nil {
		return 0, fmt.Errorf("invalid port segment %q", digits)
	}
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("port %d out of range", v)
	}
	return uint8(v), nil
}

// intArgs coerces every OSC argument to int32, the wire type every /midi
// op uses per spec section 4.6's arity table.
func intArgs(m *goosc.Message) ([]int32, error) {
	out := make([]int32, 0, len(m.Arguments))
	for i, a := range m.Arguments {
		v, ok := a.(int32)
		if !ok {
			return nil, fmt.Errorf("argument %d: expected int32, got %T", i, a)
		}
		out = append(out, v)
	}
	return out, nil
}

// need reports a decode error if args has fewer than n elements (spec
// section 4.6: "any argument-stream shortage ... raises a decode error").
func need(op string, args []int32, n int) error {
	if len(args) < n {
		return fmt.Errorf("op %q needs %d argument(s), got %d", op, n, len(args))
	}
	return nil
}

func decodeOp(op string, port uint8, args []int32) (msg.MidiAtom, error) {
	switch op {
	case "non":
		if err := need(op, args, 3); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.NoteOn(port, uint8(args[0])&0xf, uint8(args[1]), uint8(args[2])), nil
	case "nof":
		if err := need(op, args, 3); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.NoteOff(port, uint8(args[0])&0xf, uint8(args[1]), uint8(args[2])), nil
	case "key":
		if err := need(op, args, 3); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.KeyPressure(port, uint8(args[0])&0xf, uint8(args[1]), uint8(args[2])), nil
	case "ctl":
		if err := need(op, args, 3); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.Control(port, uint8(args[0])&0xf, uint8(args[1]), uint8(args[2])), nil
	case "prg":
		if err := need(op, args, 2); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.Program(port, uint8(args[0])&0xf, uint8(args[1])), nil
	case "chn":
		if err := need(op, args, 2); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.ChanPressure(port, uint8(args[0])&0xf, uint8(args[1])), nil
	case "bnd":
		if err := need(op, args, 2); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.Bend(port, uint8(args[0])&0xf, uint16(args[1])&0x3fff), nil
	case "tcd":
		if err := need(op, args, 2); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.TimeCode(port, uint8(args[0]), uint8(args[1])), nil
	case "pos":
		if err := need(op, args, 1); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.SongPos(port, uint16(args[0])), nil
	case "sel":
		if err := need(op, args, 1); err != nil {
			return msg.MidiAtom{}, err
		}
		return msg.SongSelect(port, uint8(args[0])), nil
	case "tun":
		return msg.TuneRequest(port), nil
	case "clk":
		return msg.Clock(port), nil
	case "stt":
		return msg.Start(port), nil
	case "cnt":
		return msg.Continue(port), nil
	case "stp":
		return msg.Stop(port), nil
	case "sex":
		return msg.MidiAtom{}, fmt.Errorf("sysex (sex) is reserved and unimplemented")
	default:
		return msg.MidiAtom{}, fmt.Errorf("unrecognised op %q", op)
	}
}
