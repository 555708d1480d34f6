// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package msg

// Kind tags the variant carried by a Msg, immutable once a Msg is built.
type Kind uint8

const (
	KindNone Kind = iota
	KindMidi
	KindMidiList
	KindConfigButton
	KindConfigPedal
	KindConfigXlrm8r
	KindTempo
	KindDuinoCmd
	KindDiag
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMidi:
		return "midi"
	case KindMidiList:
		return "midi_list"
	case KindConfigButton:
		return "config_button"
	case KindConfigPedal:
		return "config_pedal"
	case KindConfigXlrm8r:
		return "config_xlrm8r"
	case KindTempo:
		return "tempo"
	case KindDuinoCmd:
		return "duino_cmd"
	case KindDiag:
		return "diag"
	default:
		return "unknown"
	}
}

// maxMidiList is the largest MidiList the SPI wire format can carry: the
// outbound tag byte packs the count into its low 7 bits (spec section 4.7).
const maxMidiList = 127

// Msg is the tagged union shared by the SPI, OSC, and MIDI planes (spec
// section 3). Kind is set once at construction by one of the constructor
// functions below and never mutated afterward.
type Msg struct {
	kind Kind

	midi     MidiAtom
	midiList []MidiAtom

	which  uint8
	config []byte // opaque microcontroller configuration payload

	tempo float32

	duinoCmd uint8

	diag []byte
}

// Kind reports the variant this Msg carries.
func (m Msg) Kind() Kind { return m.kind }

func None() Msg { return Msg{kind: KindNone} }

func Midi(a MidiAtom) Msg { return Msg{kind: KindMidi, midi: a} }

// Midi returns the carried MidiAtom; valid only when Kind() == KindMidi.
func (m Msg) Midi() MidiAtom { return m.midi }

// MidiList builds a KindMidiList Msg. atoms longer than 127 entries cannot be
// represented on the SPI wire; callers that need to send more must split the
// list themselves (the SPI framer rejects oversized lists with a logged error).
func MidiList(atoms []MidiAtom) Msg {
	return Msg{kind: KindMidiList, midiList: atoms}
}

// MidiList returns the carried atom slice; valid only when Kind() == KindMidiList.
func (m Msg) MidiList() []MidiAtom { return m.midiList }

func ConfigButton(which uint8, cfg []byte) Msg {
	return Msg{kind: KindConfigButton, which: which, config: cfg}
}

func ConfigPedal(which uint8, cfg []byte) Msg {
	return Msg{kind: KindConfigPedal, which: which, config: cfg}
}

func ConfigXlrm8r(which uint8, cfg []byte) Msg {
	return Msg{kind: KindConfigXlrm8r, which: which, config: cfg}
}

// Which and Config return the carried fields; valid only for the three
// KindConfig* variants above.
func (m Msg) Which() uint8    { return m.which }
func (m Msg) Config() []byte { return m.config }

func Tempo(bpm float32) Msg { return Msg{kind: KindTempo, tempo: bpm} }

// Tempo returns the carried tempo; valid only when Kind() == KindTempo.
func (m Msg) Tempo() float32 { return m.tempo }

func DuinoCmd(b uint8) Msg { return Msg{kind: KindDuinoCmd, duinoCmd: b} }

// DuinoCmd returns the carried raw command byte; valid only when Kind() == KindDuinoCmd.
func (m Msg) DuinoCmd() uint8 { return m.duinoCmd }

// Diag builds a KindDiag Msg carrying a raw diagnostic payload read off the
// SPI diag-message state (DiagLen/DiagData), surfaced to OSC as /diag.
func Diag(payload []byte) Msg { return Msg{kind: KindDiag, diag: payload} }

// Diag returns the carried diagnostic payload; valid only when Kind() == KindDiag.
func (m Msg) Diag() []byte { return m.diag }

// MaxMidiListLen is the largest MidiList the SPI wire format can carry.
func MaxMidiListLen() int { return maxMidiList }
