// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"encoding/hex"
	"encoding/json"

	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/internal/queue"
	"github.com/dakyri/xypi/pkg/xerrors"
)

// SpiSink is the narrow interface config/tempo/duino jobs need: somewhere
// to push the Msg they build for the SPI framer to serialize outbound.
type SpiSink interface {
	PushBack(msg.Msg)
}

var _ SpiSink = (*queue.Queue[msg.Msg])(nil)

type configRequest struct {
	Which   uint8  `json:"which"`
	PayloadHex string `json:"payload_hex"`
}

func decodeConfigRequest(request json.RawMessage) (uint8, []byte, error) {
	var body configRequest
	if err := json.Unmarshal(request, &body); err != nil {
		return 0, nil, xerrors.InvalidJSON(err)
	}
	raw, err := hex.DecodeString(body.PayloadHex)
	if err != nil {
		return 0, nil, xerrors.InvalidHex("payload_hex", err)
	}
	return body.Which, raw, nil
}

// configJob is shared by the three ConfigButton/ConfigPedal/ConfigXlrm8r
// commands: decode which+payload, push the corresponding Msg to the SPI
// outbound queue, and report immediately (the microcontroller applies it
// asynchronously; this hub does not wait for an ack).
type configJob struct {
	request json.RawMessage
	which   uint8
	payload []byte
	sink    SpiSink
	build   func(which uint8, cfg []byte) msg.Msg
}

func newConfigJob(request json.RawMessage, sink SpiSink, build func(uint8, []byte) msg.Msg) (*configJob, error) {
	which, payload, err := decodeConfigRequest(request)
	if err != nil {
		return nil, err
	}
	return &configJob{request: request, which: which, payload: payload, sink: sink, build: build}, nil
}

func (c *configJob) ToJSON() json.RawMessage { return c.request }

func (c *configJob) Process(Capabilities) (Status, json.RawMessage) {
	c.sink.PushBack(c.build(c.which, c.payload))
	return Immediate, json.RawMessage(`{}`)
}

func NewConfigButtonJob(request json.RawMessage, sink SpiSink) (Processor, error) {
	return newConfigJob(request, sink, msg.ConfigButton)
}

func NewConfigPedalJob(request json.RawMessage, sink SpiSink) (Processor, error) {
	return newConfigJob(request, sink, msg.ConfigPedal)
}

func NewConfigXlrm8rJob(request json.RawMessage, sink SpiSink) (Processor, error) {
	return newConfigJob(request, sink, msg.ConfigXlrm8r)
}

// TempoJob pushes a Msg.Tempo to the SPI outbound queue.
type TempoJob struct {
	request json.RawMessage
	bpm     float32
	sink    SpiSink
}

func NewTempoJob(request json.RawMessage, sink SpiSink) (*TempoJob, error) {
	var body struct {
		BPM float32 `json:"bpm"`
	}
	if err := json.Unmarshal(request, &body); err != nil {
		return nil, xerrors.InvalidJSON(err)
	}
	if body.BPM <= 0 {
		return nil, xerrors.InvalidParameter("bpm must be positive, got %v", body.BPM)
	}
	return &TempoJob{request: request, bpm: body.BPM, sink: sink}, nil
}

func (t *TempoJob) ToJSON() json.RawMessage { return t.request }

func (t *TempoJob) Process(Capabilities) (Status, json.RawMessage) {
	t.sink.PushBack(msg.Tempo(t.bpm))
	return Immediate, json.RawMessage(`{}`)
}

// DuinoCmdJob pushes a raw Msg.DuinoCmd byte to the SPI outbound queue.
type DuinoCmdJob struct {
	request json.RawMessage
	cmd     uint8
	sink    SpiSink
}

func NewDuinoCmdJob(request json.RawMessage, sink SpiSink) (*DuinoCmdJob, error) {
	var body struct {
		Cmd uint8 `json:"cmd"`
	}
	if err := json.Unmarshal(request, &body); err != nil {
		return nil, xerrors.InvalidJSON(err)
	}
	return &DuinoCmdJob{request: request, cmd: body.Cmd, sink: sink}, nil
}

func (d *DuinoCmdJob) ToJSON() json.RawMessage { return d.request }

func (d *DuinoCmdJob) Process(Capabilities) (Status, json.RawMessage) {
	d.sink.PushBack(msg.DuinoCmd(d.cmd))
	return Immediate, json.RawMessage(`{}`)
}
