// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"encoding/hex"
	"encoding/json"

	"github.com/dakyri/xypi/pkg/xerrors"
)

// PingJob answers a liveness check inline, grounded on
// original_source/jsapi_cmd.cpp's Ping::process (always WORK_IMMEDIATE).
type PingJob struct {
	request json.RawMessage
}

func NewPingJob(request json.RawMessage) *PingJob { return &PingJob{request: request} }

func (p *PingJob) ToJSON() json.RawMessage { return p.request }

func (p *PingJob) Process(Capabilities) (Status, json.RawMessage) {
	return Immediate, json.RawMessage(`{}`)
}

// EchoJob returns its "payload" field verbatim, useful for exercising the
// "get"/"list" id-tracking machinery without touching any capability.
type EchoJob struct {
	request json.RawMessage
	payload json.RawMessage
}

func NewEchoJob(request json.RawMessage) (*EchoJob, error) {
	var body struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(request, &body); err != nil {
		return nil, xerrors.InvalidJSON(err)
	}
	if len(body.Payload) == 0 {
		return nil, xerrors.BadRequest("missing field 'payload'")
	}
	return &EchoJob{request: request, payload: body.Payload}, nil
}

func (e *EchoJob) ToJSON() json.RawMessage { return e.request }

func (e *EchoJob) Process(Capabilities) (Status, json.RawMessage) {
	out, _ := json.Marshal(map[string]json.RawMessage{"echo": e.payload})
	return Immediate, out
}

// SignJob signs a hex-encoded payload with the dongle capability, the
// spec.md section 4.3 example of a job needing a capability that may be
// transiently absent (DongleRequired, retryable). Grounded on
// original_source/work.cpp's crypto work, which is always WORK_SCHEDULED on
// its first pass (the dongle is a device, never touched on the I/O thread)
// and only does the actual sign once a worker dequeues it: the dispatcher's
// initial inline Process call here queues the job rather than performing
// any crypto, per spec section 4.4 item 4's "a handler returning Scheduled
// from its initial inline call is what causes the job to be enqueued".
type SignJob struct {
	request json.RawMessage
	payload []byte
	queued  bool
}

func NewSignJob(request json.RawMessage) (*SignJob, error) {
	var body struct {
		PayloadHex string `json:"payload_hex"`
	}
	if err := json.Unmarshal(request, &body); err != nil {
		return nil, xerrors.InvalidJSON(err)
	}
	raw, err := hex.DecodeString(body.PayloadHex)
	if err != nil {
		return nil, xerrors.InvalidHex("payload_hex", err)
	}
	return &SignJob{request: request, payload: raw}, nil
}

func (s *SignJob) ToJSON() json.RawMessage { return s.request }

// Process queues the job on its first call (the dispatcher's inline pass);
// once a worker has dequeued it, subsequent calls perform the sign and
// return a terminal status. s.payload is untouched by the first pass, so a
// reboot-and-retry-once on a transient DongleRequired sees the same
// payload on its retry (spec section 4.3's "leave enough state so a retry
// after the capability returns can succeed").
func (s *SignJob) Process(caps Capabilities) (Status, json.RawMessage) {
	if !s.queued {
		s.queued = true
		return Scheduled, nil
	}
	if caps.Dongle == nil {
		errPayload, _ := json.Marshal(xerrors.DongleRequired().ToEnvelope())
		return Error, errPayload
	}
	signed, err := caps.Dongle.Sign(s.payload)
	if err != nil {
		errPayload, _ := json.Marshal(xerrors.CryptoFailure(err).ToEnvelope())
		return Error, errPayload
	}
	out, _ := json.Marshal(map[string]string{"signature_hex": hex.EncodeToString(signed)})
	return Immediate, out
}
