// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the command dispatcher (spec section 4.4),
// grounded on original_source/wsapi_handler.cpp: a static registry of
// command name to either an immediate handler or a job factory, id minting,
// and the reserved "get"/"list" commands.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dakyri/xypi/internal/job"
	"github.com/dakyri/xypi/internal/queue"
	"github.com/dakyri/xypi/internal/resultstore"
	"github.com/dakyri/xypi/pkg/logging"
	"github.com/dakyri/xypi/pkg/xerrors"
)

// ImmediateFunc handles a command entirely within the dispatch call.
type ImmediateFunc func(d *Dispatcher, request json.RawMessage) (json.RawMessage, error)

// Factory builds the Processor for a queued-capable command.
type Factory func(request json.RawMessage) (job.Processor, error)

// Entry describes one command's registration: exactly one of Immediate or
// Factory is set (spec section 4.4's "exactly one of immediate_fn/factory_fn").
type Entry struct {
	Immediate ImmediateFunc
	Factory   Factory
	Urgent    bool
	Timeout   time.Duration
}

// Dispatcher routes WebSocket JSON requests to either an immediate handler
// or a queued job, per the command registry built at construction.
type Dispatcher struct {
	registry map[string]Entry
	counter  atomic.Uint32

	cmdQ       *queue.Queue[*job.QueuedJob]
	results    *resultstore.Store[uint32, json.RawMessage]
	capsSource *job.CapabilitySource
	log        logging.Logger
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithCapabilities attaches the live capability source (e.g. the dongle,
// reconnected by the hub's reboot policy) jobs may need. Loaded fresh on
// every Process call, not snapshotted at construction, so a capability
// reconnected after this Dispatcher was built is still visible.
func WithCapabilities(source *job.CapabilitySource) Option {
	return func(d *Dispatcher) { d.capsSource = source }
}

// New builds a Dispatcher wired to cmdQ and results, with the built-in
// command set registered (ping/echo/sign/config_*/set_tempo/duino_cmd plus
// the reserved get/list).
func New(cmdQ *queue.Queue[*job.QueuedJob], results *resultstore.Store[uint32, json.RawMessage], spiOut job.SpiSink, log logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   make(map[string]Entry),
		cmdQ:       cmdQ,
		results:    results,
		capsSource: job.NewCapabilitySource(job.Capabilities{}),
		log:        log,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.Register("ping", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewPingJob(req), nil
	}, Urgent: true})

	d.Register("echo", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewEchoJob(req)
	}})

	d.Register("sign", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewSignJob(req)
	}, Timeout: 5 * time.Second})

	d.Register("config_button", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewConfigButtonJob(req, spiOut)
	}})
	d.Register("config_pedal", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewConfigPedalJob(req, spiOut)
	}})
	d.Register("config_xlrm8r", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewConfigXlrm8rJob(req, spiOut)
	}})
	d.Register("set_tempo", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewTempoJob(req, spiOut)
	}})
	d.Register("duino_cmd", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return job.NewDuinoCmdJob(req, spiOut)
	}, Urgent: true})

	d.Register("get", Entry{Immediate: (*Dispatcher).getCmd})
	d.Register("list", Entry{Immediate: (*Dispatcher).listCmd})

	return d
}

// Register adds or overwrites a command's registry Entry. Exported so the
// hub can extend the built-in set without modifying this package.
func (d *Dispatcher) Register(name string, e Entry) {
	if e.Immediate == nil && e.Factory == nil {
		panic("dispatch: Entry for " + name + " has neither Immediate nor Factory")
	}
	if e.Immediate != nil && e.Factory != nil {
		panic("dispatch: Entry for " + name + " has both Immediate and Factory")
	}
	d.registry[name] = e
}

type request struct {
	Cmd    string `json:"cmd"`
	Urgent string `json:"urgent"`
}

// Process parses request, routes it per the registry, and returns the JSON
// response: {"id": N} for a queued/immediate job, or the immediate handler's
// own response, or {"error": "..."} on failure.
func (d *Dispatcher) Process(ctx context.Context, raw json.RawMessage) json.RawMessage {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errEnvelope(xerrors.InvalidJSON(err))
	}
	if req.Cmd == "" {
		return errEnvelope(xerrors.BadRequest("missing field 'cmd'"))
	}

	e, ok := d.registry[req.Cmd]
	if !ok {
		return errEnvelope(xerrors.UnknownCommand(req.Cmd))
	}

	if e.Immediate != nil {
		resp, err := e.Immediate(d, raw)
		if err != nil {
			return errEnvelope(err)
		}
		return resp
	}

	return d.dispatchJob(ctx, req.Cmd, raw, e, req.Urgent != "")
}

func (d *Dispatcher) dispatchJob(ctx context.Context, cmd string, raw json.RawMessage, e Entry, urgent bool) json.RawMessage {
	proc, err := e.Factory(raw)
	if err != nil {
		return errEnvelope(err)
	}

	id := d.counter.Add(1)

	jobCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	status, payload := proc.Process(d.capsFor(jobCtx))
	if status != job.Scheduled {
		d.results.Insert(id, payload)
		d.log.Debug("storing immediate result", "cmd", cmd, "job_id", id)
		return idResponse(id)
	}

	qj := job.NewQueuedJob(id, cmd, raw, proc)
	if e.Urgent || urgent {
		d.cmdQ.PushFront(qj)
	} else {
		d.cmdQ.PushBack(qj)
	}
	d.log.Debug("queueing command", "cmd", cmd, "job_id", id)
	return idResponse(id)
}

// capsFor loads the current capability set fresh from capsSource on every
// call, so a capability the hub's reboot policy reconnects between this
// job's initial inline call and a worker's later retry is actually visible
// to the retry (spec section 4.3). ctx is accepted as the seam a future
// capability needing a deadline (e.g. a context-aware dongle RPC) would use.
func (d *Dispatcher) capsFor(ctx context.Context) job.Capabilities {
	_ = ctx
	return d.capsSource.Load()
}

func idResponse(id uint32) json.RawMessage {
	out, _ := json.Marshal(map[string]uint32{"id": id})
	return out
}

func errEnvelope(err error) json.RawMessage {
	var env xerrors.Envelope
	if xe, ok := xerrors.As(err); ok {
		env = xe.ToEnvelope()
	} else {
		env = xerrors.Envelope{Error: err.Error()}
	}
	out, _ := json.Marshal(env)
	return out
}

// getCmd implements the reserved "get" command: fetch a result by id, or
// report its queue position, or error (spec section 4.4 item 5).
func (d *Dispatcher) getCmd(raw json.RawMessage) (json.RawMessage, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, xerrors.InvalidJSON(err)
	}
	id64, err := strconv.ParseUint(body.ID, 10, 32)
	if err != nil {
		return nil, xerrors.BadRequest("invalid id %q", body.ID)
	}
	id := uint32(id64)
	if id == 0 {
		return nil, xerrors.BadRequest("Bad request id 0")
	}

	if payload, ok := d.results.Fetch(id); ok {
		out, _ := json.Marshal(map[string]json.RawMessage{"state": json.RawMessage(`"done"`), "resp": payload})
		return out, nil
	}

	pos := d.cmdQ.FindQOrder(func(qj *job.QueuedJob) bool { return qj.Job.ID == id })
	if pos < 0 {
		return nil, xerrors.BadRequest("Requested id, %d, is neither queued or completed", id)
	}
	out, _ := json.Marshal(map[string]any{"state": "enqueued", "pos": pos})
	return out, nil
}

// listCmd implements the reserved "list" command: dump the queue and result
// store, each keyed by decimal-id strings (spec section 4.4 item 5).
func (d *Dispatcher) listCmd(json.RawMessage) (json.RawMessage, error) {
	requests := make(map[string]json.RawMessage)
	d.cmdQ.ForEach(func(qj *job.QueuedJob) {
		requests[strconv.FormatUint(uint64(qj.Job.ID), 10)] = qj.Processor.ToJSON()
	})

	responses := make(map[string]json.RawMessage)
	d.results.ForEach(func(id uint32, payload json.RawMessage) {
		responses[strconv.FormatUint(uint64(id), 10)] = payload
	})

	out, _ := json.Marshal(map[string]any{"requests": requests, "responses": responses})
	return out, nil
}
