// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package hub wires every component into the running xypi process (spec
// section 4.11), grounded on original_source/hub.cpp's construction order:
// allocate the shared queues and result store first, then build every
// server/worker/bridge against them.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dakyri/xypi/internal/dispatch"
	"github.com/dakyri/xypi/internal/job"
	"github.com/dakyri/xypi/internal/midi"
	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/internal/osc"
	"github.com/dakyri/xypi/internal/queue"
	"github.com/dakyri/xypi/internal/resultstore"
	"github.com/dakyri/xypi/internal/spi"
	"github.com/dakyri/xypi/internal/udpserver"
	"github.com/dakyri/xypi/internal/worker"
	"github.com/dakyri/xypi/internal/wsapi"
	"github.com/dakyri/xypi/pkg/config"
	"github.com/dakyri/xypi/pkg/logging"
	"github.com/dakyri/xypi/pkg/retry"
	"github.com/dakyri/xypi/pkg/xerrors"
)

// Hub owns every queue, worker, server, and bridge the running process
// needs, and supervises their lifetimes together.
type Hub struct {
	cfg *config.Config
	log logging.Logger

	spiInQ   *queue.Queue[msg.Msg]
	oscInQ   *queue.Queue[msg.Msg]
	midiOutQ *queue.Queue[msg.Msg]
	cmdQ     *queue.Queue[*job.QueuedJob]
	results  *resultstore.Store[uint32, json.RawMessage]

	codec      *osc.Codec
	udp        *udpserver.Server
	oscOut     *udpserver.OutWorker
	dispatcher *dispatch.Dispatcher
	ws         *wsapi.Server
	jobWorker  *worker.Worker[*job.QueuedJob]
	midiBridge *midi.Bridge

	spiEngine *spi.Engine

	capsSource   *job.CapabilitySource
	rebootDongle retry.RebootFunc

	midiIns  []midi.InPort
	midiOuts []midi.OutPort
}

// Option configures a Hub at construction.
type Option func(*Hub)

// spiReopener is a Device that also knows how to reopen itself after the
// SPI engine's backoff gives up on a persistently failing Transfer
// (original_source/pi_spi.cpp's reopen-on-persistent-error path).
type spiReopener interface {
	spi.Device
	Reopen(ctx context.Context) error
}

// WithSPIDevice wires a real SPI transport, enabling the SPI framing loop
// (spec section 4.7). Without it the hub runs with the SPI plane absent,
// the same "consumed capability missing" posture as an absent dongle. If
// dev also implements Reopen(ctx) error, it is wired as the engine's
// reboot-on-persistent-failure hook automatically.
func WithSPIDevice(dev spi.Device) Option {
	return func(h *Hub) {
		var opts []spi.Option
		if r, ok := dev.(spiReopener); ok {
			opts = append(opts, spi.WithReopen(r.Reopen))
		}
		h.spiEngine = spi.New(dev, h.spiInQ, h.log, opts...)
	}
}

// WithMIDIPorts wires enumerated local MIDI ports (spec section 4.8).
func WithMIDIPorts(ins []midi.InPort, outs []midi.OutPort) Option {
	return func(h *Hub) {
		h.midiIns = ins
		h.midiOuts = outs
	}
}

// WithDongle wires the crypto dongle capability and its reboot function for
// the worker's reboot-and-retry-once policy (spec section 4.5). reboot
// reopens the dongle device and returns the reconnected handle; on success
// it replaces the capsSource's Dongle so the retried Process call actually
// observes the reconnected capability (spec section 4.3's "leaves enough
// state so that a retry after the capability returns can succeed" only
// holds if the retry sees it). A reboot that fails to reconnect leaves
// capsSource untouched, so the retried call still sees DongleRequired.
func WithDongle(d job.Dongle, reboot func(ctx context.Context) (job.Dongle, error)) Option {
	return func(h *Hub) {
		h.capsSource = job.NewCapabilitySource(job.Capabilities{Dongle: d})
		h.rebootDongle = func(ctx context.Context) error {
			reconnected, err := reboot(ctx)
			if err != nil {
				return err
			}
			h.capsSource.SetDongle(reconnected)
			return nil
		}
	}
}

// New allocates every queue and component per the construction order spec
// section 4.11 describes.
func New(cfg *config.Config, log logging.Logger, opts ...Option) (*Hub, error) {
	h := &Hub{
		cfg:        cfg,
		log:        log,
		spiInQ:     queue.New[msg.Msg](),
		oscInQ:     queue.New[msg.Msg](),
		midiOutQ:   queue.New[msg.Msg](),
		cmdQ:       queue.New[*job.QueuedJob](),
		results:    resultstore.New[uint32, json.RawMessage](),
		capsSource: job.NewCapabilitySource(job.Capabilities{}),
	}
	h.spiInQ.Enable(true)
	h.oscInQ.Enable(true)
	h.midiOutQ.Enable(true)
	h.cmdQ.Enable(true)

	for _, opt := range opts {
		opt(h)
	}

	h.codec = osc.New(log)

	udpSrv, err := bindUDPServer(cfg, h.codec, h.spiInQ, log)
	if err != nil {
		return nil, fmt.Errorf("hub: building UDP server: %w", err)
	}
	h.udp = udpSrv
	h.oscOut = udpserver.NewOutWorker(h.oscInQ, h.udp, log)

	h.dispatcher = dispatch.New(h.cmdQ, h.results, h.spiInQ, log, dispatch.WithCapabilities(h.capsSource))
	h.ws = wsapi.NewServer(fmt.Sprintf(":%d", cfg.WSPort), h.dispatcher, log, wsapi.WithReadTimeout(cfg.ReadTimeout))

	h.jobWorker = newJobWorker(h.cmdQ, h.results, h.capsSource, h.rebootDongle, log)
	h.midiBridge = midi.New(h.spiInQ, h.oscInQ, h.midiOutQ, log)

	return h, nil
}

// Run starts every component and blocks until ctx is done, then shuts them
// all down and joins (spec section 4.11's "start servers, start workers,
// run the reactor on N worker threads, join on shutdown"). GOMAXPROCS is
// set to the resolved thread count: Go's scheduler multiplexing goroutines
// over that many OS threads is this hub's reactor pool, in place of the
// source's explicit io_context-on-N-threads loop.
func (h *Hub) Run(ctx context.Context) error {
	runtime.GOMAXPROCS(h.cfg.ResolvedThreads())

	h.spiInQ.SetBlocking(false)
	h.oscInQ.SetBlocking(true)
	h.cmdQ.SetBlocking(true)
	h.midiOutQ.SetBlocking(true)

	g, gctx := errgroup.WithContext(ctx)

	h.jobWorker.Start()
	g.Go(func() error {
		<-gctx.Done()
		h.jobWorker.Stop()
		return nil
	})

	h.oscOut.Start()
	g.Go(func() error {
		<-gctx.Done()
		h.oscOut.Stop()
		return nil
	})

	if err := h.midiBridge.Start(h.midiIns, h.midiOuts); err != nil {
		return fmt.Errorf("hub: starting MIDI bridge: %w", err)
	}
	g.Go(func() error {
		h.midiBridge.Drain(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.midiOutQ.SetBlocking(false)
		h.midiBridge.Stop()
		return nil
	})

	if h.spiEngine != nil {
		g.Go(func() error {
			h.spiEngine.Run(gctx, h.oscInQ)
			return nil
		})
	}

	g.Go(func() error { return h.udp.Run(gctx) })
	g.Go(func() error { return h.ws.Run(gctx) })

	return g.Wait()
}

// Dispatcher exposes the command dispatcher, e.g. for a caller embedding
// the hub behind its own transport instead of wsapi.Server.
func (h *Hub) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// bindUDPServer binds the OSC UDP socket, retrying a few times on a
// constant delay before giving up: a port the previous process just
// released can still be in TIME_WAIT for a moment, a transient condition
// worth a short retry rather than an immediate abort. Exhausting the
// retries is still a fatal error (spec section 7: "bind failures at start
// abort the hub").
func bindUDPServer(cfg *config.Config, codec *osc.Codec, spiIn udpserver.Sink, log logging.Logger) (*udpserver.Server, error) {
	var srv *udpserver.Server
	backoff := retry.NewConstantBackoff(200*time.Millisecond, 3)
	err := retry.Retry(context.Background(), backoff, func() error {
		s, err := udpserver.New(cfg.OSCRcvPort, cfg.OSCDstAddr, cfg.OSCDstPort, codec, spiIn, log)
		if err != nil {
			logging.LogError(log, err, "hub.bind_udp_retry")
			return err
		}
		srv = s
		return nil
	})
	return srv, err
}

// newJobWorker adapts job.QueuedJob processing onto internal/worker.Worker.
// The reboot-and-retry-once policy lives inside processJob itself, since
// only it can inspect the job's DongleRequired payload before that detail
// is lost to marshaling; the template's own WithRetry option is unused
// here. Job identity for queue removal is pointer equality, since cmdQ's
// element type is always handled by reference (internal/job.QueuedJob).
func newJobWorker(cmdQ *queue.Queue[*job.QueuedJob], results *resultstore.Store[uint32, json.RawMessage], capsSource *job.CapabilitySource, reboot retry.RebootFunc, log logging.Logger) *worker.Worker[*job.QueuedJob] {
	handle := func(ctx context.Context, item *job.QueuedJob) error {
		return processJob(ctx, item, results, capsSource, reboot, log)
	}
	identOf := func(item *job.QueuedJob) worker.IdentityFunc[*job.QueuedJob] {
		return func(other *job.QueuedJob) bool { return other == item }
	}
	return worker.New(cmdQ, handle, identOf, log)
}

// jobResultError is the adapter xerrors.Error-shaped error pkg/retry's
// reboot-once policy inspects via RebootRetryable, built from a job's
// terminal Error payload (which has already lost its structured Code by
// the time it's marshaled).
type jobResultError struct {
	payload   json.RawMessage
	retryable bool
}

func (e *jobResultError) Error() string     { return string(e.payload) }
func (e *jobResultError) IsRetryable() bool { return e.retryable }

func processJob(ctx context.Context, item *job.QueuedJob, results *resultstore.Store[uint32, json.RawMessage], capsSource *job.CapabilitySource, reboot retry.RebootFunc, log logging.Logger) error {
	var lastPayload json.RawMessage
	policy := retry.NewRebootOnceOnError()

	err := retry.WithReboot(ctx, policy, reboot, func(ctx context.Context) error {
		status, payload := item.Processor.Process(capsSource.Load())
		lastPayload = payload
		if status == job.Error {
			return &jobResultError{payload: payload, retryable: isDongleRequired(payload)}
		}
		return nil
	})

	results.Insert(item.Job.ID, lastPayload)
	if err != nil {
		logging.LogError(log, err, "hub.job", "job_id", item.Job.ID, "kind", item.Job.Kind)
		return err
	}
	return nil
}

// isDongleRequired reports whether payload is the {"error":"DongleRequired"}
// envelope xerrors.DongleRequired() produces, the one job-level failure
// spec section 4.5's reboot-and-retry-once policy applies to.
func isDongleRequired(payload json.RawMessage) bool {
	var env xerrors.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	return env.Error == "DongleRequired"
}
