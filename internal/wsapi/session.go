// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wsapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dakyri/xypi/internal/dispatch"
	"github.com/dakyri/xypi/pkg/logging"
	"github.com/dakyri/xypi/pkg/xerrors"
)

// Session runs the per-connection read/dispatch/write loop (spec section
// 4.9): each received text frame is parsed as JSON, handed to the command
// dispatcher, and the response sent back as one frame, in order, on this
// connection only.
type Session struct {
	conn       FrameConn
	dispatcher *dispatch.Dispatcher
	log        logging.Logger

	readTimeout time.Duration
	maxRetries  int

	id string
}

// Option configures a Session at construction.
type Option func(*Session)

// WithReadTimeout overrides the default 20s idle read deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) { s.readTimeout = d }
}

// WithMaxRetries overrides the default retry budget (6) for consecutive
// read timeouts before the session closes.
func WithMaxRetries(n int) Option {
	return func(s *Session) { s.maxRetries = n }
}

// New builds a Session over conn, routing requests through dispatcher.
func New(conn FrameConn, dispatcher *dispatch.Dispatcher, log logging.Logger, opts ...Option) *Session {
	s := &Session{
		conn:        conn,
		dispatcher:  dispatcher,
		readTimeout: 20 * time.Second,
		maxRetries:  6,
		id:          uuid.NewString(),
	}
	s.log = log.With("conn_id", s.id)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the session until ctx is done, the peer closes the
// connection, or an unrecoverable error closes it from this side.
func (s *Session) Run(ctx context.Context) {
	ctx = logging.WithConnID(ctx, s.id)
	retries := 0
	for ctx.Err() == nil {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			logging.LogError(s.log, err, "wsapi.set_read_deadline")
			s.closeWith(xerrors.ProtocolClose("internal_error"))
			return
		}

		raw, err := s.conn.ReadText()
		if err != nil {
			if IsTimeout(err) {
				retries++
				if retries > s.maxRetries {
					s.log.Warn("wsapi: read timeout retry budget exceeded, closing")
					s.closeWith(xerrors.ReadTimeout())
					return
				}
				continue
			}
			s.log.Debug("wsapi: session ending", "error", err.Error())
			s.closeWith(xerrors.ProtocolClose("going_away"))
			return
		}
		retries = 0

		resp := s.handle(ctx, raw)
		if err := s.conn.WriteText(resp); err != nil {
			logging.LogError(s.log, err, "wsapi.write")
			s.closeWith(xerrors.ProtocolClose("internal_error"))
			return
		}
	}
}

// handle parses and dispatches one frame, converting any panic-free
// failure into the {"error": "..."} envelope spec section 4.9 requires;
// the dispatcher itself already maps JSON/lookup errors this way, so this
// wrapper exists for the framing-level bad-payload case.
func (s *Session) handle(ctx context.Context, raw []byte) []byte {
	if !json.Valid(raw) {
		env, _ := json.Marshal(xerrors.BadRequest("invalid JSON payload").ToEnvelope())
		return env
	}
	return s.dispatcher.Process(ctx, raw)
}

func (s *Session) closeWith(err *xerrors.Error) {
	env, _ := json.Marshal(err.ToEnvelope())
	_ = s.conn.WriteText(env)
	reason := err.Details
	if reason == "" {
		reason = "internal_error"
	}
	if cerr := s.conn.Close(0, reason); cerr != nil {
		logging.LogError(s.log, cerr, "wsapi.close")
	}
}
