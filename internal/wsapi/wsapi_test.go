// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dakyri/xypi/internal/dispatch"
	"github.com/dakyri/xypi/internal/job"
	"github.com/dakyri/xypi/internal/queue"
	"github.com/dakyri/xypi/internal/resultstore"
	"github.com/dakyri/xypi/pkg/logging"
)

// fakeConn is an in-memory FrameConn driven by a queue of inbound frames and
// a recorder of outbound ones, used to exercise Session.Run without a real
// socket.
type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	sent    [][]byte
	closed  bool
	reason  string
	timeout bool
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func (c *fakeConn) ReadText() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		if c.timeout {
			return nil, timeoutErr{}
		}
		return nil, errors.New("eof: no more frames")
	}
	f := c.inbound[0]
	c.inbound = c.inbound[1:]
	return f, nil
}

func (c *fakeConn) WriteText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reason = reason
	return nil
}

func newDispatcher() *dispatch.Dispatcher {
	cmdQ := queue.New[*job.QueuedJob]()
	cmdQ.Enable(true)
	results := resultstore.New[uint32, json.RawMessage]()
	return dispatch.New(cmdQ, results, nil, logging.NoOpLogger{})
}

func TestSessionEchoesDispatcherResponse(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{[]byte(`{"cmd":"ping"}`)}}
	sess := New(conn, newDispatcher(), logging.NoOpLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess.Run(ctx)

	// The second frame is the going_away close envelope Session writes once
	// the fake conn runs out of inbound frames.
	require.Len(t, conn.sent, 2)
	var resp map[string]uint32
	require.NoError(t, json.Unmarshal(conn.sent[0], &resp))
	assert.Equal(t, uint32(1), resp["id"])
}

func TestSessionRejectsInvalidJSONWithoutClosing(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{[]byte(`not json`)}}
	sess := New(conn, newDispatcher(), logging.NoOpLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess.Run(ctx)

	// The session stays open after the invalid-JSON reply; the second frame
	// is the going_away close envelope written when the fake conn runs dry.
	require.Len(t, conn.sent, 2)
	var env map[string]string
	require.NoError(t, json.Unmarshal(conn.sent[0], &env))
	assert.NotEmpty(t, env["error"])
}

func TestSessionClosesAfterReadErrorEndsFrames(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{[]byte(`{"cmd":"ping"}`)}}
	sess := New(conn, newDispatcher(), logging.NoOpLogger{})

	sess.Run(context.Background())

	assert.True(t, conn.closed)
	assert.Equal(t, "going_away", conn.reason)
}

func TestSessionClosesAfterRetryBudgetExceeded(t *testing.T) {
	conn := &fakeConn{timeout: true}
	sess := New(conn, newDispatcher(), logging.NoOpLogger{}, WithMaxRetries(2))

	sess.Run(context.Background())

	assert.True(t, conn.closed)
}
