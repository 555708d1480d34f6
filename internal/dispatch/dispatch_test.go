// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dakyri/xypi/internal/job"
	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/internal/queue"
	"github.com/dakyri/xypi/internal/resultstore"
	"github.com/dakyri/xypi/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	cmdQ := queue.New[*job.QueuedJob]()
	cmdQ.Enable(true)
	results := resultstore.New[uint32, json.RawMessage]()
	return New(cmdQ, results, nullSink{}, logging.NoOpLogger{})
}

// nullSink discards pushes, standing in for the SPI outbound queue in tests
// that don't exercise config_button/set_tempo/duino_cmd.
type nullSink struct{}

func (nullSink) PushBack(msg.Msg) {}

func TestDispatchUnknownCommand(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"nope"}`))
	assert.JSONEq(t, `{"error":"Command 'nope' not implemented."}`, string(resp))
}

func TestDispatchMissingCmd(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Process(context.Background(), json.RawMessage(`{}`))
	var env map[string]string
	require.NoError(t, json.Unmarshal(resp, &env))
	assert.Contains(t, env["error"], "cmd")
}

func TestDispatchPingAssignsIDOneThenTwo(t *testing.T) {
	d := newTestDispatcher()
	resp1 := d.Process(context.Background(), json.RawMessage(`{"cmd":"ping"}`))
	var out1 struct{ ID uint32 `json:"id"` }
	require.NoError(t, json.Unmarshal(resp1, &out1))
	assert.Equal(t, uint32(1), out1.ID)

	resp2 := d.Process(context.Background(), json.RawMessage(`{"cmd":"ping"}`))
	var out2 struct{ ID uint32 `json:"id"` }
	require.NoError(t, json.Unmarshal(resp2, &out2))
	assert.Equal(t, uint32(2), out2.ID)
}

func TestDispatchGetIDZeroIsBadRequest(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"get","id":"0"}`))
	assert.JSONEq(t, `{"error":"Bad request id 0"}`, string(resp))
}

func TestDispatchGetUnknownID(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"get","id":"99"}`))
	var env map[string]string
	require.NoError(t, json.Unmarshal(resp, &env))
	assert.Contains(t, env["error"], "99")
}

func TestDispatchGetDoneConsumesResult(t *testing.T) {
	d := newTestDispatcher()
	d.Process(context.Background(), json.RawMessage(`{"cmd":"ping"}`))

	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"get","id":"1"}`))
	var out struct {
		State string          `json:"state"`
		Resp  json.RawMessage `json:"resp"`
	}
	require.NoError(t, json.Unmarshal(resp, &out))
	assert.Equal(t, "done", out.State)

	// second fetch: result was consumed, and it's not queued either.
	resp2 := d.Process(context.Background(), json.RawMessage(`{"cmd":"get","id":"1"}`))
	var env map[string]string
	require.NoError(t, json.Unmarshal(resp2, &env))
	assert.Contains(t, env["error"], "neither queued or completed")
}

func TestDispatchListEmpty(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"list"}`))
	assert.JSONEq(t, `{"requests":{},"responses":{}}`, string(resp))
}

func TestDispatchListAfterPingHasResponse(t *testing.T) {
	d := newTestDispatcher()
	d.Process(context.Background(), json.RawMessage(`{"cmd":"ping"}`))

	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"list"}`))
	var out struct {
		Requests  map[string]json.RawMessage `json:"requests"`
		Responses map[string]json.RawMessage `json:"responses"`
	}
	require.NoError(t, json.Unmarshal(resp, &out))
	assert.Empty(t, out.Requests)
	assert.Contains(t, out.Responses, "1")
}

// scheduledJob is a Processor test double that always reports Scheduled, to
// exercise the enqueue/"get" position path without a dongle-backed job.
type scheduledJob struct {
	request json.RawMessage
}

func (s *scheduledJob) ToJSON() json.RawMessage { return s.request }

func (s *scheduledJob) Process(job.Capabilities) (job.Status, json.RawMessage) {
	return job.Scheduled, nil
}

func TestDispatchScheduledJobIsQueuedAndPositioned(t *testing.T) {
	d := newTestDispatcher()
	d.Register("slow", Entry{Factory: func(req json.RawMessage) (job.Processor, error) {
		return &scheduledJob{request: req}, nil
	}})

	resp := d.Process(context.Background(), json.RawMessage(`{"cmd":"slow"}`))
	var out struct{ ID uint32 `json:"id"` }
	require.NoError(t, json.Unmarshal(resp, &out))
	assert.Equal(t, uint32(1), out.ID)

	getResp := d.Process(context.Background(), json.RawMessage(`{"cmd":"get","id":"1"}`))
	var state struct {
		State string `json:"state"`
		Pos   int    `json:"pos"`
	}
	require.NoError(t, json.Unmarshal(getResp, &state))
	assert.Equal(t, "enqueued", state.State)
	assert.Equal(t, 0, state.Pos)

	listResp := d.Process(context.Background(), json.RawMessage(`{"cmd":"list"}`))
	var list struct {
		Requests map[string]json.RawMessage `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(listResp, &list))
	assert.Contains(t, list.Requests, "1")
}

func TestDispatchRegisterPanicsOnAmbiguousEntry(t *testing.T) {
	d := newTestDispatcher()
	assert.Panics(t, func() {
		d.Register("bad", Entry{})
	})
	assert.Panics(t, func() {
		d.Register("bad", Entry{
			Immediate: func(*Dispatcher, json.RawMessage) (json.RawMessage, error) { return nil, nil },
			Factory:   func(json.RawMessage) (job.Processor, error) { return nil, nil },
		})
	})
}
