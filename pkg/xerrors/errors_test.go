// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package xerrors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	e := New(CodeBadRequest, "missing field")
	assert.Equal(t, CodeBadRequest, e.Code)
	assert.Equal(t, CategoryRequest, e.Category)
	assert.False(t, e.Retryable)

	cause := errors.New("boom")
	w := Wrap(CodeCryptoFailure, "crypto op failed", cause)
	assert.Equal(t, CategoryCapability, w.Category)
	assert.True(t, w.Retryable == false || w.Code == CodeCryptoFailure)
	assert.Equal(t, cause, w.Unwrap())
}

func TestErrorString(t *testing.T) {
	e := New(CodeUnknownCommand, "Command 'foo' not implemented.")
	assert.Contains(t, e.Error(), "UNKNOWN_COMMAND")

	e.Details = "extra"
	assert.Contains(t, e.Error(), "extra")
}

func TestIs(t *testing.T) {
	e1 := New(CodeInvalidHex, "bad hex")
	e2 := New(CodeInvalidHex, "other message")
	e3 := New(CodeInvalidJSON, "bad json")
	assert.True(t, e1.Is(e2))
	assert.False(t, e1.Is(e3))
}

func TestCategoryAndRetryable(t *testing.T) {
	assert.True(t, DongleRequired().IsRetryable())
	assert.False(t, CryptoFailure(errors.New("x")).IsRetryable())
	assert.True(t, ProtocolClose("going_away").ClosesSession())
	assert.False(t, BadRequest("bad").ClosesSession())
}

func TestToEnvelope(t *testing.T) {
	e := UnknownCommand("bogus")
	env := e.ToEnvelope()
	assert.Equal(t, "Command 'bogus' not implemented.", env.Error)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Command 'bogus' not implemented."}`, string(raw))
}

func TestInvalidJSONWrapsCause(t *testing.T) {
	var target *json.UnmarshalTypeError
	_ = target
	cause := errors.New("cannot unmarshal number into Go struct field")
	e := InvalidJSON(cause)
	assert.Equal(t, CodeInvalidJSON, e.Code)
	assert.ErrorIs(t, e, cause)
}

func TestAsHelper(t *testing.T) {
	inner := New(CodeInternal, "boom")
	wrapped := errors.New("context: " + inner.Error())
	_, ok := As(wrapped)
	assert.False(t, ok)

	found, ok := As(inner)
	require.True(t, ok)
	assert.Equal(t, CodeInternal, found.Code)
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	e := FromContext(ctx.Err())
	assert.Equal(t, CodeReadTimeout, e.Code)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	e2 := FromContext(ctx2.Err())
	assert.Equal(t, CodeProtocolClose, e2.Code)

	e3 := FromContext(errors.New("weird"))
	assert.Equal(t, CodeInternal, e3.Code)
}
