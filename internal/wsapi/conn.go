// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package wsapi implements the WebSocket control-plane session (spec
// section 4.9), grounded on original_source/ws_session_handler.cpp and the
// teacher's pkg/streaming/websocket.go pattern (gorilla/websocket.Upgrader,
// a per-connection read loop). Both framing variants spec.md 9 mentions are
// implemented behind the same FrameConn interface: the RFC6455 variant this
// hub runs, and the legacy length-prefixed framing kept as a second
// implementation so the session loop itself stays framing-agnostic.
package wsapi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// FrameConn is one text-frame request/response transport: read the next
// full JSON frame, write one back, close with a protocol-level reason.
type FrameConn interface {
	ReadText() ([]byte, error)
	WriteText(payload []byte) error
	SetReadDeadline(t time.Time) error
	Close(code int, reason string) error
}

// rfc6455Conn adapts a gorilla websocket.Conn to FrameConn.
type rfc6455Conn struct {
	conn *websocket.Conn
}

// NewRFC6455Conn wraps an upgraded websocket connection.
func NewRFC6455Conn(conn *websocket.Conn) FrameConn { return &rfc6455Conn{conn: conn} }

func (c *rfc6455Conn) ReadText() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *rfc6455Conn) WriteText(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *rfc6455Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// closeCodeFor maps this hub's protocol-close reasons (spec section 4.9) to
// an RFC6455 close status code.
func closeCodeFor(reason string) int {
	switch reason {
	case "bad_payload":
		return websocket.CloseUnsupportedData
	case "going_away":
		return websocket.CloseGoingAway
	default:
		return websocket.CloseInternalServerErr
	}
}

func (c *rfc6455Conn) Close(code int, reason string) error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCodeFor(reason), reason),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// legacyConn implements the pre-RFC6455 length-prefixed framing this hub
// also carries (spec section 4.9, grounded on
// original_source/ws_session_handler.cpp's raw read loop): a 4-byte
// little-endian length prefix followed by that many UTF-8 JSON bytes.
type legacyConn struct {
	conn net.Conn
}

// NewLegacyConn wraps a raw accepted TCP connection in the legacy framing.
func NewLegacyConn(conn net.Conn) FrameConn { return &legacyConn{conn: conn} }

// maxLegacyFrame bounds a single legacy frame so a corrupt length prefix
// cannot force an unbounded allocation.
const maxLegacyFrame = 16 << 20

func (c *legacyConn) ReadText() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxLegacyFrame {
		return nil, fmt.Errorf("wsapi: legacy frame length %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *legacyConn) WriteText(payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(payload)
	return err
}

func (c *legacyConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *legacyConn) Close(code int, reason string) error {
	_ = reason
	return c.conn.Close()
}

// IsTimeout reports whether err is a read-deadline expiry, the trigger for
// the session loop's retry-then-close policy (spec section 4.9).
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
