// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package udpserver implements the UDP/OSC server (spec section 4.10),
// grounded on original_source/osc_server.cpp: a UDP socket bound to a
// configured port, a mutable outbound destination, an asynchronous receive
// loop that discards self-echoed packets, hands everything else to the OSC
// codec, and answers every accepted datagram with a fixed diagnostic reply.
package udpserver

import (
	"context"
	"fmt"
	"net"
	"sync"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/dakyri/xypi/internal/msg"
	"github.com/dakyri/xypi/internal/osc"
	"github.com/dakyri/xypi/pkg/logging"
)

// maxDatagram bounds a single inbound UDP read, well above any OSC payload
// this hub's grammar produces.
const maxDatagram = 64 * 1024

// Sink receives a Msg the server decoded from an inbound OSC packet.
type Sink interface {
	PushBack(msg.Msg)
}

// Server owns the UDP socket this hub's OSC plane listens and replies on.
type Server struct {
	conn  *net.UDPConn
	codec *osc.Codec
	spiIn Sink
	log   logging.Logger

	mu  sync.RWMutex
	dst *net.UDPAddr
}

// New binds a UDP socket on rcvPort and sets the initial outbound
// destination to dstAddr:dstPort (spec section 4.10's default
// 127.0.0.1:57120).
func New(rcvPort uint16, dstAddr string, dstPort uint16, codec *osc.Codec, spiIn Sink, log logging.Logger) (*Server, error) {
	laddr := &net.UDPAddr{Port: int(rcvPort)}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udpserver: listen on port %d: %w", rcvPort, err)
	}

	dst, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", dstAddr, dstPort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpserver: resolve destination %s:%d: %w", dstAddr, dstPort, err)
	}

	return &Server{conn: conn, codec: codec, spiIn: spiIn, log: log, dst: dst}, nil
}

// SetDestination updates the address outbound OSC traffic is sent to.
func (s *Server) SetDestination(addr string, port uint16) error {
	dst, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return fmt.Errorf("udpserver: resolve destination %s:%d: %w", addr, port, err)
	}
	s.mu.Lock()
	s.dst = dst
	s.mu.Unlock()
	return nil
}

func (s *Server) destination() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dst
}

// Close releases the underlying socket.
func (s *Server) Close() error { return s.conn.Close() }

// LocalAddr returns the address this server's socket is bound to, e.g. for
// a caller that bound to port 0 and needs the kernel-assigned port.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Run reads datagrams until ctx is done or the socket is closed. Each
// accepted packet (not a self-echo) is decoded and its Msg values pushed to
// spiInQ (spec section 8 scenario S4); every accepted packet also gets a
// fixed diagnostic /pong reply.
func (s *Server) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udpserver: read: %w", err)
		}

		if s.isSelfEcho(remote) {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.handle(remote, payload)
	}
}

// isSelfEcho reports whether remote matches this socket's own local
// endpoint, the condition spec section 4.10 discards as an echoed packet.
func (s *Server) isSelfEcho(remote *net.UDPAddr) bool {
	local, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok || remote == nil {
		return false
	}
	return remote.Port == local.Port && (remote.IP.IsLoopback() || remote.IP.Equal(local.IP))
}

func (s *Server) handle(remote *net.UDPAddr, payload []byte) {
	msgs, err := s.codec.Decode(payload)
	if err != nil {
		s.log.Warn("udpserver: dropping unparseable packet", "error", err.Error(), "remote", remote.String())
	} else {
		for _, m := range msgs {
			s.spiIn.PushBack(m)
		}
	}
	s.reply(remote)
}

// reply sends the fixed diagnostic /pong message back to sender (spec
// section 4.10's "fixed diagnostic OSC reply").
func (s *Server) reply(remote *net.UDPAddr) {
	pong := goosc.NewMessage("/pong")
	raw, err := pong.MarshalBinary()
	if err != nil {
		logging.LogError(s.log, err, "udpserver.encode_pong")
		return
	}
	if _, err := s.conn.WriteToUDP(raw, remote); err != nil {
		logging.LogError(s.log, err, "udpserver.reply", "remote", remote.String())
	}
}

// Send packs m into one or more OSC messages via the codec and transmits
// each to the current outbound destination (spec section 4.11's OSC-out
// worker, draining oscInQ).
func (s *Server) Send(m msg.Msg) error {
	packets, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	dst := s.destination()
	for _, p := range packets {
		raw, err := p.MarshalBinary()
		if err != nil {
			return fmt.Errorf("udpserver: encode outbound packet: %w", err)
		}
		if _, err := s.conn.WriteToUDP(raw, dst); err != nil {
			return fmt.Errorf("udpserver: send to %s: %w", dst, err)
		}
	}
	return nil
}
