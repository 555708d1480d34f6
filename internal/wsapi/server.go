// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wsapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dakyri/xypi/internal/dispatch"
	"github.com/dakyri/xypi/pkg/logging"
)

// Server accepts RFC6455 WebSocket connections on the hub's control-plane
// port (spec section 4.9/6 "--ws_port") and runs one Session per connection.
// Grounded on the teacher's pkg/streaming.WebSocketServer: an http.Server
// plus a gorilla Upgrader, one goroutine per accepted connection.
type Server struct {
	addr       string
	dispatcher *dispatch.Dispatcher
	log        logging.Logger
	upgrader   websocket.Upgrader

	opts []Option

	httpSrv  *http.Server
	wg       sync.WaitGroup
	sessCtx  atomic.Pointer[context.Context]
}

// NewServer builds a Server listening on addr (host:port), routing every
// session's requests through dispatcher.
func NewServer(addr string, dispatcher *dispatch.Dispatcher, log logging.Logger, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		dispatcher: dispatcher,
		log:        log,
		opts:       opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run listens until ctx is done, then shuts the underlying http.Server down.
// It blocks until the listener exits.
func (s *Server) Run(ctx context.Context) error {
	s.sessCtx.Store(&ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			logging.LogError(s.log, err, "wsapi.shutdown")
		}
		s.wg.Wait()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("wsapi: listen on %s: %w", s.addr, err)
		}
		return nil
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogError(s.log, err, "wsapi.upgrade")
		return
	}

	ctx := context.Background()
	if p := s.sessCtx.Load(); p != nil {
		ctx = *p
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer conn.Close()

		sess := New(NewRFC6455Conn(conn), s.dispatcher, s.log, s.opts...)
		sess.Run(ctx)
	}()
}
