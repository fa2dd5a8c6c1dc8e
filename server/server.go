// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore/cgi"
	"github.com/lightcodelabs/stevedore/config"
	"github.com/lightcodelabs/stevedore/httpserver"
	"github.com/lightcodelabs/stevedore/internal/metrics"
)

const (
	// tickTimeout bounds the readiness wait so idle sweeps and the
	// shutdown flag are checked regularly.
	tickTimeout = 1 * time.Second

	// idleTimeout closes connections with no activity. The source of
	// record left this unspecified; one minute keeps slow clients
	// alive without hoarding descriptors.
	idleTimeout = 60 * time.Second

	// drainTimeout bounds the graceful-shutdown drain of in-flight
	// responses.
	drainTimeout = 5 * time.Second
)

// Server is the connection lifecycle engine: one poller, the listener
// set, and every live connection, all driven by a single goroutine.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	poller    Poller
	listeners map[int]*Listener
	conns     map[int]*Conn
	router    *httpserver.Router

	shutdown atomic.Bool
}

// New assembles a Server from a configuration. Call Start to bind the
// listeners and Run to enter the event loop.
func New(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := httpserver.NewRouter(cfg, logger.Named("router"))
	router.CGI = cgi.New(logger.Named("cgi"))
	return &Server{
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[int]*Listener),
		conns:     make(map[int]*Conn),
		router:    router,
	}
}

// Start opens one listening socket per distinct host:port pair across
// all server blocks and registers them with the poller.
func (s *Server) Start() error {
	poller, err := NewPoller()
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}
	s.poller = poller

	bound := make(map[string]bool)
	for _, srv := range s.cfg.Servers {
		key := fmt.Sprintf("%s:%d", srv.Host, srv.Port)
		if bound[key] {
			continue
		}
		ln, err := Listen(srv.Host, srv.Port, s.logger)
		if err != nil {
			s.Close()
			return err
		}
		bound[key] = true
		if err := s.poller.Add(ln.FD(), Readable); err != nil {
			ln.Close()
			s.Close()
			return fmt.Errorf("registering listener: %w", err)
		}
		s.listeners[ln.FD()] = ln
	}
	if len(s.listeners) == 0 {
		s.Close()
		return fmt.Errorf("no listening sockets initialized")
	}
	return nil
}

// Run drives the event loop until Stop is called. On shutdown it stops
// accepting, drains in-flight responses best-effort, and closes every
// descriptor.
func (s *Server) Run() error {
	for !s.shutdown.Load() {
		if err := s.tick(); err != nil {
			return err
		}
	}
	s.drain()
	s.Close()
	return nil
}

// Stop asks the event loop to shut down. Safe to call from a signal
// handler goroutine; the flag is consulted between ticks.
func (s *Server) Stop() {
	s.shutdown.Store(true)
}

// tick runs one reactor iteration: wait for readiness, accept new
// clients, advance readable and writable connections, sweep idle ones.
func (s *Server) tick() error {
	events, err := s.poller.Wait(tickTimeout)
	if err != nil {
		return fmt.Errorf("poller wait: %w", err)
	}

	for _, ev := range events {
		if ln, ok := s.listeners[ev.FD]; ok {
			if ev.Readable {
				s.acceptFrom(ln)
			}
			continue
		}

		conn, ok := s.conns[ev.FD]
		if !ok {
			continue
		}
		// the engine registers one direction at a time, so an event
		// is either a read or a write for this connection, never both
		switch {
		case ev.Readable && conn.interest&Readable != 0:
			s.apply(conn, conn.onReadable())
		case ev.Writable && conn.interest&Writable != 0:
			s.apply(conn, conn.onWritable())
		}
	}

	s.sweepIdle(time.Now())
	return nil
}

// acceptFrom registers every client pending on a ready listener.
func (s *Server) acceptFrom(ln *Listener) {
	for _, ac := range ln.AcceptReady() {
		bodyLimit := s.bodyLimitFor(ln)
		conn := newConn(ac.fd, ac.remoteAddr, ln.Host(), ln.Port(), bodyLimit, s.router, s.logger)
		if err := s.poller.Add(ac.fd, Readable); err != nil {
			s.logger.Error("registering connection", zap.Int("fd", ac.fd), zap.Error(err))
			conn.close()
			continue
		}
		s.conns[ac.fd] = conn
		metrics.ConnectionsAccepted.Inc()
		metrics.OpenConnections.Inc()
		s.logger.Debug("connection accepted",
			zap.Int("fd", ac.fd), zap.String("remote", ac.remoteAddr))
	}
}

// bodyLimitFor returns the body cap for connections on a listener: the
// largest limit among server blocks sharing the pair, so that the
// parser never rejects a body its virtual host would accept. The
// router re-checks the selected block's own limit.
func (s *Server) bodyLimitFor(ln *Listener) int64 {
	var limit int64
	for _, srv := range s.cfg.Servers {
		if srv.Port == ln.Port() && (srv.Host == ln.Host() || srv.Host == "0.0.0.0") {
			if srv.BodyLimit > limit {
				limit = srv.BodyLimit
			}
		}
	}
	if limit == 0 {
		limit = config.DefaultBodyLimit
	}
	return limit
}

// apply carries out a connection callback's decision.
func (s *Server) apply(conn *Conn, action connAction) {
	switch action {
	case connKeep:
	case connFlipWrite:
		if conn.interest != Writable {
			if err := s.poller.Modify(conn.fd, Writable); err != nil {
				s.closeConn(conn)
				return
			}
			conn.interest = Writable
		}
	case connFlipRead:
		if conn.interest != Readable {
			if err := s.poller.Modify(conn.fd, Readable); err != nil {
				s.closeConn(conn)
				return
			}
			conn.interest = Readable
		}
	case connClose:
		s.closeConn(conn)
	}
}

// closeConn deregisters and closes a connection.
func (s *Server) closeConn(conn *Conn) {
	if _, ok := s.conns[conn.fd]; !ok {
		return
	}
	delete(s.conns, conn.fd)
	s.poller.Remove(conn.fd)
	conn.close()
	metrics.OpenConnections.Dec()
}

// sweepIdle closes connections past the idle timeout.
func (s *Server) sweepIdle(now time.Time) {
	for _, conn := range s.conns {
		if conn.idleSince(now) > idleTimeout {
			s.logger.Debug("closing idle connection",
				zap.Int("fd", conn.fd), zap.String("remote", conn.remoteAddr))
			s.closeConn(conn)
		}
	}
}

// drain stops accepting and gives in-flight responses a bounded window
// to finish writing.
func (s *Server) drain() {
	for fd, ln := range s.listeners {
		s.poller.Remove(fd)
		ln.Close()
		delete(s.listeners, fd)
	}

	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		inflight := false
		for _, conn := range s.conns {
			if conn.resp != nil && !conn.resp.Done() {
				inflight = true
				break
			}
		}
		if !inflight {
			return
		}
		events, err := s.poller.Wait(100 * time.Millisecond)
		if err != nil {
			return
		}
		for _, ev := range events {
			conn, ok := s.conns[ev.FD]
			if !ok {
				continue
			}
			if ev.Writable && conn.interest&Writable != 0 {
				s.apply(conn, conn.onWritable())
			}
		}
	}
}

// Close releases every descriptor the engine owns.
func (s *Server) Close() {
	for _, conn := range s.conns {
		s.poller.Remove(conn.fd)
		conn.close()
		metrics.OpenConnections.Dec()
	}
	s.conns = make(map[int]*Conn)
	for fd, ln := range s.listeners {
		ln.Close()
		delete(s.listeners, fd)
	}
	if s.poller != nil {
		s.poller.Close()
		s.poller = nil
	}
	s.logger.Info("server stopped")
}
