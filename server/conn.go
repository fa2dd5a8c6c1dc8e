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
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lightcodelabs/stevedore/httpserver"
)

// readChunk is how much is read from a socket per readiness callback.
const readChunk = 4096

// connAction tells the engine what to do with a connection after a
// readiness callback.
type connAction int

const (
	// connKeep leaves registration unchanged.
	connKeep connAction = iota
	// connFlipWrite switches the fd to write interest.
	connFlipWrite
	// connFlipRead switches the fd back to read interest.
	connFlipRead
	// connClose tears the connection down.
	connClose
)

// Conn is the per-fd connection state: the socket, the request being
// parsed, and the response being written. Each fd has exactly one
// Conn; closing the Conn closes the fd.
type Conn struct {
	fd         int
	remoteAddr string

	// the listener's bound pair, for virtual-host selection
	boundHost string
	boundPort int

	req  *httpserver.Request
	resp *httpserver.Response

	interest     Interest
	lastActivity time.Time

	router  *httpserver.Router
	logger  *zap.Logger
	readBuf [readChunk]byte
}

// newConn wraps an accepted socket. The caller registers the returned
// Conn with the poller for read interest.
func newConn(fd int, remoteAddr string, boundHost string, boundPort int, bodyLimit int64, router *httpserver.Router, logger *zap.Logger) *Conn {
	return &Conn{
		fd:           fd,
		remoteAddr:   remoteAddr,
		boundHost:    boundHost,
		boundPort:    boundPort,
		req:          httpserver.NewRequest(bodyLimit),
		interest:     Readable,
		lastActivity: time.Now(),
		router:       router,
		logger:       logger,
	}
}

// onReadable pulls bytes from the socket into the parser. When the
// request completes (or fails), the response is computed and the
// connection flips to write interest.
func (c *Conn) onReadable() connAction {
	n, err := unix.Read(c.fd, c.readBuf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return connKeep
		}
		c.logger.Debug("read error",
			zap.Int("fd", c.fd), zap.String("remote", c.remoteAddr), zap.Error(err))
		return connClose
	}
	if n == 0 {
		// peer shut down its side; a half-received request cannot
		// complete anymore, but a connection with nothing in flight
		// just closed gracefully. No activity is recorded either
		// way: under level-triggered readiness the EOF stays
		// reported every tick, and a half-closed straggler must
		// still age out through the idle sweep.
		if c.req.Started() && !c.req.Complete() {
			return connKeep
		}
		c.logger.Debug("peer closed connection",
			zap.Int("fd", c.fd), zap.String("remote", c.remoteAddr))
		return connClose
	}

	c.lastActivity = time.Now()
	c.req.Feed(c.readBuf[:n])
	return c.maybeDispatch()
}

// maybeDispatch routes the request once the parser reaches a terminal
// state, and flips the connection toward writing the response.
func (c *Conn) maybeDispatch() connAction {
	if !c.req.Complete() && !c.req.Failed() {
		return connKeep
	}
	c.resp = c.router.Route(c.req, c.boundHost, c.boundPort)
	return connFlipWrite
}

// onWritable sends as many pending response bytes as the socket
// accepts. A fully sent response either resets the connection for the
// next request or closes it.
func (c *Conn) onWritable() connAction {
	if c.resp == nil {
		// write readiness without a pending response is a stale event
		return connKeep
	}

	pending := c.resp.Pending()
	if len(pending) > 0 {
		n, err := unix.Write(c.fd, pending)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				return connKeep
			}
			c.logger.Debug("write error",
				zap.Int("fd", c.fd), zap.String("remote", c.remoteAddr), zap.Error(err))
			return connClose
		}
		if n > 0 {
			c.lastActivity = time.Now()
		}
		c.resp.Advance(n)
	}
	if !c.resp.Done() {
		return connKeep
	}

	if c.shouldClose() {
		return connClose
	}

	// keep-alive: reset for the next request; bytes that arrived
	// behind the previous request may already complete it
	c.resp = nil
	c.req.Reset()
	c.req.Feed(nil)
	if action := c.maybeDispatch(); action == connFlipWrite {
		return connFlipWrite
	}
	return connFlipRead
}

// shouldClose consults the response's keep-alive disposition after a
// response has been fully sent.
func (c *Conn) shouldClose() bool {
	return c.resp == nil || !c.resp.KeepAlive()
}

// idleSince reports how long the connection has been without activity.
func (c *Conn) idleSince(now time.Time) time.Duration {
	return now.Sub(c.lastActivity)
}

// close releases the socket. The fd is owned exclusively by this Conn.
func (c *Conn) close() {
	unix.Close(c.fd)
	c.fd = -1
}
