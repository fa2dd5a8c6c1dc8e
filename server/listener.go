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
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// listenBacklog is the pending-connection queue depth requested from
// the kernel.
const listenBacklog = 128

// Listener owns one bound, listening, non-blocking TCP socket.
type Listener struct {
	fd   int
	host string
	port int

	logger *zap.Logger
}

// Listen opens a non-blocking listening socket on host:port with
// address reuse enabled.
func Listen(host string, port int, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var addr [4]byte
	if host != "0.0.0.0" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid listen host %q", host)
		}
		copy(addr[:], ip.To4())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting listener non-blocking: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listening on %s:%d: %w", host, port, err)
	}

	logger.Info("listening", zap.String("host", host), zap.Int("port", port))
	return &Listener{fd: fd, host: host, port: port, logger: logger}, nil
}

// FD returns the listening socket's descriptor.
func (l *Listener) FD() int { return l.fd }

// Host returns the bound host.
func (l *Listener) Host() string { return l.host }

// Port returns the bound port.
func (l *Listener) Port() int { return l.port }

// AcceptReady drains the accept queue, returning one connection fd and
// peer address per pending client. The drain ends when accept would
// block. EINTR and ECONNABORTED are retried without logging; any other
// accept error is logged and ends this drain.
func (l *Listener) AcceptReady() []acceptedConn {
	var accepted []acceptedConn
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return accepted
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			l.logger.Error("accept failed",
				zap.Int("fd", l.fd), zap.Error(err))
			return accepted
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			l.logger.Error("setting accepted socket non-blocking", zap.Error(err))
			unix.Close(nfd)
			continue
		}
		unix.CloseOnExec(nfd)
		// response bytes should leave as soon as they are written
		if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			l.logger.Debug("setting TCP_NODELAY", zap.Error(err))
		}

		accepted = append(accepted, acceptedConn{fd: nfd, remoteAddr: sockaddrString(sa)})
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// acceptedConn is a freshly accepted client before registration.
type acceptedConn struct {
	fd         int
	remoteAddr string
}

// sockaddrString formats a peer address for logs.
func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(sa.Addr[:]).String(), sa.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(sa.Addr[:]).String(), sa.Port)
	}
	return "unknown"
}
