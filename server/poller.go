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

// Package server runs the connection lifecycle engine: a
// single-threaded readiness loop that accepts clients, drives each
// connection's parser, dispatches complete requests, and writes
// responses, all over non-blocking sockets.
package server

import "time"

// Interest declares which readiness a file descriptor is registered
// for. The engine registers exactly one direction at a time: READ
// while a request is being assembled, WRITE while a response drains.
type Interest uint8

// Interest bits.
const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one fd reported ready by the poller.
type Event struct {
	FD       int
	Readable bool
	Writable bool
}

// Poller is a level-triggered readiness multiplexer over raw file
// descriptors. Implementations exist per platform (epoll, kqueue).
type Poller interface {
	// Add registers fd with the given interest.
	Add(fd int, interest Interest) error

	// Modify replaces fd's registered interest.
	Modify(fd int, interest Interest) error

	// Remove deregisters fd.
	Remove(fd int) error

	// Wait blocks until at least one fd is ready, a signal interrupts,
	// or timeout elapses. An interrupted or timed-out wait returns an
	// empty slice and no error.
	Wait(timeout time.Duration) ([]Event, error)

	// Close releases the poller's own descriptor.
	Close() error
}
