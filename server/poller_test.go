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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPoller(t *testing.T) Poller {
	t.Helper()
	p, err := NewPoller()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func testPipe(t *testing.T) (int, int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerReportsReadable(t *testing.T) {
	p := newTestPoller(t)
	r, w := testPipe(t)
	require.NoError(t, p.Add(r, Readable))

	// nothing written yet: the wait times out empty
	events, err := p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events, err = p.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, r, events[0].FD)
	assert.True(t, events[0].Readable)
}

func TestPollerReportsWritable(t *testing.T) {
	p := newTestPoller(t)
	_, w := testPipe(t)
	require.NoError(t, p.Add(w, Writable))

	events, err := p.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, w, events[0].FD)
	assert.True(t, events[0].Writable)
}

func TestPollerLevelTriggered(t *testing.T) {
	p := newTestPoller(t)
	r, w := testPipe(t)
	require.NoError(t, p.Add(r, Readable))
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	// level-triggered: the fd stays ready until drained
	events, err := p.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	events, err = p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// after draining, readiness goes away
	buf := make([]byte, 8)
	_, err = unix.Read(r, buf)
	require.NoError(t, err)
	events, err = p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPollerRemove(t *testing.T) {
	p := newTestPoller(t)
	r, w := testPipe(t)
	require.NoError(t, p.Add(r, Readable))
	require.NoError(t, p.Remove(r))

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
}
