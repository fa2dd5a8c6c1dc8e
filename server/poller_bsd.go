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

//go:build darwin || freebsd || netbsd || openbsd

package server

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/Darwin poller. kqueue filters are
// per-direction, so interest changes add and delete the read and
// write filters individually.
type kqueuePoller struct {
	kq       int
	events   []unix.Kevent_t
	interest map[int]Interest
}

// NewPoller returns the platform poller.
func NewPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:       kq,
		events:   make([]unix.Kevent_t, 128),
		interest: make(map[int]Interest),
	}, nil
}

func (p *kqueuePoller) apply(fd int, old, new Interest) error {
	var changes []unix.Kevent_t
	set := func(filter int16, on bool) {
		flags := uint16(unix.EV_DELETE)
		if on {
			flags = unix.EV_ADD
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	if old&Readable != new&Readable {
		set(unix.EVFILT_READ, new&Readable != 0)
	}
	if old&Writable != new&Writable {
		set(unix.EVFILT_WRITE, new&Writable != 0)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, interest Interest) error {
	if err := p.apply(fd, 0, interest); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	if err := p.apply(fd, p.interest[fd], interest); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

func (p *kqueuePoller) Remove(fd int) error {
	err := p.apply(fd, p.interest[fd], 0)
	delete(p.interest, fd)
	return err
}

func (p *kqueuePoller) Wait(timeout time.Duration) ([]Event, error) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(p.kq, nil, p.events, &ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for _, ev := range p.events[:n] {
		out = append(out, Event{
			FD:       int(ev.Ident),
			Readable: ev.Filter == unix.EVFILT_READ,
			Writable: ev.Filter == unix.EVFILT_WRITE,
		})
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
