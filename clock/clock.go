// Mgmt
// Copyright (C) 2013-2026+ James Shubin and the project contributors
// Written by James Shubin <james@shubin.ca> and the project contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package clock provides the monotonic time abstraction used for timeouts,
// sequence-number tiebreaks, and message timestamps. Tests substitute Virtual
// for a real clock so that Timeout scenarios don't need to sleep on wall time.
package clock

import (
	"sync"
	"time"
)

// Clock is the single time abstraction the rest of the library depends on.
// All deadlines are computed as absolute points in time (Now().Add(d)) and
// waited on with After, never as a relative sleep duration re-measured at each
// suspension point, which is what lets timeouts survive goroutine scheduling
// jitter without drifting.
type Clock interface {
	// Now returns the current monotonic time.
	Now() time.Time
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
}

// Real is the production Clock, backed by the standard library.
type Real struct{}

// Now returns time.Now(). Go's time.Time carries a monotonic reading as long
// as it isn't round-tripped through marshaling, which is the property the
// rest of this library depends on for timeout correctness.
func (Real) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep calls time.Sleep(d).
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Virtual is a manually-advanced Clock for deterministic tests. The zero
// value is not usable; use NewVirtual.
type Virtual struct {
	mutex   sync.Mutex
	now     time.Time
	waiters []virtualWaiter
}

type virtualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual builds a Virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual clock's current time.
func (obj *Virtual) Now() time.Time {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.now
}

// After returns a channel that fires once Advance has moved the virtual clock
// past d from now.
func (obj *Virtual) After(d time.Duration) <-chan time.Time {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	ch := make(chan time.Time, 1)
	deadline := obj.now.Add(d)
	if !deadline.After(obj.now) {
		ch <- obj.now
		return ch
	}
	obj.waiters = append(obj.waiters, virtualWaiter{deadline: deadline, ch: ch})
	return ch
}

// Sleep blocks until Advance has moved the virtual clock past d from now.
func (obj *Virtual) Sleep(d time.Duration) {
	<-obj.After(d)
}

// Advance moves the virtual clock forward by d, firing any waiters whose
// deadline has passed.
func (obj *Virtual) Advance(d time.Duration) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.now = obj.now.Add(d)
	remaining := obj.waiters[:0]
	for _, w := range obj.waiters {
		if !w.deadline.After(obj.now) {
			w.ch <- obj.now
			continue
		}
		remaining = append(remaining, w)
	}
	obj.waiters = remaining
}

// Deadline computes an absolute deadline d in the future from clk, the only
// form a timeout should be carried in past a suspension point.
func Deadline(clk Clock, d time.Duration) time.Time {
	return clk.Now().Add(d)
}

// Remaining returns the duration left until deadline, clamped to zero.
func Remaining(clk Clock, deadline time.Time) time.Duration {
	d := deadline.Sub(clk.Now())
	if d < 0 {
		return 0
	}
	return d
}
