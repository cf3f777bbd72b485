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

// Package queue implements the three primitive queues: EvtDescQueue,
// DatChunkQueue, and CmdRendezvous. Each has its own lock and
// broadcast-style condition signal, guarding its state with a mutex and
// waking waiters by poking a channel.
package queue

import (
	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"

	"sync"
)

// signal is a broadcast-once channel: close it to wake every goroutine
// selecting on it, then replace it with a fresh one under the lock: a
// single poke channel + select loop, extended to support multiple
// concurrent waiters.
type signal chan struct{}

func newSignal() signal { return make(signal) }

// EvtDescQueue is a bounded FIFO of EvtDesc with the Async/Sync × blocking
// discipline layered on top.
type EvtDescQueue struct {
	mu       sync.Mutex
	items    []*msg.EvtDesc
	depth    int
	closed   bool
	sig      signal
	inFlight int // items popped via Dequeue whose callback hasn't finished yet
}

// NewEvtDescQueue builds a queue with the given capacity.
func NewEvtDescQueue(depth int) *EvtDescQueue {
	if depth <= 0 {
		depth = 1
	}
	return &EvtDescQueue{depth: depth, sig: newSignal()}
}

func (q *EvtDescQueue) wake() {
	close(q.sig)
	q.sig = newSignal()
}

// Len returns the current number of queued items.
func (q *EvtDescQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *EvtDescQueue) Cap() int { return q.depth }

// Enqueue pushes e onto the queue, applying opt.Blocking when the queue is
// full. clk is used to compute the Timeout deadline.
func (q *EvtDescQueue) Enqueue(clk clock.Clock, e *msg.EvtDesc, opt option.Set) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ioerr.New(ioerr.KindLinkBroken, "evt queue is closed")
	}
	if len(q.items) < q.depth {
		q.items = append(q.items, e)
		q.wake()
		q.mu.Unlock()
		return nil
	}

	switch opt.Blocking {
	case option.NonBlock:
		q.mu.Unlock()
		return ioerr.New(ioerr.KindTooManyQueuingEvtDesc, "evt queue full (depth=%d)", q.depth)
	case option.MayBlock:
		for {
			sig := q.sig
			q.mu.Unlock()
			<-sig
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindLinkBroken, "evt queue closed while waiting to enqueue")
			}
			if len(q.items) < q.depth {
				q.items = append(q.items, e)
				q.wake()
				q.mu.Unlock()
				return nil
			}
		}
	case option.Timeout:
		deadline := clock.Deadline(clk, opt.Timeout)
		for {
			sig := q.sig
			q.mu.Unlock()
			select {
			case <-sig:
			case <-clk.After(clock.Remaining(clk, deadline)):
				return ioerr.New(ioerr.KindTooManyQueuingEvtDesc, "evt queue still full after timeout (depth=%d)", q.depth)
			}
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindLinkBroken, "evt queue closed while waiting to enqueue")
			}
			if len(q.items) < q.depth {
				q.items = append(q.items, e)
				q.wake()
				q.mu.Unlock()
				return nil
			}
			if !clk.Now().Before(deadline) {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindTooManyQueuingEvtDesc, "evt queue still full after timeout (depth=%d)", q.depth)
			}
		}
	}
	q.mu.Unlock()
	return ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
}

// Dequeue blocks until an item is available or the queue is closed and
// drained, in which case ok is false. This is what a link's (or the Conles
// bus's) worker task calls in its drain loop. A successful Dequeue marks the
// item in-flight; the caller must call Done once it has finished dispatching
// it, so WaitDrain can tell a dequeued-but-not-yet-delivered event apart from
// one that has actually been handed to its consumer.
func (q *EvtDescQueue) Dequeue() (e *msg.EvtDesc, ok bool) {
	q.mu.Lock()
	for {
		if len(q.items) > 0 {
			e = q.items[0]
			q.items = q.items[1:]
			q.inFlight++
			q.wake()
			q.mu.Unlock()
			return e, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		sig := q.sig
		q.mu.Unlock()
		<-sig
		q.mu.Lock()
	}
}

// Done marks an item returned by Dequeue as fully dispatched (its consumer
// callback has returned), letting WaitDrain's drain condition account for it.
// Callers must call Done exactly once per successful Dequeue.
func (q *EvtDescQueue) Done() {
	q.mu.Lock()
	q.inFlight--
	q.wake()
	q.mu.Unlock()
}

// TryDequeue returns the next item without blocking, if any.
func (q *EvtDescQueue) TryDequeue() (e *msg.EvtDesc, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e = q.items[0]
	q.items = q.items[1:]
	q.wake()
	return e, true
}

// Empty reports whether the queue currently holds no items.
func (q *EvtDescQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// drained reports whether the queue has nothing left to deliver: no items
// waiting and nothing still being dispatched to a consumer callback. Callers
// must hold q.mu.
func (q *EvtDescQueue) drained() bool {
	return len(q.items) == 0 && q.inFlight == 0
}

// WaitDrain blocks, subject to opt.Blocking, until the queue is drained: empty
// of queued items and with no in-flight Dequeue still awaiting Done. This
// backs the Sync "queue not empty" posting rows and forceProcEVT's
// synchronous drain.
func (q *EvtDescQueue) WaitDrain(clk clock.Clock, opt option.Set) error {
	q.mu.Lock()
	if q.drained() {
		q.mu.Unlock()
		return nil
	}
	switch opt.Blocking {
	case option.NonBlock:
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return ioerr.New(ioerr.KindLinkBroken, "evt queue closed while draining")
		}
		return ioerr.New(ioerr.KindTooLongEmptyingEvtDescQueue, "evt queue not yet drained")
	case option.MayBlock:
		for {
			sig := q.sig
			q.mu.Unlock()
			<-sig
			q.mu.Lock()
			if q.drained() || q.closed {
				q.mu.Unlock()
				return nil
			}
		}
	case option.Timeout:
		deadline := clock.Deadline(clk, opt.Timeout)
		for {
			sig := q.sig
			q.mu.Unlock()
			select {
			case <-sig:
			case <-clk.After(clock.Remaining(clk, deadline)):
				return ioerr.New(ioerr.KindTooLongEmptyingEvtDescQueue, "evt queue not drained within timeout")
			}
			q.mu.Lock()
			if q.drained() || q.closed {
				q.mu.Unlock()
				return nil
			}
			if !clk.Now().Before(deadline) {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindTooLongEmptyingEvtDescQueue, "evt queue not drained within timeout")
			}
		}
	}
	q.mu.Unlock()
	return ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
}

// Close marks the queue closed, releasing every blocked Enqueue/Dequeue with
// LINK_BROKEN (Dequeue instead returns ok=false once fully drained).
func (q *EvtDescQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}
