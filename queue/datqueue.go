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

package queue

import (
	"sync"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
)

// DatChunkQueue is a bounded FIFO of DatDesc under a strict NoDrop guarantee:
// an accepted chunk is delivered exactly once, in send order. There is no
// MayDrop discipline for DAT, only the Blocking dimension.
type DatChunkQueue struct {
	mu     sync.Mutex
	items  []*msg.DatDesc
	depth  int
	closed bool
	sig    signal
}

// NewDatChunkQueue builds a queue with the given capacity (in chunks).
func NewDatChunkQueue(depth int) *DatChunkQueue {
	if depth <= 0 {
		depth = 1
	}
	return &DatChunkQueue{depth: depth, sig: newSignal()}
}

func (q *DatChunkQueue) wake() {
	close(q.sig)
	q.sig = newSignal()
}

// Len returns the number of chunks currently queued (not yet committed to a
// receiver).
func (q *DatChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *DatChunkQueue) Cap() int { return q.depth }

// Enqueue pushes d onto the queue, applying opt.Blocking when full. On a
// Timeout that elapses without a free slot, this returns the queue-specific
// BUFFER_FULL error rather than a generic TIMEOUT; of the three primitives
// only CMD's rendezvous reports TIMEOUT.
func (q *DatChunkQueue) Enqueue(clk clock.Clock, d *msg.DatDesc, opt option.Set) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ioerr.New(ioerr.KindLinkBroken, "dat queue is closed")
	}
	if len(q.items) < q.depth {
		q.items = append(q.items, d)
		q.wake()
		q.mu.Unlock()
		return nil
	}

	switch opt.Blocking {
	case option.NonBlock:
		q.mu.Unlock()
		return ioerr.New(ioerr.KindBufferFull, "dat queue full (depth=%d)", q.depth)
	case option.MayBlock:
		for {
			sig := q.sig
			q.mu.Unlock()
			<-sig
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindLinkBroken, "dat queue closed while waiting to enqueue")
			}
			if len(q.items) < q.depth {
				q.items = append(q.items, d)
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
				return ioerr.New(ioerr.KindBufferFull, "dat queue still full after timeout (depth=%d)", q.depth)
			}
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindLinkBroken, "dat queue closed while waiting to enqueue")
			}
			if len(q.items) < q.depth {
				q.items = append(q.items, d)
				q.wake()
				q.mu.Unlock()
				return nil
			}
			if !clk.Now().Before(deadline) {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindBufferFull, "dat queue still full after timeout (depth=%d)", q.depth)
			}
		}
	}
	q.mu.Unlock()
	return ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
}

// Dequeue blocks until a chunk is available or the queue is closed and
// drained. It commits the chunk immediately, the same removal DequeueWait
// performs for polling recvDAT, which has no notion of "uncommitted" — the
// caller owns the bytes the instant they're returned.
func (q *DatChunkQueue) Dequeue() (d *msg.DatDesc, ok bool) {
	q.mu.Lock()
	for {
		if len(q.items) > 0 {
			d = q.items[0]
			q.items = q.items[1:]
			q.wake()
			q.mu.Unlock()
			return d, true
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

// DequeueWait is Dequeue with opt.Blocking applied: NonBlock returns
// immediately if nothing is queued, Timeout bounds the wait, matching the
// recvDAT entry point's option matrix rather than the unconditional block
// Dequeue offers internal workers.
func (q *DatChunkQueue) DequeueWait(clk clock.Clock, opt option.Set) (d *msg.DatDesc, err error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		d = q.items[0]
		q.items = q.items[1:]
		q.wake()
		q.mu.Unlock()
		return d, nil
	}
	if q.closed {
		q.mu.Unlock()
		return nil, ioerr.New(ioerr.KindLinkBroken, "dat queue is closed")
	}

	switch opt.Blocking {
	case option.NonBlock:
		q.mu.Unlock()
		return nil, ioerr.New(ioerr.KindBufferFull, "dat queue empty")
	case option.MayBlock:
		for {
			sig := q.sig
			q.mu.Unlock()
			<-sig
			q.mu.Lock()
			if len(q.items) > 0 {
				d = q.items[0]
				q.items = q.items[1:]
				q.wake()
				q.mu.Unlock()
				return d, nil
			}
			if q.closed {
				q.mu.Unlock()
				return nil, ioerr.New(ioerr.KindLinkBroken, "dat queue closed while waiting")
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
				return nil, ioerr.New(ioerr.KindBufferFull, "dat queue still empty after timeout")
			}
			q.mu.Lock()
			if len(q.items) > 0 {
				d = q.items[0]
				q.items = q.items[1:]
				q.wake()
				q.mu.Unlock()
				return d, nil
			}
			if q.closed {
				q.mu.Unlock()
				return nil, ioerr.New(ioerr.KindLinkBroken, "dat queue closed while waiting")
			}
			if !clk.Now().Before(deadline) {
				q.mu.Unlock()
				return nil, ioerr.New(ioerr.KindBufferFull, "dat queue still empty after timeout")
			}
		}
	}
	q.mu.Unlock()
	return nil, ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
}

// PeekFront blocks until a chunk is available (or the queue closes) without
// removing it, so a CbRecvDat_F worker can retry the same chunk if the
// callback returns non-SUCCESS (the Open Question decision recorded in
// SPEC_FULL.md §6.1).
func (q *DatChunkQueue) PeekFront() (d *msg.DatDesc, ok bool) {
	q.mu.Lock()
	for {
		if len(q.items) > 0 {
			q.mu.Unlock()
			return q.items[0], true
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

// CommitFront removes the chunk previously returned by PeekFront, signaling
// that it was successfully processed.
func (q *DatChunkQueue) CommitFront() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
	q.wake()
}

// Empty reports whether the queue currently holds no chunks.
func (q *DatChunkQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// WaitDrain blocks, subject to opt.Blocking, until every enqueued chunk has
// been committed to a receiver. This is flushDAT's core: since sender and
// receiver share the same per-link DatChunkQueue, "queue empty" already
// means both "local send queue empty" and "peer has consumed everything".
func (q *DatChunkQueue) WaitDrain(clk clock.Clock, opt option.Set) error {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	switch opt.Blocking {
	case option.NonBlock:
		q.mu.Unlock()
		return ioerr.New(ioerr.KindBufferFull, "dat queue not yet flushed")
	case option.MayBlock:
		for {
			sig := q.sig
			q.mu.Unlock()
			<-sig
			q.mu.Lock()
			if len(q.items) == 0 || q.closed {
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
				return ioerr.New(ioerr.KindBufferFull, "dat queue not flushed within timeout")
			}
			q.mu.Lock()
			if len(q.items) == 0 || q.closed {
				q.mu.Unlock()
				return nil
			}
			if !clk.Now().Before(deadline) {
				q.mu.Unlock()
				return ioerr.New(ioerr.KindBufferFull, "dat queue not flushed within timeout")
			}
		}
	}
	q.mu.Unlock()
	return ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
}

// Close marks the queue closed, releasing blocked Enqueue/Dequeue/PeekFront
// calls. Any chunks still queued at Close time are considered undelivered;
// the caller (link cascade-close) is responsible for surfacing LINK_BROKEN
// to the sender.
func (q *DatChunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}
