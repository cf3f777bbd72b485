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

// CmdRendezvous is a single-slot synchronous exchange: at most one CmdDesc
// in flight per link direction at a time. The "one slot" rule is enforced
// with a counting semaphore of size one, adapted from the
// teacher's util/semaphore.Semaphore (a buffered acquire channel plus a
// closed-exit channel), generalized here to also support a non-blocking
// try-acquire and a deadline-bounded acquire, since the original only
// offered a blocking P().
type CmdRendezvous struct {
	acquire chan struct{} // capacity 1: held while a CmdDesc is in flight
	slot    chan *msg.CmdDesc
	closed  chan struct{}

	mutex   sync.Mutex
	pending *msg.CmdDesc // the CmdDesc currently occupying the slot, if any
}

// NewCmdRendezvous builds an empty, ready-to-use rendezvous.
func NewCmdRendezvous() *CmdRendezvous {
	return &CmdRendezvous{
		acquire: make(chan struct{}, 1),
		slot:    make(chan *msg.CmdDesc, 1),
		closed:  make(chan struct{}),
	}
}

// Install acquires the single in-flight slot per opt.Blocking and, once
// acquired, hands cd to whichever worker (callback dispatcher or waitCMD
// poller) reads from Next. It returns once the slot was acquired and cd was
// handed off; the caller still needs to wait on cd itself for completion.
func (obj *CmdRendezvous) Install(clk clock.Clock, cd *msg.CmdDesc, opt option.Set) error {
	switch opt.Blocking {
	case option.NonBlock:
		select {
		case obj.acquire <- struct{}{}:
		case <-obj.closed:
			return ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
		default:
			return ioerr.New(ioerr.KindCmdSlotBusy, "a command is already in flight on this link")
		}
	case option.MayBlock:
		select {
		case obj.acquire <- struct{}{}:
		case <-obj.closed:
			return ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
		}
	case option.Timeout:
		select {
		case obj.acquire <- struct{}{}:
		case <-obj.closed:
			return ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
		case <-clk.After(opt.Timeout):
			return ioerr.New(ioerr.KindCmdSlotBusy, "a command was already in flight after timeout")
		}
	default:
		return ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
	}

	select {
	case obj.slot <- cd:
		obj.mutex.Lock()
		obj.pending = cd
		obj.mutex.Unlock()
		return nil
	case <-obj.closed:
		<-obj.acquire // release what we just took
		return ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
	}
}

// Next blocks until a CmdDesc has been installed, or the rendezvous is
// closed (ok=false). Called by the callback-dispatch worker or by waitCMD.
func (obj *CmdRendezvous) Next() (cd *msg.CmdDesc, ok bool) {
	select {
	case cd = <-obj.slot:
		return cd, true
	case <-obj.closed:
		return nil, false
	}
}

// NextWait is Next with opt.Blocking applied, for waitCMD's polling entry
// point: NonBlock returns immediately (ok=false, err=nil) if nothing is
// pending, Timeout bounds the wait with a TIMEOUT error, MayBlock behaves
// like Next.
func (obj *CmdRendezvous) NextWait(clk clock.Clock, opt option.Set) (cd *msg.CmdDesc, ok bool, err error) {
	switch opt.Blocking {
	case option.NonBlock:
		select {
		case cd = <-obj.slot:
			return cd, true, nil
		case <-obj.closed:
			return nil, false, ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
		default:
			return nil, false, nil
		}
	case option.MayBlock:
		cd, ok = obj.Next()
		if !ok {
			return nil, false, ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
		}
		return cd, true, nil
	case option.Timeout:
		select {
		case cd = <-obj.slot:
			return cd, true, nil
		case <-obj.closed:
			return nil, false, ioerr.New(ioerr.KindLinkBroken, "rendezvous closed")
		case <-clk.After(opt.Timeout):
			return nil, false, ioerr.New(ioerr.KindTimeout, "waitCMD timed out")
		}
	default:
		return nil, false, ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
	}
}

// Release frees the single in-flight slot once a CmdDesc has been fully
// acked (or abandoned), letting the next execCMD proceed.
func (obj *CmdRendezvous) Release() {
	obj.mutex.Lock()
	obj.pending = nil
	obj.mutex.Unlock()
	select {
	case <-obj.acquire:
	default:
	}
}

// Close unblocks any goroutine waiting in Install or Next with LINK_BROKEN,
// and force-acks a CmdDesc still occupying the slot (installed but not yet
// Released) the same way, so a caller blocked in execCMD's MayBlock wait
// unblocks within a bounded settling window instead of hanging forever on a
// link that was torn down mid-command. Ack is idempotent, so a callback
// that acks the same CmdDesc a moment later is a harmless no-op.
func (obj *CmdRendezvous) Close() {
	obj.mutex.Lock()
	cd := obj.pending
	obj.pending = nil
	obj.mutex.Unlock()
	if cd != nil {
		cd.Ack(nil, ioerr.New(ioerr.KindLinkBroken, "link closed while command was in flight"))
	}

	select {
	case <-obj.closed:
		return // already closed
	default:
		close(obj.closed)
	}
}
