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

package engine

import (
	"fmt"

	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
)

// reportDatQueueDepth publishes l's current DatChunkQueue length to the
// attached Metrics, a no-op if none is attached.
func (obj *Engine) reportDatQueueDepth(l *link.Object) {
	obj.mutex.RLock()
	m := obj.metrics
	obj.mutex.RUnlock()
	if m != nil {
		m.SetDatQueueDepth(fmt.Sprintf("%d", l.ID), l.DatIn.Len())
	}
}

func (obj *Engine) maxRetryCount() int {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	if obj.maxRecvRetry <= 0 {
		return DefaultMaxRecvRetry
	}
	return obj.maxRecvRetry
}

// SendDAT enqueues a chunk onto linkID's peer DatChunkQueue under NoDrop.
// A chunk over the configured MaxDataQueueSize fails with DataTooLarge
// before ever touching the queue.
func (obj *Engine) SendDAT(linkID id.ID, bytes []byte, flags msg.DatFlags, opt option.Set) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	peer := l.Peer()
	if peer == nil || peer.DatIn == nil {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d has no data receiver peer", linkID)
	}
	if len(bytes) > obj.maxChunkSize() {
		return ioerr.New(ioerr.KindDataTooLarge, "chunk of %d bytes exceeds link limit %d", len(bytes), obj.maxChunkSize())
	}
	d := &msg.DatDesc{Bytes: bytes, Flags: flags}
	d.Seq = l.NextSeq()
	d.Timestamp = obj.clk.Now()
	if err := peer.DatIn.Enqueue(obj.clk, d, opt); err != nil {
		obj.reportBackpressure(err)
		return err
	}
	obj.reportDatQueueDepth(peer)
	return nil
}

// RecvDAT is the polling counterpart of a registered CbRecvDat_F: it returns
// the next chunk in FIFO order, blocking per opt.
func (obj *Engine) RecvDAT(linkID id.ID, opt option.Set) (*msg.DatDesc, error) {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return nil, err
	}
	if l.DatIn == nil {
		return nil, ioerr.New(ioerr.KindIncompatibleUsage, "link %d is not a data receiver", linkID)
	}
	d, err := l.DatIn.DequeueWait(obj.clk, opt)
	if err == nil {
		obj.reportDatQueueDepth(l)
	}
	return d, err
}

// FlushDAT completes once linkID's peer inbound queue — the only queue a
// sender/receiver pair shares — is empty, meaning every chunk sendDAT
// accepted has since been committed by the receiver.
func (obj *Engine) FlushDAT(linkID id.ID, opt option.Set) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	peer := l.Peer()
	if peer == nil || peer.DatIn == nil {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d has no data receiver peer", linkID)
	}
	return peer.DatIn.WaitDrain(obj.clk, opt)
}

// RegisterDatReceiver registers cb as linkID's data-chunk callback and
// starts its dispatch worker.
func (obj *Engine) RegisterDatReceiver(linkID id.ID, cb link.CbRecvDat_F) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	if l.DatIn == nil {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d is not a data receiver", linkID)
	}
	l.SetDatCallback(cb)
	obj.ensureDatWorker(l)
	return nil
}

func (obj *Engine) ensureDatWorker(l *link.Object) {
	obj.mutex.Lock()
	if obj.datWorkers == nil {
		obj.datWorkers = make(map[id.ID]bool)
	}
	if obj.datWorkers[l.ID] {
		obj.mutex.Unlock()
		return
	}
	obj.datWorkers[l.ID] = true
	obj.mutex.Unlock()

	go obj.datWorkerLoop(l)
}

// datWorkerLoop drains l.DatIn via Peek/Commit so a non-SUCCESS CbRecvDat_F
// return leaves the chunk in place for retry (the Open Question decision in
// SPEC_FULL.md §6.1), bounded by MaxRecvRetry consecutive failures before
// the link is declared broken and closed.
func (obj *Engine) datWorkerLoop(l *link.Object) {
	retries := 0
	for {
		d, ok := l.DatIn.PeekFront()
		if !ok {
			return
		}
		cb := l.DatCallback()
		if cb == nil {
			obj.Logf("dat: link %d has no registered receiver, dropping chunk", l.ID)
			l.DatIn.CommitFront()
			retries = 0
			continue
		}
		if err := cb(l.ID, d); err != nil {
			retries++
			if retries >= obj.maxRetryCount() {
				obj.Logf("dat: link %d receiver failed %d consecutive times, closing link", l.ID, retries)
				obj.closeLinkObject(l)
				return
			}
			continue
		}
		l.DatIn.CommitFront()
		obj.reportDatQueueDepth(l)
		retries = 0
	}
}
