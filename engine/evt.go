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
	"github.com/purpleidea/ioc/service"
)

// ensureEvtWorker starts l's event-dispatch worker exactly once. EVT has no
// polling alternative (the polling/callback split is CMD/DAT only), so
// every link carrying UsageEvtConsumer gets a worker the moment
// it's wired up, whether or not a callback has been registered yet.
func (obj *Engine) ensureEvtWorker(l *link.Object) {
	if l.EvtIn == nil {
		return
	}
	obj.mutex.Lock()
	if obj.evtWorkers == nil {
		obj.evtWorkers = make(map[id.ID]bool)
	}
	if obj.evtWorkers[l.ID] {
		obj.mutex.Unlock()
		return
	}
	obj.evtWorkers[l.ID] = true
	obj.mutex.Unlock()

	go obj.evtWorkerLoop(l)
}

// evtWorkerLoop drains l.EvtIn until the queue is closed, invoking the
// registered CbProcEvt_F for each event whose EvtID passes the subscription
// filter. An event that arrives with no callback registered yet, or that
// fails the filter, is logged and dropped: a non-success callback return
// affects only this subscriber, never its peers.
func (obj *Engine) evtWorkerLoop(l *link.Object) {
	for {
		evt, ok := l.EvtIn.Dequeue()
		if !ok {
			return
		}
		obj.deliverEvt(l, evt)
	}
}

// deliverEvt dispatches evt to l's registered callback (if any) and marks it
// done on l.EvtIn once the callback has returned, so a Sync postEVT's
// WaitDrain genuinely spans the callback's execution rather than just evt's
// removal from the queue.
func (obj *Engine) deliverEvt(l *link.Object, evt *msg.EvtDesc) {
	defer l.EvtIn.Done()
	defer obj.reportEvtQueueDepth(l)
	cb := l.EvtCallback()
	if cb == nil || !l.Subscribed(evt.EvtID) {
		obj.Logf("evt: link %d dropping undeliverable %q", l.ID, evt.EvtID)
		return
	}
	if err := cb(l.ID, evt); err != nil {
		obj.Logf("evt: link %d callback for %q returned %v", l.ID, evt.EvtID, err)
	}
}

// postTo applies the Async/Sync × Blocking matrix against a single
// EvtDescQueue. Async unconditionally enqueues under opt.Blocking and
// returns. Sync first waits (per opt.Blocking) for any event ahead of this
// one to fully drain — a non-empty queue under NonBlock is rejected before
// evt is ever enqueued, rather than committing it and only then reporting a
// drain failure — then enqueues and waits again for evt itself to be fully
// dispatched before returning.
func (obj *Engine) postTo(l *link.Object, evt *msg.EvtDesc, opt option.Set) error {
	evt.Seq = l.NextSeq()
	evt.Timestamp = obj.clk.Now()

	if opt.Mode == option.Sync {
		if err := l.EvtIn.WaitDrain(obj.clk, opt); err != nil {
			return err
		}
	}
	if err := l.EvtIn.Enqueue(obj.clk, evt, opt); err != nil {
		obj.reportBackpressure(err)
		return err
	}
	obj.reportEvtQueueDepth(l)
	if opt.Mode == option.Sync {
		return l.EvtIn.WaitDrain(obj.clk, opt)
	}
	return nil
}

// reportEvtQueueDepth publishes l's current EvtDescQueue length to the
// attached Metrics, a no-op if none is attached.
func (obj *Engine) reportEvtQueueDepth(l *link.Object) {
	obj.mutex.RLock()
	m := obj.metrics
	obj.mutex.RUnlock()
	if m != nil {
		m.SetEvtQueueDepth(fmt.Sprintf("%d", l.ID), l.EvtIn.Len())
	}
}

// PostEVT posts evt on linkID's peer inbound queue. A peer with no
// registered callback, or one not subscribed to evt.EvtID, reports
// NoEventConsumer without ever touching the queue.
func (obj *Engine) PostEVT(linkID id.ID, evt *msg.EvtDesc, opt option.Set) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	peer := l.Peer()
	if peer == nil || peer.EvtIn == nil || !peer.Subscribed(evt.EvtID) {
		return ioerr.New(ioerr.KindNoEventConsumer, "link %d has no consumer subscribed to %q", linkID, evt.EvtID)
	}
	return obj.postTo(peer, evt, opt)
}

// PostEVTBroadcast implements postEVT(SrvID, ...): fan-out to the consumer
// peer of every currently accepted link whose subscription covers
// evt.EvtID, legal only when the Service has BroadcastEvent set. Consumers
// are not mutually synchronized with one another; each sees per-service FIFO.
func (obj *Engine) PostEVTBroadcast(srvID id.ID, evt *msg.EvtDesc, opt option.Set) error {
	svc, err := obj.lookupService(srvID)
	if err != nil {
		return err
	}
	if svc.Flags&service.BroadcastEvent == 0 {
		return ioerr.New(ioerr.KindNotSupported, "service %d does not have BroadcastEvent set", srvID)
	}
	var targets []*link.Object
	for _, l := range svc.Accepted() {
		if peer := l.Peer(); peer != nil && peer.EvtIn != nil && peer.Subscribed(evt.EvtID) {
			targets = append(targets, peer)
		}
	}
	if len(targets) == 0 {
		return ioerr.New(ioerr.KindNoEventConsumer, "service %d has no subscribed consumers for %q", srvID, evt.EvtID)
	}
	var reterr error
	for _, l := range targets {
		cp := *evt // each consumer gets its own Header/seq stamped independently
		if err := obj.postTo(l, &cp, opt); err != nil {
			reterr = ioerr.Append(reterr, err)
		}
	}
	return reterr
}

// SubEVT registers cb as linkID's event consumer and makes sure its worker
// is running. Events the worker dequeued while no callback was registered
// have already been dropped; only events dispatched after cb is set reach it.
func (obj *Engine) SubEVT(linkID id.ID, cb link.CbProcEvt_F, filter []string) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	if l.EvtIn == nil {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d is not an event consumer", linkID)
	}
	if cb == nil {
		return ioerr.New(ioerr.KindInvalidParam, "subEVT requires a non-nil callback")
	}
	l.SetEvtCallback(cb, filter)
	obj.ensureEvtWorker(l)
	return nil
}

// UnsubEVT clears linkID's event consumer and filter.
func (obj *Engine) UnsubEVT(linkID id.ID) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	l.ClearEvtCallback()
	return nil
}

// ForceProcEVT blocks until linkID's inbound event queue has fully drained.
func (obj *Engine) ForceProcEVT(linkID id.ID, opt option.Set) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	if l.EvtIn == nil {
		return nil
	}
	return l.EvtIn.WaitDrain(obj.clk, opt)
}

// PostEVTInConlesMode, SubEVTInConlesMode, UnsubEVTInConlesMode and
// ForceProcEVTInConlesMode are the Conles counterparts of the four calls
// above, operating against this Engine's private ConlesBus instead of a
// LinkID.
func (obj *Engine) PostEVTInConlesMode(evt *msg.EvtDesc, opt option.Set) error {
	err := obj.conlesBus.Post(evt, opt)
	obj.reportBackpressure(err)
	return err
}

func (obj *Engine) SubEVTInConlesMode(cb func(evt *msg.EvtDesc), cookie interface{}, filter []string) error {
	return obj.conlesBus.Sub(cb, cookie, filter)
}

func (obj *Engine) UnsubEVTInConlesMode(cb func(evt *msg.EvtDesc), cookie interface{}) error {
	return obj.conlesBus.Unsub(cb, cookie)
}

func (obj *Engine) ForceProcEVTInConlesMode(opt option.Set) error {
	return obj.conlesBus.ForceProc(opt)
}
