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

// Package link implements LinkObject and its state machine. A connected
// pair is two LinkObjects holding a reference to each other; the per-link
// dispatch loops that drain the queues below live in package engine,
// keeping per-object bookkeeping separate from the worker loops that act
// on it.
package link

import (
	"sync"
	"sync/atomic"

	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/queue"
)

// Usage is a bitmask of the roles a LinkObject plays. A link may combine
// more than one primitive on the same connection (e.g. EvtConsumer and
// DatReceiver at once).
type Usage uint8

// The six usage roles, one bit each.
const (
	UsageEvtProducer Usage = 1 << iota
	UsageEvtConsumer
	UsageCmdInitiator
	UsageCmdExecutor
	UsageDatSender
	UsageDatReceiver
)

// complement maps each role bit to the bit its peer must present.
var complement = map[Usage]Usage{
	UsageEvtProducer:  UsageEvtConsumer,
	UsageEvtConsumer:  UsageEvtProducer,
	UsageCmdInitiator: UsageCmdExecutor,
	UsageCmdExecutor:  UsageCmdInitiator,
	UsageDatSender:    UsageDatReceiver,
	UsageDatReceiver:  UsageDatSender,
}

// Complement returns the usage bitmask a peer must present to be compatible
// with u, bit for bit.
func Complement(u Usage) Usage {
	var out Usage
	for bit, comp := range complement {
		if u&bit != 0 {
			out |= comp
		}
	}
	return out
}

// State is a LinkObject's position in its state machine.
type State int32

// The five states a LinkObject moves through, in order.
const (
	Init State = iota
	Attaching
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Attaching:
		return "Attaching"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "State(?)"
	}
}

// CbProcEvt_F is a registered event-consumer callback.
type CbProcEvt_F func(linkID id.ID, evt *msg.EvtDesc) error

// CbExecCmd_F is a registered command-executor callback.
type CbExecCmd_F func(linkID id.ID, cmd *msg.CmdDesc) error

// CbRecvDat_F is a registered data-chunk receiver callback. A non-nil
// return leaves the chunk uncommitted; see queue.DatChunkQueue.PeekFront.
type CbRecvDat_F func(linkID id.ID, dat *msg.DatDesc) error

// Object is a LinkObject: per-link state, queues, and callback registrations.
type Object struct {
	ID        id.ID
	Usage     Usage
	ServiceID id.ID // id.Invalid if this link has no Service back-reference

	// EvtIn is this side's inbound event queue, present iff Usage has
	// UsageEvtConsumer. A peer's postEVT enqueues directly onto it.
	EvtIn *queue.EvtDescQueue
	// DatIn is this side's inbound data-chunk queue, present iff Usage has
	// UsageDatReceiver.
	DatIn *queue.DatChunkQueue
	// CmdIn is this side's command rendezvous, present iff Usage has
	// UsageCmdExecutor. A peer's execCMD installs into it.
	CmdIn *queue.CmdRendezvous

	Logf func(format string, v ...interface{})

	mutex   sync.RWMutex
	state   State
	peer    *Object
	subs    map[string]bool // EvtID filter for this side's EvtIn; nil/empty = wildcard
	evtCb   CbProcEvt_F
	cmdCb   CbExecCmd_F
	datCb   CbRecvDat_F
	seq     uint64
	closers []func() // extra cleanup hooks run exactly once at Close

	cmdPolling bool // true once a waitCMD caller claims this link; excludes CbExecCmd_F
}

// New builds an Object in the Init state with queues sized per depth
// arguments, allocating only the queues this side's Usage requires.
func New(linkID id.ID, usage Usage, evtDepth, datDepth int, logf func(string, ...interface{})) *Object {
	obj := &Object{
		ID:        linkID,
		Usage:     usage,
		ServiceID: id.Invalid,
		state:     Init,
		Logf:      logf,
	}
	if usage&UsageEvtConsumer != 0 {
		obj.EvtIn = queue.NewEvtDescQueue(evtDepth)
	}
	if usage&UsageDatReceiver != 0 {
		obj.DatIn = queue.NewDatChunkQueue(datDepth)
	}
	if usage&UsageCmdExecutor != 0 {
		obj.CmdIn = queue.NewCmdRendezvous()
	}
	return obj
}

// State returns the current state under the read lock.
func (obj *Object) State() State {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return obj.state
}

// IsUsable reports whether new operations may be issued against this link.
func (obj *Object) IsUsable() bool {
	return obj.State() == Connected
}

// NextSeq returns the next per-link monotonic sequence number.
func (obj *Object) NextSeq() uint64 {
	return atomic.AddUint64(&obj.seq, 1)
}

// Attach transitions Init -> Attaching. It is an error to call this twice.
func (obj *Object) Attach() error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if obj.state != Init {
		return ioerr.New(ioerr.KindBug, "link %d: Attach called from state %v", obj.ID, obj.state)
	}
	obj.state = Attaching
	return nil
}

// Connect installs peer and transitions Attaching -> Connected, verifying
// role compatibility: each side's Usage bit must be the complement of the
// other's, exactly.
func (obj *Object) Connect(peer *Object) error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if obj.state != Attaching {
		return ioerr.New(ioerr.KindBug, "link %d: Connect called from state %v", obj.ID, obj.state)
	}
	peerUsage := peer.Usage
	if Complement(obj.Usage) != peerUsage {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d usage %b is not complementary with peer %d usage %b", obj.ID, obj.Usage, peer.ID, peerUsage)
	}
	obj.peer = peer
	obj.state = Connected
	return nil
}

// Peer returns the connected peer, or nil if not yet connected.
func (obj *Object) Peer() *Object {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return obj.peer
}

// OnClose registers a cleanup hook run exactly once when Close runs. Used by
// the owning ServiceObject to drop the link from its accepted-links set, and
// by the engine to stop worker goroutines.
func (obj *Object) OnClose(fn func()) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.closers = append(obj.closers, fn)
}

// BeginClose transitions Connected (or Attaching) -> Closing. It is
// idempotent: a second call returns false so the caller knows not to repeat
// the cascade. Queues are not closed here — that happens in FinishClose,
// after in-flight operations have had a chance to observe Closing and bail
// out with LINK_BROKEN rather than being surprised by a queue that vanished
// under them.
func (obj *Object) BeginClose() bool {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if obj.state == Closing || obj.state == Closed {
		return false
	}
	obj.state = Closing
	return true
}

// FinishClose closes this side's queues (releasing anything blocked on them
// with LINK_BROKEN), runs the registered close hooks, and transitions to
// Closed. Safe to call more than once.
func (obj *Object) FinishClose() {
	obj.mutex.Lock()
	if obj.state == Closed {
		obj.mutex.Unlock()
		return
	}
	obj.state = Closed
	hooks := obj.closers
	obj.closers = nil
	obj.mutex.Unlock()

	if obj.EvtIn != nil {
		obj.EvtIn.Close()
	}
	if obj.DatIn != nil {
		obj.DatIn.Close()
	}
	if obj.CmdIn != nil {
		obj.CmdIn.Close()
	}
	for _, fn := range hooks {
		fn()
	}
}

// SetEvtCallback registers (or clears, with nil) the CbProcEvt_F for this
// link, along with its event-ID filter set. An empty filter is a wildcard.
func (obj *Object) SetEvtCallback(cb CbProcEvt_F, filter []string) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.evtCb = cb
	if len(filter) == 0 {
		obj.subs = nil
		return
	}
	obj.subs = make(map[string]bool, len(filter))
	for _, id := range filter {
		obj.subs[id] = true
	}
}

// ClearEvtCallback unregisters any callback and filter (unsubEVT).
func (obj *Object) ClearEvtCallback() {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.evtCb = nil
	obj.subs = nil
}

// EvtCallback returns the registered CbProcEvt_F, or nil.
func (obj *Object) EvtCallback() CbProcEvt_F {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return obj.evtCb
}

// Subscribed reports whether evtID passes this side's subscription filter.
// An unset (nil) filter means no subscription at all — the zero value of a
// freshly-built Object must not default to "subscribes to everything".
func (obj *Object) Subscribed(evtID string) bool {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	if obj.evtCb == nil {
		return false
	}
	if len(obj.subs) == 0 {
		return true // wildcard
	}
	return obj.subs[evtID]
}

// SetCmdCallback registers (or clears, with nil) the CbExecCmd_F.
func (obj *Object) SetCmdCallback(cb CbExecCmd_F) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.cmdCb = cb
}

// CmdCallback returns the registered CbExecCmd_F, or nil.
func (obj *Object) CmdCallback() CbExecCmd_F {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return obj.cmdCb
}

// SetDatCallback registers (or clears, with nil) the CbRecvDat_F.
func (obj *Object) SetDatCallback(cb CbRecvDat_F) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.datCb = cb
}

// DatCallback returns the registered CbRecvDat_F, or nil.
func (obj *Object) DatCallback() CbRecvDat_F {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return obj.datCb
}

// SetCmdPolling marks this link as using the polling waitCMD API rather than
// a registered CbExecCmd_F; the two CMD dispatch models are mutually
// exclusive per link.
func (obj *Object) SetCmdPolling(polling bool) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.cmdPolling = polling
}

// IsCmdPolling reports whether this link was set up for polling waitCMD
// rather than callback dispatch.
func (obj *Object) IsCmdPolling() bool {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return obj.cmdPolling
}
