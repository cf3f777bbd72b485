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

// Package service implements ServiceObject, the accept-side model: a named
// endpoint advertising capability roles, an accept queue feeding either a
// dedicated auto-accept task or a caller-driven acceptClient, an
// accepted-links set, and (when BroadcastEvent is set) the fan-out table
// postEVT(SrvID, ...) walks. The engine package owns LinkObject creation
// and wiring; this package only bookkeeps which links belong to which
// Service.
package service

import (
	"sync"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/option"
	"github.com/purpleidea/ioc/registry"
)

// Flags are the per-Service behavior switches.
type Flags uint8

// The three Service flags.
const (
	AutoAccept Flags = 1 << iota
	BroadcastEvent
	KeepAcceptedLink
)

// State is a Service's lifetime position: Online until offlineService moves
// it to Closing, then Closed once the cascade (if any) has run.
type State int32

// The three states a ServiceObject passes through.
const (
	Online State = iota
	Closing
	Closed
)

// OnAutoAccepted is called synchronously, before returning success to the
// connecting client, when AutoAccept is set. A
// non-nil return aborts the accept: the new link is closed and the client
// sees CONNECTION_FAILED.
type OnAutoAccepted func(srvID, linkID id.ID, cookie interface{}) error

// Args configures a new Service at onlineService time.
type Args struct {
	URI            registry.URI
	Capability     link.Usage
	Flags          Flags
	Cookie         interface{}
	OnAutoAccepted OnAutoAccepted
	AcceptDepth    int // pending-connection queue depth; <=0 defaults to 16
	EvtDepth       int // per-accepted-link EvtDescQueue depth override
	DatDepth       int // per-accepted-link DatChunkQueue depth override
}

// NewArgs builds Args with the depth defaults a bare onlineService(uri,
// capability) call should get, returning an Args that is ready to use.
func NewArgs(uri registry.URI, capability link.Usage) Args {
	return Args{
		URI:         uri,
		Capability:  capability,
		AcceptDepth: 16,
		EvtDepth:    16,
		DatDepth:    16,
	}
}

// ConnectRequest represents one pending connectService call working its way
// through a Service's accept queue. Result is signaled exactly once, either
// by the auto-accept acceptor task or by the engine's manual AcceptClient
// path; the connectService caller blocks on it to learn the outcome.
type ConnectRequest struct {
	Usage  link.Usage
	Link   *link.Object // already Attach()ed and Connect()ed to its peer
	Result chan error
}

// Object is a ServiceObject.
type Object struct {
	ID         id.ID
	URI        registry.URI
	Capability link.Usage
	Flags      Flags
	Cookie     interface{}
	EvtDepth   int
	DatDepth   int

	Logf func(format string, v ...interface{})

	onAutoAccepted OnAutoAccepted
	incoming       chan *ConnectRequest
	stop           chan struct{}

	mutex    sync.Mutex
	state    State
	accepted map[id.ID]*link.Object
}

// New builds a ServiceObject in the Online state and, if AutoAccept is set,
// starts its acceptor task.
func New(srvID id.ID, args Args, logf func(string, ...interface{})) *Object {
	depth := args.AcceptDepth
	if depth <= 0 {
		depth = 16
	}
	obj := &Object{
		ID:             srvID,
		URI:            args.URI,
		Capability:     args.Capability,
		Flags:          args.Flags,
		Cookie:         args.Cookie,
		EvtDepth:       args.EvtDepth,
		DatDepth:       args.DatDepth,
		Logf:           logf,
		onAutoAccepted: args.OnAutoAccepted,
		incoming:       make(chan *ConnectRequest, depth),
		stop:           make(chan struct{}),
		state:          Online,
		accepted:       make(map[id.ID]*link.Object),
	}
	if args.Flags&AutoAccept != 0 {
		go obj.acceptorLoop()
	}
	return obj
}

// acceptorLoop drains incoming connections as they arrive, running the
// on_auto_accepted hook synchronously before replying to the client.
func (obj *Object) acceptorLoop() {
	for {
		select {
		case req := <-obj.incoming:
			obj.autoAccept(req)
		case <-obj.stop:
			return
		}
	}
}

func (obj *Object) autoAccept(req *ConnectRequest) {
	obj.accept(req.Link)
	if obj.onAutoAccepted == nil {
		req.Result <- nil
		return
	}
	if err := obj.onAutoAccepted(obj.ID, req.Link.ID, obj.Cookie); err != nil {
		obj.Remove(req.Link.ID)
		req.Link.BeginClose()
		req.Link.FinishClose()
		req.Result <- ioerr.Wrap(ioerr.KindConnectionFailed, err, "on_auto_accepted hook rejected link %d", req.Link.ID)
		return
	}
	req.Result <- nil
}

// Enqueue submits a newly attached (already Connect()ed) link for accept.
// It never blocks: a full accept queue reports ServiceBusy rather than
// stalling the connecting client indefinitely, since depth is an explicit
// Args knob the caller controls.
func (obj *Object) Enqueue(req *ConnectRequest) error {
	obj.mutex.Lock()
	closed := obj.state != Online
	obj.mutex.Unlock()
	if closed {
		return ioerr.New(ioerr.KindNotExistService, "service %d is not online", obj.ID)
	}
	select {
	case obj.incoming <- req:
		return nil
	default:
		return ioerr.New(ioerr.KindServiceBusy, "service %d accept queue is full", obj.ID)
	}
}

// Dequeue pops one pending ConnectRequest for manual acceptClient use (no
// AutoAccept). ok is false once the Service is offline with nothing left
// queued.
func (obj *Object) Dequeue() (req *ConnectRequest, ok bool) {
	select {
	case req = <-obj.incoming:
		return req, true
	case <-obj.stop:
		select {
		case req = <-obj.incoming: // drain anything still buffered
			return req, true
		default:
			return nil, false
		}
	}
}

// DequeueWait is Dequeue with opt.Blocking applied, for AcceptClient's
// option matrix: NonBlock fails fast with ConnectionFailed, Timeout bounds
// the wait.
func (obj *Object) DequeueWait(clk clock.Clock, opt option.Set) (*ConnectRequest, error) {
	switch opt.Blocking {
	case option.NonBlock:
		select {
		case req := <-obj.incoming:
			return req, nil
		case <-obj.stop:
			return nil, ioerr.New(ioerr.KindNotExistService, "service %d is not online", obj.ID)
		default:
			return nil, ioerr.New(ioerr.KindConnectionFailed, "no pending connection to accept")
		}
	case option.MayBlock:
		req, ok := obj.Dequeue()
		if !ok {
			return nil, ioerr.New(ioerr.KindNotExistService, "service %d is not online", obj.ID)
		}
		return req, nil
	case option.Timeout:
		select {
		case req := <-obj.incoming:
			return req, nil
		case <-obj.stop:
			select {
			case req := <-obj.incoming:
				return req, nil
			default:
				return nil, ioerr.New(ioerr.KindNotExistService, "service %d is not online", obj.ID)
			}
		case <-clk.After(opt.Timeout):
			return nil, ioerr.New(ioerr.KindTimeout, "acceptClient timed out")
		}
	default:
		return nil, ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
	}
}

// accept adds link to the accepted set under lock.
func (obj *Object) accept(l *link.Object) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	l.ServiceID = obj.ID
	obj.accepted[l.ID] = l
}

// Accept is the public counterpart of accept, used by the engine's manual
// AcceptClient path once it has popped a ConnectRequest via Dequeue.
func (obj *Object) Accept(l *link.Object) {
	obj.accept(l)
}

// Remove drops linkID from the accepted set (also used by the fan-out
// table, which is simply a filter over this same set — see Accepted).
func (obj *Object) Remove(linkID id.ID) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	delete(obj.accepted, linkID)
}

// Accepted returns a snapshot of the currently accepted links, the table
// postEVT(SrvID, ...) fans out across when BroadcastEvent is set.
func (obj *Object) Accepted() []*link.Object {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	out := make([]*link.Object, 0, len(obj.accepted))
	for _, l := range obj.accepted {
		out = append(out, l)
	}
	return out
}

// State returns the current lifecycle state.
func (obj *Object) State() State {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.state
}

// BeginOffline transitions Online -> Closing, stops the acceptor task, and
// returns the accepted links the caller must cascade-close (empty if
// KeepAcceptedLink is set). Per the design decision in SPEC_FULL.md §6.2,
// the fan-out table (the same accepted map) is always cleared here: once a
// Service is offline, postEVT(SrvID, ...) broadcast is no longer possible
// regardless of KeepAcceptedLink, even though the kept links themselves stay
// open for their owners to keep using directly.
func (obj *Object) BeginOffline() (toClose []*link.Object, ok bool) {
	obj.mutex.Lock()
	if obj.state != Online {
		obj.mutex.Unlock()
		return nil, false
	}
	obj.state = Closing
	keep := obj.Flags&KeepAcceptedLink != 0
	links := obj.accepted
	obj.accepted = make(map[id.ID]*link.Object)
	obj.mutex.Unlock()

	close(obj.stop)

	if keep {
		return nil, true
	}
	out := make([]*link.Object, 0, len(links))
	for _, l := range links {
		out = append(out, l)
	}
	return out, true
}

// FinishOffline transitions Closing -> Closed.
func (obj *Object) FinishOffline() {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.state = Closed
}
