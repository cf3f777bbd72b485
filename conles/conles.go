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

// Package conles implements the ConlesBus: a process-global singleton
// auto-link acting as both producer and consumer, with a subscriber table
// keyed by (callback identity, cookie identity) and a single worker
// draining a shared EvtDescQueue. It exposes a Reset hook alongside its
// lazy-init singleton purely for test isolation; production code should
// never need to call it.
package conles

import (
	"reflect"
	"sync"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
	"github.com/purpleidea/ioc/queue"
)

// Callback is the shape a Conles subscriber registers, the counterpart of
// link.CbProcEvt_F that takes only the delivered EvtDesc and returns nothing:
// Conles has no LinkID of its own to hand back (it is the one auto-link).
type Callback func(evt *msg.EvtDesc)

type subKey struct {
	fn     uintptr
	cookie interface{}
}

type subscriber struct {
	cb     Callback
	filter map[string]bool // empty/nil = wildcard
}

// Bus is the ConlesBus itself. Most callers go through the package-level
// Default()/Reset() singleton accessors rather than constructing a Bus
// directly.
type Bus struct {
	queue *queue.EvtDescQueue
	clk   clock.Clock
	Logf  func(format string, v ...interface{})

	mutex sync.RWMutex
	subs  map[subKey]*subscriber

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a ready Bus with its worker already running. depth sizes the
// one shared EvtDescQueue every subscriber drains from.
func New(depth int, logf func(string, ...interface{})) *Bus {
	obj := &Bus{
		queue: queue.NewEvtDescQueue(depth),
		clk:   clock.Real{},
		Logf:  logf,
		subs:  make(map[subKey]*subscriber),
		stop:  make(chan struct{}),
	}
	obj.wg.Add(1)
	go obj.worker()
	return obj
}

func (obj *Bus) worker() {
	defer obj.wg.Done()
	for {
		evt, ok := obj.queue.Dequeue()
		if !ok {
			return
		}
		obj.dispatch(evt)
		obj.queue.Done()
	}
}

func (obj *Bus) dispatch(evt *msg.EvtDesc) {
	obj.mutex.RLock()
	targets := make([]*subscriber, 0, len(obj.subs))
	for _, s := range obj.subs {
		if len(s.filter) == 0 || s.filter[evt.EvtID] {
			targets = append(targets, s)
		}
	}
	obj.mutex.RUnlock()

	for _, s := range targets {
		s.cb(evt)
	}
}

func key(cb Callback, cookie interface{}) subKey {
	return subKey{fn: reflect.ValueOf(cb).Pointer(), cookie: cookie}
}

// Sub registers cb (keyed together with cookie) with an optional EvtID
// filter; an empty filter is a wildcard subscription.
func (obj *Bus) Sub(cb Callback, cookie interface{}, filter []string) error {
	if cb == nil {
		return ioerr.New(ioerr.KindInvalidParam, "conles: Sub requires a non-nil callback")
	}
	s := &subscriber{cb: cb}
	if len(filter) > 0 {
		s.filter = make(map[string]bool, len(filter))
		for _, id := range filter {
			s.filter[id] = true
		}
	}
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.subs[key(cb, cookie)] = s
	return nil
}

// Unsub removes the subscription matching (cb, cookie) exactly; both the
// callback identity and the cookie must match.
func (obj *Bus) Unsub(cb Callback, cookie interface{}) error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	k := key(cb, cookie)
	if _, ok := obj.subs[k]; !ok {
		return ioerr.New(ioerr.KindNotExistLink, "conles: no subscription for that (callback, cookie) pair")
	}
	delete(obj.subs, k)
	return nil
}

// Post enqueues evt per opt's backpressure discipline, applying the same
// Async/Sync × Blocking matrix the per-link postEVT path applies: Sync first
// waits for the queue to drain (rejecting outright on NonBlock against a
// non-empty queue, rather than enqueuing evt first and failing after the
// fact), then enqueues and waits again for evt's own dispatch to complete.
// NO_EVENT_CONSUMER is returned without enqueuing if there is currently no
// subscriber at all, matching the per-link posting rule applied elsewhere
// for EVT.
func (obj *Bus) Post(evt *msg.EvtDesc, opt option.Set) error {
	obj.mutex.RLock()
	n := len(obj.subs)
	obj.mutex.RUnlock()
	if n == 0 {
		return ioerr.New(ioerr.KindNoEventConsumer, "conles: no subscribers")
	}

	if opt.Mode == option.Sync {
		if err := obj.queue.WaitDrain(obj.clk, opt); err != nil {
			return err
		}
	}
	if err := obj.queue.Enqueue(obj.clk, evt, opt); err != nil {
		return err
	}
	if opt.Mode == option.Sync {
		return obj.queue.WaitDrain(obj.clk, opt)
	}
	return nil
}

// ForceProc blocks until the shared queue has been fully drained by the
// worker, implementing forceProcEVT()'s "flush the bus synchronously"
// contract.
func (obj *Bus) ForceProc(opt option.Set) error {
	return obj.queue.WaitDrain(obj.clk, opt)
}

// Close stops the worker and releases the queue, used at process shutdown.
func (obj *Bus) Close() {
	obj.queue.Close()
	obj.wg.Wait()
}

// SubCount reports the number of live subscriptions (test/diagnostic use).
func (obj *Bus) SubCount() int {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return len(obj.subs)
}

var (
	defaultMutex sync.Mutex
	defaultBus   *Bus
)

// DefaultDepth is the shared EvtDescQueue depth the package-level singleton
// is built with.
const DefaultDepth = 64

// Default returns the process-global ConlesBus, lazily constructing it on
// first use.
func Default(logf func(string, ...interface{})) *Bus {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()
	if defaultBus == nil {
		defaultBus = New(DefaultDepth, logf)
	}
	return defaultBus
}

// Reset tears down and discards the process-global ConlesBus so the next
// Default() call builds a fresh one. Exported for test isolation;
// production code should never need to call it.
func Reset() {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()
	if defaultBus != nil {
		defaultBus.Close()
		defaultBus = nil
	}
}
