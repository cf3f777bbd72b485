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

// Package engine implements DeliveryEngine, the dispatch core: Service/Link
// lifecycle management plus the postEVT / execCMD / sendDAT / recvDAT /
// waitCMD / ackCMD / flushDAT / forceProcEVT option-matrix behaviors. It
// wires together id, clock, option, queue, link, service, registry and
// conles into one orchestrated engine.
package engine

import (
	"sync"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/conles"
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/metrics"
	"github.com/purpleidea/ioc/registry"
	"github.com/purpleidea/ioc/service"
)

// DefaultEvtDepth/DefaultDatDepth size a link's queues when Args leave the
// depth fields at zero.
const (
	DefaultEvtDepth     = 16
	DefaultDatDepth     = 16
	DefaultMaxRecvRetry = 3
	DefaultMaxDataChunk = 1 << 20 // 1 MiB per sendDAT chunk
)

// Capability reports the library's current configuration, the result of
// a getCapability(out caps) call.
type Capability struct {
	DepthEvtDescQueue  int
	DepthDatChunkQueue int
	MaxDataQueueSize   int
	ConlesEnabled      bool
	ConlesDepth        int
}

// Engine is the DeliveryEngine. One Engine per process normally suffices;
// tests may construct several to run in isolation.
type Engine struct {
	ids  *id.Registry
	reg  *registry.Registry
	clk  clock.Clock
	Logf func(format string, v ...interface{})

	maxDataChunk int
	maxRecvRetry int

	mutex      sync.RWMutex
	services   map[id.ID]*service.Object
	links      map[id.ID]*link.Object
	evtWorkers map[id.ID]bool
	cmdWorkers map[id.ID]bool
	datWorkers map[id.ID]bool

	conlesBus *conles.Bus
	metrics   *metrics.Metrics
}

// SetMetrics attaches m so queue depths, active link count, and backpressure
// events get reported as they change. Passing nil (the default) disables
// reporting without changing any other behavior.
func (obj *Engine) SetMetrics(m *metrics.Metrics) {
	obj.mutex.Lock()
	obj.metrics = m
	obj.mutex.Unlock()
	obj.reportLinksActive()
}

func (obj *Engine) reportLinksActive() {
	obj.mutex.RLock()
	m := obj.metrics
	n := len(obj.links)
	obj.mutex.RUnlock()
	if m != nil {
		m.SetLinksActive(n)
	}
}

func (obj *Engine) reportBackpressure(err error) {
	if err == nil {
		return
	}
	obj.mutex.RLock()
	m := obj.metrics
	obj.mutex.RUnlock()
	if m == nil {
		return
	}
	switch ioerr.KindOf(err) {
	case ioerr.KindTooManyQueuingEvtDesc, ioerr.KindBufferFull:
		m.IncBackpressure(ioerr.KindOf(err).String())
	}
}

// New builds an Engine backed by clk (pass clock.Real{} outside tests) with
// a private ConlesBus of the given depth.
func New(clk clock.Clock, conlesDepth int, logf func(string, ...interface{})) *Engine {
	if conlesDepth <= 0 {
		conlesDepth = conles.DefaultDepth
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Engine{
		ids:          id.NewRegistry(),
		reg:          registry.New(),
		clk:          clk,
		Logf:         logf,
		maxDataChunk: DefaultMaxDataChunk,
		maxRecvRetry: DefaultMaxRecvRetry,
		services:     make(map[id.ID]*service.Object),
		links:        make(map[id.ID]*link.Object),
		conlesBus:    conles.New(conlesDepth, logf),
	}
}

// SetMaxDataChunkSize overrides the per-chunk sendDAT size limit enforced
// before DataTooLarge is returned.
func (obj *Engine) SetMaxDataChunkSize(n int) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.maxDataChunk = n
}

// SetMaxRecvRetry overrides how many consecutive non-SUCCESS CbRecvDat_F
// returns for the same chunk the DAT worker tolerates before declaring the
// link LINK_BROKEN (SPEC_FULL.md §6.1).
func (obj *Engine) SetMaxRecvRetry(n int) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.maxRecvRetry = n
}

// GetCapability reports the engine's capabilities. MaxDataQueueSize is this
// Engine's configured per-chunk limit; DepthEvtDescQueue, DepthDatChunkQueue
// and ConlesDepth are the package defaults (DefaultEvtDepth, DefaultDatDepth,
// conles.DefaultDepth), so per-Service, per-link and New's conlesDepth
// overrides are not reflected.
func (obj *Engine) GetCapability() Capability {
	return Capability{
		DepthEvtDescQueue:  DefaultEvtDepth,
		DepthDatChunkQueue: DefaultDatDepth,
		MaxDataQueueSize:   obj.maxChunkSize(),
		ConlesEnabled:      true,
		ConlesDepth:        conles.DefaultDepth,
	}
}

func (obj *Engine) maxChunkSize() int {
	if obj.maxDataChunk <= 0 {
		return DefaultMaxDataChunk
	}
	return obj.maxDataChunk
}

// OnlineService registers a new Service, failing with ServiceAlreadyExist on
// a URI collision.
func (obj *Engine) OnlineService(args service.Args) (id.ID, error) {
	srvID := obj.ids.Next()
	if err := obj.reg.Online(args.URI, srvID); err != nil {
		return id.Invalid, err
	}
	svc := service.New(srvID, args, obj.Logf)
	obj.mutex.Lock()
	obj.services[srvID] = svc
	obj.mutex.Unlock()
	return srvID, nil
}

// OfflineService removes the Service and, unless KeepAcceptedLink is set,
// cascade-closes every link it had accepted.
func (obj *Engine) OfflineService(srvID id.ID) error {
	obj.mutex.Lock()
	svc, ok := obj.services[srvID]
	if ok {
		delete(obj.services, srvID)
	}
	obj.mutex.Unlock()
	if !ok {
		return ioerr.New(ioerr.KindNotExistService, "service %d is not online", srvID)
	}

	obj.reg.Offline(srvID)
	toClose, ok := svc.BeginOffline()
	if !ok {
		return ioerr.New(ioerr.KindBug, "service %d offlined twice", srvID)
	}
	var reterr error
	for _, l := range toClose {
		if err := obj.closeLinkObject(l); err != nil {
			reterr = ioerr.Append(reterr, err)
		}
	}
	svc.FinishOffline()
	return reterr
}

// lookupLink resolves linkID or returns NotExistLink.
func (obj *Engine) lookupLink(linkID id.ID) (*link.Object, error) {
	obj.mutex.RLock()
	l, ok := obj.links[linkID]
	obj.mutex.RUnlock()
	if !ok {
		return nil, ioerr.New(ioerr.KindNotExistLink, "link %d does not exist", linkID)
	}
	return l, nil
}

// lookupService resolves srvID or returns NotExistService.
func (obj *Engine) lookupService(srvID id.ID) (*service.Object, error) {
	obj.mutex.RLock()
	s, ok := obj.services[srvID]
	obj.mutex.RUnlock()
	if !ok {
		return nil, ioerr.New(ioerr.KindNotExistService, "service %d does not exist", srvID)
	}
	return s, nil
}

func (obj *Engine) registerLink(l *link.Object) {
	obj.mutex.Lock()
	obj.links[l.ID] = l
	obj.mutex.Unlock()
	obj.reportLinksActive()
}

func (obj *Engine) forgetLink(linkID id.ID) {
	obj.mutex.Lock()
	delete(obj.links, linkID)
	delete(obj.evtWorkers, linkID)
	delete(obj.cmdWorkers, linkID)
	delete(obj.datWorkers, linkID)
	obj.mutex.Unlock()
	obj.reportLinksActive()
}

// CloseLink closes linkID and notifies its peer, a single directed
// cascade rather than a recursive mutual close.
func (obj *Engine) CloseLink(linkID id.ID) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	return obj.closeLinkObject(l)
}

func (obj *Engine) closeLinkObject(l *link.Object) error {
	if ok := l.BeginClose(); ok {
		l.FinishClose()
	}
	if peer := l.Peer(); peer != nil {
		if ok := peer.BeginClose(); ok {
			peer.FinishClose()
		}
	}
	return nil
}

// Shutdown offlines every Service and closes the Conles bus.
func (obj *Engine) Shutdown() error {
	obj.mutex.Lock()
	ids := make([]id.ID, 0, len(obj.services))
	for srvID := range obj.services {
		ids = append(ids, srvID)
	}
	obj.mutex.Unlock()

	var reterr error
	for _, srvID := range ids {
		if err := obj.OfflineService(srvID); err != nil {
			reterr = ioerr.Append(reterr, err)
		}
	}
	obj.conlesBus.Close()
	return reterr
}
