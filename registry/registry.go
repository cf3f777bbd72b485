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

// Package registry maps a Service's URI to its SrvID and enforces the
// at-most-one-Service-per-URI uniqueness rule, keyed on a four-component
// URI the way a graph keys its vertices on a unique name.
package registry

import (
	"fmt"
	"sync"

	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
)

// URI identifies a Service: protocol/host/path/port, compared component by
// component. Protocol FIFO + host LOCAL_PROCESS is the only transport
// actually delivered by this library; other values are accepted (so a
// caller can record where a cross-process peer *would* live) but are
// never dialed out to — transport pluggability beyond this bookkeeping
// is out of scope.
type URI struct {
	Protocol string
	Host     string
	Path     string
	Port     uint16
}

// String renders the URI the way log lines and error messages want it.
func (u URI) String() string {
	return fmt.Sprintf("%s://%s%s:%d", u.Protocol, u.Host, u.Path, u.Port)
}

// FIFO is the in-process protocol/host pair used by every Service unless a
// caller deliberately asks for something else.
const (
	ProtocolFIFO    = "FIFO"
	HostLocalProcess = "LOCAL_PROCESS"
)

// Registry is a URI -> SrvID map guarding the uniqueness invariant.
type Registry struct {
	mutex   sync.RWMutex
	byURI   map[URI]id.ID
	byID    map[id.ID]URI
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		byURI: make(map[URI]id.ID),
		byID:  make(map[id.ID]URI),
	}
}

// Online records uri -> srvID, failing with ServiceAlreadyExist if uri is
// already taken by a live Service.
func (obj *Registry) Online(uri URI, srvID id.ID) error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if _, exists := obj.byURI[uri]; exists {
		return ioerr.New(ioerr.KindServiceAlreadyExist, "service already online at %s", uri)
	}
	obj.byURI[uri] = srvID
	obj.byID[srvID] = uri
	return nil
}

// Offline removes the uri <-> srvID mapping. It is a no-op if srvID is not
// currently registered (idempotent, matching offlineService's atomic-removal
// requirement even under a racing double-call).
func (obj *Registry) Offline(srvID id.ID) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	uri, ok := obj.byID[srvID]
	if !ok {
		return
	}
	delete(obj.byID, srvID)
	delete(obj.byURI, uri)
}

// Lookup resolves a URI to its current SrvID.
func (obj *Registry) Lookup(uri URI) (id.ID, bool) {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	srvID, ok := obj.byURI[uri]
	return srvID, ok
}

// URIOf resolves a SrvID back to its URI, for logging/diagnostics.
func (obj *Registry) URIOf(srvID id.ID) (URI, bool) {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	uri, ok := obj.byID[srvID]
	return uri, ok
}

// Len reports how many Services are currently online.
func (obj *Registry) Len() int {
	obj.mutex.RLock()
	defer obj.mutex.RUnlock()
	return len(obj.byURI)
}
