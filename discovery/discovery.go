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

// Package discovery mirrors a Service's URI into Consul's KV store so other
// processes on the same host can discover which in-process bus, if any, is
// serving a given path. It is presence-only: the actual connection always
// stays in-process FIFO, never a network hop, the same client-construction
// pattern engine/resources/consul_kv.go used for a single key/value write.
package discovery

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

// DefaultKVPrefix namespaces every key this package writes.
const DefaultKVPrefix = "ioc/services/"

// Registrar publishes Service presence into Consul's KV store.
type Registrar struct {
	Scheme  string // URI scheme for the Consul server, default "http"
	Address string // default "127.0.0.1:8500"
	Token   string // optional ACL token
	Prefix  string // default DefaultKVPrefix

	client *api.Client
	config *api.Config // kept to close idle connections
}

// Init builds the underlying Consul client.
func (obj *Registrar) Init() error {
	if obj.Prefix == "" {
		obj.Prefix = DefaultKVPrefix
	}
	obj.config = api.DefaultConfig()
	if obj.Scheme != "" {
		obj.config.Scheme = obj.Scheme
	}
	if obj.Address != "" {
		obj.config.Address = obj.Address
	}
	if obj.Token != "" {
		obj.config.Token = obj.Token
	}
	client, err := api.NewClient(obj.config)
	if err != nil {
		return fmt.Errorf("discovery: new consul client: %w", err)
	}
	obj.client = client
	return nil
}

// Register writes srvPath's host/port presence string into Consul so a
// peer process knows where to look for it, not how to reach it over the
// network (the bus itself is never remote).
func (obj *Registrar) Register(srvPath, present string) error {
	kv := obj.client.KV()
	pair := &api.KVPair{Key: obj.Prefix + srvPath, Value: []byte(present)}
	_, err := kv.Put(pair, nil)
	return err
}

// Lookup returns the presence string last written for srvPath, if any.
func (obj *Registrar) Lookup(srvPath string) (string, bool, error) {
	kv := obj.client.KV()
	pair, _, err := kv.Get(obj.Prefix+srvPath, nil)
	if err != nil {
		return "", false, err
	}
	if pair == nil {
		return "", false, nil
	}
	return string(pair.Value), true, nil
}

// Unregister removes srvPath's presence entry, e.g. on offlineService.
func (obj *Registrar) Unregister(srvPath string) error {
	kv := obj.client.KV()
	_, err := kv.Delete(obj.Prefix+srvPath, nil)
	return err
}

// Close releases the client's idle connections.
func (obj *Registrar) Close() {
	if obj.config != nil && obj.config.Transport != nil {
		obj.config.Transport.CloseIdleConnections()
	}
}
