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

// Package config watches a service-topology file with fsnotify and
// re-reconciles which Services are online, over a flat list of Services
// rather than a resource graph.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ServiceSpec is one entry of a topology file: a Service this process
// should keep online at URI, with the given accept capability and queue
// depth overrides.
type ServiceSpec struct {
	Path       string `json:"path"`
	Capability uint64 `json:"capability"`
	EvtDepth   int    `json:"evtDepth,omitempty"`
	DatDepth   int    `json:"datDepth,omitempty"`
	AutoAccept bool   `json:"autoAccept,omitempty"`
}

// Topology is the decoded shape of a topology file: the full set of
// Services this process wants online.
type Topology struct {
	Services []ServiceSpec `json:"services"`
}

// Load reads and decodes the topology file at path.
func Load(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var t Topology
	if err := json.NewDecoder(f).Decode(&t); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &t, nil
}

// Watcher watches a single topology file and delivers its freshly
// Load()-ed contents on Events() each time it changes, mirroring
// recwatch.ConfigWatcher's single-file watch without the directory
// recursion this domain never needs.
type Watcher struct {
	Path string
	Logf func(format string, v ...interface{})

	watcher *fsnotify.Watcher
	events  chan *Topology
	errors  chan error
	closed  chan struct{}
	once    sync.Once
}

// NewWatcher builds and starts a Watcher on path.
func NewWatcher(path string, logf func(string, ...interface{})) (*Watcher, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	obj := &Watcher{
		Path:    path,
		Logf:    logf,
		watcher: w,
		events:  make(chan *Topology),
		errors:  make(chan error, 1),
		closed:  make(chan struct{}),
	}
	go obj.loop()
	return obj, nil
}

func (obj *Watcher) loop() {
	for {
		select {
		case ev, ok := <-obj.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			top, err := Load(obj.Path)
			if err != nil {
				obj.Logf("config: reload %s failed: %v", obj.Path, err)
				select {
				case obj.errors <- err:
				case <-obj.closed:
					return
				}
				continue
			}
			select {
			case obj.events <- top:
			case <-obj.closed:
				return
			}
		case err, ok := <-obj.watcher.Errors:
			if !ok {
				return
			}
			select {
			case obj.errors <- err:
			case <-obj.closed:
				return
			}
		case <-obj.closed:
			return
		}
	}
}

// Events returns the channel of freshly reloaded Topologies.
func (obj *Watcher) Events() <-chan *Topology { return obj.events }

// Errors returns the channel of watch/reload errors.
func (obj *Watcher) Errors() <-chan error { return obj.errors }

// Close stops the watcher.
func (obj *Watcher) Close() error {
	var err error
	obj.once.Do(func() {
		close(obj.closed)
		err = obj.watcher.Close()
	})
	return err
}
