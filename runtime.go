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

package ioc

import (
	"context"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/config"
	"github.com/purpleidea/ioc/discovery"
	"github.com/purpleidea/ioc/engine"
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/metrics"
	"github.com/purpleidea/ioc/registry"
	"github.com/purpleidea/ioc/service"
)

// RuntimeArgs configures a Runtime. Every field is optional: a nil Logf
// discards log output, a non-positive ConlesDepth uses conles.DefaultDepth,
// and leaving MetricsListen/DiscoveryAddress/TopologyPath empty disables that
// component, an opt-in-per-feature shape for metrics, discovery, and
// topology watching.
type RuntimeArgs struct {
	ConlesDepth int
	Logf        func(format string, v ...interface{})

	MetricsListen string // non-empty starts a Prometheus /metrics server

	DiscoveryAddress string // non-empty registers onlined Services in Consul
	DiscoveryScheme  string
	DiscoveryToken   string

	TopologyPath string // non-empty watches a config.Topology file
}

// Runtime wires an Engine together with the optional metrics server,
// discovery registrar, and topology watcher into one orchestrated process.
type Runtime struct {
	Engine    *engine.Engine
	Metrics   *metrics.Metrics
	Discovery *discovery.Registrar
	Watcher   *config.Watcher
	Logf      func(format string, v ...interface{})

	topoServices map[string]id.ID
}

// NewRuntime builds and starts a Runtime per args.
func NewRuntime(args RuntimeArgs) (*Runtime, error) {
	logf := args.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	rt := &Runtime{
		Engine:       engine.New(clock.Real{}, args.ConlesDepth, logf),
		Logf:         logf,
		topoServices: make(map[string]id.ID),
	}

	if args.MetricsListen != "" {
		m := &metrics.Metrics{Listen: args.MetricsListen}
		if err := m.Init(); err != nil {
			return nil, ioerr.Wrap(ioerr.KindBug, err, "runtime: metrics init failed")
		}
		if err := m.Start(); err != nil {
			return nil, ioerr.Wrap(ioerr.KindBug, err, "runtime: metrics start failed")
		}
		rt.Metrics = m
		rt.Engine.SetMetrics(m)
	}

	if args.DiscoveryAddress != "" {
		reg := &discovery.Registrar{
			Scheme:  args.DiscoveryScheme,
			Address: args.DiscoveryAddress,
			Token:   args.DiscoveryToken,
		}
		if err := reg.Init(); err != nil {
			return nil, ioerr.Wrap(ioerr.KindBug, err, "runtime: discovery init failed")
		}
		rt.Discovery = reg
	}

	if args.TopologyPath != "" {
		w, err := config.NewWatcher(args.TopologyPath, logf)
		if err != nil {
			return nil, ioerr.Wrap(ioerr.KindBug, err, "runtime: topology watch failed")
		}
		rt.Watcher = w
		if top, err := config.Load(args.TopologyPath); err == nil {
			rt.reconcile(top)
		} else {
			logf("runtime: initial topology load failed: %v", err)
		}
		go rt.reconcileLoop()
	}

	return rt, nil
}

// reconcileLoop applies every freshly reloaded Topology as it arrives.
func (obj *Runtime) reconcileLoop() {
	for {
		select {
		case top, ok := <-obj.Watcher.Events():
			if !ok {
				return
			}
			obj.reconcile(top)
		case err, ok := <-obj.Watcher.Errors():
			if !ok {
				return
			}
			obj.Logf("runtime: topology watch error: %v", err)
		}
	}
}

// reconcile onlines any Service named in top that isn't already online. It
// never offlines a Service dropped from top: topology reload is additive
// only, since a surprise cascade-close of live links on a typo'd edit would
// be far more damaging than a stale extra Service.
func (obj *Runtime) reconcile(top *config.Topology) {
	for _, spec := range top.Services {
		if _, already := obj.topoServices[spec.Path]; already {
			continue
		}
		uri := registry.URI{Protocol: registry.ProtocolFIFO, Host: registry.HostLocalProcess, Path: spec.Path}
		args := service.NewArgs(uri, link.Usage(spec.Capability))
		if spec.EvtDepth > 0 {
			args.EvtDepth = spec.EvtDepth
		}
		if spec.DatDepth > 0 {
			args.DatDepth = spec.DatDepth
		}
		if spec.AutoAccept {
			args.Flags |= service.AutoAccept
		}
		srvID, err := obj.Engine.OnlineService(args)
		if err != nil {
			obj.Logf("runtime: online %s: %v", uri, err)
			continue
		}
		obj.topoServices[spec.Path] = srvID
		if obj.Discovery != nil {
			if err := obj.Discovery.Register(spec.Path, uri.String()); err != nil {
				obj.Logf("runtime: discovery register %s: %v", spec.Path, err)
			}
		}
	}
}

// Shutdown stops the topology watcher, offlines every Service (cascade-
// closing their links), stops the metrics server, and releases the
// discovery client, in that order — engine shutdown always precedes the
// ancillary services that observe it.
func (obj *Runtime) Shutdown(ctx context.Context) error {
	var reterr error
	if obj.Watcher != nil {
		if err := obj.Watcher.Close(); err != nil {
			reterr = ioerr.Append(reterr, err)
		}
	}
	if err := obj.Engine.Shutdown(); err != nil {
		reterr = ioerr.Append(reterr, err)
	}
	if obj.Metrics != nil {
		if err := obj.Metrics.Stop(ctx); err != nil {
			reterr = ioerr.Append(reterr, err)
		}
	}
	if obj.Discovery != nil {
		obj.Discovery.Close()
	}
	return reterr
}
