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

// Package ioc is the public facade: every IOC entry point exposed as a
// package-level function against a package-level default DeliveryEngine,
// rather than requiring callers to construct an engine.Engine by hand.
// Callers that need more than one isolated Engine (tests, or a process
// hosting more than one bus) should build their own engine.Engine or
// ioc.Runtime directly instead of using these package-level functions.
package ioc

import (
	"sync"

	"github.com/google/uuid"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/engine"
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
	"github.com/purpleidea/ioc/registry"
	"github.com/purpleidea/ioc/service"
)

var (
	defaultMu   sync.Mutex
	defaultOnce sync.Once
	defaultLogf = func(string, ...interface{}) {}
	defaultEng  *engine.Engine
)

// SetLogf installs the Logf used to build the package-level default Engine.
// It only has an effect if called before the default Engine is first used;
// a caller needing to change logging afterwards should use Default().Logf
// directly.
func SetLogf(logf func(format string, v ...interface{})) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if logf != nil {
		defaultLogf = logf
	}
}

// Default returns (building on first use) the package-level default Engine.
func Default() *engine.Engine {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		logf := defaultLogf
		defaultMu.Unlock()
		defaultEng = engine.New(clock.Real{}, 0, logf)
	})
	return defaultEng
}

// SrvArgs builds service.Args with this library's depth defaults, the
// init helper for an OnlineService(uri, capability) call.
func SrvArgs(uri registry.URI, capability link.Usage) service.Args {
	return service.NewArgs(uri, capability)
}

// ConnArgs builds engine.ConnArgs with this library's depth defaults, the
// init helper for a ConnectService(uri, usage) call.
func ConnArgs(uri registry.URI, usage link.Usage) engine.ConnArgs {
	return engine.NewConnArgs(uri, usage)
}

// NewInstanceURI builds a URI whose Path is a fresh random instance tag,
// for a Service onlined without an explicit path component of its own.
// SrvID/LinkID stay monotonic id.Registry counters regardless; uuid is only
// ever used for this Path tag, never as an identity itself.
func NewInstanceURI(protocol, host string, port uint16) registry.URI {
	return registry.URI{
		Protocol: protocol,
		Host:     host,
		Path:     "/instances/" + uuid.New().String(),
		Port:     port,
	}
}

// OnlineService registers a new Service against the default Engine.
func OnlineService(args service.Args) (id.ID, error) { return Default().OnlineService(args) }

// OfflineService removes a Service from the default Engine, cascade-closing
// its accepted links unless KeepAcceptedLink is set.
func OfflineService(srvID id.ID) error { return Default().OfflineService(srvID) }

// AcceptClient manually accepts the oldest pending connectService request
// against srvID, for a Service onlined without AutoAccept.
func AcceptClient(srvID id.ID, opt option.Set) (id.ID, error) {
	return Default().AcceptClient(srvID, opt)
}

// ConnectService connects a client to the Service listening at args.URI.
func ConnectService(args engine.ConnArgs, opt option.Set) (id.ID, error) {
	return Default().ConnectService(args, opt)
}

// CloseLink closes linkID and its peer.
func CloseLink(linkID id.ID) error { return Default().CloseLink(linkID) }

// PostEVT posts evt to linkID's peer.
func PostEVT(linkID id.ID, evt *msg.EvtDesc, opt option.Set) error {
	return Default().PostEVT(linkID, evt, opt)
}

// PostEVTBroadcast posts evt to the consumer connected on every accepted link
// of a BroadcastEvent Service.
func PostEVTBroadcast(srvID id.ID, evt *msg.EvtDesc, opt option.Set) error {
	return Default().PostEVTBroadcast(srvID, evt, opt)
}

// SubEVT registers cb as linkID's event-consumer callback.
func SubEVT(linkID id.ID, cb link.CbProcEvt_F, filter []string) error {
	return Default().SubEVT(linkID, cb, filter)
}

// UnsubEVT clears linkID's event-consumer callback.
func UnsubEVT(linkID id.ID) error { return Default().UnsubEVT(linkID) }

// ForceProcEVT blocks until linkID's inbound event queue has drained.
func ForceProcEVT(linkID id.ID, opt option.Set) error { return Default().ForceProcEVT(linkID, opt) }

// ExecCMD issues a command against linkID's peer and blocks for the result.
func ExecCMD(linkID id.ID, cmdID string, in []byte, opt option.Set) (*msg.CmdDesc, error) {
	return Default().ExecCMD(linkID, cmdID, in, opt)
}

// WaitCMD polls for the next command installed against linkID.
func WaitCMD(linkID id.ID, opt option.Set) (*msg.CmdDesc, error) {
	return Default().WaitCMD(linkID, opt)
}

// AckCMD completes a CmdDesc obtained from WaitCMD.
func AckCMD(linkID id.ID, cd *msg.CmdDesc, out []byte, result error) error {
	return Default().AckCMD(linkID, cd, out, result)
}

// RegisterCmdExecutor registers cb as linkID's command-executor callback.
func RegisterCmdExecutor(linkID id.ID, cb link.CbExecCmd_F) error {
	return Default().RegisterCmdExecutor(linkID, cb)
}

// SendDAT enqueues a chunk onto linkID's peer.
func SendDAT(linkID id.ID, bytes []byte, flags msg.DatFlags, opt option.Set) error {
	return Default().SendDAT(linkID, bytes, flags, opt)
}

// RecvDAT polls for the next chunk on linkID.
func RecvDAT(linkID id.ID, opt option.Set) (*msg.DatDesc, error) {
	return Default().RecvDAT(linkID, opt)
}

// FlushDAT blocks until linkID's peer inbound queue has drained.
func FlushDAT(linkID id.ID, opt option.Set) error { return Default().FlushDAT(linkID, opt) }

// RegisterDatReceiver registers cb as linkID's data-chunk callback.
func RegisterDatReceiver(linkID id.ID, cb link.CbRecvDat_F) error {
	return Default().RegisterDatReceiver(linkID, cb)
}

// GetCapability reports the default Engine's current configuration.
func GetCapability() engine.Capability { return Default().GetCapability() }

// PostEVTInConlesMode posts evt on the default Engine's private Conles bus.
func PostEVTInConlesMode(evt *msg.EvtDesc, opt option.Set) error {
	return Default().PostEVTInConlesMode(evt, opt)
}

// SubEVTInConlesMode subscribes cb to the default Engine's Conles bus.
func SubEVTInConlesMode(cb func(evt *msg.EvtDesc), cookie interface{}, filter []string) error {
	return Default().SubEVTInConlesMode(cb, cookie, filter)
}

// UnsubEVTInConlesMode unsubscribes cb from the default Engine's Conles bus.
func UnsubEVTInConlesMode(cb func(evt *msg.EvtDesc), cookie interface{}) error {
	return Default().UnsubEVTInConlesMode(cb, cookie)
}

// ForceProcEVTInConlesMode blocks until the default Engine's Conles bus has
// drained its shared event queue.
func ForceProcEVTInConlesMode(opt option.Set) error {
	return Default().ForceProcEVTInConlesMode(opt)
}

// Shutdown offlines every Service on the default Engine and closes its
// Conles bus.
func Shutdown() error { return Default().Shutdown() }
