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
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/option"
	"github.com/purpleidea/ioc/registry"
	"github.com/purpleidea/ioc/service"
)

// ConnArgs configures a connectService call: the client side of a new link
// pair.
type ConnArgs struct {
	URI    registry.URI
	Usage  link.Usage
	Cookie interface{}

	EvtCallback link.CbProcEvt_F
	EvtFilter   []string

	CmdCallback link.CbExecCmd_F
	CmdPolling  bool

	DatCallback link.CbRecvDat_F

	EvtDepth int
	DatDepth int
}

// NewConnArgs builds ConnArgs with the depth defaults a bare connectService
// call should get.
func NewConnArgs(uri registry.URI, usage link.Usage) ConnArgs {
	return ConnArgs{
		URI:      uri,
		Usage:    usage,
		EvtDepth: DefaultEvtDepth,
		DatDepth: DefaultDatDepth,
	}
}

func (obj *Engine) depths(evtDepth, datDepth int) (int, int) {
	if evtDepth <= 0 {
		evtDepth = DefaultEvtDepth
	}
	if datDepth <= 0 {
		datDepth = DefaultDatDepth
	}
	return evtDepth, datDepth
}

// ConnectService resolves args.URI to a live Service, builds a connected
// LinkObject pair (service-side accepted link, client-side connected link),
// submits the accepted side to the Service's accept queue, and blocks per
// opt until the connection is accepted or times out. It returns the
// client-side LinkID.
func (obj *Engine) ConnectService(args ConnArgs, opt option.Set) (id.ID, error) {
	srvID, ok := obj.reg.Lookup(args.URI)
	if !ok {
		return id.Invalid, ioerr.New(ioerr.KindConnectionFailed, "no service online at %s", args.URI)
	}
	svc, err := obj.lookupService(srvID)
	if err != nil {
		return id.Invalid, ioerr.Wrap(ioerr.KindConnectionFailed, err, "service %s vanished before connect completed", args.URI)
	}

	acceptedUsage := link.Complement(args.Usage)
	if svc.Capability&acceptedUsage != acceptedUsage {
		return id.Invalid, ioerr.New(ioerr.KindIncompatibleUsage, "service %s does not offer capability for client usage %b", args.URI, args.Usage)
	}

	evtDepth, datDepth := obj.depths(args.EvtDepth, args.DatDepth)
	accEvtDepth, accDatDepth := obj.depths(svc.EvtDepth, svc.DatDepth)
	acceptedID := obj.ids.Next()
	clientID := obj.ids.Next()
	accepted := link.New(acceptedID, acceptedUsage, accEvtDepth, accDatDepth, obj.Logf)
	client := link.New(clientID, args.Usage, evtDepth, datDepth, obj.Logf)

	if err := accepted.Attach(); err != nil {
		return id.Invalid, err
	}
	if err := client.Attach(); err != nil {
		return id.Invalid, err
	}
	if err := accepted.Connect(client); err != nil {
		return id.Invalid, err
	}
	if err := client.Connect(accepted); err != nil {
		return id.Invalid, err
	}

	accepted.OnClose(func() { svc.Remove(acceptedID); obj.forgetLink(acceptedID) })
	client.OnClose(func() { obj.forgetLink(clientID) })

	obj.registerLink(accepted)
	obj.registerLink(client)
	obj.ensureEvtWorker(accepted)
	obj.ensureEvtWorker(client)

	if args.Usage&link.UsageCmdExecutor != 0 {
		client.SetCmdPolling(args.CmdPolling)
		if args.CmdCallback != nil {
			obj.RegisterCmdExecutor(clientID, args.CmdCallback)
		}
	}
	if args.Usage&link.UsageDatReceiver != 0 && args.DatCallback != nil {
		obj.RegisterDatReceiver(clientID, args.DatCallback)
	}
	if args.Usage&link.UsageEvtConsumer != 0 && args.EvtCallback != nil {
		obj.SubEVT(clientID, args.EvtCallback, args.EvtFilter)
	}

	req := &service.ConnectRequest{Usage: args.Usage, Link: accepted, Result: make(chan error, 1)}
	if err := svc.Enqueue(req); err != nil {
		obj.closeLinkObject(client)
		return id.Invalid, err
	}

	if err := obj.waitConnect(req, opt); err != nil {
		obj.closeLinkObject(client)
		return id.Invalid, err
	}
	return clientID, nil
}

func (obj *Engine) waitConnect(req *service.ConnectRequest, opt option.Set) error {
	switch opt.Blocking {
	case option.NonBlock:
		select {
		case err := <-req.Result:
			return err
		default:
			return ioerr.New(ioerr.KindConnectionFailed, "connect not accepted immediately")
		}
	case option.MayBlock:
		return <-req.Result
	case option.Timeout:
		select {
		case err := <-req.Result:
			return err
		case <-obj.clk.After(opt.Timeout):
			return ioerr.New(ioerr.KindTimeout, "connectService timed out waiting for accept")
		}
	default:
		return ioerr.New(ioerr.KindBug, "unreachable blocking discipline %v", opt.Blocking)
	}
}

// AcceptClient is the manual-accept counterpart of a Service's auto-accept
// acceptor task: it pops the oldest pending connectService
// request, finishes the accept bookkeeping, and wakes the connecting client.
func (obj *Engine) AcceptClient(srvID id.ID, opt option.Set) (id.ID, error) {
	svc, err := obj.lookupService(srvID)
	if err != nil {
		return id.Invalid, err
	}

	req, err := svc.DequeueWait(obj.clk, opt)
	if err != nil {
		return id.Invalid, err
	}
	svc.Accept(req.Link)
	obj.ensureEvtWorker(req.Link)
	req.Result <- nil
	return req.Link.ID, nil
}

