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
	"time"

	"github.com/purpleidea/ioc/clock"
	"github.com/purpleidea/ioc/id"
	"github.com/purpleidea/ioc/ioerr"
	"github.com/purpleidea/ioc/link"
	"github.com/purpleidea/ioc/msg"
	"github.com/purpleidea/ioc/option"
)

// ExecCMD installs a new CmdDesc into linkID's peer rendezvous slot and
// blocks for the executor's result. A link whose peer has neither a
// registered callback nor a polling waitCMD claim fails fast with
// NoCmdExecutor rather than occupying the rendezvous slot forever.
func (obj *Engine) ExecCMD(linkID id.ID, cmdID string, in []byte, opt option.Set) (*msg.CmdDesc, error) {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return nil, err
	}
	peer := l.Peer()
	if peer == nil || peer.CmdIn == nil {
		return nil, ioerr.New(ioerr.KindNoCmdExecutor, "link %d has no command executor peer", linkID)
	}
	if peer.CmdCallback() == nil && !peer.IsCmdPolling() {
		return nil, ioerr.New(ioerr.KindNoCmdExecutor, "link %d peer has no registered command executor", linkID)
	}

	cd := msg.NewCmdDesc(cmdID, in)
	cd.Seq = l.NextSeq()
	cd.Timestamp = obj.clk.Now()

	var deadline time.Time
	if opt.Blocking == option.Timeout {
		deadline = clock.Deadline(obj.clk, opt.Timeout)
	}

	if err := peer.CmdIn.Install(obj.clk, cd, opt); err != nil {
		return nil, err
	}

	if opt.Blocking == option.Timeout {
		select {
		case <-cd.WaitChan():
		case <-obj.clk.After(clock.Remaining(obj.clk, deadline)):
			if !cd.MarkTimedOut() {
				return cd, ioerr.New(ioerr.KindTimeout, "execCMD %s timed out on link %d", cmdID, linkID)
			}
			// The executor's Ack landed in the same instant we gave up;
			// fall through and report its real result instead.
		}
	} else {
		<-cd.WaitChan()
	}

	if cd.Result != nil {
		return cd, cd.Result
	}
	return cd, nil
}

// WaitCMD is the polling counterpart of a registered CbExecCmd_F: it blocks
// per opt until a Pending CmdDesc lands in linkID's rendezvous slot.
func (obj *Engine) WaitCMD(linkID id.ID, opt option.Set) (*msg.CmdDesc, error) {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return nil, err
	}
	if l.CmdIn == nil {
		return nil, ioerr.New(ioerr.KindIncompatibleUsage, "link %d is not a command executor", linkID)
	}
	l.SetCmdPolling(true)
	cd, ok, err := l.CmdIn.NextWait(obj.clk, opt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cd, nil
}

// AckCMD publishes cd's result and frees linkID's rendezvous slot for the
// next execCMD, the polling counterpart of a callback simply returning.
// A late Ack against an already-timed-out CmdDesc is a
// harmless no-op: msg.CmdDesc.Ack already guards against it.
func (obj *Engine) AckCMD(linkID id.ID, cd *msg.CmdDesc, out []byte, result error) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	if l.CmdIn == nil {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d is not a command executor", linkID)
	}
	cd.Ack(out, result)
	l.CmdIn.Release()
	return nil
}

// RegisterCmdExecutor registers cb as linkID's command-executor callback and
// starts its dispatch worker, the callback-driven alternative to
// WaitCMD/AckCMD polling.
func (obj *Engine) RegisterCmdExecutor(linkID id.ID, cb link.CbExecCmd_F) error {
	l, err := obj.lookupLink(linkID)
	if err != nil {
		return err
	}
	if l.CmdIn == nil {
		return ioerr.New(ioerr.KindIncompatibleUsage, "link %d is not a command executor", linkID)
	}
	l.SetCmdCallback(cb)
	obj.ensureCmdWorker(l)
	return nil
}

func (obj *Engine) ensureCmdWorker(l *link.Object) {
	obj.mutex.Lock()
	if obj.cmdWorkers == nil {
		obj.cmdWorkers = make(map[id.ID]bool)
	}
	if obj.cmdWorkers[l.ID] {
		obj.mutex.Unlock()
		return
	}
	obj.cmdWorkers[l.ID] = true
	obj.mutex.Unlock()

	go obj.cmdWorkerLoop(l)
}

// cmdWorkerLoop drains l.CmdIn, invoking the registered CbExecCmd_F for each
// installed CmdDesc and acking with whatever it left on cd.Out plus its
// returned error, unless the callback already acked cd itself.
func (obj *Engine) cmdWorkerLoop(l *link.Object) {
	for {
		cd, ok := l.CmdIn.Next()
		if !ok {
			return
		}
		cb := l.CmdCallback()
		if cb == nil {
			cd.Ack(nil, ioerr.New(ioerr.KindNoCmdExecutor, "link %d has no registered command executor", l.ID))
			l.CmdIn.Release()
			continue
		}
		err := cb(l.ID, cd)
		if !cd.IsAcked() {
			cd.Ack(cd.Out, err)
		}
		l.CmdIn.Release()
	}
}
