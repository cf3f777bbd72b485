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

// Package msg holds the three message descriptors (EvtDesc, CmdDesc,
// DatDesc). Each is its own struct with a shared Header rather than one
// inheritance hierarchy: a tagged variant by Go convention (distinct types
// + a shared embedded Header), not a single type with a discriminant
// field.
package msg

import (
	"sync"
	"time"
)

// Header carries the fields every descriptor shares: sequence number and
// timestamp. Sequence numbers are per-link monotonic counters; they help
// debugging and the ordering invariants but are never exposed to callers
// beyond the descriptor they're attached to.
type Header struct {
	Seq       uint64
	Timestamp time.Time
}

// EvtDesc is an event descriptor: an event-ID and an opaque payload.
type EvtDesc struct {
	Header
	EvtID   string
	Payload []byte
}

// CmdStatus is the lifecycle state of a CmdDesc as it moves through the
// rendezvous.
type CmdStatus int

// The lifecycle states a CmdDesc passes through.
const (
	CmdPending CmdStatus = iota
	CmdCompleted
	CmdAbandoned
)

// CmdDesc is a command descriptor: a single in-flight request/response
// exchange. The Ack channel is the rendezvous primitive itself: Ack closes
// it and Wait blocks on it.
type CmdDesc struct {
	Header
	CmdID  string
	In     []byte
	Out    []byte
	Status CmdStatus
	Result error

	mutex    sync.Mutex
	ack      chan struct{}
	acked    bool
	timedOut bool
}

// NewCmdDesc builds a CmdDesc ready to be installed into a rendezvous slot.
func NewCmdDesc(cmdID string, in []byte) *CmdDesc {
	return &CmdDesc{
		CmdID:  cmdID,
		In:     in,
		Status: CmdPending,
		ack:    make(chan struct{}),
	}
}

// Ack publishes out/result and releases the initiator blocked in Wait. If the
// initiator already gave up on this CmdDesc via MarkTimedOut, Ack is a no-op:
// the executor's eventual ackCMD call must not panic on a closed channel, but
// nobody is listening on Wait any more either.
func (obj *CmdDesc) Ack(out []byte, result error) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if obj.acked || obj.timedOut {
		return
	}
	obj.Out = out
	obj.Result = result
	if result == nil {
		obj.Status = CmdCompleted
	} else {
		obj.Status = CmdAbandoned
	}
	obj.acked = true
	close(obj.ack)
}

// Wait blocks until Ack has been called for this CmdDesc.
func (obj *CmdDesc) Wait() {
	<-obj.ack
}

// WaitChan exposes the ack channel directly so a caller can select on it
// alongside a deadline timer without a helper goroutine.
func (obj *CmdDesc) WaitChan() <-chan struct{} {
	return obj.ack
}

// IsAcked reports whether Ack has already been called.
func (obj *CmdDesc) IsAcked() bool {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.acked
}

// MarkTimedOut records that the initiator gave up waiting (execCMD hit its
// Timeout budget) without an Ack ever arriving. It reports whether the
// executor had already acked it first — a benign race the caller (engine's
// execCMD) uses to decide whether to still report TIMEOUT or fall through to
// the result that in fact arrived just in time.
func (obj *CmdDesc) MarkTimedOut() (alreadyAcked bool) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if obj.acked {
		return true
	}
	obj.timedOut = true
	obj.Status = CmdAbandoned
	return false
}

// TimedOut reports whether MarkTimedOut has been called.
func (obj *CmdDesc) TimedOut() bool {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.timedOut
}

// DatDesc is a data-chunk descriptor.
type DatDesc struct {
	Header
	Bytes []byte
	Flags DatFlags
}

// DatFlags are per-chunk flags a sender may set.
type DatFlags uint32

// The data-chunk flags currently defined.
const (
	DatFlagNone DatFlags = 0
	// DatFlagMore hints that more chunks immediately follow this one,
	// which a CbRecvDat_F implementation may use to defer flushing a
	// downstream buffer until a chunk arrives without this flag set.
	DatFlagMore DatFlags = 1 << 0
)
