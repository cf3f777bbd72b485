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

// Package option canonicalizes the caller-supplied option record into the
// tuple {Mode, Blocking, Reliability, Timeout} used by every entry point, and
// applies the precedence rules in exactly one place instead of scattering
// option-interpretation logic across the library.
package option

import (
	"time"

	"github.com/purpleidea/ioc/ioerr"
)

// Mode selects synchronous or asynchronous dispatch for EVT.
type Mode int

// The two dispatch modes.
const (
	Async Mode = iota
	Sync
)

// Blocking selects how a full/empty queue is handled.
type Blocking int

// The three blocking disciplines.
const (
	MayBlock Blocking = iota
	NonBlock
	Timeout
)

// Reliability selects whether a queue may silently drop under backpressure.
type Reliability int

// The two reliability disciplines.
const (
	NoDrop Reliability = iota
	MayDrop
)

// Primitive names which primitive an Options record is being canonicalized
// for, since the default tuple and the legal combinations differ by
// primitive.
type Primitive int

// The three primitives.
const (
	EVT Primitive = iota
	CMD
	DAT
)

// Raw is the option record as supplied by a caller, before canonicalization.
// Any zero-value field means "caller didn't specify, apply the primitive's
// default".
type Raw struct {
	Mode        *Mode
	Blocking    *Blocking
	Reliability *Reliability
	Timeout     time.Duration // only meaningful when Blocking == Timeout
}

// Set is the canonical, validated option tuple every entry point operates
// on internally.
type Set struct {
	Mode        Mode
	Blocking    Blocking
	Reliability Reliability
	Timeout     time.Duration
}

// Canonicalize validates and resolves a Raw option record against the
// defaults for the given Primitive, applying these precedence rules:
//
//  1. Timeout(d) implies Blocking = Timeout.
//  2. A caller-requested MayDrop (EVT only) forces the full-queue discipline
//     to behave as NonBlock regardless of the requested Blocking: it always
//     drops on a full queue rather than waiting. The MayDrop that EVT gets
//     by default leaves Blocking as defaulted (MayBlock) or requested.
//  3. MayDrop is rejected for DAT and CMD, and EVT Sync+MayDrop is rejected
//     as contradictory because Sync dispatch has no queue to drop from.
func Canonicalize(p Primitive, raw Raw) (Set, error) {
	set := defaults(p)

	if raw.Mode != nil {
		set.Mode = *raw.Mode
	}
	if raw.Reliability != nil {
		set.Reliability = *raw.Reliability
	}
	if raw.Blocking != nil {
		set.Blocking = *raw.Blocking
	}
	if raw.Blocking != nil && *raw.Blocking == Timeout {
		if raw.Timeout <= 0 {
			return Set{}, ioerr.New(ioerr.KindInvalidParam, "Timeout blocking requires a positive duration")
		}
		set.Timeout = raw.Timeout
	}

	switch p {
	case DAT:
		if set.Reliability == MayDrop {
			return Set{}, ioerr.New(ioerr.KindInvalidParam, "DAT is always NoDrop, MayDrop is invalid")
		}
	case CMD:
		if set.Reliability == MayDrop {
			return Set{}, ioerr.New(ioerr.KindInvalidParam, "CMD is always NoDrop, MayDrop is invalid")
		}
		if set.Mode == Async {
			return Set{}, ioerr.New(ioerr.KindInvalidParam, "CMD is always Sync, Async is invalid")
		}
	case EVT:
		if set.Mode == Sync && set.Reliability == MayDrop {
			return Set{}, ioerr.New(ioerr.KindInvalidParam, "Sync+MayDrop is contradictory for EVT")
		}
	}

	// A requested MayDrop always behaves like NonBlock at the queue-full
	// boundary, regardless of what Blocking the caller asked for.
	if raw.Reliability != nil && *raw.Reliability == MayDrop {
		set.Blocking = NonBlock
	}

	return set, nil
}

func defaults(p Primitive) Set {
	switch p {
	case CMD:
		return Set{Mode: Sync, Blocking: MayBlock, Reliability: NoDrop}
	case DAT:
		return Set{Mode: Async, Blocking: MayBlock, Reliability: NoDrop}
	default: // EVT
		return Set{Mode: Async, Blocking: MayBlock, Reliability: MayDrop}
	}
}

// String renders a Blocking value for logs and error messages.
func (b Blocking) String() string {
	switch b {
	case MayBlock:
		return "MayBlock"
	case NonBlock:
		return "NonBlock"
	case Timeout:
		return "Timeout"
	default:
		return "Blocking(?)"
	}
}

// String renders a Reliability value for logs and error messages.
func (r Reliability) String() string {
	switch r {
	case NoDrop:
		return "NoDrop"
	case MayDrop:
		return "MayDrop"
	default:
		return "Reliability(?)"
	}
}

// String renders a Mode value for logs and error messages.
func (m Mode) String() string {
	switch m {
	case Async:
		return "Async"
	case Sync:
		return "Sync"
	default:
		return "Mode(?)"
	}
}
