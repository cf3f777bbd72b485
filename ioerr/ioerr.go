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

// Package ioerr contains the error taxonomy and error helpers shared across
// the library. It is a thin wrapper around github.com/pkg/errors and
// github.com/hashicorp/go-multierror rather than a hand-rolled error stack.
package ioerr

//go:generate stringer -type=Kind -output=kind_string.go

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Kind is the error taxonomy. It names a class of failure, not a numeric
// code, so callers branch on Kind rather than string-matching.
type Kind int

// The error kinds the library's entry points can return.
const (
	KindNone Kind = iota
	KindInvalidParam
	KindNotExistService
	KindNotExistLink
	KindServiceAlreadyExist
	KindConnectionFailed
	KindTimeout
	KindIncompatibleUsage
	KindNoEventConsumer
	KindNoCmdExecutor
	KindTooManyQueuingEvtDesc
	KindFullQueuingEvtDesc
	KindTooLongEmptyingEvtDescQueue
	KindBufferFull
	KindDataTooLarge
	KindLinkBroken
	KindServiceBusy
	KindNotSupported
	KindCmdSlotBusy
	KindBug
)

var kindNames = map[Kind]string{
	KindNone:                        "None",
	KindInvalidParam:                "InvalidParam",
	KindNotExistService:             "NotExistService",
	KindNotExistLink:                "NotExistLink",
	KindServiceAlreadyExist:         "ServiceAlreadyExist",
	KindConnectionFailed:            "ConnectionFailed",
	KindTimeout:                     "Timeout",
	KindIncompatibleUsage:           "IncompatibleUsage",
	KindNoEventConsumer:             "NoEventConsumer",
	KindNoCmdExecutor:               "NoCmdExecutor",
	KindTooManyQueuingEvtDesc:       "TooManyQueuingEvtDesc",
	KindFullQueuingEvtDesc:          "FullQueuingEvtDesc",
	KindTooLongEmptyingEvtDescQueue: "TooLongEmptyingEvtDescQueue",
	KindBufferFull:                  "BufferFull",
	KindDataTooLarge:                "DataTooLarge",
	KindLinkBroken:                  "LinkBroken",
	KindServiceBusy:                 "ServiceBusy",
	KindNotSupported:                "NotSupported",
	KindCmdSlotBusy:                 "CmdSlotBusy",
	KindBug:                         "Bug",
}

// String implements fmt.Stringer, written by hand in the style of the
// teacher's //go:generate stringer comment rather than a generated file,
// since this repo doesn't invoke go:generate as part of its build.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the concrete error type returned from every library entry point
// that can fail. It carries a Kind so callers can branch with Is, plus an
// optional wrapped cause for diagnostics.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap lets errors.Is / errors.As see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given Kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given Kind around an existing cause, using
// pkg/errors.Wrapf for the cause so the stack trace context pkg/errors
// attaches is preserved.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.Wrapf(cause, format, args...)}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, or KindNone if err isn't an *Error.
func KindOf(err error) Kind {
	e, ok := err.(*Error)
	if !ok {
		return KindNone
	}
	return e.Kind
}

// Append safely appends err onto reterr, building (or growing) a
// multierror.Error: both sides may be nil, and the result is nil only if
// both were nil. Used by
// offlineService's cascade-close to aggregate per-link close failures
// without dropping any of them on the floor.
func Append(reterr, err error) error {
	if reterr == nil {
		return err
	}
	if err == nil {
		return reterr
	}
	return multierror.Append(reterr, err)
}

// String returns a safe string representation of err, returning "" for nil
// instead of panicking.
func String(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
