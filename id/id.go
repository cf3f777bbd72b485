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

// Package id allocates and validates the opaque 64-bit identifiers used for
// services and links. IDs are never reused within a process lifetime, which
// makes a use-after-close bug show up as a clean NotExist error instead of an
// aliased, still-looks-valid handle.
package id

import (
	"sync"
)

// ID is the opaque identifier type shared by SrvID and LinkID.
type ID uint64

// Invalid is the reserved sentinel value. It is never returned by Registry.Next.
const Invalid ID = 0

// Registry issues monotonically increasing IDs. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mutex sync.Mutex
	last  ID
}

// NewRegistry builds a ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Next allocates and returns the next unused ID. It is safe for concurrent use.
func (obj *Registry) Next() ID {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.last++
	return obj.last
}

// Last returns the most recently issued ID, or Invalid if none has been
// issued yet. Useful for diagnostics and tests.
func (obj *Registry) Last() ID {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.last
}
