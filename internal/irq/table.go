// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public
// License along with this program. If not, see
// <http://www.gnu.org/licenses/>.

// Package irq implements Interrupt & IRQ Routing (spec.md §4.8): IVT
// lookup, the virtual-interrupt table, and the hardware IRQ router
// task the Reactor drives. Grounded on Ducky's InterruptVector and
// its virtual-interrupts table.
package irq

import (
	"fmt"

	"coreforge/internal/vmerr"
)

// EntrySize is the IVT's per-entry width: 8 bytes, {u32 ip, u32 sp}
// little-endian (spec.md §6).
const EntrySize = 8

// Reader is the raw physical-memory read the IVT needs; entries are a
// kernel control structure, read directly (privileged, uncached),
// never through a core's own MMU permission check or data cache.
type Reader interface {
	ReadU32(addr uint32, privileged bool) (uint32, error)
}

// Vector is one decoded IVT entry.
type Vector struct {
	IP uint32
	SP uint32
}

// DefaultEntries is the IVT size a Machine assumes when the
// configuration doesn't say otherwise: enough slots for every
// reserved fault vector plus a handful of device IRQs.
const DefaultEntries = 32

// Table is an accessor over the in-memory IVT rooted at Base, holding
// Entries slots.
type Table struct {
	Base    uint32
	Entries uint32
	Mem     Reader
}

// Lookup bounds-checks index against Entries and decodes the vector at
// that index, per spec.md §4.7 interrupt-entry step 1-2.
func (t Table) Lookup(index uint32) (Vector, error) {
	if index >= t.Entries {
		return Vector{}, &vmerr.InvalidResource{Message: fmt.Sprintf("irq index %d out of range (table has %d entries)", index, t.Entries)}
	}
	addr := t.Base + index*EntrySize
	ip, err := t.Mem.ReadU32(addr, true)
	if err != nil {
		return Vector{}, err
	}
	sp, err := t.Mem.ReadU32(addr+4, true)
	if err != nil {
		return Vector{}, err
	}
	return Vector{IP: ip, SP: sp}, nil
}
