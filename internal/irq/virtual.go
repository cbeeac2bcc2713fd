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

package irq

import "coreforge/internal/isa"

// VirtualFunc is a host routine bound to a virtual-interrupt index; it
// runs in the calling core's context with no stack/flags manipulation
// (spec.md §4.7's "virtual interrupts" paragraph).
type VirtualFunc func(cpu isa.CPU) error

// VirtualTable is the Machine-owned registry of virtual interrupts,
// resolved by `int <index>` before falling back to an ordinary IVT
// dispatch. Populated only by calls to Register; the
// `interrupt-routines` config value is decoded by internal/config but
// nothing loads routines from it.
type VirtualTable struct {
	fns map[uint32]VirtualFunc
}

// NewVirtualTable creates an empty registry.
func NewVirtualTable() *VirtualTable {
	return &VirtualTable{fns: make(map[uint32]VirtualFunc)}
}

// Register binds a host routine to a virtual-interrupt index.
func (t *VirtualTable) Register(index uint32, fn VirtualFunc) {
	t.fns[index] = fn
}

// Call invokes the routine bound to index, if any; handled reports
// whether index resolved to a virtual interrupt at all.
func (t *VirtualTable) Call(cpu isa.CPU, index uint32) (handled bool, err error) {
	fn, ok := t.fns[index]
	if !ok {
		return false, nil
	}
	return true, fn(cpu)
}
