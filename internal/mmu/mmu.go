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

// Package mmu implements the per-core Memory Management Unit
// (spec.md §4.2): alignment enforcement, the privileged/paging-disabled
// bypass, PTE-cache-backed permission checks, and dispatch to the
// underlying page's byte/word operations.
package mmu

import (
	"fmt"

	"coreforge/internal/memory"
	"coreforge/internal/pte"
	"coreforge/internal/vmerr"
)

// CoreState is the small slice of core state the MMU consults: whether
// the requesting core is currently privileged, and the ip to attach to
// any fault it raises.
type CoreState interface {
	Privileged() bool
	IP() uint32
}

// MMU translates and permission-checks every memory access a core
// makes. One MMU per core; each owns its own PTE cache (spec.md §4.2 —
// "the coherence controller never touches it").
type MMU struct {
	mem   *memory.Controller
	core  CoreState
	table pte.Table

	pagingEnabled bool
	pteCache      map[uint32]pte.Entry
}

// New creates an MMU over mem for the given core, with its page table
// rooted at ptAddress. Paging starts disabled, matching spec.md §3's
// core reset behavior (paging is turned on explicitly, e.g. by an
// `lpm` instruction, once the boot code has populated the PT).
func New(mem *memory.Controller, core CoreState, ptAddress uint32) *MMU {
	return &MMU{
		mem:      mem,
		core:     core,
		table:    pte.Table{Base: ptAddress, Mem: mem},
		pteCache: make(map[uint32]pte.Entry),
	}
}

// SetPagingEnabled toggles paging (the `lpm` instruction uses this; `rst` goes through Reset).
func (m *MMU) SetPagingEnabled(enabled bool) { m.pagingEnabled = enabled }

// PagingEnabled reports the current paging state.
func (m *MMU) PagingEnabled() bool { return m.pagingEnabled }

// Reset clears the PTE cache and disables paging, matching Ducky's
// MMU.reset (called on core reset and on the `rst` instruction).
func (m *MMU) Reset() {
	m.pagingEnabled = false
	m.pteCache = make(map[uint32]pte.Entry)
}

// Halt is a no-op placeholder mirroring Ducky's MMU.halt, which there
// tears down the data cache's coherence registration; the data cache
// and coherence controller own that teardown in coreforge (see
// internal/core's Halt), so this exists only so callers that iterate
// "mmu.Reset/mmu.Halt" symmetrically have both to call.
func (m *MMU) Halt() {}

// ReleasePTEs drops the PTE cache, matching spec.md §5's requirement
// that software-visible page-table edits be followed by an explicit
// invalidation (the `release_ptes` operation named there).
func (m *MMU) ReleasePTEs() {
	m.pteCache = make(map[uint32]pte.Entry)
}

// GetPTE returns the (possibly cached) PTE covering addr, fetching it
// from the in-memory page table on a cache miss.
func (m *MMU) GetPTE(addr uint32) (pte.Entry, error) {
	pageIndex := addr >> memory.PageShift
	if e, ok := m.pteCache[pageIndex]; ok {
		return e, nil
	}
	e, err := m.table.Get(pageIndex)
	if err != nil {
		return pte.Entry{}, err
	}
	m.pteCache[pageIndex] = e
	return e, nil
}

func (m *MMU) checkAlign(addr, width uint32) error {
	if m.mem.ForceAlignedAccess() && addr%width != 0 {
		return &vmerr.AccessViolation{
			Message: fmt.Sprintf("unaligned %d-byte access at 0x%08X", width, addr),
			IP:      m.core.IP(),
		}
	}
	return nil
}

// checkAccess implements spec.md §4.2's translate+check sequence for a
// single permission kind, returning nothing on success.
func (m *MMU) checkAccess(perm pte.Permission, addr uint32) error {
	if m.core.Privileged() || !m.pagingEnabled {
		return nil
	}
	e, err := m.GetPTE(addr)
	if err != nil {
		return err
	}
	if !e.Allows(perm) {
		return &vmerr.AccessViolation{
			Message: fmt.Sprintf("permission %v denied at 0x%08X", perm, addr),
			IP:      m.core.IP(),
		}
	}
	return nil
}

// ReadU8 performs a permission-checked byte read.
func (m *MMU) ReadU8(addr uint32) (uint8, error) {
	if err := m.checkAccess(pte.PermRead, addr); err != nil {
		return 0, err
	}
	return m.mem.ReadU8(addr, m.core.Privileged())
}

// ReadU16 performs a permission-checked, alignment-checked halfword read.
func (m *MMU) ReadU16(addr uint32) (uint16, error) {
	if err := m.checkAlign(addr, 2); err != nil {
		return 0, err
	}
	if err := m.checkAccess(pte.PermRead, addr); err != nil {
		return 0, err
	}
	return m.mem.ReadU16(addr, m.core.Privileged())
}

// ReadU32 performs a permission-checked, alignment-checked word read.
func (m *MMU) ReadU32(addr uint32) (uint32, error) {
	if err := m.checkAlign(addr, 4); err != nil {
		return 0, err
	}
	if err := m.checkAccess(pte.PermRead, addr); err != nil {
		return 0, err
	}
	return m.mem.ReadU32(addr, m.core.Privileged())
}

// FetchU32 reads a 32-bit instruction word from the instruction stream,
// using execute permission semantics (spec.md §4.2: "Fetch uses
// execute permission semantics on reads from the instruction stream").
func (m *MMU) FetchU32(addr uint32) (uint32, error) {
	if err := m.checkAlign(addr, 4); err != nil {
		return 0, err
	}
	if err := m.checkAccess(pte.PermExecute, addr); err != nil {
		return 0, err
	}
	return m.mem.FetchU32(addr, m.core.Privileged())
}

// WriteU8 performs a permission-checked byte write.
func (m *MMU) WriteU8(addr uint32, v uint8) error {
	if err := m.checkAccess(pte.PermWrite, addr); err != nil {
		return err
	}
	return m.mem.WriteU8(addr, v, m.core.Privileged(), true)
}

// WriteU16 performs a permission-checked, alignment-checked halfword write.
func (m *MMU) WriteU16(addr uint32, v uint16) error {
	if err := m.checkAlign(addr, 2); err != nil {
		return err
	}
	if err := m.checkAccess(pte.PermWrite, addr); err != nil {
		return err
	}
	return m.mem.WriteU16(addr, v, m.core.Privileged(), true)
}

// WriteU32 performs a permission-checked, alignment-checked word write.
func (m *MMU) WriteU32(addr uint32, v uint32) error {
	if err := m.checkAlign(addr, 4); err != nil {
		return err
	}
	if err := m.checkAccess(pte.PermWrite, addr); err != nil {
		return err
	}
	return m.mem.WriteU32(addr, v, m.core.Privileged(), true)
}
