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

package core

import (
	"fmt"

	"coreforge/internal/device"
	"coreforge/internal/isa"
	"coreforge/internal/vmerr"
)

// RegFP and RegSP name the two aliased general registers (spec.md §3:
// "Register 30 and 31 are fp and sp respectively").
const (
	RegFP = 30
	RegSP = 31
)

// Reg/SetReg implement isa.CPU's raw register file access.
func (c *Core) Reg(n uint8) uint32     { return c.regs[n&0x1F] }
func (c *Core) SetReg(n uint8, v uint32) { c.regs[n&0x1F] = v }

// IP/SetIP expose the program counter.
func (c *Core) IP() uint32    { return c.ip }
func (c *Core) SetIP(v uint32) { c.ip = v }

// CNT is the retired-instruction counter (spec.md §3, invariant 6).
func (c *Core) CNT() uint64 { return c.cnt }

// Flags/SetFlags expose the six-bit flag register.
func (c *Core) Flags() isa.Flags      { return c.flags }
func (c *Core) SetFlags(f isa.Flags)  { c.flags = f }

// Privileged reports the P flag, consulted by the MMU and by every
// privileged-instruction handler.
func (c *Core) Privileged() bool { return c.flags.P }

// ReadU8/16/32 and WriteU8/16/32 route through this core's own data
// cache, which itself bypasses to the MMU for uncacheable pages.
func (c *Core) ReadU8(addr uint32) (uint8, error)   { return c.dcache.ReadU8(addr) }
func (c *Core) ReadU16(addr uint32) (uint16, error) { return c.dcache.ReadU16(addr) }
func (c *Core) ReadU32(addr uint32) (uint32, error) { return c.dcache.ReadU32(addr) }

func (c *Core) WriteU8(addr uint32, v uint8) error   { return c.dcache.WriteU8(addr, v) }
func (c *Core) WriteU16(addr uint32, v uint16) error { return c.dcache.WriteU16(addr, v) }
func (c *Core) WriteU32(addr uint32, v uint32) error { return c.dcache.WriteU32(addr, v) }

// CompareAndSwap implements `cas`. Because the reactor schedules cores
// cooperatively (spec.md §5: one instruction executes atomically with
// respect to every other core), a plain read-then-conditional-write
// through the coherent data cache is already atomic — no separate
// hardware lock step is needed.
func (c *Core) CompareAndSwap(addr uint32, expect, newVal uint32) (uint32, bool, error) {
	old, err := c.dcache.ReadU32(addr)
	if err != nil {
		return 0, false, err
	}
	if old != expect {
		return old, false, nil
	}
	if err := c.dcache.WriteU32(addr, newVal); err != nil {
		return old, false, err
	}
	return old, true, nil
}

// Push32/Pop32 implement the raw stack primitives `call`/`ret` and
// interrupt entry/exit build on (spec.md §3: "Stack frame").
func (c *Core) Push32(v uint32) error {
	sp := c.regs[RegSP] - 4
	if err := c.dcache.WriteU32(sp, v); err != nil {
		return err
	}
	c.regs[RegSP] = sp
	return nil
}

func (c *Core) Pop32() (uint32, error) {
	sp := c.regs[RegSP]
	v, err := c.dcache.ReadU32(sp)
	if err != nil {
		return 0, err
	}
	c.regs[RegSP] = sp + 4
	return v, nil
}

// Halt implements `hlt`: the core's exit code is recorded and it
// transitions to the terminal halted state (spec.md §4.7).
func (c *Core) Halt(exitCode int32) {
	c.exitCode = exitCode
	c.state = StateHalted
	c.coh.UnregisterCore(c.dcache)
}

// Idle implements the `idle` instruction: still alive, but skipped by
// the reactor until an IRQ arrives.
func (c *Core) Idle() {
	c.state = StateIdle
}

// EnablePaging implements `lpm`.
func (c *Core) EnablePaging() { c.mmu.SetPagingEnabled(true) }

// ReleasePTEs implements `rpt`, invalidating this core's PTE cache.
func (c *Core) ReleasePTEs() { c.mmu.ReleasePTEs() }

// ResetCore implements `rst`: disables paging, drops the PTE cache,
// and empties both of this core's own caches (not a coherence
// broadcast — rst affects only the executing core).
func (c *Core) ResetCore() {
	c.mmu.Reset()
	c.icache.Reset()
	c.dcache.ReleaseAll(true, true)
}

// PortIn/PortOut implement isa.CPU's `in`/`out`, delegating to the
// Machine-owned port space with this core's own privilege bit; a core
// with no port space configured treats every port as unmapped.
func (c *Core) PortIn(port uint16) (uint8, error) {
	if c.ports == nil {
		return 0, &vmerr.InvalidResource{Message: fmt.Sprintf("unmapped I/O port 0x%04X", port), IP: c.ip}
	}
	return c.ports.In(device.Port(port), c.Privileged())
}

func (c *Core) PortOut(port uint16, value uint8) error {
	if c.ports == nil {
		return &vmerr.InvalidResource{Message: fmt.Sprintf("unmapped I/O port 0x%04X", port), IP: c.ip}
	}
	return c.ports.Out(device.Port(port), value, c.Privileged())
}

// CallVirtual implements isa.CPU's virtual-interrupt dispatch.
func (c *Core) CallVirtual(index uint32) (bool, error) {
	if c.virtual == nil {
		return false, nil
	}
	return c.virtual.Call(c, index)
}
