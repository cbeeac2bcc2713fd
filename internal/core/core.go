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
	"log/slog"

	"coreforge/internal/coherence"
	"coreforge/internal/dcache"
	"coreforge/internal/device"
	"coreforge/internal/icache"
	"coreforge/internal/irq"
	"coreforge/internal/isa"
	"coreforge/internal/memory"
	"coreforge/internal/mmu"
	"coreforge/internal/vmlog"
)

// VirtualInterrupts resolves and invokes a registered virtual
// interrupt in the caller's context (spec.md §4.7: "runs a host
// routine synchronously... without any stack/flags manipulation").
type VirtualInterrupts interface {
	Call(cpu isa.CPU, index uint32) (bool, error)
}

// Ports is the 16-bit I/O port space a core's `in`/`out` instructions
// address (spec.md §6); the Machine supplies its *machine.Ports, which
// already tells an unmapped port (InvalidResource) from a protected
// one accessed unprivileged (AccessViolation).
type Ports interface {
	In(port device.Port, privileged bool) (uint8, error)
	Out(port device.Port, value uint8, privileged bool) error
}

// Config bundles a core's construction-time parameters, mirroring the
// [cpu] table spec.md §6 names.
type Config struct {
	ID               int
	IVTAddress       uint32
	IVTEntries       uint32
	PTAddress        uint32
	InstCacheSize    int
	DataCacheEnabled bool
	DataCacheSize    int
	Virtual          VirtualInterrupts
	Ports            Ports
	Log              *slog.Logger
}

// Core is one independent execution context: registers, flags, its own
// MMU and caches, borrowed references to the shared memory controller
// and coherence controller (design note: "borrowed handles").
type Core struct {
	id int

	regs  [32]uint32
	ip    uint32
	flags isa.Flags
	cnt   uint64

	state    State
	exitCode int32
	inEntry  bool // double-fault guard, see SPEC_FULL.md

	isaStack []int

	mmu    *mmu.MMU
	dcache *dcache.Cache
	icache *icache.Cache
	coh    *coherence.Controller

	ivt     irq.Table
	virtual VirtualInterrupts
	ports   Ports

	log *slog.Logger
}

// New constructs a Core over the shared memory and coherence
// controllers. The core registers its data cache with coh immediately;
// Halt unregisters it.
func New(mem *memory.Controller, coh *coherence.Controller, cfg Config) *Core {
	if cfg.Log == nil {
		cfg.Log = vmlog.Discard
	}
	c := &Core{id: cfg.ID, coh: coh, virtual: cfg.Virtual, ports: cfg.Ports, log: cfg.Log, state: StateHalted}
	c.mmu = mmu.New(mem, c, cfg.PTAddress)
	c.icache = icache.New(c.mmu, cfg.InstCacheSize)

	capacity := cfg.DataCacheSize
	if !cfg.DataCacheEnabled {
		capacity = 1
	}
	c.dcache = dcache.New(c.mmu, capacity,
		func(addr uint32, caller any) { coh.FlushEntry(addr, caller.(coherence.PeerCache)) },
		func(addr uint32, caller any) { coh.ReleaseEntry(addr, caller.(coherence.PeerCache)) },
	)

	c.ivt = irq.Table{Base: cfg.IVTAddress, Entries: cfg.IVTEntries, Mem: mem}

	coh.RegisterCore(c.dcache)
	return c
}

// ID is this core's index within its owning CPU.
func (c *Core) ID() int { return c.id }

// State reports the current lifecycle state.
func (c *Core) State() State { return c.state }

// ExitCode is meaningful once State() == StateHalted.
func (c *Core) ExitCode() int32 { return c.exitCode }

// Runnable reports whether the reactor should call Step this round
// (spec.md §2: "alive ∧ running ∧ ¬idle").
func (c *Core) Runnable() bool { return c.state == StateRunning }

// Boot transitions a halted core to running, per spec.md §3's lifecycle.
func (c *Core) Boot(ip uint32) {
	c.ip = ip
	c.flags = isa.Flags{P: true}
	c.state = StateRunning
}

// Suspend/WakeUp toggle the running bit without affecting aliveness.
func (c *Core) Suspend() {
	if c.state == StateRunning || c.state == StateIdle {
		c.state = StateSuspended
	}
}

func (c *Core) WakeUp() {
	if c.state == StateSuspended {
		c.state = StateRunning
	}
}
