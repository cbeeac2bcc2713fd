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

package cpucontainer

import (
	"testing"

	"coreforge/internal/coherence"
	"coreforge/internal/core"
	"coreforge/internal/isa"
	"coreforge/internal/memory"
)

func newTestCore(t *testing.T, mem *memory.Controller, coh *coherence.Controller) *core.Core {
	t.Helper()
	return core.New(mem, coh, core.Config{
		DataCacheEnabled: true,
		DataCacheSize:    8,
		InstCacheSize:    8,
	})
}

func newTestMem(t *testing.T) *memory.Controller {
	t.Helper()
	mem, err := memory.New(memory.SegmentSize, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < memory.SegmentSize/memory.PageSize; i++ {
		if _, err := mem.AllocSpecific(i); err != nil {
			t.Fatal(err)
		}
	}
	return mem
}

func writeHlt(t *testing.T, mem *memory.Controller, addr uint32, exitCode int32) {
	t.Helper()
	word := isa.Encode(isa.Instruction{Opcode: isa.OpHlt, Format: isa.FormatRI20, Imm20: exitCode})
	if err := mem.WriteU32(addr, word, true, true); err != nil {
		t.Fatal(err)
	}
}

func TestBootBootsOnlyFirstCore(t *testing.T) {
	mem := newTestMem(t)
	coh := coherence.New()
	c0 := newTestCore(t, mem, coh)
	c1 := newTestCore(t, mem, coh)
	cpu := New(0, []*core.Core{c0, c1})

	cpu.Boot(0x100)

	if c0.State() != core.StateRunning {
		t.Errorf("Cores[0].State() = %v, want running", c0.State())
	}
	if c1.State() == core.StateRunning {
		t.Error("Boot must not start any core beyond Cores[0]")
	}
}

func TestAliveReflectsAnyRunningCore(t *testing.T) {
	mem := newTestMem(t)
	coh := coherence.New()
	writeHlt(t, mem, 0, 0)
	c0 := newTestCore(t, mem, coh)
	c1 := newTestCore(t, mem, coh)
	cpu := New(0, []*core.Core{c0, c1})

	if cpu.Alive() {
		t.Fatal("an unbooted CPU should not report alive")
	}

	c1.Boot(0x100) // never steps; stays running
	if !cpu.Alive() {
		t.Error("Alive() should be true while any core is running")
	}

	c0.Boot(0)
	c0.Step()
	if c0.State() != core.StateHalted {
		t.Fatalf("c0.State() = %v, want halted after executing hlt", c0.State())
	}
	if !cpu.Alive() {
		t.Error("Alive() should still be true: c1 is still running")
	}
}

func TestExitCodeReturnsFirstNonZeroInCoreOrder(t *testing.T) {
	mem := newTestMem(t)
	coh := coherence.New()
	writeHlt(t, mem, 0, 0)
	writeHlt(t, mem, 0x100, 5)
	writeHlt(t, mem, 0x200, 9)

	c0 := newTestCore(t, mem, coh)
	c1 := newTestCore(t, mem, coh)
	c2 := newTestCore(t, mem, coh)
	cpu := New(0, []*core.Core{c0, c1, c2})

	for i, c := range []*core.Core{c0, c1, c2} {
		c.Boot(uint32(i) * 0x100)
		c.Step()
	}

	if got := cpu.ExitCode(); got != 5 {
		t.Errorf("ExitCode() = %d, want 5 (first non-zero, core order)", got)
	}
}

func TestExitCodeZeroWhenAllCoresCleanOrUnhalted(t *testing.T) {
	mem := newTestMem(t)
	coh := coherence.New()
	writeHlt(t, mem, 0, 0)
	c0 := newTestCore(t, mem, coh)
	cpu := New(0, []*core.Core{c0})

	if got := cpu.ExitCode(); got != 0 {
		t.Errorf("ExitCode() before boot = %d, want 0", got)
	}

	c0.Boot(0)
	c0.Step()
	if got := cpu.ExitCode(); got != 0 {
		t.Errorf("ExitCode() = %d, want 0 for a clean exit", got)
	}
}
