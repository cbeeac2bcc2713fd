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

package isa

import (
	"testing"

	"coreforge/internal/vmerr"
)

// fakeCPU is a minimal isa.CPU backed by plain maps, enough to drive
// execute.go's handlers without a real core/memory stack.
type fakeCPU struct {
	regs       [32]uint32
	ip         uint32
	flags      Flags
	mem        map[uint32]uint32
	privileged bool
	halted     bool
	exitCode   int32
	idle       bool
	ports      map[uint16]uint8
}

func newFakeCPU() *fakeCPU {
	return &fakeCPU{mem: make(map[uint32]uint32), ports: make(map[uint16]uint8), privileged: true}
}

func (c *fakeCPU) Reg(n uint8) uint32      { return c.regs[n&0x1F] }
func (c *fakeCPU) SetReg(n uint8, v uint32) { c.regs[n&0x1F] = v }
func (c *fakeCPU) IP() uint32              { return c.ip }
func (c *fakeCPU) SetIP(v uint32)          { c.ip = v }
func (c *fakeCPU) Flags() Flags            { return c.flags }
func (c *fakeCPU) SetFlags(f Flags)        { c.flags = f }
func (c *fakeCPU) Privileged() bool        { return c.privileged }

func (c *fakeCPU) ReadU32(addr uint32) (uint32, error) { return c.mem[addr], nil }
func (c *fakeCPU) ReadU16(addr uint32) (uint16, error) { return uint16(c.mem[addr]), nil }
func (c *fakeCPU) ReadU8(addr uint32) (uint8, error)   { return uint8(c.mem[addr]), nil }
func (c *fakeCPU) WriteU32(addr uint32, v uint32) error { c.mem[addr] = v; return nil }
func (c *fakeCPU) WriteU16(addr uint32, v uint16) error { c.mem[addr] = uint32(v); return nil }
func (c *fakeCPU) WriteU8(addr uint32, v uint8) error   { c.mem[addr] = uint32(v); return nil }

func (c *fakeCPU) CompareAndSwap(addr uint32, expect, newVal uint32) (uint32, bool, error) {
	old := c.mem[addr]
	if old != expect {
		return old, false, nil
	}
	c.mem[addr] = newVal
	return old, true, nil
}

func (c *fakeCPU) Push32(v uint32) error {
	c.regs[31] -= 4
	c.mem[c.regs[31]] = v
	return nil
}

func (c *fakeCPU) Pop32() (uint32, error) {
	v := c.mem[c.regs[31]]
	c.regs[31] += 4
	return v, nil
}

func (c *fakeCPU) Halt(exitCode int32) { c.halted = true; c.exitCode = exitCode }
func (c *fakeCPU) Idle()               { c.idle = true }

func (c *fakeCPU) EnterInterrupt(index uint32) error  { return nil }
func (c *fakeCPU) ExitInterrupt() error                { return nil }
func (c *fakeCPU) CallVirtual(index uint32) (bool, error) { return false, nil }

func (c *fakeCPU) EnablePaging() {}
func (c *fakeCPU) ResetCore()    {}
func (c *fakeCPU) ReleasePTEs()  {}

func (c *fakeCPU) PortIn(port uint16) (uint8, error)       { return c.ports[port], nil }
func (c *fakeCPU) PortOut(port uint16, value uint8) error { c.ports[port] = value; return nil }

var _ CPU = (*fakeCPU)(nil)

// Scenario 1: ADD register wrap.
func TestAddRegisterWrap(t *testing.T) {
	cpu := newFakeCPU()
	cpu.SetReg(0, 0xFFFFFFFE)
	cpu.SetReg(1, 4)
	in := Instruction{Opcode: OpAdd, Format: FormatRRR, Rd: 0, Ra: 0, Rb: 1}
	if err := Execute(cpu, in, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cpu.Reg(0); got != 0x00000002 {
		t.Errorf("r0 = 0x%08X, want 0x00000002", got)
	}
	f := cpu.Flags()
	if f.Z || !f.O || f.S {
		t.Errorf("flags = %+v, want Z=0 O=1 S=0", f)
	}
}

// Scenario 2: CMP signed.
func TestCmpSigned(t *testing.T) {
	cpu := newFakeCPU()
	cpu.SetReg(0, 10)
	cpu.SetReg(1, 20)
	in := Instruction{Opcode: OpCmp, Format: FormatRRR, Ra: 0, Rb: 1}
	if err := Execute(cpu, in, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := cpu.Flags()
	if f.E || f.Z || !f.S || f.O {
		t.Errorf("flags = %+v, want E=0 Z=0 S=1 O=0", f)
	}
	if cpu.Reg(0) != 10 || cpu.Reg(1) != 20 {
		t.Errorf("cmp must not modify operands")
	}
}

// Scenario 3: BE taken.
func TestBranchEqualTaken(t *testing.T) {
	cpu := newFakeCPU()
	cpu.flags.E = true
	in := Instruction{Opcode: OpBeq, Format: FormatJ25, Imm25: 0x40 / 4}
	pc := uint32(0x00001000)
	if err := Execute(cpu, in, pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cpu.IP() != 0x00001040 {
		t.Errorf("ip = 0x%08X, want 0x00001040", cpu.IP())
	}
}

func TestBranchNotTakenFallsThrough(t *testing.T) {
	cpu := newFakeCPU()
	cpu.flags.E = false
	cpu.SetIP(0x2000) // simulating the core's own pre-advance
	in := Instruction{Opcode: OpBeq, Format: FormatJ25, Imm25: 0x40 / 4}
	if err := Execute(cpu, in, 0x1FFC); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cpu.IP() != 0x2000 {
		t.Errorf("ip = 0x%08X, want unchanged 0x2000", cpu.IP())
	}
}

// Scenario 4: CALL/RET round-trip.
func TestCallRetRoundTrip(t *testing.T) {
	cpu := newFakeCPU()
	cpu.SetReg(31, 0x02DA) // sp
	cpu.SetReg(30, 0x0050) // fp, arbitrary pre-call value
	cpu.SetIP(0x00000104)  // core already advanced ip past the call word

	callIn := Instruction{Opcode: OpCall, Format: FormatJ25, Raw: 0x00002000 >> 2 << 7}
	if err := Execute(cpu, callIn, 0x00000100); err != nil {
		t.Fatalf("call: unexpected error: %v", err)
	}
	if cpu.IP() != 0x00002000 {
		t.Fatalf("ip after call = 0x%08X, want 0x00002000", cpu.IP())
	}
	// Two 4-byte pushes (old ip, old fp) precede the fp<-sp snapshot, so
	// the new fp is the old sp minus 8, not the old sp itself.
	if cpu.Reg(30) != 0x02D2 {
		t.Fatalf("fp after call = 0x%08X, want 0x02D2 (sp after two pushes)", cpu.Reg(30))
	}

	retIn := Instruction{Opcode: OpRet, Format: FormatNone}
	if err := Execute(cpu, retIn, 0x00002000); err != nil {
		t.Fatalf("ret: unexpected error: %v", err)
	}
	if cpu.IP() != 0x00000104 {
		t.Errorf("ip after ret = 0x%08X, want 0x00000104", cpu.IP())
	}
	if cpu.Reg(30) != 0x0050 {
		t.Errorf("fp after ret = 0x%08X, want restored 0x0050", cpu.Reg(30))
	}
	if cpu.Reg(31) != 0x02DA {
		t.Errorf("sp after ret = 0x%08X, want restored 0x02DA", cpu.Reg(31))
	}
}

// Scenario 5: CAS success.
func TestCasSuccess(t *testing.T) {
	cpu := newFakeCPU()
	cpu.mem[0x1000] = 0xAA
	cpu.SetReg(1, 0x1000)
	cpu.SetReg(2, 0xAA)
	cpu.SetReg(3, 0xBB)
	in := Instruction{Opcode: OpCas, Format: FormatRRR, Rd: 1, Ra: 2, Rb: 3}
	if err := Execute(cpu, in, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cpu.mem[0x1000] != 0xBB {
		t.Errorf("mem[0x1000] = 0x%X, want 0xBB", cpu.mem[0x1000])
	}
	if !cpu.Flags().E {
		t.Errorf("E flag should be set on success")
	}
}

// Scenario 6: CAS failure.
func TestCasFailure(t *testing.T) {
	cpu := newFakeCPU()
	cpu.mem[0x1000] = 0xAA
	cpu.SetReg(1, 0x1000)
	cpu.SetReg(2, 0xAB)
	cpu.SetReg(3, 0xBB)
	in := Instruction{Opcode: OpCas, Format: FormatRRR, Rd: 1, Ra: 2, Rb: 3}
	if err := Execute(cpu, in, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cpu.mem[0x1000] != 0xAA {
		t.Errorf("mem[0x1000] = 0x%X, want unchanged 0xAA", cpu.mem[0x1000])
	}
	if cpu.Flags().E {
		t.Errorf("E flag should be clear on failure")
	}
	if cpu.Reg(2) != 0xAA {
		t.Errorf("expect register = 0x%X, want overwritten with actual 0xAA", cpu.Reg(2))
	}
}

// Scenario 8: unprivileged HLT.
func TestUnprivilegedHlt(t *testing.T) {
	cpu := newFakeCPU()
	cpu.privileged = false
	in := Instruction{Opcode: OpHlt, Format: FormatRI20, Imm20: 0}
	err := Execute(cpu, in, 0x400)
	if err == nil {
		t.Fatal("expected an AccessViolation, got nil")
	}
	var av *vmerr.AccessViolation
	if !asAccessViolation(err, &av) {
		t.Fatalf("expected *vmerr.AccessViolation, got %T: %v", err, err)
	}
	if cpu.halted {
		t.Errorf("core must not halt on a rejected hlt")
	}
}

func asAccessViolation(err error, target **vmerr.AccessViolation) bool {
	v, ok := err.(*vmerr.AccessViolation)
	if ok {
		*target = v
	}
	return ok
}

// Encode takes branch offsets as word counts (Imm25), so nothing in this
// package raises UnalignedJumpTarget; this checks that the error value
// carries the non-multiple-of-4 byte offset it reports.
func TestUnalignedJumpTargetCarriesOffset(t *testing.T) {
	offset := int32(0x22)
	if offset%4 == 0 {
		t.Fatalf("test fixture offset 0x22 must not be 4-aligned")
	}
	err := &vmerr.UnalignedJumpTarget{Offset: offset}
	if err.Offset != 0x22 {
		t.Errorf("UnalignedJumpTarget.Offset = %d, want 0x22", err.Offset)
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []Instruction{
		{Opcode: OpAdd, Format: FormatRRR, Rd: 3, Ra: 4, Rb: 5},
		{Opcode: OpLw, Format: FormatRI15, Rd: 1, Ra: 2, Imm15: -100},
		{Opcode: OpLi, Format: FormatRI20, Rd: 7, Imm20: -12345},
		{Opcode: OpBeq, Format: FormatJ25, Imm25: -10},
	}
	for _, want := range cases {
		word := Encode(want)
		got, err := Decode(word, 0)
		if err != nil {
			t.Fatalf("decode(encode(%+v)) failed: %v", want, err)
		}
		if got.Opcode != want.Opcode || got.Rd != want.Rd || got.Ra != want.Ra ||
			got.Rb != want.Rb || got.Imm15 != want.Imm15 || got.Imm20 != want.Imm20 || got.Imm25 != want.Imm25 {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestDecodeInvalidOpcode(t *testing.T) {
	// The opcode field is 7 bits (0-127); opcodeCount is well under
	// that, so the top of the field's range is always unassigned.
	_, err := Decode(0x7F, 0x10)
	if err == nil {
		t.Fatal("expected InvalidOpcode error")
	}
	if _, ok := err.(*vmerr.InvalidOpcode); !ok {
		t.Fatalf("expected *vmerr.InvalidOpcode, got %T", err)
	}
}

func TestCliStiIdempotence(t *testing.T) {
	cpu := newFakeCPU()
	cli := Instruction{Opcode: OpCli, Format: FormatNone}
	sti := Instruction{Opcode: OpSti, Format: FormatNone}

	if err := Execute(cpu, cli, 0); err != nil {
		t.Fatal(err)
	}
	if err := Execute(cpu, cli, 0); err != nil {
		t.Fatal(err)
	}
	if cpu.Flags().H {
		t.Errorf("cli; cli must leave H=false")
	}

	if err := Execute(cpu, sti, 0); err != nil {
		t.Fatal(err)
	}
	if err := Execute(cpu, sti, 0); err != nil {
		t.Fatal(err)
	}
	if !cpu.Flags().H {
		t.Errorf("sti; sti must leave H=true")
	}
}

func TestInOutRoundTrip(t *testing.T) {
	cpu := newFakeCPU()
	cpu.SetReg(1, 0x42)
	out := Instruction{Opcode: OpOut, Format: FormatRI15, Ra: 1, Imm15: 7}
	if err := Execute(cpu, out, 0); err != nil {
		t.Fatal(err)
	}
	in := Instruction{Opcode: OpIn, Format: FormatRI15, Rd: 2, Imm15: 7}
	if err := Execute(cpu, in, 0); err != nil {
		t.Fatal(err)
	}
	if cpu.Reg(2) != 0x42 {
		t.Errorf("in after out = 0x%X, want 0x42", cpu.Reg(2))
	}
}
